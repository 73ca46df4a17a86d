package file

import (
	"context"
	"path/filepath"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// FileReceiptStore keeps one <id>.json file per deletion receipt.
type FileReceiptStore struct {
	dir string
}

func NewFileReceiptStore(dir string) *FileReceiptStore {
	return &FileReceiptStore{dir: dir}
}

func (f *FileReceiptStore) PutReceipt(_ context.Context, r store.Receipt) error {
	if err := store.ValidateID(r.MemID); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(f.dir, r.MemID+".json"), r)
}

func (f *FileReceiptStore) GetReceipt(_ context.Context, id string) (*store.Receipt, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, store.ErrNotFound
	}
	var r store.Receipt
	found, err := readJSONFile(filepath.Join(f.dir, id+".json"), &r)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return &r, nil
}
