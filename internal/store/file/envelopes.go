package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// FileEnvelopeStore keeps one <id>.json file per envelope.
type FileEnvelopeStore struct {
	dir string
}

func NewFileEnvelopeStore(dir string) *FileEnvelopeStore {
	return &FileEnvelopeStore{dir: dir}
}

func (f *FileEnvelopeStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *FileEnvelopeStore) PutEnvelope(_ context.Context, env store.Envelope) error {
	id := env.ID()
	if err := store.ValidateID(id); err != nil {
		return err
	}
	return writeJSONFile(f.path(id), env)
}

func (f *FileEnvelopeStore) GetEnvelope(_ context.Context, id string) (store.Envelope, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, store.ErrNotFound
	}
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("read envelope %s: %w", id, err)
	}
	return store.ParseEnvelope(data)
}
