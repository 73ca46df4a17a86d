package file

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// Layout of the data directory, shared with the demo tooling.
const (
	MemoriesDir     = "memories"
	ReceiptsDir     = "deletion_receipts"
	IndexFile       = "index.json"
	SubscribersFile = "subscribers.json"
)

// NewFileStores creates all stores backed by JSON files under cfg.DataDir.
// The index and subscriber registry are loaded once here and mirrored to disk
// on every write.
func NewFileStores(cfg store.StoreConfig) (*store.Stores, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("file store: data dir is required")
	}
	memDir := filepath.Join(cfg.DataDir, MemoriesDir)
	rcptDir := filepath.Join(cfg.DataDir, ReceiptsDir)
	for _, dir := range []string{cfg.DataDir, memDir, rcptDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	index, err := NewFileIndexStore(filepath.Join(cfg.DataDir, IndexFile))
	if err != nil {
		return nil, err
	}
	subs, err := NewFileSubscriberStore(filepath.Join(cfg.DataDir, SubscribersFile))
	if err != nil {
		return nil, err
	}

	return &store.Stores{
		Backend:     store.BackendFile,
		Envelopes:   NewFileEnvelopeStore(memDir),
		Index:       index,
		Receipts:    NewFileReceiptStore(rcptDir),
		Subscribers: subs,
	}, nil
}
