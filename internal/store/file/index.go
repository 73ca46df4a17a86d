package file

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// FileIndexStore holds the index in memory and mirrors the whole map to
// index.json after every change.
type FileIndexStore struct {
	path    string
	mu      sync.RWMutex
	entries map[string]store.IndexEntry
}

// NewFileIndexStore loads path, starting empty when it does not exist.
func NewFileIndexStore(path string) (*FileIndexStore, error) {
	s := &FileIndexStore{path: path, entries: map[string]store.IndexEntry{}}
	found, err := readJSONFile(path, &s.entries)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	if s.entries == nil {
		s.entries = map[string]store.IndexEntry{}
	}
	if found {
		slog.Info("index loaded", "path", path, "entries", len(s.entries))
	}
	return s, nil
}

func (s *FileIndexStore) PutEntry(_ context.Context, entry store.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.entries[entry.ID]
	s.entries[entry.ID] = entry
	if err := writeJSONFile(s.path, s.entries); err != nil {
		if had {
			s.entries[entry.ID] = prev
		} else {
			delete(s.entries, entry.ID)
		}
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

func (s *FileIndexStore) GetEntry(_ context.Context, id string) (*store.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (s *FileIndexStore) SetDeleted(_ context.Context, id string, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	prev := entry.Deleted
	entry.Deleted = deleted
	s.entries[id] = entry
	if err := writeJSONFile(s.path, s.entries); err != nil {
		entry.Deleted = prev
		s.entries[id] = entry
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

func (s *FileIndexStore) ListEntries(_ context.Context) ([]store.IndexEntry, error) {
	s.mu.RLock()
	out := make([]store.IndexEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
