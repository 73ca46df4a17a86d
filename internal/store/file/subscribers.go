package file

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// FileSubscriberStore keeps the registry as a JSON array in subscribers.json.
type FileSubscriberStore struct {
	path string
	mu   sync.Mutex
	subs []store.Subscriber
}

// NewFileSubscriberStore loads path, starting empty when it does not exist.
func NewFileSubscriberStore(path string) (*FileSubscriberStore, error) {
	s := &FileSubscriberStore{path: path}
	if _, err := readJSONFile(path, &s.subs); err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}
	return s, nil
}

func (s *FileSubscriberStore) UpsertSubscriber(_ context.Context, sub store.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]store.Subscriber, len(s.subs), len(s.subs)+1)
	copy(next, s.subs)
	replaced := false
	for i := range next {
		if next[i].AgentID == sub.AgentID {
			next[i].Callback = sub.Callback
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, sub)
	}

	if err := writeJSONFile(s.path, next); err != nil {
		return fmt.Errorf("save subscribers: %w", err)
	}
	s.subs = next
	return nil
}

func (s *FileSubscriberStore) ListSubscribers(_ context.Context) ([]store.Subscriber, error) {
	s.mu.Lock()
	out := make([]store.Subscriber, len(s.subs))
	copy(out, s.subs)
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}
