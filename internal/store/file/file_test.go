package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
	"github.com/nextlevelbuilder/neuroweave/internal/store/storetest"
)

func openTemp(t *testing.T) *store.Stores {
	t.Helper()
	s, err := NewFileStores(store.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFileStores: %v", err)
	}
	return s
}

func TestFileStores(t *testing.T) {
	storetest.Run(t, openTemp)
}

func TestFileStores_Reload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStores(store.StoreConfig{DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Index.PutEntry(ctx, store.IndexEntry{ID: "mem_1", Entities: []string{}, Tags: []string{}, ACL: []store.Grant{}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Index.SetDeleted(ctx, "mem_1", true); err != nil {
		t.Fatal(err)
	}
	if err := s.Subscribers.UpsertSubscriber(ctx, store.Subscriber{AgentID: "a"}); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileStores(store.StoreConfig{DataDir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	entry, err := reopened.Index.GetEntry(ctx, "mem_1")
	if err != nil {
		t.Fatalf("GetEntry after reload: %v", err)
	}
	if !entry.Deleted {
		t.Error("deleted flag lost across reload")
	}
	subs, _ := reopened.Subscribers.ListSubscribers(ctx)
	if len(subs) != 1 {
		t.Errorf("got %d subscribers after reload, want 1", len(subs))
	}
}

func TestFileStores_Layout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStores(store.StoreConfig{DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	env, _ := store.ParseEnvelope([]byte(`{"id":"mem_1"}`))
	if err := s.Envelopes.PutEnvelope(ctx, env); err != nil {
		t.Fatal(err)
	}
	if err := s.Receipts.PutReceipt(ctx, store.Receipt{MemID: "mem_1", Action: store.ActionDelete}); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{
		filepath.Join(dir, MemoriesDir, "mem_1.json"),
		filepath.Join(dir, ReceiptsDir, "mem_1.json"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}
}

func TestFileEnvelopeStore_RejectsPathIDs(t *testing.T) {
	s := openTemp(t)
	env, _ := store.ParseEnvelope([]byte(`{"id":"../escape"}`))
	if err := s.Envelopes.PutEnvelope(context.Background(), env); err == nil {
		t.Error("PutEnvelope should reject ids with path separators")
	}
}

func TestNewFileStores_CorruptIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, IndexFile), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStores(store.StoreConfig{DataDir: dir}); err == nil {
		t.Error("expected error for corrupt index.json")
	}
}
