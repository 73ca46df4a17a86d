// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// Factory opens a fresh, empty backend for one test.
type Factory func(t *testing.T) *store.Stores

// Run exercises all stores of a backend.
func Run(t *testing.T, open Factory) {
	t.Run("Envelopes", func(t *testing.T) { testEnvelopes(t, open(t)) })
	t.Run("Index", func(t *testing.T) { testIndex(t, open(t)) })
	t.Run("Receipts", func(t *testing.T) { testReceipts(t, open(t)) })
	t.Run("Subscribers", func(t *testing.T) { testSubscribers(t, open(t)) })
}

func envelope(t *testing.T, body string) store.Envelope {
	t.Helper()
	env, err := store.DecodeEnvelope(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func testEnvelopes(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	if _, err := s.Envelopes.GetEnvelope(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetEnvelope(missing) error = %v, want ErrNotFound", err)
	}

	env := envelope(t, `{"id":"mem_1","topic":"first","payload":{"n":1.50},"provenance":{"hash":"h","sig":"s"}}`)
	if err := s.Envelopes.PutEnvelope(ctx, env); err != nil {
		t.Fatalf("PutEnvelope: %v", err)
	}
	got, err := s.Envelopes.GetEnvelope(ctx, "mem_1")
	if err != nil {
		t.Fatalf("GetEnvelope: %v", err)
	}
	want, _ := env.Canonical()
	have, _ := got.Canonical()
	if string(want) != string(have) {
		t.Errorf("round trip mismatch:\n got %s\nwant %s", have, want)
	}

	// last write wins
	if err := s.Envelopes.PutEnvelope(ctx, envelope(t, `{"id":"mem_1","topic":"second"}`)); err != nil {
		t.Fatalf("PutEnvelope overwrite: %v", err)
	}
	got, _ = s.Envelopes.GetEnvelope(ctx, "mem_1")
	if got["topic"] != "second" {
		t.Errorf("topic = %v, want second", got["topic"])
	}
}

func testIndex(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	if err := s.Index.SetDeleted(ctx, "missing", true); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("SetDeleted(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Index.GetEntry(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetEntry(missing) error = %v, want ErrNotFound", err)
	}

	timeRef := "next Friday"
	entries := []store.IndexEntry{
		{ID: "b", Topic: "tb", Type: "t", Entities: []string{"x", "y"}, TimeRef: &timeRef, Tags: []string{"work"}, Salience: 0.5,
			ACL: []store.Grant{{Agent: "AgentB", Perm: []string{"read", "use"}}}},
		{ID: "a", Entities: []string{}, Tags: []string{}, ACL: []store.Grant{}},
	}
	for _, e := range entries {
		if err := s.Index.PutEntry(ctx, e); err != nil {
			t.Fatalf("PutEntry(%s): %v", e.ID, err)
		}
	}

	got, err := s.Index.GetEntry(ctx, "b")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.TimeRef == nil || *got.TimeRef != timeRef || got.Salience != 0.5 || len(got.Entities) != 2 {
		t.Errorf("entry round trip mismatch: %+v", got)
	}
	if !got.Permits("AgentB") || got.Permits("AgentC") {
		t.Errorf("ACL not preserved: %+v", got.ACL)
	}

	if err := s.Index.SetDeleted(ctx, "b", true); err != nil {
		t.Fatalf("SetDeleted: %v", err)
	}
	list, err := s.Index.ListEntries(ctx)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("ListEntries order = %+v, want a, b", list)
	}
	if list[0].Deleted || !list[1].Deleted {
		t.Errorf("deleted flags = %v/%v, want false/true", list[0].Deleted, list[1].Deleted)
	}

	// re-put resets the flag
	entries[0].Deleted = false
	if err := s.Index.PutEntry(ctx, entries[0]); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Index.GetEntry(ctx, "b")
	if got.Deleted {
		t.Error("PutEntry should overwrite the deleted flag")
	}
}

func testReceipts(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	if _, err := s.Receipts.GetReceipt(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetReceipt(missing) error = %v, want ErrNotFound", err)
	}

	r := store.Receipt{MemID: "mem_1", Action: store.ActionDelete, DeletedAt: "2026-10-17T09:00:00.000Z", Proof: "sig:1"}
	if err := s.Receipts.PutReceipt(ctx, r); err != nil {
		t.Fatalf("PutReceipt: %v", err)
	}
	r.DeletedAt = "2026-10-17T10:00:00.000Z"
	r.Proof = "sig:2"
	if err := s.Receipts.PutReceipt(ctx, r); err != nil {
		t.Fatalf("PutReceipt overwrite: %v", err)
	}
	got, err := s.Receipts.GetReceipt(ctx, "mem_1")
	if err != nil {
		t.Fatalf("GetReceipt: %v", err)
	}
	if *got != r {
		t.Errorf("GetReceipt = %+v, want %+v", *got, r)
	}
}

func testSubscribers(t *testing.T, s *store.Stores) {
	ctx := context.Background()

	list, err := s.Subscribers.ListSubscribers(ctx)
	if err != nil {
		t.Fatalf("ListSubscribers: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("new registry has %d subscribers", len(list))
	}

	cb := "http://localhost:5057/revoke"
	for _, sub := range []store.Subscriber{
		{AgentID: "AgentB.Calendar", Callback: &cb},
		{AgentID: "AgentA.Chat"},
		{AgentID: "AgentB.Calendar"},
	} {
		if err := s.Subscribers.UpsertSubscriber(ctx, sub); err != nil {
			t.Fatalf("UpsertSubscriber(%s): %v", sub.AgentID, err)
		}
	}

	list, _ = s.Subscribers.ListSubscribers(ctx)
	if len(list) != 2 {
		t.Fatalf("got %d subscribers, want 2", len(list))
	}
	if list[0].AgentID != "AgentA.Chat" || list[1].AgentID != "AgentB.Calendar" {
		t.Errorf("order = %s, %s", list[0].AgentID, list[1].AgentID)
	}
	if list[1].Callback != nil {
		t.Errorf("callback should be replaced by null, got %q", *list[1].Callback)
	}
}
