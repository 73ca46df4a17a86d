package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// EnvelopeStore persists full envelope records keyed by id.
type EnvelopeStore interface {
	// PutEnvelope stores env under env.ID(), replacing any previous record.
	PutEnvelope(ctx context.Context, env Envelope) error
	GetEnvelope(ctx context.Context, id string) (Envelope, error)
}

// IndexStore holds one IndexEntry per id ever created.
type IndexStore interface {
	PutEntry(ctx context.Context, entry IndexEntry) error
	GetEntry(ctx context.Context, id string) (*IndexEntry, error)
	// SetDeleted flips the deleted flag. Returns ErrNotFound for unknown ids.
	SetDeleted(ctx context.Context, id string, deleted bool) error
	// ListEntries returns every entry, deleted or not, ordered by id.
	ListEntries(ctx context.Context) ([]IndexEntry, error)
}

// ReceiptStore persists deletion receipts keyed by envelope id.
type ReceiptStore interface {
	PutReceipt(ctx context.Context, r Receipt) error
	GetReceipt(ctx context.Context, id string) (*Receipt, error)
}

// SubscriberStore is the subscriber registry.
type SubscriberStore interface {
	UpsertSubscriber(ctx context.Context, s Subscriber) error
	// ListSubscribers returns all subscribers ordered by agent id.
	ListSubscribers(ctx context.Context) ([]Subscriber, error)
}
