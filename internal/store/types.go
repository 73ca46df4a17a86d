package store

import (
	"encoding/json"
	"io"
	"time"
)

// Receipt is the signed proof that an envelope was deleted.
type Receipt struct {
	MemID     string `json:"mem_id"`
	Action    string `json:"action"`
	DeletedAt string `json:"deleted_at"`
	Proof     string `json:"proof,omitempty"`
}

// ActionDelete is the only receipt action.
const ActionDelete = "delete"

// Body returns the serialization the proof is computed over: the receipt
// without its proof.
func (r Receipt) Body() ([]byte, error) {
	r.Proof = ""
	return json.Marshal(r)
}

// Timestamp formats t the way receipts carry it (RFC 3339, UTC, millis).
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Subscriber is an agent that registered interest in the store. The callback
// is recorded but the store itself never calls it.
type Subscriber struct {
	AgentID  string  `json:"agentId"`
	Callback *string `json:"callback"`
}

// StoreConfig configures the store layer.
type StoreConfig struct {
	// Backend: "file" (default), "sqlite" or "postgres".
	Backend string

	// DataDir is the root of the file backend (memories/, deletion_receipts/,
	// index.json, subscribers.json).
	DataDir string

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string
}

// Backend names.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Stores is the set of stores a backend provides. The backend owns all
// persisted state; nothing else writes to it.
type Stores struct {
	Backend     string
	Envelopes   EnvelopeStore
	Index       IndexStore
	Receipts    ReceiptStore
	Subscribers SubscriberStore

	// Closer releases the backend's resources (nil for the file backend).
	Closer io.Closer
}

// Close releases the backend.
func (s *Stores) Close() error {
	if s == nil || s.Closer == nil {
		return nil
	}
	return s.Closer.Close()
}
