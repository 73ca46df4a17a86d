package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// PGEnvelopeStore implements store.EnvelopeStore backed by Postgres. Bodies are
// kept in a JSON (not JSONB) column so the stored text is byte-identical.
type PGEnvelopeStore struct {
	db *sqlx.DB
}

func NewPGEnvelopeStore(db *sqlx.DB) *PGEnvelopeStore {
	return &PGEnvelopeStore{db: db}
}

func (s *PGEnvelopeStore) PutEnvelope(ctx context.Context, env store.Envelope) error {
	body, err := env.Canonical()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	now := nowUTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO envelopes (id, body, created_at, updated_at) VALUES ($1, $2, $3, $3)
		 ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		env.ID(), string(body), now)
	if err != nil {
		return fmt.Errorf("upsert envelope: %w", err)
	}
	return nil
}

func (s *PGEnvelopeStore) GetEnvelope(ctx context.Context, id string) (store.Envelope, error) {
	var body string
	err := s.db.GetContext(ctx, &body, "SELECT body::text FROM envelopes WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get envelope: %w", err)
	}
	return store.ParseEnvelope([]byte(body))
}
