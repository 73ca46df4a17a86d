package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// PGSubscriberStore implements store.SubscriberStore backed by Postgres.
type PGSubscriberStore struct {
	db *sqlx.DB
}

func NewPGSubscriberStore(db *sqlx.DB) *PGSubscriberStore {
	return &PGSubscriberStore{db: db}
}

func (s *PGSubscriberStore) UpsertSubscriber(ctx context.Context, sub store.Subscriber) error {
	now := nowUTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (agent_id, callback, created_at, updated_at) VALUES ($1, $2, $3, $3)
		 ON CONFLICT (agent_id) DO UPDATE SET callback = EXCLUDED.callback, updated_at = EXCLUDED.updated_at`,
		sub.AgentID, sub.Callback, now)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	return nil
}

func (s *PGSubscriberStore) ListSubscribers(ctx context.Context) ([]store.Subscriber, error) {
	var rows []struct {
		AgentID  string         `db:"agent_id"`
		Callback sql.NullString `db:"callback"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT agent_id, callback FROM subscribers ORDER BY agent_id"); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	out := make([]store.Subscriber, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.Subscriber{AgentID: r.AgentID, Callback: derefNullString(r.Callback)})
	}
	return out, nil
}
