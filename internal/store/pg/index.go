package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// PGIndexStore implements store.IndexStore backed by Postgres.
type PGIndexStore struct {
	db *sqlx.DB
}

func NewPGIndexStore(db *sqlx.DB) *PGIndexStore {
	return &PGIndexStore{db: db}
}

type indexRow struct {
	ID       string         `db:"id"`
	Topic    string         `db:"topic"`
	Type     string         `db:"type"`
	Entities pq.StringArray `db:"entities"`
	TimeRef  sql.NullString `db:"time_ref"`
	Tags     pq.StringArray `db:"tags"`
	Salience float64        `db:"salience"`
	ACL      []byte         `db:"acl"`
	Deleted  bool           `db:"deleted"`
}

const indexColumns = "id, topic, type, entities, time_ref, tags, salience, acl, deleted"

func (r indexRow) entry() (store.IndexEntry, error) {
	e := store.IndexEntry{
		ID:       r.ID,
		Topic:    r.Topic,
		Type:     r.Type,
		Entities: []string(r.Entities),
		TimeRef:  derefNullString(r.TimeRef),
		Tags:     []string(r.Tags),
		Salience: r.Salience,
		Deleted:  r.Deleted,
	}
	if e.Entities == nil {
		e.Entities = []string{}
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if err := json.Unmarshal(jsonArrayOrEmpty(r.ACL), &e.ACL); err != nil {
		return e, fmt.Errorf("acl of %s: %w", r.ID, err)
	}
	return e, nil
}

func (s *PGIndexStore) PutEntry(ctx context.Context, e store.IndexEntry) error {
	acl, err := json.Marshal(e.ACL)
	if err != nil {
		return fmt.Errorf("marshal acl: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_index (id, topic, type, entities, time_ref, tags, salience, acl, deleted, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET topic = EXCLUDED.topic, type = EXCLUDED.type,
		   entities = EXCLUDED.entities, time_ref = EXCLUDED.time_ref, tags = EXCLUDED.tags,
		   salience = EXCLUDED.salience, acl = EXCLUDED.acl, deleted = EXCLUDED.deleted,
		   updated_at = EXCLUDED.updated_at`,
		e.ID, e.Topic, e.Type, stringArray(e.Entities), e.TimeRef, stringArray(e.Tags),
		e.Salience, string(jsonArrayOrEmpty(acl)), e.Deleted, nowUTC())
	if err != nil {
		return fmt.Errorf("upsert index entry: %w", err)
	}
	return nil
}

func (s *PGIndexStore) GetEntry(ctx context.Context, id string) (*store.IndexEntry, error) {
	var row indexRow
	err := s.db.GetContext(ctx, &row, "SELECT "+indexColumns+" FROM memory_index WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get index entry: %w", err)
	}
	e, err := row.entry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PGIndexStore) SetDeleted(ctx context.Context, id string, deleted bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE memory_index SET deleted = $1, updated_at = $2 WHERE id = $3", deleted, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("update index entry: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGIndexStore) ListEntries(ctx context.Context) ([]store.IndexEntry, error) {
	var rows []indexRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+indexColumns+" FROM memory_index ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	out := make([]store.IndexEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
