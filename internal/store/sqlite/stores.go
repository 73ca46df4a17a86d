package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// EnvelopeStore stores the canonical JSON of each envelope.
type EnvelopeStore struct {
	db *sql.DB
}

func (s *EnvelopeStore) PutEnvelope(ctx context.Context, env store.Envelope) error {
	body, err := env.Canonical()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO envelopes (id, body, updated_at) VALUES (?, ?, strftime('%s','now'))
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		env.ID(), string(body))
	if err != nil {
		return fmt.Errorf("upsert envelope: %w", err)
	}
	return nil
}

func (s *EnvelopeStore) GetEnvelope(ctx context.Context, id string) (store.Envelope, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM envelopes WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get envelope: %w", err)
	}
	return store.ParseEnvelope([]byte(body))
}

// IndexStore keeps list columns as JSON text.
type IndexStore struct {
	db *sql.DB
}

func (s *IndexStore) PutEntry(ctx context.Context, e store.IndexEntry) error {
	entities, _ := json.Marshal(e.Entities)
	tags, _ := json.Marshal(e.Tags)
	acl, err := json.Marshal(e.ACL)
	if err != nil {
		return fmt.Errorf("marshal acl: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_index (id, topic, type, entities, time_ref, tags, salience, acl, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET topic = excluded.topic, type = excluded.type,
		   entities = excluded.entities, time_ref = excluded.time_ref, tags = excluded.tags,
		   salience = excluded.salience, acl = excluded.acl, deleted = excluded.deleted`,
		e.ID, e.Topic, e.Type, string(entities), e.TimeRef, string(tags), e.Salience, string(acl), e.Deleted)
	if err != nil {
		return fmt.Errorf("upsert index entry: %w", err)
	}
	return nil
}

const indexColumns = "id, topic, type, entities, time_ref, tags, salience, acl, deleted"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*store.IndexEntry, error) {
	var (
		e                   store.IndexEntry
		entities, tags, acl string
		timeRef             sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Topic, &e.Type, &entities, &timeRef, &tags, &e.Salience, &acl, &e.Deleted); err != nil {
		return nil, err
	}
	if timeRef.Valid {
		e.TimeRef = &timeRef.String
	}
	if err := json.Unmarshal([]byte(entities), &e.Entities); err != nil {
		return nil, fmt.Errorf("entities of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("tags of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(acl), &e.ACL); err != nil {
		return nil, fmt.Errorf("acl of %s: %w", e.ID, err)
	}
	return &e, nil
}

func (s *IndexStore) GetEntry(ctx context.Context, id string) (*store.IndexEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, "SELECT "+indexColumns+" FROM memory_index WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get index entry: %w", err)
	}
	return e, nil
}

func (s *IndexStore) SetDeleted(ctx context.Context, id string, deleted bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE memory_index SET deleted = ? WHERE id = ?", deleted, id)
	if err != nil {
		return fmt.Errorf("update index entry: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *IndexStore) ListEntries(ctx context.Context) ([]store.IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+indexColumns+" FROM memory_index ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	defer rows.Close()

	out := []store.IndexEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ReceiptStore stores deletion receipts.
type ReceiptStore struct {
	db *sql.DB
}

func (s *ReceiptStore) PutReceipt(ctx context.Context, r store.Receipt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deletion_receipts (mem_id, action, deleted_at, proof) VALUES (?, ?, ?, ?)
		 ON CONFLICT(mem_id) DO UPDATE SET action = excluded.action, deleted_at = excluded.deleted_at, proof = excluded.proof`,
		r.MemID, r.Action, r.DeletedAt, r.Proof)
	if err != nil {
		return fmt.Errorf("upsert receipt: %w", err)
	}
	return nil
}

func (s *ReceiptStore) GetReceipt(ctx context.Context, id string) (*store.Receipt, error) {
	var r store.Receipt
	err := s.db.QueryRowContext(ctx,
		"SELECT mem_id, action, deleted_at, proof FROM deletion_receipts WHERE mem_id = ?", id,
	).Scan(&r.MemID, &r.Action, &r.DeletedAt, &r.Proof)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return &r, nil
}

// SubscriberStore is the subscriber registry table.
type SubscriberStore struct {
	db *sql.DB
}

func (s *SubscriberStore) UpsertSubscriber(ctx context.Context, sub store.Subscriber) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (agent_id, callback) VALUES (?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET callback = excluded.callback`,
		sub.AgentID, sub.Callback)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	return nil
}

func (s *SubscriberStore) ListSubscribers(ctx context.Context) ([]store.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT agent_id, callback FROM subscribers ORDER BY agent_id")
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	out := []store.Subscriber{}
	for rows.Next() {
		var (
			sub store.Subscriber
			cb  sql.NullString
		)
		if err := rows.Scan(&sub.AgentID, &cb); err != nil {
			return nil, err
		}
		if cb.Valid {
			sub.Callback = &cb.String
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
