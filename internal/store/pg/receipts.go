package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// PGReceiptStore implements store.ReceiptStore backed by Postgres.
type PGReceiptStore struct {
	db *sqlx.DB
}

func NewPGReceiptStore(db *sqlx.DB) *PGReceiptStore {
	return &PGReceiptStore{db: db}
}

type receiptRow struct {
	MemID     string `db:"mem_id"`
	Action    string `db:"action"`
	DeletedAt string `db:"deleted_at"`
	Proof     string `db:"proof"`
}

func (s *PGReceiptStore) PutReceipt(ctx context.Context, r store.Receipt) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO deletion_receipts (mem_id, action, deleted_at, proof)
		 VALUES (:mem_id, :action, :deleted_at, :proof)
		 ON CONFLICT (mem_id) DO UPDATE SET action = EXCLUDED.action,
		   deleted_at = EXCLUDED.deleted_at, proof = EXCLUDED.proof`,
		receiptRow{MemID: r.MemID, Action: r.Action, DeletedAt: r.DeletedAt, Proof: r.Proof})
	if err != nil {
		return fmt.Errorf("upsert receipt: %w", err)
	}
	return nil
}

func (s *PGReceiptStore) GetReceipt(ctx context.Context, id string) (*store.Receipt, error) {
	var row receiptRow
	err := s.db.GetContext(ctx, &row,
		"SELECT mem_id, action, deleted_at, proof FROM deletion_receipts WHERE mem_id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return &store.Receipt{MemID: row.MemID, Action: row.Action, DeletedAt: row.DeletedAt, Proof: row.Proof}, nil
}
