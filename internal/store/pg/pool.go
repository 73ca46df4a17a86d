package pg

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// OpenDB creates a database/sql connection to Postgres using pgx driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	slog.Info("postgres connected", "dsn_len", len(dsn))
	return db, nil
}

// NewPGStores opens dsn, applies pending migrations and returns every store
// backed by Postgres.
func NewPGStores(dsn string) (*store.Stores, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	x := sqlx.NewDb(db, "pgx")
	return &store.Stores{
		Backend:     store.BackendPostgres,
		Envelopes:   NewPGEnvelopeStore(x),
		Index:       NewPGIndexStore(x),
		Receipts:    NewPGReceiptStore(x),
		Subscribers: NewPGSubscriberStore(x),
		Closer:      db,
	}, nil
}
