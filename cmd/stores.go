package cmd

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/neuroweave/internal/config"
	"github.com/nextlevelbuilder/neuroweave/internal/store"
	"github.com/nextlevelbuilder/neuroweave/internal/store/file"
	"github.com/nextlevelbuilder/neuroweave/internal/store/pg"
	"github.com/nextlevelbuilder/neuroweave/internal/store/sqlite"
)

// openStores opens the configured backend.
func openStores(cfg *config.Config) (*store.Stores, error) {
	opts := cfg.StoreOptions()
	var (
		stores *store.Stores
		err    error
	)
	switch opts.Backend {
	case store.BackendFile, "":
		stores, err = file.NewFileStores(opts)
	case store.BackendSQLite:
		stores, err = sqlite.NewSQLiteStores(opts.SQLitePath)
	case store.BackendPostgres:
		stores, err = pg.NewPGStores(opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", opts.Backend, err)
	}
	slog.Info("store opened", "backend", stores.Backend, "data_dir", opts.DataDir)
	return stores, nil
}
