package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/neuroweave/internal/config"
	"github.com/nextlevelbuilder/neuroweave/internal/store"
	"github.com/nextlevelbuilder/neuroweave/internal/store/pg"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := postgresDSN()
			if err != nil {
				return err
			}
			if err := pg.Migrate(dsn); err != nil {
				return err
			}
			return printMigrationVersion(dsn)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := postgresDSN()
			if err != nil {
				return err
			}
			if err := pg.MigrateDown(dsn, steps); err != nil {
				return err
			}
			return printMigrationVersion(dsn)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (0 = all)")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := postgresDSN()
			if err != nil {
				return err
			}
			return printMigrationVersion(dsn)
		},
	})
	return cmd
}

func postgresDSN() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", err
	}
	if cfg.Store.PostgresDSN == "" {
		return "", errors.New("store.postgres_dsn is not set (or NEUROWEAVE_POSTGRES_DSN)")
	}
	if cfg.Store.Backend != store.BackendPostgres {
		fmt.Printf("note: store.backend is %q; migrating %s anyway\n", cfg.Store.Backend, store.BackendPostgres)
	}
	return cfg.Store.PostgresDSN, nil
}

func printMigrationVersion(dsn string) error {
	v, dirty, err := pg.MigrationVersion(dsn)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "DIRTY"
	}
	fmt.Printf("schema version %d (%s)\n", v, state)
	return nil
}
