// Package cmd implements the neuroweave command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/neuroweave/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "0.1.0-dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "neuroweave",
	Short: "NeuroWeave: cross-agent memory sharing with signed deletion receipts",
	Long: `NeuroWeave stores memory envelopes on behalf of producing agents, serves them
to consuming agents filtered by each envelope's ACL, and issues signed receipts
when envelopes are deleted.

Run "neuroweave serve" to start the Core.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $NEUROWEAVE_CONFIG or ~/.neuroweave/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(memoriesCmd())
	rootCmd.AddCommand(receiptsCmd())
	rootCmd.AddCommand(subscribeCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	return config.ResolvePath(cfgFile)
}

// loadConfig loads and validates the config, then installs the default logger.
// The returned LevelVar lets the level change at runtime.
func loadConfig() (*config.Config, *slog.LevelVar, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	level := new(slog.LevelVar)
	setupLogging(os.Stderr, cfg.Log, level)
	return cfg, level, nil
}

func setupLogging(w io.Writer, lc config.LogConfig, level *slog.LevelVar) {
	l, _ := config.ParseLevel(lc.Level)
	if verbose {
		l = slog.LevelDebug
	}
	level.Set(l)

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if lc.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("neuroweave %s\n", Version)
		},
	}
}
