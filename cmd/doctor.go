package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/neuroweave/internal/config"
	"github.com/nextlevelbuilder/neuroweave/pkg/client"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage and Core reachability",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("neuroweave doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	// Storage
	fmt.Println()
	fmt.Printf("  Store backend: %s\n", cfg.Store.Backend)
	stores, err := openStores(cfg)
	if err != nil {
		fmt.Printf("    %-12s FAILED: %s\n", "open", err)
	} else {
		if _, err := stores.Index.ListEntries(ctx); err != nil {
			fmt.Printf("    %-12s FAILED: %s\n", "index", err)
		} else {
			fmt.Printf("    %-12s OK\n", "index")
		}
		stores.Close()
	}

	// Signing
	fmt.Println()
	if cfg.Signing.Secret == "" {
		fmt.Println("  Signing:  built-in demo secret (set signing.secret)")
	} else {
		fmt.Println("  Signing:  configured")
	}

	// Dispatch
	fmt.Println()
	fmt.Printf("  Dispatch: %s\n", enabledStr(cfg.Dispatch.Enabled))
	if cfg.Dispatch.Enabled {
		checkSet("Redis", cfg.Dispatch.RedisURL)
		checkSet("S3 archive", cfg.Dispatch.S3Bucket)
	}

	// Core
	fmt.Println()
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	fmt.Printf("  Core:     %s", cfg.Demo.CoreURL)
	if _, err := client.New(cfg.Demo.CoreURL).Subscribers(pingCtx); err != nil {
		fmt.Printf(" (UNREACHABLE: %s)\n", formatCoreError(err))
	} else {
		fmt.Println(" (OK)")
	}
}

func enabledStr(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func checkSet(name, value string) {
	status := "not configured"
	if value != "" {
		status = "configured"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}
