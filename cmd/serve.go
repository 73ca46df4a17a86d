package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/neuroweave/internal/config"
	"github.com/nextlevelbuilder/neuroweave/internal/crypto"
	"github.com/nextlevelbuilder/neuroweave/internal/dispatch"
	"github.com/nextlevelbuilder/neuroweave/internal/envelope"
	"github.com/nextlevelbuilder/neuroweave/internal/gateway"
	httpapi "github.com/nextlevelbuilder/neuroweave/internal/http"
	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Core (Envelope Store) HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, port int) error {
	cfg, level, err := loadConfig()
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Gateway.Port = port
	}

	shutdownOTel := initOTelExporter(ctx, cfg)
	defer shutdownOTel()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if cfg.Signing.Secret == "" {
		slog.Warn("signing.secret not set, using the built-in demo secret")
	}
	svc, err := envelope.New(stores, crypto.NewHMACSigner(cfg.Signing.Secret), envelope.Config{
		CacheSize:      cfg.Store.CacheSize,
		RejectRecreate: cfg.Store.RejectRecreate,
	})
	if err != nil {
		return err
	}

	var events http.Handler
	if cfg.Dispatch.Enabled {
		d, hub, closeDispatch, err := buildDispatcher(ctx, cfg, stores)
		if err != nil {
			return err
		}
		defer closeDispatch()
		defer d.Wait()
		svc.AddObserver(d)
		events = hub
	}

	mux := http.NewServeMux()
	httpapi.NewCoreHandler(svc, events).RegisterRoutes(mux)

	limiter := gateway.NewRateLimiter(cfg.Gateway.RateLimitRPM, cfg.Gateway.RateLimitBurst)
	defer limiter.Stop()

	srv := gateway.NewServer(gateway.Options{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		MaxBodyBytes: cfg.Gateway.MaxBodyBytes,
		Limiter:      limiter,
	}, mux)

	if w := startConfigWatcher(limiter, level); w != nil {
		defer w.Stop()
	}

	slog.Info("neuroweave core starting",
		"version", Version,
		"backend", svc.Backend(),
		"dispatch", cfg.Dispatch.Enabled,
		"rate_limit_rpm", cfg.Gateway.RateLimitRPM,
	)
	return srv.Start(ctx)
}

// buildDispatcher wires every configured sink. The returned func releases
// their connections.
func buildDispatcher(ctx context.Context, cfg *config.Config, stores *store.Stores) (*dispatch.Dispatcher, *dispatch.Hub, func(), error) {
	dc := cfg.Dispatch
	timeout := time.Duration(dc.WebhookTimeoutSec) * time.Second

	hub := dispatch.NewHub()
	d := dispatch.New(2*timeout, dispatch.NewWebhookSink(stores.Subscribers, timeout), hub)
	closers := []func(){hub.Close}

	if dc.RedisURL != "" {
		rs, err := dispatch.NewRedisSink(ctx, dc.RedisURL, dc.RedisChannel)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("dispatch redis: %w", err)
		}
		d.Add(rs)
		closers = append(closers, func() { rs.Close() })
	}
	if dc.S3Bucket != "" {
		s3s, err := dispatch.NewS3Sink(ctx, dispatch.S3Config{
			Bucket:          dc.S3Bucket,
			Prefix:          dc.S3Prefix,
			Region:          dc.S3Region,
			Endpoint:        dc.S3Endpoint,
			AccessKeyID:     dc.S3AccessKeyID,
			SecretAccessKey: dc.S3SecretAccessKey,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("dispatch s3: %w", err)
		}
		d.Add(s3s)
	}

	slog.Info("deletion dispatch enabled", "sinks", d.Sinks())
	return d, hub, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

// startConfigWatcher re-applies the hot-reloadable settings on config change.
// Returns nil when there is no config file to watch.
func startConfigWatcher(limiter *gateway.RateLimiter, level *slog.LevelVar) *config.Watcher {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	w, err := config.NewWatcher(path)
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return nil
	}
	w.OnChange(func(cfg *config.Config) {
		limiter.SetLimit(cfg.Gateway.RateLimitRPM, cfg.Gateway.RateLimitBurst)
		if l, err := config.ParseLevel(cfg.Log.Level); err == nil && !verbose {
			level.Set(l)
		}
	})
	if err := w.Start(); err != nil {
		slog.Warn("config watcher failed to start", "error", err)
		return nil
	}
	return w
}
