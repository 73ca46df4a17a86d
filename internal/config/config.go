// Package config loads the NeuroWeave configuration: a JSON5 or YAML file,
// overlaid with NEUROWEAVE_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "NEUROWEAVE_"

	DefaultPort         = 5055
	DefaultChatPort     = 5056
	DefaultCalendarPort = 5057
)

// Config is the root configuration.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Signing   SigningConfig   `json:"signing" yaml:"signing"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Demo      DemoConfig      `json:"demo" yaml:"demo"`
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	RateLimitRPM   int    `json:"rate_limit_rpm" yaml:"rate_limit_rpm"` // 0 = disabled
	RateLimitBurst int    `json:"rate_limit_burst" yaml:"rate_limit_burst"`
	MaxBodyBytes   int64  `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	Backend        string `json:"backend" yaml:"backend"` // file | sqlite | postgres
	DataDir        string `json:"data_dir" yaml:"data_dir"`
	SQLitePath     string `json:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN    string `json:"postgres_dsn" yaml:"postgres_dsn"`
	CacheSize      int    `json:"cache_size" yaml:"cache_size"`
	RejectRecreate bool   `json:"reject_recreate" yaml:"reject_recreate"`
}

// SigningConfig holds the integrity-stamp secret.
type SigningConfig struct {
	Secret string `json:"secret" yaml:"secret"`
}

// DispatchConfig configures deletion fan-out. Disabled by default.
type DispatchConfig struct {
	Enabled           bool   `json:"enabled" yaml:"enabled"`
	WebhookTimeoutSec int    `json:"webhook_timeout" yaml:"webhook_timeout"`
	RedisURL          string `json:"redis_url" yaml:"redis_url"`
	RedisChannel      string `json:"redis_channel" yaml:"redis_channel"`
	S3Bucket          string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Prefix          string `json:"s3_prefix" yaml:"s3_prefix"`
	S3Region          string `json:"s3_region" yaml:"s3_region"`
	S3Endpoint        string `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKeyID     string `json:"s3_access_key_id" yaml:"s3_access_key_id"`
	S3SecretAccessKey string `json:"s3_secret_access_key" yaml:"s3_secret_access_key"`
}

// TelemetryConfig configures OTLP trace export (binaries built with -tags otel).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Protocol    string            `json:"protocol" yaml:"protocol"` // grpc | http
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	ServiceName string            `json:"service_name" yaml:"service_name"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// LogConfig configures the default slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format"` // text | json
}

// DemoConfig configures the demo agents.
type DemoConfig struct {
	CoreURL      string `json:"core_url" yaml:"core_url"`
	ChatPort     int    `json:"chat_port" yaml:"chat_port"`
	CalendarPort int    `json:"calendar_port" yaml:"calendar_port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           DefaultPort,
			RateLimitBurst: 20,
			MaxBodyBytes:   1 << 20,
		},
		Store: StoreConfig{
			Backend:    store.BackendFile,
			DataDir:    "~/.neuroweave/data",
			SQLitePath: "~/.neuroweave/neuroweave.db",
			CacheSize:  1024,
		},
		Dispatch: DispatchConfig{
			WebhookTimeoutSec: 5,
			RedisChannel:      "neuroweave:deletions",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "neuroweave",
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Demo: DemoConfig{
			CoreURL:      fmt.Sprintf("http://localhost:%d", DefaultPort),
			ChatPort:     DefaultChatPort,
			CalendarPort: DefaultCalendarPort,
		},
	}
}

// DefaultPath is ~/.neuroweave/config.json.
func DefaultPath() string {
	return ExpandHome("~/.neuroweave/config.json")
}

// ResolvePath picks the config file: the flag value, then NEUROWEAVE_CONFIG,
// then DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return ExpandHome(flag)
	}
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return ExpandHome(v)
	}
	return DefaultPath()
}

// Load reads path over the defaults and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.expandPaths()
	return cfg, nil
}

// Save writes cfg to path, as YAML for .yaml/.yml and JSON otherwise.
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json5.Unmarshal(data, cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// applyEnv overlays environment variables. NEUROWEAVE_PORT wins over PORT.
func (c *Config) applyEnv() {
	envStr("HOST", &c.Gateway.Host)
	if v := os.Getenv("PORT"); v != "" {
		setInt(v, &c.Gateway.Port)
	}
	envInt("PORT", &c.Gateway.Port)
	envInt("RATE_LIMIT_RPM", &c.Gateway.RateLimitRPM)

	envStr("STORE_BACKEND", &c.Store.Backend)
	envStr("DATA_DIR", &c.Store.DataDir)
	envStr("SQLITE_PATH", &c.Store.SQLitePath)
	envStr("POSTGRES_DSN", &c.Store.PostgresDSN)
	envBool("REJECT_RECREATE", &c.Store.RejectRecreate)

	envStr("SIGNING_SECRET", &c.Signing.Secret)

	envBool("DISPATCH_ENABLED", &c.Dispatch.Enabled)
	envStr("REDIS_URL", &c.Dispatch.RedisURL)
	envStr("S3_BUCKET", &c.Dispatch.S3Bucket)
	envStr("S3_REGION", &c.Dispatch.S3Region)
	envStr("S3_ENDPOINT", &c.Dispatch.S3Endpoint)
	envStr("S3_ACCESS_KEY_ID", &c.Dispatch.S3AccessKeyID)
	envStr("S3_SECRET_ACCESS_KEY", &c.Dispatch.S3SecretAccessKey)

	envBool("OTEL_ENABLED", &c.Telemetry.Enabled)
	envStr("OTEL_ENDPOINT", &c.Telemetry.Endpoint)

	envStr("LOG_LEVEL", &c.Log.Level)
	envStr("LOG_FORMAT", &c.Log.Format)

	envStr("CORE_URL", &c.Demo.CoreURL)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		setInt(v, dst)
	}
}

func setInt(v string, dst *int) {
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric env value", "value", v)
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("ignoring non-boolean env value", "key", EnvPrefix+key, "value", v)
			return
		}
		*dst = b
	}
}

func (c *Config) expandPaths() {
	c.Store.DataDir = ExpandHome(c.Store.DataDir)
	c.Store.SQLitePath = ExpandHome(c.Store.SQLitePath)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// StoreOptions converts the store section for the store factories.
func (c *Config) StoreOptions() store.StoreConfig {
	return store.StoreConfig{
		Backend:     c.Store.Backend,
		DataDir:     c.Store.DataDir,
		SQLitePath:  c.Store.SQLitePath,
		PostgresDSN: c.Store.PostgresDSN,
	}
}

// Validate reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	switch c.Store.Backend {
	case store.BackendFile:
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("store.data_dir is required for the file backend"))
		}
	case store.BackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	case store.BackendPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of file, sqlite, postgres", c.Store.Backend))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if c.Telemetry.Enabled && c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		errs = append(errs, fmt.Errorf("telemetry.protocol %q is not grpc or http", c.Telemetry.Protocol))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}
