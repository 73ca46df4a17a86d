package cmd

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/neuroweave/internal/config"
	"github.com/nextlevelbuilder/neuroweave/pkg/client"
)

func TestRedactConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Signing.Secret = "super-secret-value"
	cfg.Store.PostgresDSN = "postgres://nw:hunter2@db:5432/neuroweave"
	cfg.Dispatch.RedisURL = "redis://:pw@cache:6379/0"
	cfg.Telemetry.Headers = map[string]string{"Authorization": "Bearer abc"}

	raw := redactConfig(cfg).(map[string]interface{})
	signing := raw["signing"].(map[string]interface{})
	if signing["secret"] != "supe****alue" {
		t.Errorf("secret = %v", signing["secret"])
	}
	st := raw["store"].(map[string]interface{})
	if dsn := st["postgres_dsn"].(string); strings.Contains(dsn, "hunter2") || !strings.Contains(dsn, "db:5432") {
		t.Errorf("dsn = %s", dsn)
	}
	disp := raw["dispatch"].(map[string]interface{})
	if strings.Contains(disp["redis_url"].(string), "pw@") {
		t.Errorf("redis url = %v", disp["redis_url"])
	}
	tel := raw["telemetry"].(map[string]interface{})
	if tel["headers"].(map[string]interface{})["Authorization"] != "****" {
		t.Errorf("headers = %v", tel["headers"])
	}
}

func TestRedactURL_NonURL(t *testing.T) {
	if got := redactURL("host=db password=x"); got != "****" {
		t.Errorf("redactURL = %q", got)
	}
}

func TestFormatCoreError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&client.Error{Status: 404, Code: "NOT_FOUND", Message: "not found"}, "not found"},
		{&client.Error{Status: 403, Code: "FORBIDDEN", Message: "no grant"}, "forbidden: no grant"},
		{&client.Error{Status: 429, Code: "RESOURCE_EXHAUSTED"}, "rate limited"},
		{errors.New("Post \"http://x\": dial tcp 127.0.0.1:1: connect: connection refused"), "cannot reach the Core"},
		{errors.New("context deadline exceeded"), "timed out"},
	}
	for _, tt := range tests {
		if got := formatCoreError(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("formatCoreError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSetupLogging(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	level := new(slog.LevelVar)
	setupLogging(&buf, config.LogConfig{Level: "warn", Format: "json"}, level)

	slog.Info("hidden")
	slog.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("log output %q", out)
	}

	level.Set(slog.LevelDebug)
	slog.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("level change not applied")
	}
}

func TestRootCommandTree(t *testing.T) {
	want := []string{"serve", "demo", "memories", "receipts", "subscribe", "config", "migrate", "doctor", "version"}
	for _, name := range want {
		if c, _, err := rootCmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
