package pg

import (
	"context"
	"os"
	"testing"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
	"github.com/nextlevelbuilder/neuroweave/internal/store/storetest"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		dsn     string
		want    string
		wantErr bool
	}{
		{"postgres://u:p@localhost:5432/nw?sslmode=disable", "pgx5://u:p@localhost:5432/nw?sslmode=disable", false},
		{"postgresql://localhost/nw", "pgx5://localhost/nw", false},
		{"pgx5://localhost/nw", "pgx5://localhost/nw", false},
		{"host=localhost dbname=nw", "", true},
	}
	for _, tt := range tests {
		got, err := migrateURL(tt.dsn)
		if (err != nil) != tt.wantErr {
			t.Errorf("migrateURL(%q) error = %v, wantErr %v", tt.dsn, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("migrateURL(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestJSONArrayOrEmpty(t *testing.T) {
	for _, in := range []string{"", "null"} {
		if got := string(jsonArrayOrEmpty([]byte(in))); got != "[]" {
			t.Errorf("jsonArrayOrEmpty(%q) = %q", in, got)
		}
	}
	if got := string(jsonArrayOrEmpty([]byte(`[{"agent":"a"}]`))); got != `[{"agent":"a"}]` {
		t.Errorf("non-empty input changed: %s", got)
	}
}

// TestPGStores runs against a live database when NEUROWEAVE_TEST_POSTGRES_DSN is set.
func TestPGStores(t *testing.T) {
	dsn := os.Getenv("NEUROWEAVE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NEUROWEAVE_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) *store.Stores {
		s, err := NewPGStores(dsn)
		if err != nil {
			t.Fatalf("NewPGStores: %v", err)
		}
		t.Cleanup(func() { s.Close() })

		db, err := OpenDB(dsn)
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		if _, err := db.ExecContext(context.Background(),
			"TRUNCATE envelopes, memory_index, deletion_receipts, subscribers"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
