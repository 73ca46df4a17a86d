package pg

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// --- Nullable helpers ---

func derefNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// --- JSON helpers ---

func jsonArrayOrEmpty(data []byte) []byte {
	if len(data) == 0 || string(data) == "null" {
		return []byte("[]")
	}
	return data
}

// --- PostgreSQL array helpers ---

// stringArray never yields NULL, matching the NOT NULL text[] columns.
func stringArray(arr []string) pq.StringArray {
	if arr == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(arr)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
