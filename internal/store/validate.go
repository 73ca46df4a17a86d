package store

import (
	"fmt"
	"strings"
)

// MaxIDLength is the maximum allowed length for envelope and agent identifiers.
// Matches the VARCHAR(255) constraint in the database schema.
const MaxIDLength = 255

// ValidateID checks that an identifier is usable as a primary key and as a file
// name in the file backend.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier is empty")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("identifier too long: %d chars (max %d)", len(id), MaxIDLength)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("identifier %q contains path characters", id)
	}
	return nil
}
