package cmd

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/neuroweave/pkg/client"
	"github.com/nextlevelbuilder/neuroweave/pkg/protocol"
)

// formatCoreError turns a client error into a message for the terminal.
func formatCoreError(err error) string {
	var ce *client.Error
	if errors.As(err, &ce) {
		switch ce.Code {
		case protocol.ErrNotFound:
			return "not found"
		case protocol.ErrForbidden:
			return "forbidden: " + ce.Message
		case protocol.ErrConflict:
			return "conflict: " + ce.Message
		case protocol.ErrResourceExhausted:
			return "rate limited by the Core, try again shortly"
		case protocol.ErrInvalidRequest:
			return "invalid request: " + ce.Message
		}
		return ce.Error()
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, "connection refused", "no such host", "dial tcp") {
		return "cannot reach the Core. Is `neuroweave serve` running and --core correct?"
	}
	if containsAny(lower, "timeout", "timed out", "deadline exceeded") {
		return "request to the Core timed out"
	}
	slog.Debug("unclassified core error", "error", err)
	return err.Error()
}

// containsAny returns true if s contains any of the given substrings.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
