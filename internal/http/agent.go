package http

import (
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// AgentHeader names the calling agent. It is advisory: used for logging and
// rate limiting, never for access decisions.
const AgentHeader = "X-Agent-Id"

// ExtractAgentID returns the calling agent from the request header.
// Returns "" if absent or longer than store.MaxIDLength.
func ExtractAgentID(r *http.Request) string {
	id := r.Header.Get(AgentHeader)
	if id == "" {
		return ""
	}
	if len(id) > store.MaxIDLength {
		slog.Warn("security.agent_id_too_long", "length", len(id), "max", store.MaxIDLength)
		return ""
	}
	return id
}
