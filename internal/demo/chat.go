// Package demo contains the two demo agents that exercise the Core: a canned
// writer (AgentA.Chat) and a canned reader (AgentB.Calendar).
package demo

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/neuroweave/pkg/client"
	"github.com/nextlevelbuilder/neuroweave/pkg/protocol"
)

// Agent names used in envelopes and ACLs.
const (
	ChatAgentID     = "AgentA.Chat"
	CalendarAgentID = "AgentB.Calendar"
)

// ChatAgent turns a canned chat sentence into a memory envelope.
type ChatAgent struct {
	core *client.Client
	now  func() time.Time
}

// NewChatAgent creates the writer agent talking to core.
func NewChatAgent(core *client.Client) *ChatAgent {
	return &ChatAgent{core: core, now: time.Now}
}

// Handler returns the agent's routes.
func (a *ChatAgent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /demo/create", a.handleCreate)
	mux.HandleFunc("POST /demo/delete", a.handleDelete)
	return mux
}

// RetroEnvelope builds the canned envelope for id.
func RetroEnvelope(id string, now time.Time) client.Envelope {
	return client.Envelope{
		"id":    id,
		"type":  "episodic.task.intent",
		"topic": "Hack for Agentic Memory | post-talk retro",
		"payload": map[string]any{
			"summary":  "After my Hack presentation, schedule a 45m retro next Friday afternoon.",
			"entities": []any{"Hack for Agentic Memory", "retro", "Friday"},
			"time_ref": "next Friday 14:00-14:45",
		},
		"context": map[string]any{
			"channel":  ChatAgentID,
			"tags":     []any{"work", "event-followup"},
			"salience": 0.82,
		},
		"policy": map[string]any{
			"owner": "user:jv",
			"acl": []any{
				map[string]any{"agent": CalendarAgentID, "perm": []any{"read", "use"}},
			},
			"ttl":             "P14D",
			"delete_requires": "owner-signature",
		},
		"provenance": map[string]any{
			"created_at": now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			"created_by": ChatAgentID,
		},
	}
}

func (a *ChatAgent) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := "mem_" + uuid.NewString()
	res, err := a.core.CreateMemory(r.Context(), RetroEnvelope(id, a.now()))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	slog.Info("demo.chat.created", "id", res.ID, "sig", res.Sig)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (a *ChatAgent) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorBody{Error: "id required", Code: protocol.ErrInvalidRequest})
		return
	}
	res, err := a.core.DeleteMemory(r.Context(), req.ID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	slog.Info("demo.chat.deleted", "id", req.ID, "deleted_at", res.Receipt.DeletedAt)
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeCoreError relays a Core error; transport failures become 502.
func writeCoreError(w http.ResponseWriter, err error) {
	var ce *client.Error
	if errors.As(err, &ce) {
		writeJSON(w, ce.Status, protocol.ErrorBody{Error: ce.Message, Code: ce.Code})
		return
	}
	slog.Warn("demo: core unreachable", "error", err)
	writeJSON(w, http.StatusBadGateway, protocol.ErrorBody{Error: "core unreachable: " + err.Error(), Code: protocol.ErrUnavailable})
}
