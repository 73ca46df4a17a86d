package demo

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/nextlevelbuilder/neuroweave/pkg/client"
)

const (
	intentType      = "episodic.task.intent"
	suggestionTitle = "Retro after Hack presentation"
)

// Suggestion is a calendar proposal derived from a shared memory.
type Suggestion struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Time   string `json:"time"`
	Source string `json:"source"`
	Topic  string `json:"topic"`
}

// CalendarAgent reads memories shared with it and proposes calendar slots.
type CalendarAgent struct {
	core *client.Client
	fold cases.Caser

	mu      sync.Mutex
	revoked []string
}

// NewCalendarAgent creates the reader agent talking to core.
func NewCalendarAgent(core *client.Client) *CalendarAgent {
	return &CalendarAgent{core: core, fold: cases.Fold()}
}

// Handler returns the agent's routes.
func (a *CalendarAgent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /suggestions", a.handleSuggestions)
	mux.HandleFunc("POST /revoke", a.handleRevoke)
	return mux
}

// Suggestions turns the envelopes into Friday suggestions.
func (a *CalendarAgent) Suggestions(list []client.Envelope) []Suggestion {
	out := []Suggestion{}
	for _, m := range list {
		if t, _ := m["type"].(string); t != intentType {
			continue
		}
		payload, _ := m["payload"].(map[string]any)
		timeRef, _ := payload["time_ref"].(string)
		if !a.mentionsFriday(timeRef) {
			continue
		}
		id, _ := m["id"].(string)
		topic, _ := m["topic"].(string)
		out = append(out, Suggestion{
			ID:     id,
			Title:  suggestionTitle,
			Time:   timeRef,
			Source: "NeuroWeave",
			Topic:  topic,
		})
	}
	return out
}

func (a *CalendarAgent) mentionsFriday(s string) bool {
	// cases.Caser is stateful; Fold is not safe for concurrent use.
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Contains(a.fold.String(s), "friday")
}

// Revoked returns the ids this agent was told about through /revoke.
func (a *CalendarAgent) Revoked() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.revoked...)
}

func (a *CalendarAgent) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	list, err := a.core.ListMemories(r.Context(), CalendarAgentID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Suggestions(list))
}

func (a *CalendarAgent) handleRevoke(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	var ev struct {
		MemID string `json:"mem_id"`
	}
	json.Unmarshal(data, &ev)
	slog.Info("demo.calendar.revocation_received", "mem_id", ev.MemID, "body", string(data))

	if ev.MemID != "" {
		a.mu.Lock()
		a.revoked = append(a.revoked, ev.MemID)
		a.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
