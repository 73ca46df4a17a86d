package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/neuroweave/internal/envelope"
	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// CoreHandler serves the Envelope Store API.
type CoreHandler struct {
	svc    *envelope.Service
	events http.Handler // nil when dispatch is disabled
}

// NewCoreHandler creates the API handler. events, when non-nil, serves the
// GET /events WebSocket stream.
func NewCoreHandler(svc *envelope.Service, events http.Handler) *CoreHandler {
	return &CoreHandler{svc: svc, events: events}
}

// RegisterRoutes registers all Core routes on the given mux.
func (h *CoreHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /memories", h.handleCreate)
	mux.HandleFunc("GET /memories", h.handleList)
	mux.HandleFunc("GET /memories/{id}", h.handleGet)
	mux.HandleFunc("GET /memories/{id}/verify", h.handleVerifyEnvelope)
	mux.HandleFunc("POST /memories/{id}/delete", h.handleDelete)

	mux.HandleFunc("GET /deletions/{id}", h.handleReceipt)
	mux.HandleFunc("GET /deletions/{id}/verify", h.handleVerifyReceipt)

	mux.HandleFunc("POST /subscribe", h.handleSubscribe)
	mux.HandleFunc("GET /subscribers", h.handleSubscribers)

	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.events != nil {
		mux.Handle("GET /events", h.events)
	}
}

type createResponse struct {
	OK          bool   `json:"ok"`
	ID          string `json:"id"`
	Sig         string `json:"sig"`
	Resurrected bool   `json:"resurrected,omitempty"`
}

func (h *CoreHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	env, err := store.DecodeEnvelope(r.Body)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	res, err := h.svc.Create(r.Context(), env)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{OK: true, ID: res.ID, Sig: res.Sig, Resurrected: res.Resurrected})
}

func (h *CoreHandler) handleList(w http.ResponseWriter, r *http.Request) {
	envs, err := h.svc.List(r.Context(), r.URL.Query().Get("agent"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

func (h *CoreHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	env, err := h.svc.Get(r.Context(), r.PathValue("id"), r.URL.Query().Get("agent"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *CoreHandler) handleVerifyEnvelope(w http.ResponseWriter, r *http.Request) {
	check, err := h.svc.VerifyEnvelope(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

type deleteResponse struct {
	OK      bool          `json:"ok"`
	Receipt store.Receipt `json:"receipt"`
}

func (h *CoreHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.svc.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{OK: true, Receipt: *receipt})
}

func (h *CoreHandler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.svc.Receipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *CoreHandler) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	check, err := h.svc.VerifyReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

type subscribeRequest struct {
	AgentID  string  `json:"agentId"`
	Callback *string `json:"callback"`
}

func (h *CoreHandler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}
	callback := ""
	if req.Callback != nil {
		callback = *req.Callback
	}
	if err := h.svc.Subscribe(r.Context(), req.AgentID, callback); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *CoreHandler) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.Subscribers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *CoreHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	slog.Debug("health check", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "backend": h.svc.Backend()})
}
