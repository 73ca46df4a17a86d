package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/neuroweave/internal/envelope"
	"github.com/nextlevelbuilder/neuroweave/internal/store"
	"github.com/nextlevelbuilder/neuroweave/pkg/protocol"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

// WriteError writes the error body for code.
func WriteError(w http.ResponseWriter, code, message string) {
	writeJSON(w, protocol.HTTPStatus(code), protocol.ErrorBody{Error: message, Code: code})
}

// writeDecodeError answers a request body that could not be decoded. A body
// cut off by http.MaxBytesReader is reported as too large, not as bad JSON.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteError(w, protocol.ErrPayloadTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
		return
	}
	WriteError(w, protocol.ErrInvalidRequest, "invalid JSON: "+err.Error())
}

// writeServiceError classifies err and writes the matching error body.
// Internal errors are logged and not echoed to the caller.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, envelope.ErrInvalidRequest):
		WriteError(w, protocol.ErrInvalidRequest, detail(err, envelope.ErrInvalidRequest))
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, protocol.ErrNotFound, "not found")
	case errors.Is(err, envelope.ErrForbidden):
		WriteError(w, protocol.ErrForbidden, detail(err, envelope.ErrForbidden))
	case errors.Is(err, envelope.ErrConflict):
		WriteError(w, protocol.ErrConflict, detail(err, envelope.ErrConflict))
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", store.RequestIDFromContext(r.Context()), "error", err)
		WriteError(w, protocol.ErrInternal, "internal error")
	}
}

// detail strips the sentinel prefix ("invalid request: MEV must include id").
func detail(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}
