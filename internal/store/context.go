package store

import "context"

type contextKey string

const (
	// AgentIDKey is the context key for the calling agent (free-form, advisory).
	AgentIDKey contextKey = "neuroweave_agent_id"
	// RequestIDKey is the context key for the per-request id.
	RequestIDKey contextKey = "neuroweave_request_id"
)

// WithAgentID returns a new context with the given calling agent.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, AgentIDKey, id)
}

// AgentIDFromContext extracts the calling agent from context. Returns "" if not set.
func AgentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(AgentIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID returns a new context with the given request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFromContext extracts the request id from context. Returns "" if not set.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
