package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// sessionIDKey is the context key for the session ID.
var sessionIDKey = contextKey{}

// WithSessionID returns a new context with the given session ID stored.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID extracts the session ID from the context.
// Returns an empty string if no session ID is set.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// FromContext returns l annotated with the session ID carried by ctx, if any.
func FromContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id := SessionID(ctx); id != "" {
		return l.With("session_id", id)
	}
	return l
}
