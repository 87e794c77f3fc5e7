package logging

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	windowIDKey  contextKey = "window_id"
)

// WithSessionID adds a conversation session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithWindowID adds a tmux window ID to the context.
func WithWindowID(ctx context.Context, windowID string) context.Context {
	return context.WithValue(ctx, windowIDKey, windowID)
}

// GetSessionID retrieves the session ID from the context.
// Returns empty string if not present.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// GetWindowID retrieves the window ID from the context.
// Returns empty string if not present.
func GetWindowID(ctx context.Context) string {
	if id, ok := ctx.Value(windowIDKey).(string); ok {
		return id
	}
	return ""
}
