package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx retrieves the logger from the context.
// If no logger is found, the global logger is returned.
func Ctx(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return L()
	}
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// WithConversation returns ctx carrying a child logger tagged with the
// conversation and viewer it works on.
func WithConversation(ctx context.Context, conversationID, viewerID int64) context.Context {
	l := Ctx(ctx)
	child := l.With().
		Int64(FieldConversationID, conversationID).
		Int64(FieldViewerID, viewerID).
		Logger()
	return WithLogger(ctx, child)
}
