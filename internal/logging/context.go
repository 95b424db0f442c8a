package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/rs/zerolog"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// NewContext creates a new context carrying the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// WithTrace attaches a fresh trace ID to both the context and the logger.
func WithTrace(ctx context.Context, l zerolog.Logger) (context.Context, zerolog.Logger) {
	traced := l.With().Str("trace_id", GenerateTraceID()).Logger()
	return traced.WithContext(ctx), traced
}
