package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Console writes messages to the log. It is the default channel for
// dry runs and the safety net when no chat channel is configured.
type Console struct {
	log zerolog.Logger
}

// NewConsole creates the console channel.
func NewConsole(logger zerolog.Logger) *Console {
	return &Console{log: logger.With().Str("component", "notify-console").Logger()}
}

// Name implements Notifier.
func (c *Console) Name() string { return "console" }

// Enabled implements Notifier.
func (c *Console) Enabled() bool { return true }

// Send implements Notifier.
func (c *Console) Send(_ context.Context, text, correlationID string) (string, error) {
	ev := c.log.Info()
	if correlationID != "" {
		ev = ev.Str("correlation_id", correlationID)
	}
	ev.Msg(text)
	return "", nil
}
