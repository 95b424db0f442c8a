// Package notify delivers operator-facing messages and routes operator
// replies back to pending confirmations. Outbound delivery fans out to
// every configured channel; inbound replies come from whichever channel
// supports them (Telegram in practice).
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/clock"
)

// Reply is one inbound operator message. CorrelationID is empty when the
// reply could not be tied to a specific outbound message.
type Reply struct {
	CorrelationID string
	Text          string
	ReceivedAt    time.Time
}

// ReplyHandler receives inbound replies.
type ReplyHandler func(Reply)

// Notifier is one outbound channel.
type Notifier interface {
	// Name identifies the channel in logs.
	Name() string

	// Enabled reports whether the channel is configured and usable.
	Enabled() bool

	// Send delivers text, tagged with the correlation id when the channel
	// supports reply correlation. Returns the channel's message id.
	Send(ctx context.Context, text, correlationID string) (string, error)
}

// ReplySource is implemented by channels that can receive replies.
type ReplySource interface {
	// OnReply registers the handler inbound replies are delivered to.
	OnReply(ReplyHandler)

	// Listen blocks, polling for replies until ctx is canceled.
	Listen(ctx context.Context) error
}

// Identical messages sent within this window are suppressed as duplicates.
const dedupeWindow = 2 * time.Second

// Manager fans messages out to every enabled channel and suppresses
// rapid-fire duplicates.
type Manager struct {
	notifiers []Notifier
	clk       clock.Clock
	log       zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewManager creates a manager over the given channels.
func NewManager(notifiers []Notifier, clk clock.Clock, logger zerolog.Logger) *Manager {
	return &Manager{
		notifiers: notifiers,
		clk:       clk,
		log:       logger.With().Str("component", "notify").Logger(),
		lastSent:  make(map[string]time.Time),
	}
}

// Send delivers text to every enabled channel. Correlated messages are
// never deduplicated: a confirmation prompt must always go out.
func (m *Manager) Send(ctx context.Context, text, correlationID string) {
	if correlationID == "" && m.isDuplicate(text) {
		m.log.Debug().Msg("duplicate message suppressed")
		return
	}

	for _, n := range m.notifiers {
		if !n.Enabled() {
			continue
		}
		if _, err := n.Send(ctx, text, correlationID); err != nil {
			m.log.Warn().Err(err).Str("channel", n.Name()).Msg("notification failed")
		}
	}
}

// Info sends an uncorrelated message.
func (m *Manager) Info(ctx context.Context, text string) {
	m.Send(ctx, text, "")
}

// OnReply registers the handler on every reply-capable channel.
func (m *Manager) OnReply(h ReplyHandler) {
	for _, n := range m.notifiers {
		if src, ok := n.(ReplySource); ok {
			src.OnReply(h)
		}
	}
}

// Listen starts the reply loop of every reply-capable channel and blocks
// until ctx is canceled.
func (m *Manager) Listen(ctx context.Context) {
	var wg sync.WaitGroup
	for _, n := range m.notifiers {
		src, ok := n.(ReplySource)
		if !ok || !n.Enabled() {
			continue
		}
		wg.Add(1)
		go func(name string, src ReplySource) {
			defer wg.Done()
			if err := src.Listen(ctx); err != nil && ctx.Err() == nil {
				m.log.Error().Err(err).Str("channel", name).Msg("reply listener stopped")
			}
		}(n.Name(), src)
	}
	wg.Wait()
}

func (m *Manager) isDuplicate(text string) bool {
	now := m.clk.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if at, ok := m.lastSent[text]; ok && now.Sub(at) < dedupeWindow {
		return true
	}
	m.lastSent[text] = now

	// Keep the dedupe map from growing across a long session.
	if len(m.lastSent) > 256 {
		for k, at := range m.lastSent {
			if now.Sub(at) >= dedupeWindow {
				delete(m.lastSent, k)
			}
		}
	}
	return false
}
