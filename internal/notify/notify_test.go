package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type tickingClock struct{ t time.Time }

func (c *tickingClock) Now() time.Time { return c.t }
func (c *tickingClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	name    string
	enabled bool
	sent    []string
}

func (r *recordingNotifier) Name() string  { return r.name }
func (r *recordingNotifier) Enabled() bool { return r.enabled }
func (r *recordingNotifier) Send(_ context.Context, text, _ string) (string, error) {
	r.sent = append(r.sent, text)
	return "1", nil
}

func TestManagerFansOutToEnabledChannels(t *testing.T) {
	a := &recordingNotifier{name: "a", enabled: true}
	b := &recordingNotifier{name: "b", enabled: false}
	clk := &tickingClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}

	m := NewManager([]Notifier{a, b}, clk, zerolog.Nop())
	m.Info(context.Background(), "hello")

	if len(a.sent) != 1 {
		t.Errorf("enabled channel should receive, got %d", len(a.sent))
	}
	if len(b.sent) != 0 {
		t.Error("disabled channel must not receive")
	}
}

func TestManagerSuppressesDuplicatesInWindow(t *testing.T) {
	n := &recordingNotifier{name: "a", enabled: true}
	clk := &tickingClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	m := NewManager([]Notifier{n}, clk, zerolog.Nop())

	m.Info(context.Background(), "stale data")
	clk.advance(500 * time.Millisecond)
	m.Info(context.Background(), "stale data")
	if len(n.sent) != 1 {
		t.Fatalf("duplicate within %s must be suppressed, got %d sends", dedupeWindow, len(n.sent))
	}

	clk.advance(3 * time.Second)
	m.Info(context.Background(), "stale data")
	if len(n.sent) != 2 {
		t.Error("duplicate outside the window must go through")
	}
}

func TestManagerNeverSuppressesCorrelated(t *testing.T) {
	n := &recordingNotifier{name: "a", enabled: true}
	clk := &tickingClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	m := NewManager([]Notifier{n}, clk, zerolog.Nop())

	m.Send(context.Background(), "confirm SIRI?", "corr-1")
	m.Send(context.Background(), "confirm SIRI?", "corr-2")
	if len(n.sent) != 2 {
		t.Error("correlated prompts must never be deduplicated")
	}
}

func TestTelegramDisabledWithoutCredentials(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Enabled: true}, zerolog.Nop())
	if tg.Enabled() {
		t.Error("telegram without token/chat must report disabled")
	}
}

func TestTelegramReplyCorrelation(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Enabled: true, BotToken: "x", ChatID: "42"}, zerolog.Nop())
	tg.remember(7, "corr-abc")

	var got Reply
	tg.OnReply(func(r Reply) { got = r })

	u := tgUpdate{UpdateID: 1}
	u.Message = &struct {
		Text string `json:"text"`
		Date int64  `json:"date"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		ReplyToMessage *struct {
			MessageID int64 `json:"message_id"`
		} `json:"reply_to_message"`
	}{Text: "yes", Date: time.Now().Unix()}
	u.Message.Chat.ID = 42
	u.Message.ReplyToMessage = &struct {
		MessageID int64 `json:"message_id"`
	}{MessageID: 7}

	tg.dispatch(u)
	if got.CorrelationID != "corr-abc" || got.Text != "yes" {
		t.Errorf("reply should correlate: %+v", got)
	}
}

func TestTelegramIgnoresForeignChat(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Enabled: true, BotToken: "x", ChatID: "42"}, zerolog.Nop())
	called := false
	tg.OnReply(func(Reply) { called = true })

	u := tgUpdate{UpdateID: 1}
	u.Message = &struct {
		Text string `json:"text"`
		Date int64  `json:"date"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		ReplyToMessage *struct {
			MessageID int64 `json:"message_id"`
		} `json:"reply_to_message"`
	}{Text: "yes", Date: time.Now().Unix()}
	u.Message.Chat.ID = 99

	tg.dispatch(u)
	if called {
		t.Error("messages from other chats must be dropped")
	}
}
