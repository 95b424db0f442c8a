package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// Telegram sends messages through the Bot API and long-polls getUpdates
// for operator replies. Replies sent with Telegram's reply-to on one of
// our messages are correlated back to that message's correlation id;
// free-standing replies are delivered uncorrelated.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
	log    zerolog.Logger

	mu           sync.Mutex
	correlations map[int64]correlationEntry // telegram message id -> correlation
	handler      ReplyHandler
	offset       int64
}

type correlationEntry struct {
	id      string
	created time.Time
}

// Correlations older than this are dropped; a reply to an hours-old
// prompt has nothing left to confirm.
const correlationTTL = 2 * time.Hour

// NewTelegram creates the Telegram channel.
func NewTelegram(cfg TelegramConfig, logger zerolog.Logger) *Telegram {
	return &Telegram{
		cfg:          cfg,
		client:       &http.Client{Timeout: 35 * time.Second},
		log:          logger.With().Str("component", "telegram").Logger(),
		correlations: make(map[int64]correlationEntry),
	}
}

// Name implements Notifier.
func (t *Telegram) Name() string { return "telegram" }

// Enabled implements Notifier.
func (t *Telegram) Enabled() bool {
	return t.cfg.Enabled && t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

// Send implements Notifier.
func (t *Telegram) Send(ctx context.Context, text, correlationID string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.cfg.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return "", fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("telegram status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode telegram response: %w", err)
	}

	if correlationID != "" {
		t.remember(result.Result.MessageID, correlationID)
	}
	return strconv.FormatInt(result.Result.MessageID, 10), nil
}

// OnReply implements ReplySource.
func (t *Telegram) OnReply(h ReplyHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Listen implements ReplySource: a getUpdates long-poll loop.
func (t *Telegram) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := t.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Warn().Err(err).Msg("getUpdates failed, backing off")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, u := range updates {
			t.dispatch(u)
		}
	}
}

type tgUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Date int64  `json:"date"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		ReplyToMessage *struct {
			MessageID int64 `json:"message_id"`
		} `json:"reply_to_message"`
	} `json:"message"`
}

func (t *Telegram) getUpdates(ctx context.Context) ([]tgUpdate, error) {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/getUpdates?timeout=30&offset=%d",
		t.cfg.BotToken, t.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		Result []tgUpdate `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}

	for _, u := range result.Result {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
	}
	return result.Result, nil
}

func (t *Telegram) dispatch(u tgUpdate) {
	if u.Message == nil || u.Message.Text == "" {
		return
	}
	if strconv.FormatInt(u.Message.Chat.ID, 10) != t.cfg.ChatID {
		return
	}

	t.mu.Lock()
	handler := t.handler
	correlation := ""
	if u.Message.ReplyToMessage != nil {
		if entry, ok := t.correlations[u.Message.ReplyToMessage.MessageID]; ok {
			correlation = entry.id
		}
	}
	t.mu.Unlock()

	if handler == nil {
		return
	}
	handler(Reply{
		CorrelationID: correlation,
		Text:          u.Message.Text,
		ReceivedAt:    time.Unix(u.Message.Date, 0),
	})
}

func (t *Telegram) remember(messageID int64, correlationID string) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.correlations[messageID] = correlationEntry{id: correlationID, created: now}
	for id, entry := range t.correlations {
		if now.Sub(entry.created) > correlationTTL {
			delete(t.correlations, id)
		}
	}
}
