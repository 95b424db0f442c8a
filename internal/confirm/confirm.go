// Package confirm routes trade proposals through the configured execution
// mode. Auto mode executes immediately, interactive mode asks the operator
// and waits for a correlated reply within the timeout, notify-only mode
// announces the proposal and never trades. Every transition is journaled on
// the underlying decision and announced to the operator.
package confirm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/broker"
	"intraday-trading-bot/internal/cache"
	"intraday-trading-bot/internal/clock"
	"intraday-trading-bot/internal/journal"
	"intraday-trading-bot/internal/notify"
	"intraday-trading-bot/internal/recommend"
	"intraday-trading-bot/internal/risk"
)

// Mode selects how proposals are confirmed.
type Mode string

const (
	ModeAuto        Mode = "auto"
	ModeInteractive Mode = "interactive"
	ModeNotifyOnly  Mode = "notify_only"
)

// Proposal states. They match the decision journal statuses; pending and
// pending-fill are the two non-terminal ones.
const (
	StateExecuted    = journal.DecisionExecuted
	StateRejected    = journal.DecisionRejected
	StateExpired     = journal.DecisionExpired
	StatePending     = journal.DecisionProposed
	StatePendingFill = journal.DecisionPendingFill
)

// Default reply token sets. Matching is case-insensitive; single words match
// whole tokens of the reply, multi-word phrases match as substrings.
var (
	DefaultAffirmative = []string{
		"yes", "y", "buy", "go", "execute", "confirm", "ok", "okay", "proceed",
		"do it", "send it", "place order", "buy it", "sell it", "sell", "exit", "close",
	}
	DefaultNegative    = []string{"no", "n", "skip", "reject", "cancel", "stop", "pass"}
)

// Config tunes the confirmation flow.
type Config struct {
	Mode           Mode          `json:"mode"`
	Timeout        time.Duration `json:"-"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	Affirmative    []string      `json:"affirmative,omitempty"`
	Negative       []string      `json:"negative,omitempty"`
}

func (c *Config) normalize() {
	if c.Mode == "" {
		c.Mode = ModeInteractive
	}
	if c.TimeoutSeconds > 0 {
		c.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if len(c.Affirmative) == 0 {
		c.Affirmative = DefaultAffirmative
	}
	if len(c.Negative) == 0 {
		c.Negative = DefaultNegative
	}
}

// Store is the slice of the journal the confirmer needs.
type Store interface {
	UpdateDecisionStatus(ctx context.Context, id, status string) error
	OpenPosition(ctx context.Context, rec *journal.PositionRecord) error
}

// Broker is the slice of the brokerage the confirmer needs.
type Broker interface {
	PlaceBuy(ctx context.Context, symbol string, shares float64, limitPrice float64, idemKey string) (*broker.Order, error)
	Order(ctx context.Context, idemKey string) (*broker.Order, error)
}

// Messenger is the slice of the notification layer the confirmer needs.
type Messenger interface {
	Send(ctx context.Context, text, correlationID string)
	Info(ctx context.Context, text string)
	OnReply(notify.ReplyHandler)
}

// Outcome is the resolution of one proposal.
type Outcome struct {
	DecisionID string
	Symbol     string
	State      string
	Detail     string
}

type proposal struct {
	rec      *recommend.Recommendation
	deadline time.Time
}

// pendingFill is an entry order placed but not yet confirmed filled. No
// position exists for it until the broker reports the fill.
type pendingFill struct {
	rec     *recommend.Recommendation
	idemKey string
	limit   float64
}

// Fill polling. Marketable day-limit entries normally fill within a poll or
// two; an order still working after the budget moves to the pending-fill
// watch and is reconciled on sweep ticks.
const (
	fillPollInterval = 500 * time.Millisecond
	fillPollBudget   = 10
)

// Confirmer is the proposal state machine.
type Confirmer struct {
	cfg    Config
	broker Broker
	ids    *broker.OrderIDGenerator
	store  Store
	msgr   Messenger
	guard  *risk.DailyGuard
	mirror *cache.CacheService
	clk    clock.Clock
	log    zerolog.Logger

	pollInterval time.Duration
	pollBudget   int

	mu      sync.Mutex
	pending map[string]*proposal
	fills   map[string]*pendingFill
}

// New creates a confirmer and registers it for operator replies.
func New(cfg Config, brk Broker, ids *broker.OrderIDGenerator, store Store, msgr Messenger,
	guard *risk.DailyGuard, mirror *cache.CacheService, clk clock.Clock, logger zerolog.Logger) *Confirmer {
	cfg.normalize()
	c := &Confirmer{
		cfg:          cfg,
		broker:       brk,
		ids:          ids,
		store:        store,
		msgr:         msgr,
		guard:        guard,
		mirror:       mirror,
		clk:          clk,
		log:          logger.With().Str("component", "confirm").Logger(),
		pollInterval: fillPollInterval,
		pollBudget:   fillPollBudget,
		pending:      make(map[string]*proposal),
		fills:        make(map[string]*pendingFill),
	}
	msgr.OnReply(c.handleReply)
	return c
}

// Pending reports how many proposals await a reply or expiry.
func (c *Confirmer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingFills reports how many placed entry orders await a fill.
func (c *Confirmer) PendingFills() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fills)
}

// Propose routes one recommendation through the configured mode. In auto
// mode the returned outcome is terminal; in interactive and notify-only
// modes it is pending until a reply or a sweep resolves it.
func (c *Confirmer) Propose(ctx context.Context, rec *recommend.Recommendation) (*Outcome, error) {
	if rec == nil || rec.Refused {
		return nil, fmt.Errorf("only accepted recommendations can be proposed")
	}

	switch c.cfg.Mode {
	case ModeAuto:
		return c.execute(ctx, rec)

	case ModeNotifyOnly:
		c.msgr.Info(ctx, fmt.Sprintf("[notify-only] %s", rec.Summary))
		c.register(rec, rec.ValidUntil)
		return &Outcome{DecisionID: rec.DecisionID, Symbol: rec.Symbol, State: StatePending,
			Detail: "notify-only, expires with proposal validity"}, nil

	default: // interactive
		deadline := c.clk.Now().Add(c.cfg.Timeout)
		prompt := fmt.Sprintf("%s\nReply yes/no within %s.", rec.Summary, c.cfg.Timeout)
		c.msgr.Send(ctx, prompt, rec.DecisionID)
		c.register(rec, deadline)
		return &Outcome{DecisionID: rec.DecisionID, Symbol: rec.Symbol, State: StatePending,
			Detail: fmt.Sprintf("awaiting reply until %s", deadline.Format(time.RFC3339))}, nil
	}
}

func (c *Confirmer) register(rec *recommend.Recommendation, deadline time.Time) {
	c.mu.Lock()
	c.pending[rec.DecisionID] = &proposal{rec: rec, deadline: deadline}
	c.mu.Unlock()
}

// Sweep expires proposals whose deadline has passed and reconciles entry
// orders still waiting on a fill. The scheduler calls it on every monitor
// tick.
func (c *Confirmer) Sweep(ctx context.Context, now time.Time) {
	c.mu.Lock()
	var expired []*proposal
	for id, p := range c.pending {
		if !now.Before(p.deadline) {
			expired = append(expired, p)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, p := range expired {
		c.transition(ctx, p.rec, StateExpired, "no reply before the deadline")
	}

	c.reconcileFills(ctx, now)
}

// reconcileFills polls the broker for each watched entry order. A fill opens
// the position at the reported price; a terminal order, or one still working
// past the proposal's validity, rejects the decision. Nothing is ever
// journaled as filled on an assumption.
func (c *Confirmer) reconcileFills(ctx context.Context, now time.Time) {
	c.mu.Lock()
	watched := make([]*pendingFill, 0, len(c.fills))
	for _, f := range c.fills {
		watched = append(watched, f)
	}
	c.mu.Unlock()

	for _, f := range watched {
		order, err := c.broker.Order(ctx, f.idemKey)
		if err != nil {
			c.log.Warn().Err(err).Str("idem_key", f.idemKey).Msg("fill reconcile poll failed")
			continue
		}
		switch {
		case order.IsFilled():
			price := order.FilledAvgPrice
			if price <= 0 {
				price = f.limit
			}
			c.unwatchFill(f.idemKey)
			if _, err := c.finalizeFill(ctx, f.rec, f.idemKey, price); err != nil {
				c.log.Error().Err(err).Str("decision_id", f.rec.DecisionID).Msg("reconciled fill failed to finalize")
			}
		case order.IsTerminal():
			c.unwatchFill(f.idemKey)
			c.transition(ctx, f.rec, StateRejected,
				fmt.Sprintf("entry order %s %s without filling", f.idemKey, order.Status))
		case now.After(f.rec.ValidUntil):
			c.unwatchFill(f.idemKey)
			c.transition(ctx, f.rec, StateRejected,
				fmt.Sprintf("entry order %s unfilled past proposal validity", f.idemKey))
		}
	}
}

func (c *Confirmer) watchFill(rec *recommend.Recommendation, idemKey string, limit float64) {
	c.mu.Lock()
	c.fills[idemKey] = &pendingFill{rec: rec, idemKey: idemKey, limit: limit}
	c.mu.Unlock()
}

func (c *Confirmer) unwatchFill(idemKey string) {
	c.mu.Lock()
	delete(c.fills, idemKey)
	c.mu.Unlock()
}

// handleReply resolves a pending proposal from an operator reply. Replies
// without a correlation id apply only when exactly one proposal is pending;
// anything else is dropped with a warning.
func (c *Confirmer) handleReply(rep notify.Reply) {
	c.mu.Lock()
	var p *proposal
	switch {
	case rep.CorrelationID != "":
		p = c.pending[rep.CorrelationID]
	case len(c.pending) == 1:
		for _, only := range c.pending {
			p = only
		}
	}
	if p == nil {
		c.mu.Unlock()
		c.log.Warn().Str("correlation_id", rep.CorrelationID).Str("text", rep.Text).
			Msg("reply matches no pending proposal, dropped")
		return
	}
	if !rep.ReceivedAt.IsZero() && rep.ReceivedAt.After(p.deadline) {
		c.mu.Unlock()
		c.log.Warn().Str("decision_id", p.rec.DecisionID).
			Msg("reply arrived after the deadline, dropped")
		return
	}
	delete(c.pending, p.rec.DecisionID)
	mode := c.cfg.Mode
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if mode == ModeNotifyOnly {
		c.log.Warn().Str("decision_id", p.rec.DecisionID).
			Msg("reply received in notify-only mode, not executing")
		c.transition(ctx, p.rec, StateExpired, "notify-only mode, reply ignored")
		return
	}

	switch classifyReply(rep.Text, c.cfg.Affirmative, c.cfg.Negative) {
	case replyYes:
		if _, err := c.execute(ctx, p.rec); err != nil {
			c.log.Error().Err(err).Str("decision_id", p.rec.DecisionID).Msg("confirmed execution failed")
		}
	case replyNo:
		c.transition(ctx, p.rec, StateRejected, "operator declined")
	default:
		// An unclassifiable reply keeps the proposal pending until timeout.
		c.log.Warn().Str("text", rep.Text).Msg("ambiguous reply, proposal stays pending")
		c.register(p.rec, p.deadline)
	}
}

type replyClass int

const (
	replyUnknown replyClass = iota
	replyYes
	replyNo
)

func classifyReply(text string, affirmative, negative []string) replyClass {
	lowered := strings.ToLower(strings.TrimSpace(text))
	tokens := strings.Fields(lowered)

	matches := func(set []string) bool {
		for _, phrase := range set {
			if strings.Contains(phrase, " ") {
				if strings.Contains(lowered, phrase) {
					return true
				}
				continue
			}
			for _, tok := range tokens {
				if strings.Trim(tok, ".,!?") == phrase {
					return true
				}
			}
		}
		return false
	}

	// Negative wins a mixed reply: "no, don't buy" must never execute.
	if matches(negative) {
		return replyNo
	}
	if matches(affirmative) {
		return replyYes
	}
	return replyUnknown
}

// execute places the entry order. A confirmed fill opens the position; an
// order that dies unfilled rejects the decision; an order still working
// after the poll budget moves to the pending-fill watch.
func (c *Confirmer) execute(ctx context.Context, rec *recommend.Recommendation) (*Outcome, error) {
	idemKey, err := c.ids.Generate(ctx, broker.TagEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate order id: %w", err)
	}

	order, err := c.broker.PlaceBuy(ctx, rec.Symbol, rec.Shares, rec.Levels.Entry, idemKey)
	if err != nil {
		detail := fmt.Sprintf("entry order failed: %v", err)
		c.transition(ctx, rec, StateRejected, detail)
		return &Outcome{DecisionID: rec.DecisionID, Symbol: rec.Symbol, State: StateRejected, Detail: detail}, nil
	}

	entryPrice, state := c.awaitFill(ctx, order, idemKey, rec.Levels.Entry)
	switch state {
	case fillFailed:
		detail := fmt.Sprintf("entry order %s ended without filling", idemKey)
		c.transition(ctx, rec, StateRejected, detail)
		return &Outcome{DecisionID: rec.DecisionID, Symbol: rec.Symbol, State: StateRejected, Detail: detail}, nil

	case fillWorking:
		c.watchFill(rec, idemKey, rec.Levels.Entry)
		if err := c.store.UpdateDecisionStatus(ctx, rec.DecisionID, StatePendingFill); err != nil {
			c.log.Error().Err(err).Str("decision_id", rec.DecisionID).Msg("failed to journal pending fill")
		}
		detail := fmt.Sprintf("entry order %s placed, fill not yet confirmed", idemKey)
		c.msgr.Info(ctx, fmt.Sprintf("%s order working: %s", rec.Symbol, detail))
		c.log.Info().Str("symbol", rec.Symbol).Str("idem_key", idemKey).Msg("entry watching for fill")
		return &Outcome{DecisionID: rec.DecisionID, Symbol: rec.Symbol, State: StatePendingFill, Detail: detail}, nil
	}

	return c.finalizeFill(ctx, rec, idemKey, entryPrice)
}

// finalizeFill journals the opened position and marks the decision executed.
func (c *Confirmer) finalizeFill(ctx context.Context, rec *recommend.Recommendation, idemKey string, entryPrice float64) (*Outcome, error) {
	now := c.clk.Now()
	pos := &journal.PositionRecord{
		Symbol:       rec.Symbol,
		DecisionID:   rec.DecisionID,
		Shares:       rec.Shares,
		EntryPrice:   entryPrice,
		StopPrice:    rec.Levels.Stop,
		TargetPrice:  rec.Levels.Target,
		HighestPrice: entryPrice,
		EntryOrderID: idemKey,
		OpenedAt:     now,
	}
	if err := c.store.OpenPosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("failed to journal position: %w", err)
	}
	if err := c.store.UpdateDecisionStatus(ctx, rec.DecisionID, journal.DecisionExecuted); err != nil {
		return nil, fmt.Errorf("failed to mark decision executed: %w", err)
	}

	c.guard.RecordEntry()
	if c.mirror != nil {
		if err := c.mirror.MirrorPosition(ctx, rec.Symbol, pos); err != nil {
			c.log.Warn().Err(err).Str("symbol", rec.Symbol).Msg("position mirror update failed")
		}
	}

	c.msgr.Info(ctx, fmt.Sprintf("Entered %s: %.0f shares at %.2f, stop %.2f, target %.2f",
		rec.Symbol, rec.Shares, entryPrice, rec.Levels.Stop, rec.Levels.Target))
	c.log.Info().Str("symbol", rec.Symbol).Str("decision_id", rec.DecisionID).
		Float64("shares", rec.Shares).Float64("entry", entryPrice).Msg("position opened")

	return &Outcome{DecisionID: rec.DecisionID, Symbol: rec.Symbol, State: StateExecuted,
		Detail: fmt.Sprintf("filled %.0f shares at %.2f", rec.Shares, entryPrice)}, nil
}

type fillState int

const (
	fillFilled fillState = iota
	fillFailed
	fillWorking
)

// awaitFill polls briefly for the fill price. An order that goes terminal
// without filling reports failure; an order still working when the budget
// or the context runs out reports fillWorking so the caller can watch it.
func (c *Confirmer) awaitFill(ctx context.Context, order *broker.Order, idemKey string, limit float64) (float64, fillState) {
	for i := 0; i < c.pollBudget; i++ {
		if order != nil && order.IsFilled() {
			if order.FilledAvgPrice > 0 {
				return order.FilledAvgPrice, fillFilled
			}
			return limit, fillFilled
		}
		if order != nil && order.IsTerminal() {
			return 0, fillFailed
		}
		select {
		case <-ctx.Done():
			return 0, fillWorking
		case <-time.After(c.pollInterval):
		}
		refreshed, err := c.broker.Order(ctx, idemKey)
		if err != nil {
			c.log.Warn().Err(err).Msg("fill poll failed")
			continue
		}
		order = refreshed
	}
	c.log.Warn().Str("idem_key", idemKey).Msg("entry fill not confirmed within poll budget")
	return 0, fillWorking
}

// transition journals a terminal state and announces it.
func (c *Confirmer) transition(ctx context.Context, rec *recommend.Recommendation, state, detail string) {
	if err := c.store.UpdateDecisionStatus(ctx, rec.DecisionID, state); err != nil {
		c.log.Error().Err(err).Str("decision_id", rec.DecisionID).Str("state", state).
			Msg("failed to journal decision transition")
	}
	c.msgr.Info(ctx, fmt.Sprintf("%s proposal %s: %s", rec.Symbol, state, detail))
	c.log.Info().Str("symbol", rec.Symbol).Str("decision_id", rec.DecisionID).
		Str("state", state).Str("detail", detail).Msg("proposal resolved")
}
