// Package monitor babysits open positions: it refreshes quotes, ratchets the
// highest seen price, advances the trailing stop, and walks the exit ladder.
// Exactly one exit path fires per position per sweep, and a per-position
// in-flight lock makes double-sells impossible even if sweeps overlap.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/broker"
	"intraday-trading-bot/internal/cache"
	"intraday-trading-bot/internal/clock"
	"intraday-trading-bot/internal/journal"
	"intraday-trading-bot/internal/learning"
	"intraday-trading-bot/internal/marketdata"
	"intraday-trading-bot/internal/risk"
)

// Exit reasons, in ladder order. Target is checked first, the emergency
// brake last: it only fires when a gap blew through the stop.
const (
	ExitTarget    = "target"
	ExitTrailing  = "trailing_stop"
	ExitStop      = "stop"
	ExitTime      = "time"
	ExitEmergency = "emergency"
)

// Config tunes the monitor.
type Config struct {
	MaxHolding          time.Duration `json:"-"`
	MaxHoldingMinutes   int           `json:"max_holding_minutes"`
	EmergencyLossPct    float64       `json:"emergency_loss_percent"`
	TrailingArmR        float64       `json:"trailing_arm_r"`
	TrailingLockR       float64       `json:"trailing_lock_r"`
	SellRetries         int           `json:"sell_retries"`
	PredictionBatchSize int           `json:"prediction_batch_size"`
}

// DefaultConfig returns the standard monitor settings.
func DefaultConfig() Config {
	return Config{
		MaxHolding:          4 * time.Hour,
		EmergencyLossPct:    8.0,
		TrailingArmR:        1.5,
		TrailingLockR:       0.2,
		SellRetries:         3,
		PredictionBatchSize: 50,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MaxHoldingMinutes > 0 {
		c.MaxHolding = time.Duration(c.MaxHoldingMinutes) * time.Minute
	}
	if c.MaxHolding <= 0 {
		c.MaxHolding = d.MaxHolding
	}
	if c.EmergencyLossPct <= 0 {
		c.EmergencyLossPct = d.EmergencyLossPct
	}
	if c.TrailingArmR <= 0 {
		c.TrailingArmR = d.TrailingArmR
	}
	if c.TrailingLockR <= 0 {
		c.TrailingLockR = d.TrailingLockR
	}
	if c.SellRetries <= 0 {
		c.SellRetries = d.SellRetries
	}
	if c.PredictionBatchSize <= 0 {
		c.PredictionBatchSize = d.PredictionBatchSize
	}
}

// Store is the slice of the journal the monitor needs.
type Store interface {
	OpenPositions(ctx context.Context) ([]*journal.PositionRecord, error)
	UpdatePositionLevels(ctx context.Context, id int64, highestPrice float64, trailingStop *float64) error
	MarkPositionExiting(ctx context.Context, id int64, exitOrderID, exitReason string) error
	ClosePosition(ctx context.Context, id int64, exitPrice float64, exitReason string) error
	AppendOutcome(ctx context.Context, rec *journal.OutcomeRecord) error
	UpdateDecisionOutcome(ctx context.Context, decisionID string, outcomeID int64) error
	PredictionByDecision(ctx context.Context, decisionID string) (*journal.PredictionRecord, error)
	MarkPredictionEvaluated(ctx context.Context, id string, actualMovePercent, actualHours, accuracy float64) error
	PendingPredictions(ctx context.Context, before time.Time, limit int) ([]*journal.PredictionRecord, error)
	AppendHealth(ctx context.Context, component, status, detail string, data interface{}) error
}

// Seller is the slice of the brokerage the monitor needs.
type Seller interface {
	PlaceSell(ctx context.Context, symbol string, shares float64, idemKey string) (*broker.Order, error)
	Order(ctx context.Context, idemKey string) (*broker.Order, error)
}

// QuoteSource is the slice of market data the monitor needs.
type QuoteSource interface {
	Snapshot(ctx context.Context, symbol string) (*marketdata.Quote, error)
}

// Messenger announces exits to the operator.
type Messenger interface {
	Info(ctx context.Context, text string)
}

// Monitor sweeps open positions on every scheduler tick.
type Monitor struct {
	cfg    Config
	data   QuoteSource
	seller Seller
	ids    *broker.OrderIDGenerator
	store  Store
	msgr   Messenger
	guard  *risk.DailyGuard
	mirror *cache.CacheService
	clk    clock.Clock
	log    zerolog.Logger

	mu       sync.Mutex
	inFlight map[int64]bool
	lowSeen  map[int64]float64
}

// New creates a monitor.
func New(cfg Config, data QuoteSource, seller Seller, ids *broker.OrderIDGenerator, store Store,
	msgr Messenger, guard *risk.DailyGuard, mirror *cache.CacheService, clk clock.Clock, logger zerolog.Logger) *Monitor {
	cfg.normalize()
	return &Monitor{
		cfg:      cfg,
		data:     data,
		seller:   seller,
		ids:      ids,
		store:    store,
		msgr:     msgr,
		guard:    guard,
		mirror:   mirror,
		clk:      clk,
		log:      logger.With().Str("component", "monitor").Logger(),
		inFlight: make(map[int64]bool),
		lowSeen:  make(map[int64]float64),
	}
}

// Sweep runs one pass over every open position. A quote miss warns and
// skips the position rather than exiting blind.
func (m *Monitor) Sweep(ctx context.Context) error {
	positions, err := m.store.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open positions: %w", err)
	}

	for _, pos := range positions {
		if !m.claim(pos.ID) {
			continue
		}
		m.check(ctx, pos)
		m.release(pos.ID)
	}
	return nil
}

func (m *Monitor) claim(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[id] {
		return false
	}
	m.inFlight[id] = true
	return true
}

func (m *Monitor) release(id int64) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

func (m *Monitor) check(ctx context.Context, pos *journal.PositionRecord) {
	// A position marked exiting has a live sell order; reconcile it instead
	// of selling again.
	if pos.ExitOrderID != "" {
		m.reconcileExit(ctx, pos)
		return
	}

	quote, err := m.data.Snapshot(ctx, pos.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("quote unavailable, skipping position")
		return
	}
	price := quote.Price
	if price <= 0 {
		m.log.Warn().Str("symbol", pos.Symbol).Msg("non-positive quote, skipping position")
		return
	}

	m.trackLow(pos.ID, price)
	m.ratchet(ctx, pos, price)

	if reason := m.exitReason(pos, price); reason != "" {
		m.exit(ctx, pos, price, reason)
	}
}

func (m *Monitor) trackLow(id int64, price float64) {
	m.mu.Lock()
	if low, ok := m.lowSeen[id]; !ok || price < low {
		m.lowSeen[id] = price
	}
	m.mu.Unlock()
}

func (m *Monitor) lowestSeen(id int64, fallback float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if low, ok := m.lowSeen[id]; ok {
		return math.Min(low, fallback)
	}
	return fallback
}

func (m *Monitor) dropLow(id int64) {
	m.mu.Lock()
	delete(m.lowSeen, id)
	m.mu.Unlock()
}

// ratchet advances the highest seen price and the trailing stop. The
// trailing stop arms once the position has gained TrailingArmR times the
// initial risk; it then locks in TrailingLockR and follows new highs at a
// fixed R-distance. It never moves down.
func (m *Monitor) ratchet(ctx context.Context, pos *journal.PositionRecord, price float64) {
	if price <= pos.HighestPrice {
		return
	}
	pos.HighestPrice = price

	r := pos.EntryPrice - pos.StopPrice
	if r > 0 {
		gainR := (pos.HighestPrice - pos.EntryPrice) / r
		if gainR >= m.cfg.TrailingArmR {
			candidate := pos.EntryPrice + (gainR-(m.cfg.TrailingArmR-m.cfg.TrailingLockR))*r
			if pos.TrailingStop == nil || candidate > *pos.TrailingStop {
				pos.TrailingStop = &candidate
			}
		}
	}

	if err := m.store.UpdatePositionLevels(ctx, pos.ID, pos.HighestPrice, pos.TrailingStop); err != nil {
		m.log.Warn().Err(err).Int64("position", pos.ID).Msg("failed to persist position levels")
	}
}

// exitReason walks the exit ladder and names the first rung that fires.
func (m *Monitor) exitReason(pos *journal.PositionRecord, price float64) string {
	if price >= pos.TargetPrice {
		return ExitTarget
	}
	if pos.TrailingStop != nil && price <= *pos.TrailingStop {
		return ExitTrailing
	}
	if price <= pos.StopPrice {
		return ExitStop
	}
	if m.clk.Now().Sub(pos.OpenedAt) >= m.cfg.MaxHolding {
		return ExitTime
	}
	if pos.EntryPrice > 0 {
		lossPct := (price - pos.EntryPrice) / pos.EntryPrice * 100
		if lossPct <= -m.cfg.EmergencyLossPct {
			return ExitEmergency
		}
	}
	return ""
}

// exit sells the position and finalizes the outcome. The idempotency key is
// generated once and reused across retries, so a retried sell can never
// double-fill.
func (m *Monitor) exit(ctx context.Context, pos *journal.PositionRecord, price float64, reason string) {
	tag := broker.TagExit
	if reason == ExitEmergency {
		tag = broker.TagEmergency
	}
	idemKey, err := m.ids.Generate(ctx, tag)
	if err != nil {
		m.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to generate exit order id")
		return
	}
	if err := m.store.MarkPositionExiting(ctx, pos.ID, idemKey, reason); err != nil {
		m.log.Error().Err(err).Int64("position", pos.ID).Msg("failed to mark position exiting")
		return
	}

	var order *broker.Order
	for attempt := 1; attempt <= m.cfg.SellRetries; attempt++ {
		order, err = m.seller.PlaceSell(ctx, pos.Symbol, pos.Shares, idemKey)
		if err == nil {
			break
		}
		m.log.Warn().Err(err).Str("symbol", pos.Symbol).Int("attempt", attempt).Msg("sell failed")
		if !broker.IsRetryable(err) {
			break
		}
	}
	if err != nil {
		m.escalate(ctx, pos, reason, err)
		return
	}

	exitPrice := price
	if order != nil && order.IsFilled() && order.FilledAvgPrice > 0 {
		exitPrice = order.FilledAvgPrice
	}
	m.finalize(ctx, pos, exitPrice, reason)
}

// reconcileExit finishes an exit that was in flight when a sweep or the
// process was interrupted.
func (m *Monitor) reconcileExit(ctx context.Context, pos *journal.PositionRecord) {
	order, err := m.seller.Order(ctx, pos.ExitOrderID)
	if err != nil {
		m.log.Warn().Err(err).Str("order", pos.ExitOrderID).Msg("cannot reconcile exit order")
		return
	}
	if !order.IsFilled() {
		if order.IsTerminal() {
			m.escalate(ctx, pos, pos.ExitReason, fmt.Errorf("exit order ended %s without filling", order.Status))
		}
		return
	}
	exitPrice := order.FilledAvgPrice
	if exitPrice <= 0 {
		exitPrice = pos.EntryPrice
	}
	m.finalize(ctx, pos, exitPrice, pos.ExitReason)
}

// escalate surfaces a position the bot could not close.
func (m *Monitor) escalate(ctx context.Context, pos *journal.PositionRecord, reason string, cause error) {
	detail := fmt.Sprintf("could not close %s (%s) after %d attempts: %v",
		pos.Symbol, reason, m.cfg.SellRetries, cause)
	m.log.Error().Str("symbol", pos.Symbol).Int64("position", pos.ID).Msg(detail)
	if err := m.store.AppendHealth(ctx, "monitor", journal.HealthDegraded, detail, nil); err != nil {
		m.log.Warn().Err(err).Msg("failed to journal escalation")
	}
	m.msgr.Info(ctx, "MANUAL ACTION NEEDED: "+detail)
}

// finalize closes the books on an exited position.
func (m *Monitor) finalize(ctx context.Context, pos *journal.PositionRecord, exitPrice float64, reason string) {
	now := m.clk.Now()
	if err := m.store.ClosePosition(ctx, pos.ID, exitPrice, reason); err != nil {
		m.log.Error().Err(err).Int64("position", pos.ID).Msg("failed to close position record")
		return
	}

	realizedPct := 0.0
	if pos.EntryPrice > 0 {
		realizedPct = (exitPrice - pos.EntryPrice) / pos.EntryPrice * 100
	}
	holdingMinutes := now.Sub(pos.OpenedAt).Minutes()
	mfePct := (pos.HighestPrice - pos.EntryPrice) / pos.EntryPrice * 100
	low := m.lowestSeen(pos.ID, math.Min(exitPrice, pos.EntryPrice))
	maePct := (low - pos.EntryPrice) / pos.EntryPrice * 100

	outcome := &journal.OutcomeRecord{
		DecisionID:          pos.DecisionID,
		Symbol:              pos.Symbol,
		EntryPrice:          pos.EntryPrice,
		ExitPrice:           exitPrice,
		Shares:              pos.Shares,
		EnteredAt:           pos.OpenedAt,
		ExitedAt:            now,
		HoldingMinutes:      holdingMinutes,
		RealizedPnL:         (exitPrice - pos.EntryPrice) * pos.Shares,
		RealizedPercent:     realizedPct,
		ExitReason:          reason,
		MaxFavorablePercent: mfePct,
		MaxAdversePercent:   maePct,
		Success:             realizedPct > 0,
	}

	// Score the attached prediction against what actually happened.
	if pred, err := m.store.PredictionByDecision(ctx, pos.DecisionID); err == nil && !pred.Evaluated() {
		accuracy := learning.PredictionAccuracy(
			pred.ExpectedMovePercent, realizedPct, pred.ExpectedHours, holdingMinutes/60)
		outcome.PredictionID = pred.ID
		outcome.AccuracyScore = accuracy
		if err := m.store.MarkPredictionEvaluated(ctx, pred.ID, realizedPct, holdingMinutes/60, accuracy); err != nil {
			m.log.Warn().Err(err).Str("prediction", pred.ID).Msg("failed to mark prediction evaluated")
		}
	}

	// The position is already closed; losing the outcome here would starve
	// the learning engine of the sample. Retry the write, and if the journal
	// stays down record the full payload in system health for replay.
	if err := m.appendOutcomeWithRetry(ctx, outcome); err != nil {
		detail := fmt.Sprintf("outcome for closed position %s (decision %s) could not be journaled: %v",
			pos.Symbol, pos.DecisionID, err)
		m.log.Error().Str("symbol", pos.Symbol).Msg(detail)
		if herr := m.store.AppendHealth(ctx, "monitor", journal.HealthDegraded, detail, outcome); herr != nil {
			m.log.Error().Err(herr).Msg("failed to journal lost outcome payload")
		}
	} else if err := m.store.UpdateDecisionOutcome(ctx, pos.DecisionID, outcome.ID); err != nil {
		m.log.Warn().Err(err).Str("decision", pos.DecisionID).Msg("failed to link decision outcome")
	}

	m.guard.RecordRealized(realizedPct)
	m.dropLow(pos.ID)
	if m.mirror != nil {
		if err := m.mirror.DropPositionMirror(ctx, pos.Symbol); err != nil {
			m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("failed to drop position mirror")
		}
	}

	m.msgr.Info(ctx, fmt.Sprintf("Exited %s (%s): %.2f -> %.2f, %+.2f%% over %.0f min",
		pos.Symbol, reason, pos.EntryPrice, exitPrice, realizedPct, holdingMinutes))
	m.log.Info().Str("symbol", pos.Symbol).Str("reason", reason).
		Float64("realized_percent", realizedPct).Msg("position closed")
}

const outcomeWriteRetries = 3

func (m *Monitor) appendOutcomeWithRetry(ctx context.Context, outcome *journal.OutcomeRecord) error {
	var err error
	for attempt := 1; attempt <= outcomeWriteRetries; attempt++ {
		if err = m.store.AppendOutcome(ctx, outcome); err == nil {
			return nil
		}
		m.log.Warn().Err(err).Int("attempt", attempt).Msg("outcome write failed")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	return err
}

// EvaluatePredictions scores predictions whose horizon elapsed without an
// exit having evaluated them.
func (m *Monitor) EvaluatePredictions(ctx context.Context) error {
	now := m.clk.Now()
	pending, err := m.store.PendingPredictions(ctx, now, m.cfg.PredictionBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending predictions: %w", err)
	}

	for _, pred := range pending {
		quote, err := m.data.Snapshot(ctx, pred.Symbol)
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", pred.Symbol).Msg("cannot evaluate prediction without a quote")
			continue
		}
		if pred.ReferencePrice <= 0 {
			continue
		}
		actualMove := (quote.Price - pred.ReferencePrice) / pred.ReferencePrice * 100
		actualHours := now.Sub(pred.CreatedAt).Hours()
		accuracy := learning.PredictionAccuracy(pred.ExpectedMovePercent, actualMove, pred.ExpectedHours, actualHours)
		if err := m.store.MarkPredictionEvaluated(ctx, pred.ID, actualMove, actualHours, accuracy); err != nil {
			m.log.Warn().Err(err).Str("prediction", pred.ID).Msg("failed to mark prediction evaluated")
		}
	}
	return nil
}
