// Package risk holds the session-level trading brakes: the daily trade
// cap and the daily loss brake. The guard only ever blocks new entries;
// exits always pass so a tripped brake can never trap an open position.
package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Refusal reasons the guard hands the recommender.
const (
	ReasonDailyLimit     = "daily_limit"
	ReasonDailyLossBrake = "daily_loss_brake"
	ReasonPaused         = "paused"
)

// Config sets the rails for one trading day.
type Config struct {
	MaxDailyTrades      int     `json:"max_daily_trades"`
	MaxDailyLossPercent float64 `json:"max_daily_loss_percent"`
}

func (c *Config) normalize() {
	if c.MaxDailyTrades <= 0 {
		c.MaxDailyTrades = 10
	}
	if c.MaxDailyLossPercent <= 0 {
		c.MaxDailyLossPercent = 0.15
	}
}

// DailyGuard tracks the day's trade count and realized P&L under one
// mutex. Counters reset only at rollover, never implicitly.
type DailyGuard struct {
	cfg Config
	log zerolog.Logger

	mu             sync.Mutex
	tradeCount     int
	realizedPnLPct float64
	braked         bool
	paused         bool
	sessionDate    string
}

// NewDailyGuard creates a guard with zeroed counters.
func NewDailyGuard(cfg Config, logger zerolog.Logger) *DailyGuard {
	cfg.normalize()
	return &DailyGuard{
		cfg: cfg,
		log: logger.With().Str("component", "risk").Logger(),
	}
}

// AllowEntry reports whether a new entry may be attempted, with the
// refusal reason when it may not.
func (g *DailyGuard) AllowEntry() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case g.paused:
		return false, ReasonPaused
	case g.braked:
		return false, ReasonDailyLossBrake
	case g.tradeCount >= g.cfg.MaxDailyTrades:
		return false, ReasonDailyLimit
	}
	return true, ""
}

// RecordEntry counts one executed entry.
func (g *DailyGuard) RecordEntry() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tradeCount++
}

// RecordRealized folds one closed trade's realized percent into the day
// and trips the loss brake when the cumulative loss crosses the rail.
// The brake trips once; logging happens on the transition only.
func (g *DailyGuard) RecordRealized(realizedPercent float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.realizedPnLPct += realizedPercent
	if !g.braked && g.realizedPnLPct <= -g.cfg.MaxDailyLossPercent*100 {
		g.braked = true
		g.log.Warn().
			Float64("realized_pct", g.realizedPnLPct).
			Float64("brake_pct", -g.cfg.MaxDailyLossPercent*100).
			Msg("daily loss brake tripped, entries halted until rollover")
	}
}

// Pause halts new entries until Resume or rollover.
func (g *DailyGuard) Pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
	g.log.Info().Msg("trading paused")
}

// Resume lifts a pause. It does not lift a tripped loss brake.
func (g *DailyGuard) Resume() {
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
	g.log.Info().Msg("trading resumed")
}

// Rollover resets the day's counters for a new session date and returns
// the finished day's summary.
func (g *DailyGuard) Rollover(sessionDate string, at time.Time) Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	summary := Summary{
		SessionDate:    g.sessionDate,
		TradeCount:     g.tradeCount,
		RealizedPnLPct: g.realizedPnLPct,
		Braked:         g.braked,
		ClosedAt:       at,
	}

	g.sessionDate = sessionDate
	g.tradeCount = 0
	g.realizedPnLPct = 0
	g.braked = false

	g.log.Info().
		Str("closed_session", summary.SessionDate).
		Int("trades", summary.TradeCount).
		Float64("realized_pct", summary.RealizedPnLPct).
		Bool("braked", summary.Braked).
		Msg("daily rollover")
	return summary
}

// Summary is one finished trading day.
type Summary struct {
	SessionDate    string    `json:"session_date"`
	TradeCount     int       `json:"trade_count"`
	RealizedPnLPct float64   `json:"realized_pnl_pct"`
	Braked         bool      `json:"braked"`
	ClosedAt       time.Time `json:"closed_at"`
}

// Snapshot is the guard's current state for the status API.
type Snapshot struct {
	SessionDate    string  `json:"session_date"`
	TradeCount     int     `json:"trade_count"`
	MaxDailyTrades int     `json:"max_daily_trades"`
	RealizedPnLPct float64 `json:"realized_pnl_pct"`
	Braked         bool    `json:"braked"`
	Paused         bool    `json:"paused"`
}

// State returns a copy of the current counters.
func (g *DailyGuard) State() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		SessionDate:    g.sessionDate,
		TradeCount:     g.tradeCount,
		MaxDailyTrades: g.cfg.MaxDailyTrades,
		RealizedPnLPct: g.realizedPnLPct,
		Braked:         g.braked,
		Paused:         g.paused,
	}
}
