// Package recommend turns a watchlist candidate into a fully reasoned trade
// proposal or an explicit refusal. Every evaluation is journaled with its
// ordered reasoning steps and the raw feature snapshot, so the learning
// cycle can replay it under candidate weights and an operator can audit why
// a trade was or was not taken.
//
// The evaluation is deterministic: the same feature snapshot under the same
// weight set always produces the same decision.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/broker"
	"intraday-trading-bot/internal/clock"
	"intraday-trading-bot/internal/indicators"
	"intraday-trading-bot/internal/journal"
	"intraday-trading-bot/internal/learning"
	"intraday-trading-bot/internal/marketdata"
	"intraday-trading-bot/internal/risk"
	"intraday-trading-bot/internal/screener"
	"intraday-trading-bot/internal/sentiment"
)

// Actions a decision can carry.
const (
	ActionBuy  = "buy"
	ActionSkip = "skip"
)

// Refusal reasons stamped on skipped decisions. The risk package owns the
// daily-guard reasons (daily_limit, daily_loss_brake, paused).
const (
	ReasonBelowConfidence    = "below_confidence_threshold"
	ReasonLevelsInfeasible   = "levels_infeasible"
	ReasonRiskStackTooDeep   = "risk_stack_too_deep"
	ReasonMaxPositions       = "max_positions"
	ReasonAlreadyHeld        = "already_held"
	ReasonInvariantViolation = "invariant_violation"
)

// Config tunes the recommender.
type Config struct {
	BarInterval          marketdata.Interval `json:"bar_interval"`
	BarLimit             int                 `json:"bar_limit"`
	ReferenceBarLimit    int                 `json:"reference_bar_limit"`
	MaxOpenPositions     int                 `json:"max_open_positions"`
	BasePositionFraction float64             `json:"base_position_fraction"`
	Validity             time.Duration       `json:"-"`
	ValidityMinutes      int                 `json:"validity_minutes"`
	MaxRiskFactors       int                 `json:"max_risk_factors"`
	SizingLookback       int                 `json:"sizing_lookback"`
}

// DefaultConfig returns the standard recommender settings.
func DefaultConfig() Config {
	return Config{
		BarInterval:          marketdata.Interval5Min,
		BarLimit:             120,
		ReferenceBarLimit:    60,
		MaxOpenPositions:     3,
		BasePositionFraction: 0.10,
		Validity:             30 * time.Minute,
		MaxRiskFactors:       3,
		SizingLookback:       30,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.BarInterval == "" {
		c.BarInterval = d.BarInterval
	}
	if c.BarLimit <= 0 {
		c.BarLimit = d.BarLimit
	}
	if c.ReferenceBarLimit <= 0 {
		c.ReferenceBarLimit = d.ReferenceBarLimit
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = d.MaxOpenPositions
	}
	if c.BasePositionFraction <= 0 {
		c.BasePositionFraction = d.BasePositionFraction
	}
	if c.ValidityMinutes > 0 {
		c.Validity = time.Duration(c.ValidityMinutes) * time.Minute
	}
	if c.Validity <= 0 {
		c.Validity = d.Validity
	}
	if c.MaxRiskFactors <= 0 {
		c.MaxRiskFactors = d.MaxRiskFactors
	}
	if c.SizingLookback <= 0 {
		c.SizingLookback = d.SizingLookback
	}
}

// Store is the slice of the journal the recommender needs.
type Store interface {
	AppendDecision(ctx context.Context, rec *journal.DecisionRecord) error
	AppendPrediction(ctx context.Context, rec *journal.PredictionRecord) error
	OpenPositions(ctx context.Context) ([]*journal.PositionRecord, error)
	RecentOutcomes(ctx context.Context, limit int) ([]*journal.OutcomeRecord, error)
}

// SentimentSource provides the composite sentiment reading.
type SentimentSource interface {
	Snapshot(ctx context.Context, symbol string) sentiment.Snapshot
}

// AccountSource is the slice of the broker the recommender needs.
type AccountSource interface {
	Account(ctx context.Context) (*broker.Account, error)
}

// Recommendation is the outcome of one evaluation. For refusals only the
// decision linkage, confidence and refusal reason are populated.
type Recommendation struct {
	DecisionID    string
	Symbol        string
	Action        string
	Confidence    float64
	Levels        Levels
	Shares        float64
	Fraction      float64
	KeyFactors    []string
	RiskFactors   []string
	Summary       string
	ValidUntil    time.Time
	Prediction    *journal.PredictionRecord
	Breakdown     *learning.ScoreBreakdown
	Refused       bool
	RefusalReason string
}

// Recommender evaluates watchlist candidates.
type Recommender struct {
	cfg       Config
	data      marketdata.DataClient
	engine    *indicators.Engine
	sentiment SentimentSource
	holder    *learning.Holder
	guard     *risk.DailyGuard
	accounts  AccountSource
	store     Store
	clk       clock.Clock
	log       zerolog.Logger
}

// New creates a recommender.
func New(cfg Config, data marketdata.DataClient, engine *indicators.Engine, sent SentimentSource,
	holder *learning.Holder, guard *risk.DailyGuard, accounts AccountSource, store Store,
	clk clock.Clock, logger zerolog.Logger) *Recommender {
	cfg.normalize()
	return &Recommender{
		cfg:       cfg,
		data:      data,
		engine:    engine,
		sentiment: sent,
		holder:    holder,
		guard:     guard,
		accounts:  accounts,
		store:     store,
		clk:       clk,
		log:       logger.With().Str("component", "recommender").Logger(),
	}
}

// Evaluate scores one candidate end to end. A returned error means the
// evaluation itself could not run (data or journal failure); a refusal is
// a successful evaluation with Refused set.
func (r *Recommender) Evaluate(ctx context.Context, cand screener.Entry) (*Recommendation, error) {
	now := r.clk.Now()
	b := NewBuilder(cand.Symbol, now)

	if ok, reason := r.guard.AllowEntry(); !ok {
		return r.refuse(ctx, b, cand.Symbol, nil, nil, 0, reason,
			fmt.Sprintf("daily guard refused entry: %s", reason))
	}

	positions, err := r.store.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	for _, p := range positions {
		if p.Symbol == cand.Symbol {
			return r.refuse(ctx, b, cand.Symbol, nil, nil, 0, ReasonAlreadyHeld,
				fmt.Sprintf("%s already has an open position", cand.Symbol))
		}
	}
	if len(positions) >= r.cfg.MaxOpenPositions {
		return r.refuse(ctx, b, cand.Symbol, nil, nil, 0, ReasonMaxPositions,
			fmt.Sprintf("%d positions open, limit %d", len(positions), r.cfg.MaxOpenPositions))
	}

	quote, err := r.data.Snapshot(ctx, cand.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", cand.Symbol, err)
	}
	bars, err := r.data.Bars(ctx, cand.Symbol, r.cfg.BarInterval, r.cfg.BarLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load bars for %s: %w", cand.Symbol, err)
	}

	sectorBars := r.referenceBars(ctx, indicators.SectorReferenceSymbol(cand.Sector), b)
	marketBars := r.referenceBars(ctx, indicators.MarketReferenceSymbol, b)

	weights := r.holder.Current()
	eval, err := r.engine.Evaluate(indicators.Input{
		Symbol:      cand.Symbol,
		Price:       quote.Price,
		Bars:        bars,
		SectorBars:  sectorBars,
		MarketBars:  marketBars,
		VolumeSpike: weights.VolumeSpike,
		AsOf:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate indicators for %s: %w", cand.Symbol, err)
	}

	snap := eval.Snapshot
	sent := r.sentiment.Snapshot(ctx, cand.Symbol)
	snap.SentimentScore = sent.Score
	snap.SentimentConfidence = sent.Confidence
	snap.Context = contextAlignment(marketBars)

	bd := learning.Score(snap, weights)
	r.recordSteps(b, bd, &sent)

	if err := b.VerifyBreakdown(bd); err != nil {
		var inv *InvariantError
		if errors.As(err, &inv) {
			r.log.Error().Str("symbol", cand.Symbol).Str("check", inv.Check).
				Str("detail", inv.Detail).Msg("evaluation invariant violated, skipping candidate")
			if _, jerr := r.refuse(ctx, b, cand.Symbol, snap, bd, bd.Final, ReasonInvariantViolation, inv.Detail); jerr != nil {
				return nil, jerr
			}
		}
		return nil, err
	}

	r.collectFactors(b, eval, &sent, quote, cand)
	if len(b.RiskFactors()) > r.cfg.MaxRiskFactors {
		return r.refuse(ctx, b, cand.Symbol, snap, bd, bd.Final, ReasonRiskStackTooDeep,
			fmt.Sprintf("%d risk factors against the trade: %s",
				len(b.RiskFactors()), strings.Join(b.RiskFactors(), "; ")))
	}

	if bd.Final < weights.MinConfidence {
		return r.refuse(ctx, b, cand.Symbol, snap, bd, bd.Final, ReasonBelowConfidence,
			fmt.Sprintf("confidence %.2f below threshold %.2f", bd.Final, weights.MinConfidence))
	}

	levels, err := ComputeLevels(quote.Price, bd.Final, weights.RiskRewardMin)
	if err != nil {
		return r.refuse(ctx, b, cand.Symbol, snap, bd, bd.Final, ReasonLevelsInfeasible, err.Error())
	}

	account, err := r.accounts.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	outcomes, err := r.store.RecentOutcomes(ctx, r.cfg.SizingLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent outcomes: %w", err)
	}
	perf := learning.SizingMultiplier(learning.ComputeStats(outcomes))

	fraction := PositionFraction(r.cfg.BasePositionFraction, bd.Final, quote.Price, perf)
	shares := ShareCount(account.Equity, fraction, quote.Price)
	if shares < 1 {
		return r.refuse(ctx, b, cand.Symbol, snap, bd, bd.Final, ReasonLevelsInfeasible,
			fmt.Sprintf("equity %.2f cannot fund one share at %.2f", account.Equity, quote.Price))
	}

	validUntil := now.Add(r.cfg.Validity)
	summary := fmt.Sprintf("buy %s: confidence %.1f, entry %.2f stop %.2f target %.2f (%.1fR)",
		cand.Symbol, bd.Final, levels.Entry, levels.Stop, levels.Target, levels.RiskReward)

	sizing := &Sizing{
		Equity:           account.Equity,
		PositionFraction: fraction,
		Shares:           shares,
		Notional:         shares * levels.Entry,
	}
	payload, err := b.Finalize(ActionBuy, summary, bd, &levels, sizing, &validUntil)
	if err != nil {
		return nil, err
	}

	features, err := snap.Encode()
	if err != nil {
		return nil, err
	}
	dec := &journal.DecisionRecord{
		Symbol:         cand.Symbol,
		Action:         ActionBuy,
		Status:         journal.DecisionProposed,
		Confidence:     bd.Final,
		Summary:        summary,
		WeightsVersion: weights.Version,
		Features:       features,
		Payload:        payload,
	}
	if err := r.store.AppendDecision(ctx, dec); err != nil {
		return nil, fmt.Errorf("failed to journal decision: %w", err)
	}

	proj := learning.ProjectMove(snap, bd, weights)
	pred := &journal.PredictionRecord{
		DecisionID:          dec.ID,
		Symbol:              cand.Symbol,
		Setup:               proj.Setup,
		Direction:           "up",
		ExpectedMovePercent: proj.MovePercent,
		ExpectedHours:       proj.Hours,
		ReferencePrice:      quote.Price,
		HorizonAt:           now.Add(time.Duration(proj.Hours * float64(time.Hour))),
	}
	if err := r.store.AppendPrediction(ctx, pred); err != nil {
		return nil, fmt.Errorf("failed to journal prediction: %w", err)
	}

	r.log.Info().Str("symbol", cand.Symbol).Float64("confidence", bd.Final).
		Float64("shares", shares).Str("decision_id", dec.ID).Msg("trade proposed")

	return &Recommendation{
		DecisionID:  dec.ID,
		Symbol:      cand.Symbol,
		Action:      ActionBuy,
		Confidence:  bd.Final,
		Levels:      levels,
		Shares:      shares,
		Fraction:    fraction,
		KeyFactors:  b.KeyFactors(),
		RiskFactors: b.RiskFactors(),
		Summary:     summary,
		ValidUntil:  validUntil,
		Prediction:  pred,
		Breakdown:   bd,
	}, nil
}

// referenceBars fetches a reference series, degrading to nil on failure so
// the dependent indicator reads neutral.
func (r *Recommender) referenceBars(ctx context.Context, symbol string, b *Builder) []marketdata.Bar {
	bars, err := r.data.Bars(ctx, symbol, r.cfg.BarInterval, r.cfg.ReferenceBarLimit)
	if err != nil {
		r.log.Warn().Err(err).Str("reference", symbol).Msg("reference series unavailable")
		b.Step("reference_"+strings.ToLower(symbol), symbol, 0, "signal unavailable, reading neutral")
		return nil
	}
	return bars
}

// recordSteps mirrors the score breakdown into ordered reasoning steps. Each
// delta carries the confidence multiplier so the steps sum to the raw score.
func (r *Recommender) recordSteps(b *Builder, bd *learning.ScoreBreakdown, sent *sentiment.Snapshot) {
	for _, c := range bd.Contributions {
		b.Step(string(c.Category), c.Name, c.Value*bd.ConfidenceMultiplier,
			fmt.Sprintf("strength %.2f at confidence %.2f, learned multiplier %.2f",
				c.Strength, c.Confidence, c.Multiplier))
	}
	b.Step("sentiment", string(sent.Direction), bd.SentimentDelta*bd.ConfidenceMultiplier,
		fmt.Sprintf("composite %.2f from %d points, trend %s", sent.Score, sent.PointCount, sent.Trend))
	b.Step("market_context", "reference index", bd.ContextDelta*bd.ConfidenceMultiplier,
		"broader market alignment with a long setup")
}

// collectFactors derives the 3-6 key factors and the risk factors from the
// evaluation detail.
func (r *Recommender) collectFactors(b *Builder, eval *indicators.Evaluation, sent *sentiment.Snapshot, quote *marketdata.Quote, cand screener.Entry) {
	for _, c := range eval.Snapshot.Indicators {
		switch {
		case c.Strength > 0.2:
			b.KeyFactor(fmt.Sprintf("%s bullish (%.2f)", c.Name, c.Strength))
		case c.Strength < -0.2:
			b.RiskFactor(fmt.Sprintf("%s bearish (%.2f)", c.Name, c.Strength))
		}
	}

	if cand.RelativeVolume >= 2 {
		b.KeyFactor(fmt.Sprintf("relative volume %.1fx", cand.RelativeVolume))
	}
	if sent.Direction == sentiment.DirectionBullish {
		b.KeyFactor(fmt.Sprintf("sentiment bullish (%.2f)", sent.Score))
	}
	if sent.Direction == sentiment.DirectionBearish {
		b.RiskFactor(fmt.Sprintf("sentiment bearish (%.2f)", sent.Score))
	}
	if len(sent.SourcesDown) > 0 {
		b.RiskFactor(fmt.Sprintf("sentiment partially blind: %s down", strings.Join(sent.SourcesDown, ", ")))
	}
	if eval.Snapshot.Context == learning.ContextOpposed {
		b.RiskFactor("broader market moving against longs")
	}
	if quote.Price > 0 && quote.Spread()/quote.Price > 0.01 {
		b.RiskFactor(fmt.Sprintf("wide spread %.2f%%", quote.Spread()/quote.Price*100))
	}
	if quote.Price < 1 {
		b.RiskFactor("sub-dollar price, halt and delisting exposure")
	}

	// Always give the reader at least three reasons the candidate screened in.
	if len(b.KeyFactors()) < 3 {
		b.KeyFactor(fmt.Sprintf("momentum score %.0f at screening", cand.MomentumScore))
	}
	if len(b.KeyFactors()) < 3 {
		b.KeyFactor(fmt.Sprintf("day change %+.1f%%", cand.DayChangePercent))
	}
	if len(b.KeyFactors()) < 3 {
		b.KeyFactor(fmt.Sprintf("regime %s", eval.Regime.Label()))
	}
}

// contextAlignment reads the broader market from the reference index series.
const contextTrendCutPercent = 0.3

func contextAlignment(marketBars []marketdata.Bar) learning.ContextAlignment {
	if len(marketBars) < 2 {
		return learning.ContextNeutral
	}
	first := marketBars[0].Close
	last := marketBars[len(marketBars)-1].Close
	if first <= 0 {
		return learning.ContextNeutral
	}
	change := (last - first) / first * 100
	switch {
	case change > contextTrendCutPercent:
		return learning.ContextAligned
	case change < -contextTrendCutPercent:
		return learning.ContextOpposed
	default:
		return learning.ContextNeutral
	}
}

// refuse journals the refusal and returns it as a non-error outcome.
func (r *Recommender) refuse(ctx context.Context, b *Builder, symbol string, snap *learning.FeatureSnapshot,
	bd *learning.ScoreBreakdown, confidence float64, reason, detail string) (*Recommendation, error) {

	summary := fmt.Sprintf("skip %s: %s", symbol, detail)
	payload, err := b.Finalize(ActionSkip, summary, bd, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	dec := &journal.DecisionRecord{
		Symbol:         symbol,
		Action:         ActionSkip,
		Status:         journal.DecisionRefused,
		Confidence:     confidence,
		RefusalReason:  reason,
		Summary:        summary,
		WeightsVersion: r.holder.Version(),
		Payload:        payload,
	}
	if snap != nil {
		features, ferr := snap.Encode()
		if ferr != nil {
			return nil, ferr
		}
		dec.Features = features
	}
	if err := r.store.AppendDecision(ctx, dec); err != nil {
		return nil, fmt.Errorf("failed to journal refusal: %w", err)
	}

	r.log.Info().Str("symbol", symbol).Str("reason", reason).Msg("candidate refused")
	return &Recommendation{
		DecisionID:    dec.ID,
		Symbol:        symbol,
		Action:        ActionSkip,
		Confidence:    confidence,
		Summary:       summary,
		Breakdown:     bd,
		Refused:       true,
		RefusalReason: reason,
	}, nil
}
