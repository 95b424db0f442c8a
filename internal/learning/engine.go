package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/clock"
	"intraday-trading-bot/internal/journal"
)

// Cycle trigger kinds.
const (
	TriggerNightly     = "nightly"
	TriggerIncremental = "incremental"
	TriggerManual      = "manual"
)

// Skip reasons journaled when a cycle does not run to completion.
const (
	SkipDisabled             = "disabled"
	SkipInsufficientOutcomes = "insufficient_outcomes"
	SkipNoDecodableFeatures  = "no_decodable_features"
)

// Config tunes the learning cycle. The threshold fields seed the initial
// adaptive thresholds before any weight snapshot exists; zero means the
// built-in default.
type Config struct {
	Enabled            bool          `json:"enabled"`
	MinOutcomes        int           `json:"min_outcomes"`
	Lookback           time.Duration `json:"-"`
	LookbackDays       int           `json:"lookback_days"`
	MaxExamples        int           `json:"max_examples"`
	TrainFraction      float64       `json:"train_fraction"`
	MinCategorySamples int           `json:"min_category_samples"`
	LearningRate       float64       `json:"learning_rate"`

	MinConfidenceScore    float64 `json:"min_confidence_score"`
	RSIOversold           float64 `json:"rsi_oversold"`
	RSIOverbought         float64 `json:"rsi_overbought"`
	VolumeSpikeMultiplier float64 `json:"volume_spike_multiplier"`
	MinExpectedMove       float64 `json:"min_expected_move_percent"`
}

// InitialWeights builds the pre-snapshot weight set: built-in defaults with
// the configured initial thresholds applied, clamped to the rails.
func (c Config) InitialWeights() Weights {
	w := DefaultWeights()
	if c.MinConfidenceScore > 0 {
		w.MinConfidence = c.MinConfidenceScore
	}
	if c.RSIOversold > 0 {
		w.RSIOversold = c.RSIOversold
	}
	if c.RSIOverbought > 0 {
		w.RSIOverbought = c.RSIOverbought
	}
	if c.VolumeSpikeMultiplier > 0 {
		w.VolumeSpike = c.VolumeSpikeMultiplier
	}
	if c.MinExpectedMove > 0 {
		w.MinExpectedMovePct = c.MinExpectedMove
	}
	w.Clamp()
	return w
}

// DefaultConfig returns the standard cycle settings: at least 20 realized
// outcomes, a 30 day window, the older 30% of examples for adjustment and
// the newer 70% for validation.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		MinOutcomes:        20,
		Lookback:           30 * 24 * time.Hour,
		LookbackDays:       30,
		MaxExamples:        500,
		TrainFraction:      0.30,
		MinCategorySamples: 5,
		LearningRate:       0.1,
	}
}

func (c *Config) normalize() {
	if c.MinOutcomes <= 0 {
		c.MinOutcomes = 20
	}
	if c.LookbackDays > 0 {
		c.Lookback = time.Duration(c.LookbackDays) * 24 * time.Hour
	}
	if c.Lookback <= 0 {
		c.Lookback = 30 * 24 * time.Hour
	}
	if c.MaxExamples <= 0 {
		c.MaxExamples = 500
	}
	if c.TrainFraction <= 0 || c.TrainFraction >= 1 {
		c.TrainFraction = 0.30
	}
	if c.MinCategorySamples <= 0 {
		c.MinCategorySamples = 5
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
}

// Store is the slice of the journal the engine needs.
type Store interface {
	TrainingExamples(ctx context.Context, since time.Time, limit int) ([]journal.TrainingExample, error)
	SaveWeightSnapshot(ctx context.Context, payload interface{}, validationScore float64, note string) (*journal.WeightSnapshot, error)
	AppendLearningCycle(ctx context.Context, rec *journal.LearningCycleRecord) error
}

// Engine runs weight adjustment cycles against journaled history and
// publishes committed weights through the holder.
type Engine struct {
	cfg    Config
	store  Store
	holder *Holder
	clk    clock.Clock
	log    zerolog.Logger
}

// NewEngine creates a learning engine.
func NewEngine(cfg Config, store Store, holder *Holder, clk clock.Clock, logger zerolog.Logger) *Engine {
	cfg.normalize()
	return &Engine{
		cfg:    cfg,
		store:  store,
		holder: holder,
		clk:    clk,
		log:    logger.With().Str("component", "learning").Logger(),
	}
}

// CycleResult summarizes one cycle for callers and for the journal report.
type CycleResult struct {
	Trigger          string               `json:"trigger"`
	OutcomesUsed     int                  `json:"outcomes_used"`
	Committed        bool                 `json:"committed"`
	SkipReason       string               `json:"skip_reason,omitempty"`
	ScoreBefore      float64              `json:"score_before"`
	ScoreAfter       float64              `json:"score_after"`
	VersionBefore    int                  `json:"version_before"`
	VersionAfter     int                  `json:"version_after"`
	Calibration      float64              `json:"calibration"`
	CategoryPerf     map[Category]float64 `json:"category_perf,omitempty"`
	CategorySamples  map[Category]int     `json:"category_samples,omitempty"`
	ThresholdChanged bool                 `json:"threshold_changed"`
	TrainWinRate     float64              `json:"train_win_rate"`
}

// trainingCase is one decoded example: the frozen features, the journaled
// confidence and the realized outcome.
type trainingCase struct {
	snap       *FeatureSnapshot
	confidence float64
	success    bool
	outcome    journal.OutcomeRecord
}

// RunCycle executes one adjustment attempt. Candidate weights are derived
// from the older slice of history and committed only when they score
// strictly better than the active weights on the newer slice. Every attempt
// is journaled, committed or not.
func (e *Engine) RunCycle(ctx context.Context, trigger string) (*CycleResult, error) {
	started := e.clk.Now()
	result := &CycleResult{Trigger: trigger, VersionBefore: e.holder.Version()}

	if !e.cfg.Enabled {
		result.SkipReason = SkipDisabled
		return result, nil
	}

	examples, err := e.store.TrainingExamples(ctx, started.Add(-e.cfg.Lookback), e.cfg.MaxExamples)
	if err != nil {
		return nil, fmt.Errorf("failed to load training examples: %w", err)
	}

	cases := decodeCases(examples)
	result.OutcomesUsed = len(cases)

	if len(cases) < e.cfg.MinOutcomes {
		if len(examples) >= e.cfg.MinOutcomes {
			result.SkipReason = SkipNoDecodableFeatures
		} else {
			result.SkipReason = SkipInsufficientOutcomes
		}
		e.log.Info().
			Str("trigger", trigger).
			Int("outcomes", len(cases)).
			Int("required", e.cfg.MinOutcomes).
			Str("skip_reason", result.SkipReason).
			Msg("learning cycle skipped")
		return result, e.journalCycle(ctx, started, result)
	}

	// Chronological split: the adjustment never sees the data it is judged
	// on, and the judgment data is always the newer slice.
	split := int(float64(len(cases)) * e.cfg.TrainFraction)
	if split < 1 {
		split = 1
	}
	if split >= len(cases) {
		split = len(cases) - 1
	}
	train, validation := cases[:split], cases[split:]

	current := e.holder.Current()
	candidate := e.adjustWeights(current, train, result)

	result.ScoreBefore = validationScore(validation, current)
	result.ScoreAfter = validationScore(validation, candidate)
	result.Committed = result.ScoreAfter > result.ScoreBefore

	// Threshold adjustment rides on realized accuracy and per-pattern
	// performance, bounded by the rails, independent of the weight gate.
	trainStats := trainCaseStats(train)
	result.TrainWinRate = trainStats.WinRate
	adjusted := adjustThresholds(current, trainStats, result.CategoryPerf)
	result.ThresholdChanged = thresholdsDiffer(adjusted, current)

	final := current
	note := ""
	switch {
	case result.Committed:
		final = candidate
		copyThresholds(&final, adjusted)
		note = fmt.Sprintf("%s cycle: weights committed (%.4f -> %.4f)", trigger, result.ScoreBefore, result.ScoreAfter)
	case result.ThresholdChanged:
		final = current.Clone()
		copyThresholds(&final, adjusted)
		note = fmt.Sprintf("%s cycle: thresholds adjusted (min confidence %.1f, rsi %.1f/%.1f)",
			trigger, final.MinConfidence, final.RSIOversold, final.RSIOverbought)
	}

	if result.Committed || result.ThresholdChanged {
		final.UpdatedAt = started
		snap, err := e.store.SaveWeightSnapshot(ctx, final, result.ScoreAfter, note)
		if err != nil {
			return nil, fmt.Errorf("failed to save weight snapshot: %w", err)
		}
		final.Version = snap.Version
		e.holder.Update(final)
		result.VersionAfter = snap.Version
	} else {
		result.VersionAfter = result.VersionBefore
	}

	e.log.Info().
		Str("trigger", trigger).
		Int("outcomes", result.OutcomesUsed).
		Bool("committed", result.Committed).
		Float64("score_before", result.ScoreBefore).
		Float64("score_after", result.ScoreAfter).
		Float64("calibration", result.Calibration).
		Int("weights_version", result.VersionAfter).
		Msg("learning cycle finished")

	return result, e.journalCycle(ctx, started, result)
}

// adjustWeights derives candidate multipliers from per-category performance
// on the training slice. Categories without enough samples keep their
// multiplier.
func (e *Engine) adjustWeights(current Weights, train []trainingCase, result *CycleResult) Weights {
	candidate := current.Clone()
	result.CategoryPerf = make(map[Category]float64)
	result.CategorySamples = make(map[Category]int)

	for _, cat := range Categories() {
		var wins, samples int
		for _, tc := range train {
			if !contributedPositively(tc.snap, cat) {
				continue
			}
			samples++
			if tc.success {
				wins++
			}
		}
		result.CategorySamples[cat] = samples
		if samples < e.cfg.MinCategorySamples {
			continue
		}

		winRate := float64(wins) / float64(samples)
		perf := clamp((winRate-0.5)*2, -0.5, 0.5)
		result.CategoryPerf[cat] = perf

		candidate.Multipliers[cat] = clamp(
			candidate.Multipliers[cat]*(1+e.cfg.LearningRate*perf),
			MinMultiplier, MaxMultiplier,
		)
	}

	// Calibration nudges the confidence multiplier: shrink when the model
	// promises more wins than it delivers, grow slowly when it delivers.
	result.Calibration = calibrationFromCases(train)
	switch {
	case result.Calibration < 0.7:
		candidate.ConfidenceMultiplier *= 0.95
	case result.Calibration > 0.9:
		candidate.ConfidenceMultiplier *= 1.02
	}
	candidate.ConfidenceMultiplier = clamp(candidate.ConfidenceMultiplier, MinConfidenceMultiplier, MaxConfidenceMultiplier)

	return candidate
}

// Threshold adjustment cuts. The confidence bar moves on mean prediction
// accuracy; the RSI bands move on how the RSI pattern has been performing.
const (
	accuracyRaiseBar   = 0.8
	accuracyLowerBar   = 0.6
	rsiBandRelaxPerf   = 0.25
	rsiBandTightenPerf = -0.25
)

// adjustThresholds moves the adaptive thresholds one step inside their
// rails: the confidence bar rises when predictions have been accurate enough
// to afford pickiness and falls when they have not; the RSI bands relax
// (admit more signals) when the RSI pattern earns its keep and tighten when
// it does not.
func adjustThresholds(current Weights, stats PerformanceStats, catPerf map[Category]float64) Weights {
	adjusted := current.Clone()
	switch {
	case stats.AvgAccuracy > accuracyRaiseBar:
		adjusted.MinConfidence = clamp(current.MinConfidence+ThresholdStep, MinConfidenceFloor, MinConfidenceCeil)
	case stats.AvgAccuracy < accuracyLowerBar:
		adjusted.MinConfidence = clamp(current.MinConfidence-ThresholdStep, MinConfidenceFloor, MinConfidenceCeil)
	}

	if perf, ok := catPerf[CategoryRSIZScore]; ok {
		switch {
		case perf > rsiBandRelaxPerf:
			adjusted.RSIOversold = clamp(current.RSIOversold+RSIBandStep, RSIOversoldFloor, RSIOversoldCeil)
			adjusted.RSIOverbought = clamp(current.RSIOverbought-RSIBandStep, RSIOverboughtFloor, RSIOverboughtCeil)
		case perf < rsiBandTightenPerf:
			adjusted.RSIOversold = clamp(current.RSIOversold-RSIBandStep, RSIOversoldFloor, RSIOversoldCeil)
			adjusted.RSIOverbought = clamp(current.RSIOverbought+RSIBandStep, RSIOverboughtFloor, RSIOverboughtCeil)
		}
	}
	return adjusted
}

func thresholdsDiffer(a, b Weights) bool {
	return a.MinConfidence != b.MinConfidence ||
		a.RSIOversold != b.RSIOversold ||
		a.RSIOverbought != b.RSIOverbought ||
		a.VolumeSpike != b.VolumeSpike ||
		a.MinExpectedMovePct != b.MinExpectedMovePct
}

func copyThresholds(dst *Weights, src Weights) {
	dst.MinConfidence = src.MinConfidence
	dst.RSIOversold = src.RSIOversold
	dst.RSIOverbought = src.RSIOverbought
	dst.VolumeSpike = src.VolumeSpike
	dst.MinExpectedMovePct = src.MinExpectedMovePct
}

// validationScore measures how well a weight set's confidence ranks the
// validation outcomes: a successful trade scores its re-scored confidence
// as a probability, a failed one scores the complement. Higher is better.
func validationScore(cases []trainingCase, w Weights) float64 {
	if len(cases) == 0 {
		return 0
	}
	var total float64
	for _, tc := range cases {
		p := Score(tc.snap, w).Final / MaxConfidence
		if tc.success {
			total += p
		} else {
			total += 1 - p
		}
	}
	return total / float64(len(cases))
}

func decodeCases(examples []journal.TrainingExample) []trainingCase {
	cases := make([]trainingCase, 0, len(examples))
	for _, ex := range examples {
		snap, err := DecodeFeatures(ex.Decision.Features)
		if err != nil || snap == nil {
			continue
		}
		cases = append(cases, trainingCase{
			snap:       snap,
			confidence: ex.Decision.Confidence,
			success:    ex.Outcome.Success,
			outcome:    ex.Outcome,
		})
	}
	return cases
}

func contributedPositively(snap *FeatureSnapshot, cat Category) bool {
	for _, f := range snap.Indicators {
		if f.Category == cat && f.Strength*f.Confidence > 0.02 {
			return true
		}
	}
	return false
}

func trainCaseStats(cases []trainingCase) PerformanceStats {
	outcomes := make([]*journal.OutcomeRecord, len(cases))
	for i := range cases {
		outcomes[i] = &cases[i].outcome
	}
	return ComputeStats(outcomes)
}

func calibrationFromCases(cases []trainingCase) float64 {
	examples := make([]journal.TrainingExample, len(cases))
	for i, tc := range cases {
		examples[i] = journal.TrainingExample{
			Decision: journal.DecisionRecord{Confidence: tc.confidence},
			Outcome:  tc.outcome,
		}
	}
	return CalibrationRatio(examples)
}

func (e *Engine) journalCycle(ctx context.Context, started time.Time, result *CycleResult) error {
	report, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal cycle report: %w", err)
	}

	rec := &journal.LearningCycleRecord{
		TriggerKind:          result.Trigger,
		StartedAt:            started,
		FinishedAt:           e.clk.Now(),
		OutcomesUsed:         result.OutcomesUsed,
		Committed:            result.Committed,
		SkipReason:           result.SkipReason,
		ScoreBefore:          result.ScoreBefore,
		ScoreAfter:           result.ScoreAfter,
		WeightsVersionBefore: result.VersionBefore,
		WeightsVersionAfter:  result.VersionAfter,
		Report:               report,
	}
	if err := e.store.AppendLearningCycle(ctx, rec); err != nil {
		return fmt.Errorf("failed to journal learning cycle: %w", err)
	}
	return nil
}
