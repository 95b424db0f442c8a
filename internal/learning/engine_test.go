package learning

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trading-bot/internal/journal"
)

type fakeStore struct {
	examples  []journal.TrainingExample
	snapshots []*journal.WeightSnapshot
	cycles    []*journal.LearningCycleRecord
}

func (f *fakeStore) TrainingExamples(_ context.Context, _ time.Time, limit int) ([]journal.TrainingExample, error) {
	if len(f.examples) > limit {
		return f.examples[:limit], nil
	}
	return f.examples, nil
}

func (f *fakeStore) SaveWeightSnapshot(_ context.Context, payload interface{}, score float64, note string) (*journal.WeightSnapshot, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	snap := &journal.WeightSnapshot{
		Version:         len(f.snapshots) + 1,
		Payload:         raw,
		ValidationScore: score,
		Note:            note,
	}
	f.snapshots = append(f.snapshots, snap)
	return snap, nil
}

func (f *fakeStore) AppendLearningCycle(_ context.Context, rec *journal.LearningCycleRecord) error {
	f.cycles = append(f.cycles, rec)
	return nil
}

type fixedClock struct{ at time.Time }

func (f fixedClock) Now() time.Time { return f.at }

func trainingExample(t *testing.T, at time.Time, cat Category, success bool, confidence float64) journal.TrainingExample {
	t.Helper()
	snap := &FeatureSnapshot{
		Symbol: "SOFI",
		Price:  7.20,
		Indicators: []IndicatorFeature{
			{Category: cat, Name: string(cat), Strength: 0.8, Confidence: 0.9},
		},
		Context:    ContextNeutral,
		CapturedAt: at,
	}
	raw, err := snap.Encode()
	require.NoError(t, err)

	realized := 2.0
	accuracy := 0.9
	if !success {
		realized = -2.0
		accuracy = 0.3
	}
	return journal.TrainingExample{
		Decision: journal.DecisionRecord{
			Symbol:     "SOFI",
			Confidence: confidence,
			Features:   raw,
		},
		Outcome: journal.OutcomeRecord{
			Symbol:          "SOFI",
			Success:         success,
			RealizedPercent: realized,
			RealizedPnL:     realized * 10,
			AccuracyScore:   accuracy,
			CreatedAt:       at,
		},
	}
}

func newTestEngine(store *fakeStore) (*Engine, *Holder) {
	holder := NewHolder(DefaultWeights())
	clk := fixedClock{at: time.Date(2026, 6, 16, 2, 0, 0, 0, time.UTC)}
	engine := NewEngine(DefaultConfig(), store, holder, clk, zerolog.Nop())
	return engine, holder
}

func TestCycleSkipsBelowMinimumOutcomes(t *testing.T) {
	store := &fakeStore{}
	base := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.examples = append(store.examples,
			trainingExample(t, base.Add(time.Duration(i)*time.Hour), CategoryMomentumDivergence, true, 8))
	}

	engine, holder := newTestEngine(store)
	result, err := engine.RunCycle(context.Background(), TriggerNightly)
	require.NoError(t, err)

	assert.False(t, result.Committed)
	assert.Equal(t, SkipInsufficientOutcomes, result.SkipReason)
	assert.Empty(t, store.snapshots)
	assert.Equal(t, 0, holder.Version())

	// Skipped cycles still leave an audit row.
	require.Len(t, store.cycles, 1)
	assert.Equal(t, SkipInsufficientOutcomes, store.cycles[0].SkipReason)
	assert.False(t, store.cycles[0].Committed)
}

func TestCycleDisabledDoesNothing(t *testing.T) {
	store := &fakeStore{}
	holder := NewHolder(DefaultWeights())
	cfg := DefaultConfig()
	cfg.Enabled = false
	engine := NewEngine(cfg, store, holder, fixedClock{at: time.Now()}, zerolog.Nop())

	result, err := engine.RunCycle(context.Background(), TriggerIncremental)
	require.NoError(t, err)
	assert.Equal(t, SkipDisabled, result.SkipReason)
	assert.Empty(t, store.cycles)
	assert.Empty(t, store.snapshots)
}

// Forty examples, older 12 train / newer 28 validation. Momentum divergence
// wins everywhere and order flow loses everywhere, so the candidate that
// boosts momentum and cuts order flow must beat the neutral weights on the
// validation slice and commit.
func TestCycleCommitsWhenCandidateValidatesBetter(t *testing.T) {
	store := &fakeStore{}
	base := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		store.examples = append(store.examples,
			trainingExample(t, base.Add(time.Duration(2*i)*time.Hour), CategoryMomentumDivergence, true, 8))
		store.examples = append(store.examples,
			trainingExample(t, base.Add(time.Duration(2*i+1)*time.Hour), CategoryOrderFlow, false, 8))
	}

	engine, holder := newTestEngine(store)
	result, err := engine.RunCycle(context.Background(), TriggerNightly)
	require.NoError(t, err)

	assert.True(t, result.Committed)
	assert.Greater(t, result.ScoreAfter, result.ScoreBefore)
	assert.Equal(t, 0, result.VersionBefore)
	assert.Equal(t, 1, result.VersionAfter)
	require.Len(t, store.snapshots, 1)

	active := holder.Current()
	assert.Equal(t, 1, active.Version)
	assert.Greater(t, active.Multipliers[CategoryMomentumDivergence], 1.0)
	assert.Less(t, active.Multipliers[CategoryOrderFlow], 1.0)

	// Train accuracy averaged 0.6: inside the neutral band, thresholds
	// untouched.
	assert.False(t, result.ThresholdChanged)
	assert.InDelta(t, 7.0, active.MinConfidence, 1e-9)

	require.Len(t, store.cycles, 1)
	assert.True(t, store.cycles[0].Committed)
	assert.Equal(t, 1, store.cycles[0].WeightsVersionAfter)
}

// The training slice rewards momentum, but every newer momentum example
// fails: the candidate must lose the validation comparison and the active
// weights must stay untouched. The accurate training slice still raises the
// confidence bar inside its rails, which versions a snapshot of its own.
func TestCycleRejectsCandidateThatValidatesWorse(t *testing.T) {
	store := &fakeStore{}
	base := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		store.examples = append(store.examples,
			trainingExample(t, base.Add(time.Duration(i)*time.Hour), CategoryMomentumDivergence, true, 8))
	}
	for i := 12; i < 40; i++ {
		store.examples = append(store.examples,
			trainingExample(t, base.Add(time.Duration(i)*time.Hour), CategoryMomentumDivergence, false, 8))
	}

	engine, holder := newTestEngine(store)
	result, err := engine.RunCycle(context.Background(), TriggerNightly)
	require.NoError(t, err)

	assert.False(t, result.Committed)
	assert.LessOrEqual(t, result.ScoreAfter, result.ScoreBefore)

	active := holder.Current()
	assert.InDelta(t, 1.0, active.Multipliers[CategoryMomentumDivergence], 1e-9)

	// Train accuracy 0.9 > 0.8: the bar rises one step.
	assert.True(t, result.ThresholdChanged)
	assert.InDelta(t, 7.5, active.MinConfidence, 1e-9)
	require.Len(t, store.snapshots, 1)
	assert.Equal(t, 1, active.Version)
}

func TestCycleSkipsCategoriesWithFewSamples(t *testing.T) {
	store := &fakeStore{}
	base := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	// 40 examples but only 2 sector_rs examples land in the 12-example
	// training slice, below the 5-sample floor.
	for i := 0; i < 40; i++ {
		cat := CategoryMomentumDivergence
		if i%6 == 0 {
			cat = CategorySectorStrength
		}
		store.examples = append(store.examples,
			trainingExample(t, base.Add(time.Duration(i)*time.Hour), cat, i%2 == 0, 7))
	}

	engine, _ := newTestEngine(store)
	result, err := engine.RunCycle(context.Background(), TriggerNightly)
	require.NoError(t, err)

	assert.Less(t, result.CategorySamples[CategorySectorStrength], 5)
	_, adjusted := result.CategoryPerf[CategorySectorStrength]
	assert.False(t, adjusted, "sector_rs had too few samples to adjust")
}

func TestCycleCalibrationNudgesConfidenceMultiplier(t *testing.T) {
	store := &fakeStore{}
	base := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	// Confidence 9 promised 0.9 wins; delivery alternates 50/50, so the
	// train calibration lands at ~0.55 and the multiplier must shrink.
	for i := 0; i < 40; i++ {
		store.examples = append(store.examples,
			trainingExample(t, base.Add(time.Duration(i)*time.Hour), CategoryMomentumDivergence, i%2 == 0, 9))
	}

	engine, _ := newTestEngine(store)
	result, err := engine.RunCycle(context.Background(), TriggerNightly)
	require.NoError(t, err)

	assert.Less(t, result.Calibration, 0.7)
	require.Len(t, store.cycles, 1)

	var report CycleResult
	require.NoError(t, json.Unmarshal(store.cycles[0].Report, &report))
	assert.Equal(t, result.Calibration, report.Calibration)
}

func TestAdjustThresholdsConfidenceBar(t *testing.T) {
	current := DefaultWeights()

	raised := adjustThresholds(current, PerformanceStats{AvgAccuracy: 0.85}, nil)
	assert.InDelta(t, 7.5, raised.MinConfidence, 1e-9)

	lowered := adjustThresholds(current, PerformanceStats{AvgAccuracy: 0.55}, nil)
	assert.InDelta(t, 6.5, lowered.MinConfidence, 1e-9)

	neutral := adjustThresholds(current, PerformanceStats{AvgAccuracy: 0.7}, nil)
	assert.InDelta(t, 7.0, neutral.MinConfidence, 1e-9)
	assert.False(t, thresholdsDiffer(neutral, current))
}

func TestAdjustThresholdsRSIBands(t *testing.T) {
	current := DefaultWeights()
	neutralStats := PerformanceStats{AvgAccuracy: 0.7}

	// A winning RSI pattern relaxes the bands to admit more signals.
	relaxed := adjustThresholds(current, neutralStats, map[Category]float64{CategoryRSIZScore: 0.4})
	assert.InDelta(t, 32.5, relaxed.RSIOversold, 1e-9)
	assert.InDelta(t, 67.5, relaxed.RSIOverbought, 1e-9)

	// A losing one tightens them.
	tightened := adjustThresholds(current, neutralStats, map[Category]float64{CategoryRSIZScore: -0.4})
	assert.InDelta(t, 27.5, tightened.RSIOversold, 1e-9)
	assert.InDelta(t, 72.5, tightened.RSIOverbought, 1e-9)

	// Middling performance leaves them alone.
	flat := adjustThresholds(current, neutralStats, map[Category]float64{CategoryRSIZScore: 0.1})
	assert.False(t, thresholdsDiffer(flat, current))
}

func TestAdjustThresholdsHoldRails(t *testing.T) {
	current := DefaultWeights()
	current.MinConfidence = MinConfidenceCeil
	current.RSIOversold = RSIOversoldCeil
	current.RSIOverbought = RSIOverboughtFloor

	adjusted := adjustThresholds(current,
		PerformanceStats{AvgAccuracy: 0.95},
		map[Category]float64{CategoryRSIZScore: 0.5})

	assert.InDelta(t, MinConfidenceCeil, adjusted.MinConfidence, 1e-9)
	assert.InDelta(t, RSIOversoldCeil, adjusted.RSIOversold, 1e-9)
	assert.InDelta(t, RSIOverboughtFloor, adjusted.RSIOverbought, 1e-9)
}

func TestConfigSeedsInitialWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidenceScore = 6.5
	cfg.RSIOversold = 25.0
	cfg.RSIOverbought = 75.0
	cfg.VolumeSpikeMultiplier = 3.0
	cfg.MinExpectedMove = 2.0

	w := cfg.InitialWeights()
	assert.InDelta(t, 6.5, w.MinConfidence, 1e-9)
	assert.InDelta(t, 25.0, w.RSIOversold, 1e-9)
	assert.InDelta(t, 75.0, w.RSIOverbought, 1e-9)
	assert.InDelta(t, 3.0, w.VolumeSpike, 1e-9)
	assert.InDelta(t, 2.0, w.MinExpectedMovePct, 1e-9)

	// Unset fields fall back to the built-in defaults.
	sparse := DefaultConfig().InitialWeights()
	assert.InDelta(t, 7.0, sparse.MinConfidence, 1e-9)
	assert.InDelta(t, 30.0, sparse.RSIOversold, 1e-9)

	// Out-of-rails config values are clamped, not trusted.
	cfg.MinConfidenceScore = 12.0
	assert.InDelta(t, MinConfidenceCeil, cfg.InitialWeights().MinConfidence, 1e-9)
}
