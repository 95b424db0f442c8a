package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(indicators ...IndicatorFeature) *FeatureSnapshot {
	return &FeatureSnapshot{
		Symbol:     "SOFI",
		Price:      7.20,
		Indicators: indicators,
		Context:    ContextNeutral,
	}
}

func TestScoreBreakdownReconstructsFinal(t *testing.T) {
	snap := snapshotWith(
		IndicatorFeature{Category: CategoryRSIZScore, Name: "rsi_zscore", Strength: 0.8, Confidence: 0.9},
		IndicatorFeature{Category: CategoryMomentumDivergence, Name: "momentum_divergence", Strength: 0.5, Confidence: 0.7},
	)
	snap.SentimentScore = 0.5
	snap.SentimentConfidence = 0.8
	snap.Context = ContextAligned

	b := Score(snap, DefaultWeights())

	require.Len(t, b.Contributions, 2)
	assert.InDelta(t, 0.8*0.9*1.0*0.15, b.Contributions[0].Value, 1e-9)
	assert.InDelta(t, 0.5*0.7*1.0*0.25, b.Contributions[1].Value, 1e-9)
	assert.InDelta(t, 1.5*0.5, b.SentimentDelta, 1e-9)
	assert.InDelta(t, 0.4, b.ContextDelta, 1e-9)

	expected := 5.0 + (b.ContributionSum()+b.SentimentDelta+b.ContextDelta)*1.0
	assert.InDelta(t, expected, b.Raw, 1e-9)
	assert.InDelta(t, expected, b.Final, 1e-9)
}

func TestScoreSentimentSteps(t *testing.T) {
	tests := []struct {
		name       string
		score      float64
		confidence float64
		want       float64
	}{
		{"strong bullish scales up", 0.6, 0.9, 1.5 * 0.6},
		{"strong bearish penalizes", -0.5, 0.9, -0.5},
		{"neutral uses confidence", 0.1, 0.5, 0.2 * 0.5},
		{"exactly at bullish cut is neutral", 0.3, 0.4, 0.2 * 0.4},
		{"exactly at bearish cut is neutral", -0.3, 0.4, 0.2 * 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := snapshotWith()
			snap.SentimentScore = tt.score
			snap.SentimentConfidence = tt.confidence
			b := Score(snap, DefaultWeights())
			assert.InDelta(t, tt.want, b.SentimentDelta, 1e-9)
		})
	}
}

func TestScoreContextSteps(t *testing.T) {
	for alignment, want := range map[ContextAlignment]float64{
		ContextAligned: 0.4,
		ContextOpposed: -0.3,
		ContextNeutral: 0,
	} {
		snap := snapshotWith()
		snap.Context = alignment
		b := Score(snap, DefaultWeights())
		assert.InDelta(t, want, b.ContextDelta, 1e-9, "alignment %s", alignment)
	}
}

func TestScoreClampsAtTen(t *testing.T) {
	var indicators []IndicatorFeature
	for _, c := range Categories() {
		indicators = append(indicators, IndicatorFeature{Category: c, Name: string(c), Strength: 1, Confidence: 1})
	}
	snap := snapshotWith(indicators...)
	snap.SentimentScore = 0.9
	snap.Context = ContextAligned

	w := DefaultWeights()
	for _, c := range Categories() {
		w.Multipliers[c] = MaxMultiplier
	}
	w.ConfidenceMultiplier = MaxConfidenceMultiplier

	b := Score(snap, w)
	assert.Greater(t, b.Raw, 10.0)
	assert.Equal(t, 10.0, b.Final)
}

func TestScoreNeverBelowZero(t *testing.T) {
	var indicators []IndicatorFeature
	for _, c := range Categories() {
		indicators = append(indicators, IndicatorFeature{Category: c, Name: string(c), Strength: -1, Confidence: 1})
	}
	snap := snapshotWith(indicators...)
	snap.SentimentScore = -0.9
	snap.Context = ContextOpposed

	w := DefaultWeights()
	for _, c := range Categories() {
		w.Multipliers[c] = MaxMultiplier
	}
	w.ConfidenceMultiplier = MaxConfidenceMultiplier

	b := Score(snap, w)
	assert.GreaterOrEqual(t, b.Final, 0.0)
	assert.Less(t, b.Final, BaseConfidence)
}

func TestScoreMultiplierScalesContribution(t *testing.T) {
	snap := snapshotWith(
		IndicatorFeature{Category: CategoryOrderFlow, Name: "order_flow", Strength: 0.6, Confidence: 0.8},
	)

	low := DefaultWeights()
	low.Multipliers[CategoryOrderFlow] = 0.5
	high := DefaultWeights()
	high.Multipliers[CategoryOrderFlow] = 1.5

	bLow := Score(snap, low)
	bHigh := Score(snap, high)
	assert.InDelta(t, 3.0, bHigh.Contributions[0].Value/bLow.Contributions[0].Value, 1e-9)
}

func TestScoreIgnoresUnknownCategory(t *testing.T) {
	snap := snapshotWith(
		IndicatorFeature{Category: Category("made_up"), Name: "made_up", Strength: 1, Confidence: 1},
	)
	b := Score(snap, DefaultWeights())
	assert.Empty(t, b.Contributions)
	assert.InDelta(t, 5.0, b.Final, 1e-9)
}

func TestConfidenceMultiplierShrinksTowardBase(t *testing.T) {
	snap := snapshotWith(
		IndicatorFeature{Category: CategoryMomentumDivergence, Name: "momentum_divergence", Strength: 0.9, Confidence: 0.9},
	)
	snap.SentimentScore = 0.6

	w := DefaultWeights()
	w.ConfidenceMultiplier = 0.5
	shrunk := Score(snap, w)

	w.ConfidenceMultiplier = 1.0
	normal := Score(snap, w)

	assert.Greater(t, normal.Final, shrunk.Final)
	assert.Greater(t, shrunk.Final, BaseConfidence)
}

func TestDominantSetup(t *testing.T) {
	b := &ScoreBreakdown{Contributions: []Contribution{
		{Name: "rsi_zscore", Value: 0.1},
		{Name: "volume_price_trend", Value: 0.3},
		{Name: "order_flow", Value: -0.5},
	}}
	assert.Equal(t, "volume_price_trend", DominantSetup(b))

	empty := &ScoreBreakdown{Contributions: []Contribution{{Name: "order_flow", Value: -0.5}}}
	assert.Equal(t, "composite", DominantSetup(empty))
}

func TestHorizonForSetup(t *testing.T) {
	// At the anchor confidence the base horizons come through untouched.
	assert.InDelta(t, 4.0, HorizonForSetup("vwap_reclaim", 7.0), 1e-9)
	assert.InDelta(t, 8.0, HorizonForSetup("rsi_zscore", 7.0), 1e-9)
	assert.InDelta(t, 2.0, HorizonForSetup("volume_price_trend", 7.0), 1e-9)
	assert.InDelta(t, 2.0, HorizonForSetup("order_flow", 7.0), 1e-9)
	assert.InDelta(t, 6.0, HorizonForSetup("adaptive_bollinger", 7.0), 1e-9)
	assert.InDelta(t, 6.0, HorizonForSetup("composite", 7.0), 1e-9)
}

func TestHorizonShrinksWithConfidence(t *testing.T) {
	// High-conviction setups are expected to resolve faster, marginal ones
	// get more room, and the scale stays inside its rails either way.
	assert.InDelta(t, 8.0*7.0/9.0, HorizonForSetup("rsi_zscore", 9.0), 1e-9)
	assert.InDelta(t, 8.0*7.0/5.5, HorizonForSetup("rsi_zscore", 5.5), 1e-9)
	assert.InDelta(t, 8.0*0.6, HorizonForSetup("rsi_zscore", 100.0), 1e-9)
	assert.InDelta(t, 8.0*1.4, HorizonForSetup("rsi_zscore", 1.0), 1e-9)
	assert.InDelta(t, 8.0, HorizonForSetup("rsi_zscore", 0), 1e-9)
}

func TestProjectMove(t *testing.T) {
	snap := snapshotWith(
		IndicatorFeature{Category: CategoryRSIZScore, Name: "rsi_zscore", Strength: 0.8, Confidence: 0.9},
	)
	snap.RSI = 25
	snap.VWAPDistancePercent = -3
	snap.SentimentScore = 0.5
	snap.Price = 10

	b := &ScoreBreakdown{Final: 7, Contributions: []Contribution{{Name: "rsi_zscore", Value: 0.1}}}
	proj := ProjectMove(snap, b, DefaultWeights())

	// 3.0 base + oversold (5/30)*2 + vwap 3*0.5 + sentiment 0.5*2, scaled by 7/7.
	want := 3.0 + (5.0/30.0)*2 + 1.5 + 1.0
	assert.InDelta(t, want, proj.MovePercent, 1e-6)
	assert.Equal(t, "rsi_zscore", proj.Setup)
	assert.Equal(t, 8.0, proj.Hours)
	assert.InDelta(t, 10*(1+want/100), proj.TargetPrice, 1e-6)
}

func TestProjectMoveScalesWithConfidence(t *testing.T) {
	snap := snapshotWith()
	snap.Price = 5

	// Lower the floor out of the way so the raw scaling is visible.
	w := DefaultWeights()
	w.MinExpectedMovePct = 1.0

	low := ProjectMove(snap, &ScoreBreakdown{Final: 5.0}, w)
	high := ProjectMove(snap, &ScoreBreakdown{Final: 9.0}, w)

	assert.InDelta(t, 3.0*5.0/7.0, low.MovePercent, 1e-9)
	assert.InDelta(t, 3.0*9.0/7.0, high.MovePercent, 1e-9)
	assert.Greater(t, high.MovePercent, low.MovePercent)
}

func TestProjectMoveFloorsAtMinExpectedMove(t *testing.T) {
	snap := snapshotWith()
	snap.Price = 5

	// 3.0 * 5/7 ≈ 2.14, below the default 3% floor.
	proj := ProjectMove(snap, &ScoreBreakdown{Final: 5.0}, DefaultWeights())
	assert.InDelta(t, 3.0, proj.MovePercent, 1e-9)
}

func TestProjectMoveUsesAdaptiveOversoldBand(t *testing.T) {
	snap := snapshotWith()
	snap.RSI = 32
	snap.Price = 10
	b := &ScoreBreakdown{Final: 7}

	// RSI 32 sits above the default 30 band: no oversold bonus.
	base := ProjectMove(snap, b, DefaultWeights())
	assert.InDelta(t, 3.0, base.MovePercent, 1e-9)

	// A widened band pulls the same reading into oversold territory.
	w := DefaultWeights()
	w.RSIOversold = 35.0
	widened := ProjectMove(snap, b, w)
	assert.InDelta(t, 3.0+(3.0/35.0)*2, widened.MovePercent, 1e-9)
}

func TestProjectMoveSkipsBonusesOutsideTriggers(t *testing.T) {
	snap := snapshotWith()
	snap.RSI = 55
	snap.VWAPDistancePercent = 1.0
	snap.SentimentScore = 0.1
	snap.Price = 4

	proj := ProjectMove(snap, &ScoreBreakdown{Final: 7}, DefaultWeights())
	assert.InDelta(t, 3.0, proj.MovePercent, 1e-9)
}
