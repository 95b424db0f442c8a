package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/learning"
	"intraday-trading-bot/internal/marketdata"
	"intraday-trading-bot/internal/regime"
)

// barsFromCloses builds bars where each bar closes at the given price with
// a small body and the given volume.
func barsFromCloses(closes []float64, volume float64) []marketdata.Bar {
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		hi, lo := math.Max(open, c)*1.002, math.Min(open, c)*0.998
		bars[i] = marketdata.Bar{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   open,
			High:   hi,
			Low:    lo,
			Close:  c,
			Volume: volume,
		}
	}
	return bars
}

func driftingCloses(n int, start, step float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)*step
	}
	return closes
}

func TestRSIZScoreShortHistoryNeutral(t *testing.T) {
	r := RSIZScore(driftingCloses(20, 5, 0.01), 14, false)
	if r.Feature.Strength != 0 || r.Feature.Confidence != 0 {
		t.Fatalf("short history must be neutral, got strength=%f conf=%f", r.Feature.Strength, r.Feature.Confidence)
	}
}

func TestRSIZScoreSelloffReadsBullish(t *testing.T) {
	// A long stable stretch then a hard multi-bar selloff: RSI collapses
	// far below its own recent distribution.
	closes := driftingCloses(80, 10, 0.01)
	last := closes[79]
	for i := 0; i < 10; i++ {
		last *= 0.99
		closes = append(closes, last)
	}

	r := RSIZScore(closes, 14, false)
	if r.ZScore > -1.5 {
		t.Fatalf("selloff should push z below -1.5, got %f (rsi %f mean %f)", r.ZScore, r.RSI, r.Mean)
	}
	if r.Feature.Strength <= 0 {
		t.Errorf("oversold z-score should read bullish, got %f", r.Feature.Strength)
	}
	if r.Feature.Confidence <= 0 {
		t.Error("firing signal must carry confidence")
	}
}

func TestRSIZScoreBandWidensInHighVol(t *testing.T) {
	closes := driftingCloses(80, 10, 0.01)
	normal := RSIZScore(closes, 14, false)
	high := RSIZScore(closes, 14, true)
	if normal.Band != 1.5 || high.Band != 2.0 {
		t.Errorf("bands should be 1.5/2.0, got %f/%f", normal.Band, high.Band)
	}
}

func TestOrderFlowBuyingPressure(t *testing.T) {
	// Every bar closes in the top of its range above its open: net flow
	// runs positive across all horizons.
	bars := barsFromCloses(driftingCloses(60, 5, 0.02), 1000)
	r := OrderFlow(bars, 20, 0)
	if r.BuyPressure <= r.SellPressure {
		t.Fatalf("all-up bars should lean buy: %f vs %f", r.BuyPressure, r.SellPressure)
	}
	if r.ShortFlow <= 0 || r.MediumFlow <= 0.3 || r.LongFlow <= 0 {
		t.Fatalf("flows should be positive, got %f/%f/%f", r.ShortFlow, r.MediumFlow, r.LongFlow)
	}
	if r.Feature.Strength <= 0.3 {
		t.Errorf("persistent buy flow should read bullish, got %f", r.Feature.Strength)
	}
}

func TestOrderFlowSellingPressure(t *testing.T) {
	bars := barsFromCloses(driftingCloses(60, 8, -0.02), 1000)
	r := OrderFlow(bars, 20, 0)
	if r.MediumFlow >= 0 {
		t.Fatalf("all-down bars should read negative flow, got %f", r.MediumFlow)
	}
	if r.Feature.Strength >= 0 {
		t.Errorf("persistent sell flow should read bearish, got %f", r.Feature.Strength)
	}
}

func TestOrderFlowShortHistoryNeutral(t *testing.T) {
	r := OrderFlow(barsFromCloses(driftingCloses(5, 5, 0.02), 1000), 20, 0)
	if r.Feature.Strength != 0 {
		t.Errorf("short history must be neutral, got %f", r.Feature.Strength)
	}
}

func TestOrderFlowConfidenceTracksSpikeThreshold(t *testing.T) {
	// Recent volume runs 2x the prior window.
	bars := barsFromCloses(driftingCloses(40, 5, 0.01), 1000)
	for i := 20; i < 40; i++ {
		bars[i].Volume = 2000
	}

	atSpike := OrderFlow(bars, 20, 2.0)
	if atSpike.RelativeVolume != 2.0 {
		t.Fatalf("expected relative volume 2.0, got %f", atSpike.RelativeVolume)
	}
	if atSpike.Feature.Confidence != 0.9 {
		t.Errorf("volume at the spike threshold should max confidence, got %f", atSpike.Feature.Confidence)
	}

	// A higher threshold demands more volume for the same confidence.
	demanding := OrderFlow(bars, 20, 4.0)
	if demanding.Feature.Confidence >= atSpike.Feature.Confidence {
		t.Errorf("raising the spike threshold should cut confidence: %f vs %f",
			demanding.Feature.Confidence, atSpike.Feature.Confidence)
	}
}

func TestVolumePriceTrendGatedOnThinVolume(t *testing.T) {
	// Rising VPT on flat volume: the last bar cannot clear 1.2x the window
	// mean, so the bullish read is suppressed.
	r := VolumePriceTrend(barsFromCloses(driftingCloses(40, 5, 0.02), 1000), 20)
	if r.VolumeConfirmed {
		t.Fatalf("flat volume should not confirm, relative volume %f", r.RelativeVolume)
	}
	if r.Slope <= 0 {
		t.Fatalf("rising closes should still slope up, got %f", r.Slope)
	}
	if r.Feature.Strength != 0 || r.Feature.Confidence != 0 {
		t.Errorf("unconfirmed accumulation must read neutral, got strength=%f conf=%f",
			r.Feature.Strength, r.Feature.Confidence)
	}
}

func TestVolumePriceTrendConfirmedAccumulation(t *testing.T) {
	bars := barsFromCloses(driftingCloses(40, 5, 0.02), 1000)
	bars[len(bars)-1].Volume = 2000

	r := VolumePriceTrend(bars, 20)
	if !r.VolumeConfirmed {
		t.Fatalf("volume surge should confirm, relative volume %f", r.RelativeVolume)
	}
	if r.Feature.Strength <= 0 {
		t.Errorf("confirmed accumulation should read bullish, got %f", r.Feature.Strength)
	}
}

func TestVolumePriceTrendDistributionNotGated(t *testing.T) {
	// The volume gate applies to the bullish read only: distribution on
	// flat volume still reads bearish.
	r := VolumePriceTrend(barsFromCloses(driftingCloses(40, 10, -0.02), 1000), 20)
	if r.Feature.Strength >= 0 {
		t.Errorf("falling VPT should read bearish regardless of volume, got %f", r.Feature.Strength)
	}
}

func TestSectorRelativeStrengthOutperformer(t *testing.T) {
	// Symbol up ~10% over 50 bars while sector and market crawl.
	own := barsFromCloses(driftingCloses(60, 5, 0.01), 1000)
	sector := barsFromCloses(driftingCloses(60, 50, 0.002), 1000)
	market := barsFromCloses(driftingCloses(60, 400, 0.01), 1000)

	r := SectorRelativeStrength(own, sector, market)
	if r.Feature.Strength <= 0 {
		t.Fatalf("outperformer should read bullish, got %f (vsSector %f vsMarket %f consistent %d)",
			r.Feature.Strength, r.VsSector, r.VsMarket, r.Consistent)
	}
	if r.Consistent < rsMinConsistent {
		t.Errorf("steady outperformance should be consistent, got %d", r.Consistent)
	}
}

func TestSectorRelativeStrengthMissingReferenceNeutral(t *testing.T) {
	own := barsFromCloses(driftingCloses(60, 5, 0.01), 1000)
	r := SectorRelativeStrength(own, nil, nil)
	if r.Feature.Strength != 0 {
		t.Errorf("missing references must read neutral, got %f", r.Feature.Strength)
	}
}

func TestAdaptiveBollingerLowerBandBullish(t *testing.T) {
	// Wide oscillation, price probing under the lower band.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 10 + 0.5*math.Sin(float64(i)*0.7)
	}
	reg := regime.Classification{Trend: regime.TrendMeanReverting, Volatility: regime.VolLow}

	r := AdaptiveBollinger(closes, 9.2, 20, reg)
	if r.Squeeze {
		t.Fatal("wide oscillation should not read as a squeeze")
	}
	if r.Feature.Strength <= 0 {
		t.Errorf("price under the lower band should read bullish, got %f (position %f)", r.Feature.Strength, r.Position)
	}
}

func TestAdaptiveBollingerSqueezeForcesNeutral(t *testing.T) {
	// Near-flat closes compress the bands below the squeeze width.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 10 + 0.001*math.Sin(float64(i))
	}
	reg := regime.Classification{Trend: regime.TrendMeanReverting, Volatility: regime.VolLow}

	r := AdaptiveBollinger(closes, 9.99, 20, reg)
	if !r.Squeeze {
		t.Fatalf("flat series should squeeze, width %f", r.Width)
	}
	if r.Feature.Strength != 0 || r.Feature.Confidence != 0 {
		t.Error("squeeze must force the feature neutral")
	}
}

func TestAdaptiveBollingerParamsFollowRegime(t *testing.T) {
	closes := driftingCloses(60, 10, 0.01)
	high := AdaptiveBollinger(closes, 10, 20, regime.Classification{Volatility: regime.VolHigh, Trend: regime.TrendTrending})
	low := AdaptiveBollinger(closes, 10, 20, regime.Classification{Volatility: regime.VolLow, Trend: regime.TrendTrending})
	if high.Period >= low.Period {
		t.Errorf("high vol should use the shorter period: %f vs %f", high.Period, low.Period)
	}
	if high.DevMult <= low.DevMult {
		t.Errorf("high vol should use the wider band: %f vs %f", high.DevMult, low.DevMult)
	}
}

func TestSessionVWAPDistance(t *testing.T) {
	bars := barsFromCloses([]float64{10, 10, 10, 10}, 1000)
	r := SessionVWAP(bars, 9.5)
	if r.VWAP <= 0 {
		t.Fatal("vwap should compute")
	}
	if r.DistancePercent >= 0 {
		t.Errorf("price under vwap should read negative distance, got %f", r.DistancePercent)
	}
}

func TestSessionVWAPNoVolume(t *testing.T) {
	bars := barsFromCloses([]float64{10, 10}, 0)
	if r := SessionVWAP(bars, 10); r.VWAP != 0 {
		t.Errorf("zero volume should yield zero vwap, got %f", r.VWAP)
	}
}

func TestWilliamsRSelloffOversold(t *testing.T) {
	closes := driftingCloses(30, 10, 0.05)
	for i := 20; i < 30; i++ {
		closes[i] = closes[19] - float64(i-19)*0.08
	}
	r := WilliamsR(barsFromCloses(closes, 1000), 14)
	if !r.Oversold {
		t.Errorf("hard selloff should read oversold, got %f", r.Value)
	}
}

func TestBollingerSqueezeDetector(t *testing.T) {
	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 10 + 0.0005*float64(i%3)
	}
	if r := BollingerSqueeze(flat, 20); !r.Squeeze {
		t.Errorf("flat series should squeeze, width %f", r.Width)
	}

	wild := make([]float64, 40)
	for i := range wild {
		wild[i] = 10 + 0.8*math.Sin(float64(i)*0.9)
	}
	if r := BollingerSqueeze(wild, 20); r.Squeeze {
		t.Errorf("wild series should not squeeze, width %f", r.Width)
	}
}

// appendLeg extends a close series with n bars stepping by step each.
func appendLeg(closes []float64, n int, step float64) []float64 {
	last := closes[len(closes)-1]
	for i := 1; i <= n; i++ {
		closes = append(closes, last+float64(i)*step)
	}
	return closes
}

func TestMomentumDivergenceBullish(t *testing.T) {
	// A hard crash drives TSI deeply negative by its pivot low. After a
	// bounce, a much gentler decline prints a marginally lower price low
	// while the smoothed momentum has already recovered well off its floor.
	closes := driftingCloses(40, 10, 0.02)
	closes = appendLeg(closes, 15, -0.5)  // crash to the first low
	closes = appendLeg(closes, 10, 0.25)  // bounce
	closes = appendLeg(closes, 8, -0.32)  // shallow leg to a lower low
	closes = appendLeg(closes, 3, 0.15)   // confirming bars

	r := MomentumDivergence(barsFromCloses(closes, 1000), 30)
	if r.Type != DivergenceBullish {
		t.Fatalf("expected bullish divergence, got %s (price %f tsi %f)", r.Type, r.PricePercent, r.MomentumDelta)
	}
	if r.MomentumDelta <= 0 {
		t.Fatalf("bullish divergence needs a rising momentum low, got %f", r.MomentumDelta)
	}
	if r.PricePercent >= 0 {
		t.Fatalf("bullish divergence needs a lower price low, got %f", r.PricePercent)
	}
	if r.Feature.Strength <= 0 {
		t.Errorf("bullish divergence should carry positive strength, got %f", r.Feature.Strength)
	}
}

func TestMomentumDivergenceBearish(t *testing.T) {
	// Mirror image: a vertical rally, pullback, then a grinding marginal
	// higher high on fading momentum.
	closes := driftingCloses(40, 20, -0.02)
	closes = appendLeg(closes, 15, 0.5)
	closes = appendLeg(closes, 10, -0.25)
	closes = appendLeg(closes, 8, 0.32)
	closes = appendLeg(closes, 3, -0.15)

	r := MomentumDivergence(barsFromCloses(closes, 1000), 30)
	if r.Type != DivergenceBearish {
		t.Fatalf("expected bearish divergence, got %s (price %f tsi %f)", r.Type, r.PricePercent, r.MomentumDelta)
	}
	if r.Feature.Strength >= 0 {
		t.Errorf("bearish divergence should carry negative strength, got %f", r.Feature.Strength)
	}
}

func TestMomentumDivergenceShortHistoryNeutral(t *testing.T) {
	r := MomentumDivergence(barsFromCloses(driftingCloses(30, 10, 0.01), 1000), 20)
	if r.Type != DivergenceNone || r.Feature.Strength != 0 {
		t.Errorf("short history must be neutral, got %s strength=%f", r.Type, r.Feature.Strength)
	}
}

func TestEngineEvaluateSnapshot(t *testing.T) {
	eng := NewEngine(Config{}, zerolog.Nop())
	bars := barsFromCloses(driftingCloses(120, 5, 0.01), 5000)

	ev, err := eng.Evaluate(Input{Symbol: "SIRI", Bars: bars, AsOf: bars[len(bars)-1].Time})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.Snapshot == nil || len(ev.Snapshot.Indicators) != len(learning.Categories()) {
		t.Fatalf("snapshot must carry one feature per category")
	}
	for _, f := range ev.Snapshot.Indicators {
		if learning.BaseCategoryWeight(f.Category) == 0 {
			t.Errorf("feature %s has no scoring category", f.Name)
		}
	}
	if ev.Snapshot.Price <= 0 {
		t.Error("snapshot price must be filled from the last close")
	}
}

func TestEngineEvaluateNoBars(t *testing.T) {
	eng := NewEngine(DefaultConfig(), zerolog.Nop())
	if _, err := eng.Evaluate(Input{Symbol: "SIRI"}); err == nil {
		t.Fatal("no bars must error")
	}
}

func TestSectorReferenceSymbol(t *testing.T) {
	if s := SectorReferenceSymbol("Technology"); s != "XLK" {
		t.Errorf("technology should map to XLK, got %s", s)
	}
	if s := SectorReferenceSymbol("something new"); s != MarketReferenceSymbol {
		t.Errorf("unknown sector should fall back to %s, got %s", MarketReferenceSymbol, s)
	}
}
