package indicators

import (
	"math"

	"github.com/markcheno/go-talib"

	"intraday-trading-bot/internal/learning"
	"intraday-trading-bot/internal/marketdata"
)

// Divergence types.
const (
	DivergenceNone    = "none"
	DivergenceBullish = "bullish"
	DivergenceBearish = "bearish"
)

// TSI smoothing periods, shortened from the classic 25/13 for intraday bars.
const (
	tsiSlowPeriod = 13
	tsiFastPeriod = 7
)

// DivergenceResult describes a price/momentum divergence between the two
// most recent confirmed pivots.
type DivergenceResult struct {
	Type          string                    `json:"type"`
	PricePercent  float64                   `json:"price_percent"`
	MomentumDelta float64                   `json:"momentum_delta"`
	PivotBar      int                       `json:"pivot_bar"`
	Feature       learning.IndicatorFeature `json:"feature"`
}

// MomentumDivergence looks for the classic reversal tell on double-smoothed
// momentum (a true-strength index): price printing a lower low while TSI
// prints a higher low (bullish), or a higher high with a weaker TSI high
// (bearish). Pivots need two confirming bars on each side, so a divergence
// is never read off the live bar.
func MomentumDivergence(bars []marketdata.Bar, window int) DivergenceResult {
	result := DivergenceResult{
		Type:    DivergenceNone,
		Feature: neutralFeature(learning.CategoryMomentumDivergence, "momentum_divergence"),
	}

	closes := barCloses(bars)
	if len(closes) < tsiSlowPeriod+tsiFastPeriod+window {
		return result
	}

	tsi := tsiSeries(closes)
	from := len(closes) - window
	if from < tsiSlowPeriod+tsiFastPeriod {
		from = tsiSlowPeriod + tsiFastPeriod
	}

	lows, highs := pivots(closes, from, 2)

	var bullish, bearish *divergencePair
	if len(lows) >= 2 {
		a, b := lows[len(lows)-2], lows[len(lows)-1]
		if closes[b] < closes[a] && tsi[b] > tsi[a] {
			bullish = &divergencePair{a: a, b: b}
		}
	}
	if len(highs) >= 2 {
		a, b := highs[len(highs)-2], highs[len(highs)-1]
		if closes[b] > closes[a] && tsi[b] < tsi[a] {
			bearish = &divergencePair{a: a, b: b}
		}
	}

	// When both patterns exist, the one confirmed more recently wins.
	pair := bullish
	kind := DivergenceBullish
	if bearish != nil && (bullish == nil || bearish.b > bullish.b) {
		pair = bearish
		kind = DivergenceBearish
	}
	if pair == nil {
		return result
	}

	a, b := pair.a, pair.b
	result.Type = kind
	result.PivotBar = b
	result.PricePercent = (closes[b] - closes[a]) / closes[a] * 100
	result.MomentumDelta = tsi[b] - tsi[a]

	// TSI spans [-100, 100]; a 50-point disagreement is a full-strength read.
	tsiGap := abs(result.MomentumDelta)
	strength := clamp(0.3+tsiGap/50, 0.3, 1.0)
	if kind == DivergenceBearish {
		strength = -strength
	}
	result.Feature.Strength = strength

	// Freshly confirmed divergences are worth more than stale ones.
	recency := 1 - float64(len(closes)-1-b)/float64(window)
	result.Feature.Confidence = clamp(0.45+tsiGap/80+0.2*recency, 0.3, 0.95)
	return result
}

// tsiSeries computes the true-strength index aligned with the closes:
// 100 x EMA(EMA(momentum)) / EMA(EMA(|momentum|)). Entries inside the
// smoothing warmup are zero.
func tsiSeries(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < tsiSlowPeriod+tsiFastPeriod+1 {
		return out
	}

	m := make([]float64, len(closes)-1)
	am := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		m[i-1] = closes[i] - closes[i-1]
		am[i-1] = math.Abs(m[i-1])
	}

	num := talib.Ema(talib.Ema(m, tsiSlowPeriod), tsiFastPeriod)
	den := talib.Ema(talib.Ema(am, tsiSlowPeriod), tsiFastPeriod)
	for i := tsiSlowPeriod + tsiFastPeriod; i < len(closes); i++ {
		if den[i-1] != 0 {
			out[i] = 100 * num[i-1] / den[i-1]
		}
	}
	return out
}

type divergencePair struct {
	a, b int
}

// pivots returns indices of confirmed local minima and maxima at or after
// from, requiring wing strictly-worse bars on both sides.
func pivots(closes []float64, from, wing int) (lows, highs []int) {
	if from < wing {
		from = wing
	}
	for i := from; i < len(closes)-wing; i++ {
		isLow, isHigh := true, true
		for k := 1; k <= wing; k++ {
			if closes[i] >= closes[i-k] || closes[i] >= closes[i+k] {
				isLow = false
			}
			if closes[i] <= closes[i-k] || closes[i] <= closes[i+k] {
				isHigh = false
			}
		}
		if isLow {
			lows = append(lows, i)
		}
		if isHigh {
			highs = append(highs, i)
		}
	}
	return lows, highs
}
