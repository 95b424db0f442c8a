package indicators

import (
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"intraday-trading-bot/internal/learning"
)

// RSI z-score: instead of the textbook 30/70 lines, the current RSI is
// ranked against its own recent distribution. A reading two-plus standard
// deviations under its mean is oversold for this symbol in this regime,
// whatever the absolute number is. High-volatility regimes demand the wider
// band before a signal fires.
const (
	rsiZWindowFactor  = 3 // z-score window = factor * RSI period
	rsiZBandHighVol   = 2.0
	rsiZBandNormal    = 1.5
)

// RSIZScoreResult carries the full arithmetic for journaling and tests.
type RSIZScoreResult struct {
	RSI       float64                   `json:"rsi"`
	Mean      float64                   `json:"mean"`
	StdDev    float64                   `json:"std_dev"`
	ZScore    float64                   `json:"z_score"`
	Band      float64                   `json:"band"`
	Feature   learning.IndicatorFeature `json:"feature"`
}

// RSIZScore evaluates the adaptive RSI signal. Closes are oldest first.
// Too little history yields a neutral zero feature.
func RSIZScore(closes []float64, period int, highVol bool) RSIZScoreResult {
	band := rsiZBandNormal
	if highVol {
		band = rsiZBandHighVol
	}

	result := RSIZScoreResult{
		Band:    band,
		Feature: neutralFeature(learning.CategoryRSIZScore, "rsi_zscore"),
	}

	window := rsiZWindowFactor * period
	if len(closes) < period+window {
		return result
	}

	rsis := talib.Rsi(closes, period)
	valid := rsis[period:] // talib zero-fills the lookback prefix
	sample := valid[len(valid)-window:]

	result.RSI = sample[len(sample)-1]
	result.Mean = stat.Mean(sample, nil)
	result.StdDev = stat.StdDev(sample, nil)
	if result.StdDev == 0 {
		return result
	}

	result.ZScore = (result.RSI - result.Mean) / result.StdDev

	switch {
	case result.ZScore <= -band:
		// Oversold against its own distribution: bullish mean reversion.
		result.Feature.Strength = clamp((-result.ZScore-band)/band, 0, 1)
		if result.Feature.Strength < 0.1 {
			result.Feature.Strength = 0.1
		}
	case result.ZScore >= band:
		// Overbought: argues against a fresh long.
		result.Feature.Strength = -clamp((result.ZScore-band)/band, 0, 1)
		if result.Feature.Strength > -0.1 {
			result.Feature.Strength = -0.1
		}
	default:
		return result
	}

	// Deeper excursions past the band are more definite readings.
	excess := abs(result.ZScore) - band
	result.Feature.Confidence = clamp(0.6+excess*0.2, 0, 1)
	return result
}
