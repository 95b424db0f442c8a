package indicators

import (
	"github.com/markcheno/go-talib"

	"intraday-trading-bot/internal/learning"
	"intraday-trading-bot/internal/regime"
)

// Adaptive Bollinger parameters. High-volatility regimes use a shorter,
// wider band (the textbook 20/2 would whipsaw); low-volatility regimes use
// a longer, tighter band so small excursions still register.
const (
	bbHighVolPeriod = 14
	bbHighVolDev    = 2.5
	bbLowVolPeriod  = 26
	bbLowVolDev     = 1.8

	// Band width under this fraction of the middle band is a squeeze: the
	// band position means nothing until the range resolves.
	bbSqueezeWidth = 0.015
)

// BollingerResult is the regime-adaptive band position read.
type BollingerResult struct {
	Period   float64                   `json:"period"`
	DevMult  float64                   `json:"dev_mult"`
	Upper    float64                   `json:"upper"`
	Middle   float64                   `json:"middle"`
	Lower    float64                   `json:"lower"`
	Position float64                   `json:"position"` // 0 at lower band, 1 at upper
	Width    float64                   `json:"width"`
	Squeeze  bool                      `json:"squeeze"`
	Feature  learning.IndicatorFeature `json:"feature"`
}

// AdaptiveBollinger reads where price sits inside bands whose period and
// width adapt to the regime's volatility bucket. A detected squeeze forces
// the feature neutral regardless of position: inside a squeeze the band
// location carries no mean-reversion information.
func AdaptiveBollinger(closes []float64, price float64, basePeriod int, reg regime.Classification) BollingerResult {
	period, dev := basePeriod, 2.0
	if reg.HighVolatility() {
		period, dev = bbHighVolPeriod, bbHighVolDev
	} else if !reg.Uncertain {
		period, dev = bbLowVolPeriod, bbLowVolDev
	}

	result := BollingerResult{
		Period:  float64(period),
		DevMult: dev,
		Feature: neutralFeature(learning.CategoryAdaptiveBollinger, "adaptive_bollinger"),
	}
	if len(closes) < period+1 || price <= 0 {
		return result
	}

	upper, middle, lower := talib.BBands(closes, period, dev, dev, talib.SMA)
	last := len(closes) - 1
	result.Upper = upper[last]
	result.Middle = middle[last]
	result.Lower = lower[last]

	span := result.Upper - result.Lower
	if span <= 0 || result.Middle <= 0 {
		return result
	}
	result.Position = (price - result.Lower) / span
	result.Width = span / result.Middle
	result.Squeeze = result.Width < bbSqueezeWidth
	if result.Squeeze {
		return result
	}

	// Band position maps to a mean-reversion read: hugging the lower band
	// argues for a long, riding the upper band argues against adding one.
	switch {
	case result.Position <= 0.15:
		result.Feature.Strength = clamp((0.15-result.Position)/0.15, 0.2, 1)
	case result.Position >= 0.85:
		result.Feature.Strength = -clamp((result.Position-0.85)/0.15, 0.2, 1)
	default:
		return result
	}

	result.Feature.Confidence = 0.6
	if reg.Trend == regime.TrendMeanReverting {
		result.Feature.Confidence = 0.8
	}
	return result
}
