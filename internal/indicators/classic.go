package indicators

import (
	"github.com/markcheno/go-talib"

	"intraday-trading-bot/internal/marketdata"
)

// Textbook oscillators kept for the legacy scoring hooks and the decision
// payload. They do not produce scored features; the adaptive indicators
// superseded them in the model, but analysts still read them off journaled
// decisions.

// Williams %R textbook lines.
const (
	WilliamsOversold   = -80.0
	WilliamsOverbought = -20.0
)

// WilliamsRResult is the textbook Williams %R reading in [-100, 0].
type WilliamsRResult struct {
	Value      float64 `json:"value"`
	Oversold   bool    `json:"oversold"`
	Overbought bool    `json:"overbought"`
}

// WilliamsR computes Williams %R over the period. Too little history
// yields the neutral midpoint reading.
func WilliamsR(bars []marketdata.Bar, period int) WilliamsRResult {
	if len(bars) < period+1 {
		return WilliamsRResult{Value: -50}
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}

	wr := talib.WillR(highs, lows, barCloses(bars), period)
	v := wr[len(wr)-1]
	return WilliamsRResult{
		Value:      v,
		Oversold:   v <= WilliamsOversold,
		Overbought: v >= WilliamsOverbought,
	}
}

// SqueezeResult is the standalone band-width squeeze detector.
type SqueezeResult struct {
	Width     float64 `json:"width"`
	Threshold float64 `json:"threshold"`
	Squeeze   bool    `json:"squeeze"`
}

// BollingerSqueeze flags a band-width compression over the textbook 20/2
// bands. Used as a veto: signals that depend on band position are unusable
// while the range is still coiling.
func BollingerSqueeze(closes []float64, period int) SqueezeResult {
	result := SqueezeResult{Threshold: bbSqueezeWidth}
	if period <= 0 {
		period = 20
	}
	if len(closes) < period+1 {
		return result
	}

	upper, middle, lower := talib.BBands(closes, period, 2, 2, talib.SMA)
	last := len(closes) - 1
	if middle[last] <= 0 {
		return result
	}
	result.Width = (upper[last] - lower[last]) / middle[last]
	result.Squeeze = result.Width < bbSqueezeWidth
	return result
}
