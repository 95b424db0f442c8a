package learning

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"intraday-trading-bot/internal/journal"
)

// PerformanceStats summarizes a set of realized outcomes.
type PerformanceStats struct {
	Count       int     `json:"count"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"win_rate"`
	AvgReturn   float64 `json:"avg_return"`
	ReturnStdev float64 `json:"return_stdev"`
	SharpeLike  float64 `json:"sharpe_like"`
	MaxDrawdown float64 `json:"max_drawdown"`
	AvgAccuracy float64 `json:"avg_accuracy"`
	TotalPnL    float64 `json:"total_pnl"`
}

// ComputeStats aggregates outcomes into performance metrics. Returns are the
// per-trade realized percents; drawdown walks the cumulative return path in
// the order given, so pass outcomes chronologically for a meaningful value.
func ComputeStats(outcomes []*journal.OutcomeRecord) PerformanceStats {
	s := PerformanceStats{Count: len(outcomes)}
	if s.Count == 0 {
		return s
	}

	returns := make([]float64, 0, len(outcomes))
	accuracies := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		returns = append(returns, o.RealizedPercent)
		accuracies = append(accuracies, o.AccuracyScore)
		s.TotalPnL += o.RealizedPnL
		if o.Success {
			s.Wins++
		}
	}

	s.WinRate = float64(s.Wins) / float64(s.Count)
	s.AvgReturn = stat.Mean(returns, nil)
	s.AvgAccuracy = stat.Mean(accuracies, nil)
	if s.Count > 1 {
		s.ReturnStdev = stat.StdDev(returns, nil)
	}
	if s.ReturnStdev > 0 {
		s.SharpeLike = s.AvgReturn / s.ReturnStdev
	}
	s.MaxDrawdown = maxDrawdown(returns)
	return s
}

// maxDrawdown is the deepest peak-to-trough drop of the cumulative return
// path, as a positive percent.
func maxDrawdown(returns []float64) float64 {
	var cum, peak, worst float64
	for _, r := range returns {
		cum += r
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > worst {
			worst = dd
		}
	}
	return worst
}

// CalibrationRatio compares realized win rate against the win rate the
// confidence values promised (confidence/10 read as a probability).
// 1.0 means perfectly calibrated, below 1 means overconfident. The ratio is
// bounded to [0, 2] so a tiny predicted base cannot explode the adjustment.
func CalibrationRatio(examples []journal.TrainingExample) float64 {
	if len(examples) == 0 {
		return 1.0
	}

	var predicted, wins float64
	for _, ex := range examples {
		predicted += clamp(ex.Decision.Confidence/10, 0, 1)
		if ex.Outcome.Success {
			wins++
		}
	}
	predicted /= float64(len(examples))
	if predicted <= 0 {
		return 1.0
	}

	actual := wins / float64(len(examples))
	return clamp(actual/predicted, 0, 2)
}

// Sizing multiplier bounds. Applied to position size based on recent
// realized performance; neutral until enough outcomes exist.
const (
	sizingMinSamples  = 10
	sizingHotWinRate  = 0.70
	sizingColdWinRate = 0.40
	sizingHotFactor   = 1.2
	sizingColdFactor  = 0.7
)

// SizingMultiplier scales position size by recent performance: shrink when
// cold, grow a little when hot, neutral without enough history.
func SizingMultiplier(stats PerformanceStats) float64 {
	if stats.Count < sizingMinSamples {
		return 1.0
	}
	switch {
	case stats.WinRate > sizingHotWinRate:
		return sizingHotFactor
	case stats.WinRate < sizingColdWinRate:
		return sizingColdFactor
	default:
		return 1.0
	}
}

// Prediction accuracy weighting: direction matters most, then magnitude,
// then timing.
const (
	accuracyDirectionWeight = 0.5
	accuracyMagnitudeWeight = 0.3
	accuracyTimingWeight    = 0.2
)

// PredictionAccuracy scores a resolved prediction in [0, 1].
func PredictionAccuracy(expectedMovePercent, actualMovePercent, expectedHours, actualHours float64) float64 {
	var direction float64
	if (expectedMovePercent >= 0) == (actualMovePercent >= 0) {
		direction = 1
	}

	magnitude := 0.0
	if expectedMovePercent != 0 {
		magnitude = math.Max(0, 1-math.Abs(actualMovePercent-expectedMovePercent)/math.Abs(expectedMovePercent))
	}

	timing := 0.0
	if expectedHours > 0 {
		timing = math.Max(0, 1-math.Abs(actualHours-expectedHours)/expectedHours)
	}

	return accuracyDirectionWeight*direction +
		accuracyMagnitudeWeight*magnitude +
		accuracyTimingWeight*timing
}
