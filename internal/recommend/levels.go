package recommend

import (
	"fmt"
	"math"
)

// Price level bands. The stop tightens and the target stretches as
// confidence rises; a marginal pass gets the widest stop and the most
// modest target.
const (
	baseStopPercent   = 3.0
	baseTargetPercent = 6.0

	highConfidenceBand  = 9.0
	highBandStopPercent = 2.5
	highBandTargetPct   = 7.0

	lowConfidenceBand  = 7.5
	lowBandStopPercent = 3.5
	lowBandTargetPct   = 5.5
)

// ComputeLevels derives stop and target from the entry price and the
// confidence band, then checks feasibility: stop < entry < target and
// reward/risk at or above the learned minimum.
func ComputeLevels(entry, confidence, riskRewardMin float64) (Levels, error) {
	if entry <= 0 {
		return Levels{}, fmt.Errorf("non-positive entry price %.4f", entry)
	}

	stopPct, targetPct := baseStopPercent, baseTargetPercent
	switch {
	case confidence >= highConfidenceBand:
		stopPct, targetPct = highBandStopPercent, highBandTargetPct
	case confidence <= lowConfidenceBand:
		stopPct, targetPct = lowBandStopPercent, lowBandTargetPct
	}

	l := Levels{
		Entry:  entry,
		Stop:   entry * (1 - stopPct/100),
		Target: entry * (1 + targetPct/100),
	}
	if !(l.Stop < l.Entry && l.Entry < l.Target) {
		return Levels{}, fmt.Errorf("degenerate levels stop=%.4f entry=%.4f target=%.4f", l.Stop, l.Entry, l.Target)
	}

	l.RiskReward = (l.Target - l.Entry) / (l.Entry - l.Stop)
	if l.RiskReward < riskRewardMin {
		return Levels{}, fmt.Errorf("reward/risk %.2f below minimum %.2f", l.RiskReward, riskRewardMin)
	}
	return l, nil
}

// Sizing bounds. The fraction of equity committed scales with confidence
// and recent realized performance, clamped so no single trade dominates
// the book. Sub-$3 names get half size: their spreads and halts make the
// modeled stop unreliable.
const (
	minPositionFraction = 0.02
	maxPositionFraction = 0.15

	confidenceSizeCap = 1.5

	cheapPriceCut   = 3.0
	cheapSizeFactor = 0.5
)

// PositionFraction computes the equity fraction for one trade.
func PositionFraction(baseFraction, confidence, entry, performanceMultiplier float64) float64 {
	confFactor := math.Min(0.5+confidence/10, confidenceSizeCap)
	fraction := baseFraction * confFactor * performanceMultiplier
	if entry < cheapPriceCut {
		fraction *= cheapSizeFactor
	}
	return clamp(fraction, minPositionFraction, maxPositionFraction)
}

// ShareCount converts an equity fraction into whole shares.
func ShareCount(equity, fraction, entry float64) float64 {
	if entry <= 0 || equity <= 0 {
		return 0
	}
	return math.Floor(equity * fraction / entry)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
