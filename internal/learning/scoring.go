package learning

import (
	"math"
	"strings"
)

// Confidence model constants. Contributions move the score away from the
// neutral base; the confidence multiplier scales that deviation, so a
// poorly calibrated model shrinks toward base instead of being shifted.
const (
	BaseConfidence = 5.0
	MaxConfidence  = 10.0

	bullishSentimentCut     = 0.3
	bearishSentimentCut     = -0.3
	bullishSentimentFactor  = 1.5
	bearishSentimentFactor  = 1.0
	neutralSentimentFactor  = 0.2
	contextAlignedBonus     = 0.4
	contextOpposedPenalty   = -0.3
)

// Contribution is one indicator's share of the final confidence.
// Value = Strength * Confidence * Multiplier * CategoryWeight.
type Contribution struct {
	Category       Category `json:"category"`
	Name           string   `json:"name"`
	Strength       float64  `json:"strength"`
	Confidence     float64  `json:"confidence"`
	Multiplier     float64  `json:"multiplier"`
	CategoryWeight float64  `json:"category_weight"`
	Value          float64  `json:"value"`
}

// ScoreBreakdown is the full arithmetic behind one confidence value. The
// parts always reconstruct the final score:
// Final = clamp(Base + (sum(Contributions) + SentimentDelta + ContextDelta) * ConfidenceMultiplier).
type ScoreBreakdown struct {
	Base                 float64        `json:"base"`
	Contributions        []Contribution `json:"contributions"`
	SentimentDelta       float64        `json:"sentiment_delta"`
	ContextDelta         float64        `json:"context_delta"`
	ConfidenceMultiplier float64        `json:"confidence_multiplier"`
	Raw                  float64        `json:"raw"`
	Final                float64        `json:"final"`
}

// ContributionSum adds up the indicator contributions alone.
func (b *ScoreBreakdown) ContributionSum() float64 {
	var sum float64
	for _, c := range b.Contributions {
		sum += c.Value
	}
	return sum
}

// Score evaluates a feature snapshot under a weight set. The same snapshot
// scored under the same weights always yields the same breakdown, which is
// what lets the learning cycle replay historical decisions.
func Score(snap *FeatureSnapshot, w Weights) *ScoreBreakdown {
	b := &ScoreBreakdown{
		Base:                 BaseConfidence,
		ConfidenceMultiplier: w.ConfidenceMultiplier,
	}

	for _, f := range snap.Indicators {
		weight := BaseCategoryWeight(f.Category)
		if weight == 0 {
			continue
		}
		m, ok := w.Multipliers[f.Category]
		if !ok {
			m = 1.0
		}
		strength := clamp(f.Strength, -1, 1)
		conf := clamp(f.Confidence, 0, 1)
		b.Contributions = append(b.Contributions, Contribution{
			Category:       f.Category,
			Name:           f.Name,
			Strength:       strength,
			Confidence:     conf,
			Multiplier:     m,
			CategoryWeight: weight,
			Value:          strength * conf * m * weight,
		})
	}

	b.SentimentDelta = sentimentDelta(snap.SentimentScore, snap.SentimentConfidence)
	b.ContextDelta = contextDelta(snap.Context)

	b.Raw = b.Base + (b.ContributionSum()+b.SentimentDelta+b.ContextDelta)*w.ConfidenceMultiplier
	b.Final = clamp(b.Raw, 0, MaxConfidence)
	return b
}

// sentimentDelta converts a composite sentiment reading into a confidence
// step. Strong bullish sentiment helps more than neutral sentiment; strong
// bearish sentiment actively hurts a long setup.
func sentimentDelta(score, confidence float64) float64 {
	switch {
	case score > bullishSentimentCut:
		return bullishSentimentFactor * score
	case score < bearishSentimentCut:
		return -bearishSentimentFactor * math.Abs(score)
	default:
		return neutralSentimentFactor * clamp(confidence, 0, 1)
	}
}

func contextDelta(alignment ContextAlignment) float64 {
	switch alignment {
	case ContextAligned:
		return contextAlignedBonus
	case ContextOpposed:
		return contextOpposedPenalty
	default:
		return 0
	}
}

// DominantSetup names the indicator with the largest positive contribution.
// Falls back to "composite" when nothing contributed positively.
func DominantSetup(b *ScoreBreakdown) string {
	best := ""
	bestValue := 0.0
	for _, c := range b.Contributions {
		if c.Value > bestValue {
			bestValue = c.Value
			best = c.Name
		}
	}
	if best == "" {
		return "composite"
	}
	return best
}

// Prediction horizons by setup family, in hours. VWAP reversion resolves
// within the session, RSI mean reversion takes most of a day, volume surges
// burn out fast. The base horizon shrinks for high-confidence setups, which
// are expected to resolve faster, and stretches for marginal ones.
const (
	HorizonVWAPHours    = 4.0
	HorizonRSIHours     = 8.0
	HorizonVolumeHours  = 2.0
	HorizonDefaultHours = 6.0

	horizonScaleMin = 0.6
	horizonScaleMax = 1.4
)

// HorizonForSetup maps a setup name and final confidence to the expected
// resolution horizon. Confidence at the anchor leaves the base untouched.
func HorizonForSetup(setup string, confidence float64) float64 {
	s := strings.ToLower(setup)
	var base float64
	switch {
	case strings.Contains(s, "vwap"):
		base = HorizonVWAPHours
	case strings.Contains(s, "rsi"):
		base = HorizonRSIHours
	case strings.Contains(s, "volume"), strings.Contains(s, "vpt"), strings.Contains(s, "flow"):
		base = HorizonVolumeHours
	default:
		base = HorizonDefaultHours
	}
	if confidence <= 0 {
		return base
	}
	return base * clamp(confidenceMoveAnchor/confidence, horizonScaleMin, horizonScaleMax)
}

// MoveProjection is the falsifiable claim derived from a scored snapshot.
type MoveProjection struct {
	MovePercent float64 `json:"move_percent"`
	Hours       float64 `json:"hours"`
	Setup       string  `json:"setup"`
	TargetPrice float64 `json:"target_price"`
}

// Expected move model: a base intraday move plus setup-specific bonuses,
// scaled by how far the confidence sits above the bar.
const (
	baseMovePercent      = 3.0
	rsiOversoldMax       = 2.0
	vwapDiscountCut      = -2.0
	vwapDiscountFactor   = 0.5
	sentimentMoveFactor  = 2.0
	confidenceMoveAnchor = 7.0
)

// ProjectMove builds the expected-move prediction for a scored snapshot.
// The oversold bonus keys off the adaptive RSI band and the result is
// floored at the minimum expected move threshold.
func ProjectMove(snap *FeatureSnapshot, b *ScoreBreakdown, w Weights) MoveProjection {
	move := baseMovePercent

	oversold := w.RSIOversold
	if oversold <= 0 {
		oversold = DefaultWeights().RSIOversold
	}
	if snap.RSI > 0 && snap.RSI < oversold {
		move += math.Max(0, (oversold-snap.RSI)/oversold) * rsiOversoldMax
	}
	if snap.VWAPDistancePercent < vwapDiscountCut {
		move += math.Abs(snap.VWAPDistancePercent) * vwapDiscountFactor
	}
	if snap.SentimentScore > bullishSentimentCut {
		move += snap.SentimentScore * sentimentMoveFactor
	}

	move *= b.Final / confidenceMoveAnchor
	if floor := w.MinExpectedMovePct; floor > 0 && move < floor {
		move = floor
	}

	setup := DominantSetup(b)
	return MoveProjection{
		MovePercent: move,
		Hours:       HorizonForSetup(setup, b.Final),
		Setup:       setup,
		TargetPrice: snap.Price * (1 + move/100),
	}
}
