package learning

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContextAlignment describes how the broader market context relates to a
// long setup at decision time.
type ContextAlignment string

const (
	ContextAligned ContextAlignment = "aligned"
	ContextOpposed ContextAlignment = "opposed"
	ContextNeutral ContextAlignment = "neutral"
)

// IndicatorFeature is one indicator's raw reading at decision time.
// Strength is signed direction times magnitude in [-1, 1]; Confidence is
// the indicator's own self-assessment in [0, 1]. Neither has weights
// applied, so the same feature can be re-scored under any weight set.
type IndicatorFeature struct {
	Category   Category `json:"category"`
	Name       string   `json:"name"`
	Strength   float64  `json:"strength"`
	Confidence float64  `json:"confidence"`
}

// FeatureSnapshot freezes everything the scoring model saw for one
// evaluation. It is journaled with the decision and is the unit the
// learning cycle replays.
type FeatureSnapshot struct {
	Symbol              string             `json:"symbol"`
	Price               float64            `json:"price"`
	Indicators          []IndicatorFeature `json:"indicators"`
	SentimentScore      float64            `json:"sentiment_score"`
	SentimentConfidence float64            `json:"sentiment_confidence"`
	Context             ContextAlignment   `json:"context"`
	RSI                 float64            `json:"rsi"`
	VWAPDistancePercent float64            `json:"vwap_distance_percent"`
	Regime              string             `json:"regime"`
	CapturedAt          time.Time          `json:"captured_at"`
}

// Encode serializes the snapshot for the decision journal.
func (s *FeatureSnapshot) Encode() (json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode feature snapshot: %w", err)
	}
	return raw, nil
}

// DecodeFeatures restores a journaled snapshot. Decisions journaled without
// features (refusals short-circuited before scoring) decode to nil.
func DecodeFeatures(raw json.RawMessage) (*FeatureSnapshot, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s FeatureSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode feature snapshot: %w", err)
	}
	return &s, nil
}
