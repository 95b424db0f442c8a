// Package sentiment aggregates per-symbol sentiment from news, forum and
// social sources into one composite reading. Sources degrade softly: an
// outage lowers the composite confidence instead of failing the snapshot,
// so the recommender always gets a usable (if weak) sentiment step.
package sentiment

import (
	"context"
	"time"
)

// Direction of a composite sentiment reading.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Trend of sentiment across the lookback window.
type Trend string

const (
	TrendImproving     Trend = "improving"
	TrendDeteriorating Trend = "deteriorating"
	TrendStable        Trend = "stable"
)

// DataPoint is one scored item from one source. Credibility and Engagement
// are at least 1; sources without those notions report 1.
type DataPoint struct {
	Text        string    `json:"text"`
	Score       float64   `json:"score"`      // [-1, 1]
	Confidence  float64   `json:"confidence"` // [0, 1]
	Source      string    `json:"source"`
	Credibility float64   `json:"credibility"`
	Engagement  float64   `json:"engagement"`
	Timestamp   time.Time `json:"timestamp"`
}

// SourceFetcher is one configured sentiment source.
type SourceFetcher interface {
	// Name identifies the source in snapshots and logs.
	Name() string

	// Weight is the source-family weight applied to every point.
	Weight() float64

	// Fetch returns the source's datapoints for symbol since the cutoff.
	Fetch(ctx context.Context, symbol string, since time.Time) ([]DataPoint, error)
}

// Snapshot is the aggregated sentiment for one symbol at one instant.
type Snapshot struct {
	Symbol       string         `json:"symbol"`
	Score        float64        `json:"score"`      // [-1, 1]
	Confidence   float64        `json:"confidence"` // [0, 1]
	Direction    Direction      `json:"direction"`
	Trend        Trend          `json:"trend"`
	PointCount   int            `json:"point_count"`
	SourceCounts map[string]int `json:"source_counts"`
	SourcesDown  []string       `json:"sources_down,omitempty"`
	AsOf         time.Time      `json:"as_of"`
}
