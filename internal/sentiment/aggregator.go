package sentiment

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/clock"
)

// Aggregation constants. Time decay is linear over the window with a
// floor, so day-old chatter still counts a tenth of fresh coverage.
const (
	DefaultWindow = 24 * time.Hour

	decayFloor   = 0.1
	directionCut = 0.1
	trendCut     = 0.1
)

// Config tunes the aggregator.
type Config struct {
	Window       time.Duration `json:"-"`
	WindowHours  int           `json:"window_hours"`
	FetchTimeout time.Duration `json:"-"`
}

func (c *Config) normalize() {
	if c.WindowHours > 0 {
		c.Window = time.Duration(c.WindowHours) * time.Hour
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
}

// Aggregator fans a symbol out to every configured source and folds the
// returned points into one snapshot.
type Aggregator struct {
	cfg     Config
	sources []SourceFetcher
	clk     clock.Clock
	log     zerolog.Logger
}

// NewAggregator creates an aggregator over the given sources.
func NewAggregator(cfg Config, sources []SourceFetcher, clk clock.Clock, logger zerolog.Logger) *Aggregator {
	cfg.normalize()
	return &Aggregator{
		cfg:     cfg,
		sources: sources,
		clk:     clk,
		log:     logger.With().Str("component", "sentiment").Logger(),
	}
}

// Snapshot aggregates sentiment for one symbol. Source failures are soft:
// the failed family is recorded in SourcesDown and the composite confidence
// shrinks by the share of families that answered. Only the total absence of
// sources yields the zero snapshot.
func (a *Aggregator) Snapshot(ctx context.Context, symbol string) Snapshot {
	now := a.clk.Now()
	snap := Snapshot{
		Symbol:       symbol,
		Direction:    DirectionNeutral,
		Trend:        TrendStable,
		SourceCounts: make(map[string]int),
		AsOf:         now,
	}
	if len(a.sources) == 0 {
		return snap
	}

	since := now.Add(-a.cfg.Window)

	type fetchResult struct {
		source string
		points []DataPoint
		err    error
	}
	results := make([]fetchResult, len(a.sources))

	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src SourceFetcher) {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
			defer cancel()
			points, err := src.Fetch(fctx, symbol, since)
			results[i] = fetchResult{source: src.Name(), points: points, err: err}
		}(i, src)
	}
	wg.Wait()

	var points []DataPoint
	weights := make(map[string]float64, len(a.sources))
	for i, src := range a.sources {
		weights[src.Name()] = src.Weight()
		r := results[i]
		if r.err != nil {
			a.log.Warn().Err(r.err).Str("symbol", symbol).Str("source", r.source).
				Msg("sentiment source unavailable")
			snap.SourcesDown = append(snap.SourcesDown, r.source)
			continue
		}
		snap.SourceCounts[r.source] = len(r.points)
		points = append(points, r.points...)
	}

	a.fold(&snap, points, weights, now)

	// A family that did not answer dilutes confidence in what did.
	if down := len(snap.SourcesDown); down > 0 {
		snap.Confidence *= float64(len(a.sources)-down) / float64(len(a.sources))
	}
	return snap
}

// fold computes the weighted composite over the fetched points.
func (a *Aggregator) fold(snap *Snapshot, points []DataPoint, sourceWeights map[string]float64, now time.Time) {
	if len(points) == 0 {
		return
	}

	var weightedSum, totalWeight float64
	var olderSum, olderWeight, newerSum, newerWeight float64
	halfway := now.Add(-a.cfg.Window / 2)

	for _, p := range points {
		w := pointWeight(p, sourceWeights[p.Source], now, a.cfg.Window)
		if w <= 0 {
			continue
		}
		weightedSum += p.Score * w
		totalWeight += w

		if p.Timestamp.Before(halfway) {
			olderSum += p.Score * w
			olderWeight += w
		} else {
			newerSum += p.Score * w
			newerWeight += w
		}
	}
	if totalWeight == 0 {
		return
	}

	snap.PointCount = len(points)
	snap.Score = weightedSum / totalWeight
	snap.Confidence = math.Min(totalWeight/float64(len(points)), 1)

	switch {
	case snap.Score > directionCut:
		snap.Direction = DirectionBullish
	case snap.Score < -directionCut:
		snap.Direction = DirectionBearish
	}

	if olderWeight > 0 && newerWeight > 0 {
		delta := newerSum/newerWeight - olderSum/olderWeight
		switch {
		case delta > trendCut:
			snap.Trend = TrendImproving
		case delta < -trendCut:
			snap.Trend = TrendDeteriorating
		}
	}
}

// pointWeight is confidence x credibility x engagement x time decay x
// source weight. Decay is linear in age over the window, floored so old
// points inside the window never vanish entirely.
func pointWeight(p DataPoint, sourceWeight float64, now time.Time, window time.Duration) float64 {
	age := now.Sub(p.Timestamp)
	if age < 0 {
		age = 0
	}
	if age > window {
		return 0
	}
	decay := math.Max(decayFloor, 1-age.Hours()/window.Hours())

	cred, eng := p.Credibility, p.Engagement
	if cred < 1 {
		cred = 1
	}
	if eng < 1 {
		eng = 1
	}
	return clampScore01(p.Confidence) * cred * eng * decay * sourceWeight
}

func clampScore01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
