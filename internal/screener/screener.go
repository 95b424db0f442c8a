// Package screener reduces the day's gainers to a bounded momentum
// watchlist: price-banded, liquidity-filtered, momentum-scored and
// sector-diversified. The recommender only ever evaluates symbols that
// survived the most recent screen.
package screener

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"intraday-trading-bot/internal/clock"
	"intraday-trading-bot/internal/journal"
	"intraday-trading-bot/internal/marketdata"
)

// Criteria is the configured screen, journaled with every watchlist so a
// historical list can be read against the rules that produced it.
type Criteria struct {
	PriceMin         float64 `json:"price_min"`
	PriceMax         float64 `json:"price_max"`
	MinSessionVolume float64 `json:"min_session_volume"`
	MinMomentumScore float64 `json:"min_momentum_score"`
	MaxPerSector     int     `json:"max_per_sector"`
	UniverseCap      int     `json:"universe_cap"`
}

// DefaultCriteria returns the standard low-price momentum screen.
func DefaultCriteria() Criteria {
	return Criteria{
		PriceMin:         0.75,
		PriceMax:         10.0,
		MinSessionVolume: 100_000,
		MinMomentumScore: 5.0,
		MaxPerSector:     3,
		UniverseCap:      100,
	}
}

func (c *Criteria) normalize() {
	d := DefaultCriteria()
	if c.PriceMin <= 0 {
		c.PriceMin = d.PriceMin
	}
	if c.PriceMax <= c.PriceMin {
		c.PriceMax = d.PriceMax
	}
	if c.MinSessionVolume <= 0 {
		c.MinSessionVolume = d.MinSessionVolume
	}
	if c.MinMomentumScore <= 0 {
		c.MinMomentumScore = d.MinMomentumScore
	}
	if c.MaxPerSector <= 0 {
		c.MaxPerSector = d.MaxPerSector
	}
	if c.UniverseCap <= 0 {
		c.UniverseCap = d.UniverseCap
	}
}

// Config tunes the screener's concurrency and pacing.
type Config struct {
	Criteria       Criteria      `json:"criteria"`
	MaxConcurrency int           `json:"max_concurrency"`
	EnrichSpacing  time.Duration `json:"-"`
}

func (c *Config) normalize() {
	c.Criteria.normalize()
	if c.MaxConcurrency <= 0 || c.MaxConcurrency > 8 {
		c.MaxConcurrency = 8
	}
	if c.EnrichSpacing <= 0 {
		c.EnrichSpacing = 100 * time.Millisecond
	}
}

// Entry is one surviving watchlist candidate.
type Entry struct {
	Symbol           string    `json:"symbol"`
	Price            float64   `json:"price"`
	DayChangePercent float64   `json:"day_change_percent"`
	RelativeVolume   float64   `json:"relative_volume"`
	MomentumScore    float64   `json:"momentum_score"`
	Sector           string    `json:"sector"`
	ScreenedAt       time.Time `json:"screened_at"`
}

// Result is one screening pass. Degraded marks a carry-forward of the last
// persisted watchlist after an upstream failure.
type Result struct {
	Entries  []Entry   `json:"entries"`
	Degraded bool      `json:"degraded"`
	At       time.Time `json:"at"`
}

// Store is the slice of the journal the screener needs.
type Store interface {
	SaveWatchlist(ctx context.Context, rec *journal.WatchlistRecord) error
	LatestWatchlist(ctx context.Context) (*journal.WatchlistRecord, error)
}

// Screener produces the watchlist.
type Screener struct {
	cfg   Config
	data  marketdata.DataClient
	store Store
	clk   clock.Clock
	log   zerolog.Logger

	mu       sync.RWMutex
	last     *Result
	degraded bool // last pass ran in degraded mode
}

// New creates a screener.
func New(cfg Config, data marketdata.DataClient, store Store, clk clock.Clock, logger zerolog.Logger) *Screener {
	cfg.normalize()
	return &Screener{
		cfg:   cfg,
		data:  data,
		store: store,
		clk:   clk,
		log:   logger.With().Str("component", "screener").Logger(),
	}
}

// Current returns the most recent result, nil before the first pass.
func (s *Screener) Current() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Screen runs one full pass. On upstream failure it falls back to the
// previously persisted watchlist and flags the result degraded; the
// recommender keeps working off yesterday's survivors rather than stalling.
func (s *Screener) Screen(ctx context.Context) (*Result, error) {
	now := s.clk.Now()

	gainers, _, err := s.data.Movers(ctx, s.cfg.Criteria.UniverseCap)
	if err != nil {
		s.log.Warn().Err(err).Msg("gainers unavailable, falling back to last watchlist")
		return s.fallback(ctx, now, err)
	}
	s.setDegraded(false)

	candidates := s.prefilter(gainers)
	entries := s.enrich(ctx, candidates, now)

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].MomentumScore > entries[j].MomentumScore
	})
	entries = s.diversify(entries)

	result := &Result{Entries: entries, At: now}
	s.publish(result)

	if err := s.persist(ctx, result); err != nil {
		// The list itself is good; the recommender should still get it.
		s.log.Error().Err(err).Msg("failed to persist watchlist")
	}

	s.log.Info().
		Int("universe", len(gainers)).
		Int("prefiltered", len(candidates)).
		Int("watchlist", len(entries)).
		Msg("screen complete")
	return result, nil
}

// prefilter applies the cheap filters that need no extra calls.
func (s *Screener) prefilter(gainers []marketdata.MoverEntry) []marketdata.MoverEntry {
	crit := s.cfg.Criteria
	out := make([]marketdata.MoverEntry, 0, len(gainers))
	for _, g := range gainers {
		if len(out) >= crit.UniverseCap {
			break
		}
		if g.Price < crit.PriceMin || g.Price > crit.PriceMax {
			continue
		}
		out = append(out, g)
	}
	return out
}

// enrich fetches the quote, relative volume and sector for each candidate
// under bounded concurrency, pacing requests so the vendor never sees a
// burst. Candidates whose enrichment fails are dropped, not guessed at.
func (s *Screener) enrich(ctx context.Context, candidates []marketdata.MoverEntry, now time.Time) []Entry {
	pace := time.NewTicker(s.cfg.EnrichSpacing)
	defer pace.Stop()

	var mu sync.Mutex
	var entries []Entry

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)

loop:
	for _, cand := range candidates {
		select {
		case <-pace.C:
		case <-gctx.Done():
			break loop
		}

		cand := cand
		g.Go(func() error {
			entry, ok := s.enrichOne(gctx, cand, now)
			if !ok {
				return nil
			}
			mu.Lock()
			entries = append(entries, entry)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return entries
}

func (s *Screener) enrichOne(ctx context.Context, cand marketdata.MoverEntry, now time.Time) (Entry, bool) {
	crit := s.cfg.Criteria

	quote, err := s.data.Snapshot(ctx, cand.Symbol)
	if err != nil {
		s.log.Debug().Err(err).Str("symbol", cand.Symbol).Msg("snapshot failed, dropping candidate")
		return Entry{}, false
	}
	if quote.Price < crit.PriceMin || quote.Price > crit.PriceMax {
		return Entry{}, false
	}
	if quote.SessionVolume < crit.MinSessionVolume {
		return Entry{}, false
	}

	relVolume := s.relativeVolume(ctx, cand.Symbol, quote.SessionVolume)

	score := momentumScore(quote.DayChangePercent, relVolume, quote.Price, crit)
	if score < crit.MinMomentumScore {
		return Entry{}, false
	}

	sector, err := s.data.Sector(ctx, cand.Symbol)
	if err != nil {
		sector = "unknown"
	}

	return Entry{
		Symbol:           cand.Symbol,
		Price:            quote.Price,
		DayChangePercent: quote.DayChangePercent,
		RelativeVolume:   relVolume,
		MomentumScore:    score,
		Sector:           sector,
		ScreenedAt:       now,
	}, true
}

// relativeVolume compares today's session volume to the prior day's.
// Missing history reads as 1.0: no relative-volume credit, no penalty.
func (s *Screener) relativeVolume(ctx context.Context, symbol string, sessionVolume float64) float64 {
	days, err := s.data.Bars(ctx, symbol, marketdata.Interval1Day, 2)
	if err != nil || len(days) < 2 {
		return 1.0
	}
	prior := days[len(days)-2].Volume
	if prior <= 0 {
		return 1.0
	}
	return sessionVolume / prior
}

// Momentum score: day change contributes 0-4 points, relative volume 0-3,
// price-band preference 0-3. The sweet spot is a $1-$5 name up double
// digits on several times its usual volume.
func momentumScore(dayChangePercent, relVolume, price float64, crit Criteria) float64 {
	var score float64

	switch {
	case dayChangePercent >= 20:
		score += 4
	case dayChangePercent >= 10:
		score += 3
	case dayChangePercent >= 5:
		score += 2
	case dayChangePercent >= 2:
		score += 1
	}

	switch {
	case relVolume >= 5:
		score += 3
	case relVolume >= 3:
		score += 2
	case relVolume >= 1.5:
		score += 1
	}

	switch {
	case price >= 1 && price <= 5:
		score += 3
	case price >= crit.PriceMin && price <= 7.5:
		score += 2
	case price <= crit.PriceMax:
		score += 1
	}

	return score
}

// diversify caps entries per sector, keeping the highest scores. Entries
// must already be sorted by score descending.
func (s *Screener) diversify(entries []Entry) []Entry {
	perSector := make(map[string]int)
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if perSector[e.Sector] >= s.cfg.Criteria.MaxPerSector {
			continue
		}
		perSector[e.Sector]++
		out = append(out, e)
	}
	return out
}

// fallback serves the previously persisted watchlist in degraded mode.
func (s *Screener) fallback(ctx context.Context, now time.Time, cause error) (*Result, error) {
	prev, err := s.store.LatestWatchlist(ctx)
	if err != nil || prev == nil {
		s.setDegraded(true)
		return nil, fmt.Errorf("gainers unavailable and no previous watchlist: %w", cause)
	}

	var entries []Entry
	if err := json.Unmarshal(prev.Entries, &entries); err != nil {
		s.setDegraded(true)
		return nil, fmt.Errorf("decode previous watchlist: %w", err)
	}

	result := &Result{Entries: entries, Degraded: true, At: now}
	s.publish(result)

	// Surface the mode transition once, not on every degraded pass.
	if !s.wasDegraded() {
		s.log.Warn().Time("previous", prev.CreatedAt).Msg("serving stale watchlist in degraded mode")
	}
	s.setDegraded(true)

	if err := s.persist(ctx, result); err != nil {
		s.log.Error().Err(err).Msg("failed to persist degraded watchlist")
	}
	return result, nil
}

func (s *Screener) publish(r *Result) {
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
}

func (s *Screener) wasDegraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *Screener) setDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
}

func (s *Screener) persist(ctx context.Context, r *Result) error {
	criteria, err := json.Marshal(s.cfg.Criteria)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}
	entries, err := json.Marshal(r.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}

	mc, ok := s.clk.(*clock.MarketClock)
	sessionDate := r.At.Format("2006-01-02")
	if ok {
		sessionDate = mc.SessionDate(r.At)
	}

	return s.store.SaveWatchlist(ctx, &journal.WatchlistRecord{
		SessionDate: sessionDate,
		Degraded:    r.Degraded,
		SymbolCount: len(r.Entries),
		Criteria:    criteria,
		Entries:     entries,
	})
}
