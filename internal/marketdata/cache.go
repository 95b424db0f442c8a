package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SessionSource tells the cache whether the regular session is open,
// which controls how old a snapshot may be before it is unusable.
type SessionSource interface {
	Now() time.Time
	IsOpen(t time.Time) bool
}

// Freshness windows for acting on a snapshot.
const (
	openFreshness   = 60 * time.Second
	closedFreshness = 15 * time.Minute
	barsTTL         = 30 * time.Second
	moversTTL       = 60 * time.Second
)

type cachedQuote struct {
	quote     Quote
	fetchedAt time.Time
}

type cachedBars struct {
	bars      []Bar
	fetchedAt time.Time
}

type cachedMovers struct {
	gainers   []MoverEntry
	losers    []MoverEntry
	fetchedAt time.Time
}

// CachedClient decorates a DataClient with freshness-aware caching and
// in-flight request coalescing. Concurrent snapshot calls for the same
// symbol share one upstream request.
type CachedClient struct {
	inner   DataClient
	session SessionSource

	group   singleflight.Group
	quotes  sync.Map // symbol -> *cachedQuote
	bars    sync.Map // symbol:interval:limit -> *cachedBars
	movers  sync.Map // top -> *cachedMovers
	sectors sync.Map // symbol -> string

	statsMu sync.Mutex
	hits    int64
	misses  int64
}

// NewCachedClient wraps inner with the caching layer.
func NewCachedClient(inner DataClient, session SessionSource) *CachedClient {
	return &CachedClient{inner: inner, session: session}
}

// Freshness returns how old a snapshot may be right now.
func (c *CachedClient) Freshness() time.Duration {
	now := c.session.Now()
	if c.session.IsOpen(now) {
		return openFreshness
	}
	return closedFreshness
}

// Snapshot returns the latest quote, serving from cache while fresh.
// A quote whose own timestamp exceeds the freshness window is rejected
// even when the provider returned it without error.
func (c *CachedClient) Snapshot(ctx context.Context, symbol string) (*Quote, error) {
	freshness := c.Freshness()
	now := c.session.Now()

	if v, ok := c.quotes.Load(symbol); ok {
		cq := v.(*cachedQuote)
		if now.Sub(cq.fetchedAt) < freshness {
			c.hit()
			q := cq.quote
			return &q, nil
		}
	}
	c.miss()

	v, err, _ := c.group.Do("snap:"+symbol, func() (interface{}, error) {
		q, err := c.inner.Snapshot(ctx, symbol)
		if err != nil {
			return nil, err
		}
		c.quotes.Store(symbol, &cachedQuote{quote: *q, fetchedAt: c.session.Now()})
		return q, nil
	})
	if err != nil {
		return nil, err
	}

	q := *(v.(*Quote))
	if !q.AsOf.IsZero() && now.Sub(q.AsOf) > freshness {
		return nil, fmt.Errorf("quote for %s is %s old: %w", symbol, now.Sub(q.AsOf).Round(time.Second), ErrDataUnavailable)
	}
	return &q, nil
}

// Put injects a quote update from the streaming feed. Stream trades
// refresh price and timestamp on top of the last REST snapshot so open
// positions keep a live price without burning request budget.
func (c *CachedClient) Put(symbol string, price float64, at time.Time) {
	v, ok := c.quotes.Load(symbol)
	if !ok {
		return
	}
	cq := v.(*cachedQuote)
	q := cq.quote
	q.Price = price
	q.AsOf = at
	if q.PrevClose > 0 {
		q.DayChangePercent = (q.Price - q.PrevClose) / q.PrevClose * 100
	}
	c.quotes.Store(symbol, &cachedQuote{quote: q, fetchedAt: c.session.Now()})
}

// Bars serves recent bars with a short TTL.
func (c *CachedClient) Bars(ctx context.Context, symbol string, interval Interval, limit int) ([]Bar, error) {
	key := symbol + ":" + string(interval) + ":" + strconv.Itoa(limit)
	if v, ok := c.bars.Load(key); ok {
		cb := v.(*cachedBars)
		if time.Since(cb.fetchedAt) < barsTTL {
			c.hit()
			out := make([]Bar, len(cb.bars))
			copy(out, cb.bars)
			return out, nil
		}
	}
	c.miss()

	v, err, _ := c.group.Do("bars:"+key, func() (interface{}, error) {
		bars, err := c.inner.Bars(ctx, symbol, interval, limit)
		if err != nil {
			return nil, err
		}
		c.bars.Store(key, &cachedBars{bars: bars, fetchedAt: time.Now()})
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	src := v.([]Bar)
	out := make([]Bar, len(src))
	copy(out, src)
	return out, nil
}

// BarsRange is a passthrough; ranged history is not worth caching.
func (c *CachedClient) BarsRange(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]Bar, error) {
	return c.inner.BarsRange(ctx, symbol, interval, start, end)
}

// Movers serves the rankings with a one-minute TTL.
func (c *CachedClient) Movers(ctx context.Context, top int) ([]MoverEntry, []MoverEntry, error) {
	key := strconv.Itoa(top)
	if v, ok := c.movers.Load(key); ok {
		cm := v.(*cachedMovers)
		if time.Since(cm.fetchedAt) < moversTTL {
			c.hit()
			return append([]MoverEntry(nil), cm.gainers...), append([]MoverEntry(nil), cm.losers...), nil
		}
	}
	c.miss()

	type moversPair struct {
		gainers, losers []MoverEntry
	}
	v, err, _ := c.group.Do("movers:"+key, func() (interface{}, error) {
		g, l, err := c.inner.Movers(ctx, top)
		if err != nil {
			return nil, err
		}
		c.movers.Store(key, &cachedMovers{gainers: g, losers: l, fetchedAt: time.Now()})
		return moversPair{g, l}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	p := v.(moversPair)
	return append([]MoverEntry(nil), p.gainers...), append([]MoverEntry(nil), p.losers...), nil
}

// Sector caches classifications indefinitely; sectors do not move
// intraday. Failed lookups are not cached so a flaky provider can
// recover.
func (c *CachedClient) Sector(ctx context.Context, symbol string) (string, error) {
	if v, ok := c.sectors.Load(symbol); ok {
		c.hit()
		return v.(string), nil
	}
	c.miss()

	v, err, _ := c.group.Do("sector:"+symbol, func() (interface{}, error) {
		s, err := c.inner.Sector(ctx, symbol)
		if err != nil {
			return "", err
		}
		c.sectors.Store(symbol, s)
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Stats returns cache hit/miss counts.
func (c *CachedClient) Stats() (hits, misses int64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.hits, c.misses
}

func (c *CachedClient) hit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
}

func (c *CachedClient) miss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
}
