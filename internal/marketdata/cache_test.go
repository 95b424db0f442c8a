package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSession struct {
	mu   sync.Mutex
	now  time.Time
	open bool
}

func (f *fakeSession) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeSession) IsOpen(time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSession) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// countingClient counts upstream calls and replays canned answers.
type countingClient struct {
	snapshots int64
	quote     Quote
	err       error
}

func (c *countingClient) Snapshot(context.Context, string) (*Quote, error) {
	atomic.AddInt64(&c.snapshots, 1)
	if c.err != nil {
		return nil, c.err
	}
	q := c.quote
	return &q, nil
}

func (c *countingClient) Bars(context.Context, string, Interval, int) ([]Bar, error) {
	return nil, nil
}

func (c *countingClient) BarsRange(context.Context, string, Interval, time.Time, time.Time) ([]Bar, error) {
	return nil, nil
}

func (c *countingClient) Movers(context.Context, int) ([]MoverEntry, []MoverEntry, error) {
	return nil, nil, nil
}

func (c *countingClient) Sector(context.Context, string) (string, error) {
	return "Technology", nil
}

func TestSnapshotServedFromCacheWhileFresh(t *testing.T) {
	now := time.Date(2025, 6, 16, 14, 0, 0, 0, time.UTC)
	session := &fakeSession{now: now, open: true}
	inner := &countingClient{quote: Quote{Symbol: "SOFI", Price: 7.2, AsOf: now}}
	cc := NewCachedClient(inner, session)

	for i := 0; i < 5; i++ {
		if _, err := cc.Snapshot(context.Background(), "SOFI"); err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
	}
	if n := atomic.LoadInt64(&inner.snapshots); n != 1 {
		t.Errorf("upstream called %d times, want 1", n)
	}

	// Within the open-session window the cache still serves.
	session.advance(30 * time.Second)
	if _, err := cc.Snapshot(context.Background(), "SOFI"); err != nil {
		t.Fatalf("Snapshot after 30s: %v", err)
	}
	if n := atomic.LoadInt64(&inner.snapshots); n != 1 {
		t.Errorf("upstream called %d times after 30s, want 1", n)
	}

	// Past the window the cache refetches.
	session.advance(45 * time.Second)
	inner.quote.AsOf = session.Now()
	if _, err := cc.Snapshot(context.Background(), "SOFI"); err != nil {
		t.Fatalf("Snapshot after expiry: %v", err)
	}
	if n := atomic.LoadInt64(&inner.snapshots); n != 2 {
		t.Errorf("upstream called %d times after expiry, want 2", n)
	}
}

func TestStaleProviderQuoteRejected(t *testing.T) {
	now := time.Date(2025, 6, 16, 14, 0, 0, 0, time.UTC)
	session := &fakeSession{now: now, open: true}
	// Provider answers, but with a trade five minutes old.
	inner := &countingClient{quote: Quote{Symbol: "GSAT", Price: 1.5, AsOf: now.Add(-5 * time.Minute)}}
	cc := NewCachedClient(inner, session)

	_, err := cc.Snapshot(context.Background(), "GSAT")
	if !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("stale quote: got %v, want ErrDataUnavailable", err)
	}
}

func TestClosedSessionAllowsOlderQuotes(t *testing.T) {
	now := time.Date(2025, 6, 16, 21, 0, 0, 0, time.UTC)
	session := &fakeSession{now: now, open: false}
	inner := &countingClient{quote: Quote{Symbol: "SOFI", Price: 7.2, AsOf: now.Add(-5 * time.Minute)}}
	cc := NewCachedClient(inner, session)

	if _, err := cc.Snapshot(context.Background(), "SOFI"); err != nil {
		t.Errorf("5-minute-old quote outside the session should pass: %v", err)
	}
}

func TestConcurrentSnapshotsCoalesce(t *testing.T) {
	now := time.Date(2025, 6, 16, 14, 0, 0, 0, time.UTC)
	session := &fakeSession{now: now, open: true}
	inner := &countingClient{quote: Quote{Symbol: "SOFI", Price: 7.2, AsOf: now}}
	cc := NewCachedClient(inner, session)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cc.Snapshot(context.Background(), "SOFI")
		}()
	}
	wg.Wait()

	// Coalescing plus caching keeps the upstream call count far below
	// the request count; exact sharing depends on scheduling.
	if n := atomic.LoadInt64(&inner.snapshots); n > 3 {
		t.Errorf("upstream called %d times for 20 concurrent requests", n)
	}
}

func TestStreamPutRefreshesCachedQuote(t *testing.T) {
	now := time.Date(2025, 6, 16, 14, 0, 0, 0, time.UTC)
	session := &fakeSession{now: now, open: true}
	inner := &countingClient{quote: Quote{Symbol: "SOFI", Price: 7.2, PrevClose: 7.0, AsOf: now}}
	cc := NewCachedClient(inner, session)

	if _, err := cc.Snapshot(context.Background(), "SOFI"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	session.advance(90 * time.Second) // REST snapshot now past freshness
	cc.Put("SOFI", 7.35, session.Now())

	q, err := cc.Snapshot(context.Background(), "SOFI")
	if err != nil {
		t.Fatalf("Snapshot after stream update: %v", err)
	}
	if q.Price != 7.35 {
		t.Errorf("price = %v, want stream price 7.35", q.Price)
	}
	if n := atomic.LoadInt64(&inner.snapshots); n != 1 {
		t.Errorf("stream update should not trigger a refetch, upstream calls = %d", n)
	}
	if got := q.DayChangePercent; got < 4.9 || got > 5.1 {
		t.Errorf("day change not recomputed from stream price: %v", got)
	}
}

func TestRateLimiterPriorityBudgets(t *testing.T) {
	rl := NewRateLimiterWithBudget(10)

	// Low priority gets 40% of 10 = 4 slots.
	granted := 0
	for i := 0; i < 10; i++ {
		if rl.TryAcquire(PriorityLow).Acquired {
			granted++
		}
	}
	if granted != 4 {
		t.Errorf("low priority granted %d of 10, want 4", granted)
	}

	// Critical still has headroom above the low-priority cutoff.
	if !rl.TryAcquire(PriorityCritical).Acquired {
		t.Error("critical request should pass after low budget exhausted")
	}
}

func TestProviderPushbackBlocksAllPriorities(t *testing.T) {
	rl := NewRateLimiter()
	rl.RecordProviderPushback(time.Minute)

	res := rl.TryAcquire(PriorityCritical)
	if res.Acquired {
		t.Error("cooldown must block even critical requests")
	}
	if res.Reason != "provider_cooldown" {
		t.Errorf("reason = %s", res.Reason)
	}
}
