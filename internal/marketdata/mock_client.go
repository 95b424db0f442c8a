package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// MockClient provides simulated market data for dry-run mode and tests.
type MockClient struct {
	mu         sync.RWMutex
	rng        *rand.Rand
	prices     map[string]float64
	open       map[string]float64
	volumes    map[string]float64
	sectors    map[string]string
	lastUpdate time.Time
}

// NewMockClient creates a mock with a fixed seed so dry runs replay the
// same tape.
func NewMockClient(seed int64) *MockClient {
	mc := &MockClient{
		rng:        rand.New(rand.NewSource(seed)),
		lastUpdate: time.Now(),
	}

	mc.prices = map[string]float64{
		"SOFI": 7.20, "PLUG": 2.15, "FCEL": 0.95, "NOK": 4.05,
		"BBD": 2.40, "SIRI": 3.10, "GSAT": 1.45, "DNN": 1.85,
		"TLRY": 1.60, "SNDL": 2.05, "OPEN": 2.70, "LUMN": 4.60,
		"CLSK": 9.10, "IONQ": 8.70, "RIG": 4.35, "BTG": 2.95,
		"AMC": 3.45, "GPRO": 1.20, "PSNY": 1.10, "ACHR": 6.40,
		// Out-of-band names so filters have something to reject.
		"AAPL": 229.00, "TSLA": 212.00, "SPY": 556.00,
	}
	mc.sectors = map[string]string{
		"SOFI": "Financial Services", "PLUG": "Industrials",
		"FCEL": "Industrials", "NOK": "Technology",
		"BBD": "Financial Services", "SIRI": "Communication Services",
		"GSAT": "Communication Services", "DNN": "Energy",
		"TLRY": "Healthcare", "SNDL": "Healthcare",
		"OPEN": "Real Estate", "LUMN": "Communication Services",
		"CLSK": "Technology", "IONQ": "Technology",
		"RIG": "Energy", "BTG": "Basic Materials",
		"AMC": "Communication Services", "GPRO": "Technology",
		"PSNY": "Consumer Cyclical", "ACHR": "Industrials",
		"AAPL": "Technology", "TSLA": "Consumer Cyclical", "SPY": "Index",
	}

	mc.open = make(map[string]float64, len(mc.prices))
	mc.volumes = make(map[string]float64, len(mc.prices))
	for sym, p := range mc.prices {
		mc.open[sym] = p * (1 - 0.04 + mc.rng.Float64()*0.08)
		mc.volumes[sym] = 200_000 + mc.rng.Float64()*5_000_000
	}
	return mc
}

// step advances the random walk at most once per second.
func (mc *MockClient) step() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if time.Since(mc.lastUpdate) < time.Second {
		return
	}
	for sym, price := range mc.prices {
		change := (mc.rng.Float64() - 0.5) * 0.01
		mc.prices[sym] = price * (1 + change)
		mc.volumes[sym] += mc.volumes[sym] * 0.002 * mc.rng.Float64()
	}
	mc.lastUpdate = time.Now()
}

// Snapshot returns a simulated quote.
func (mc *MockClient) Snapshot(_ context.Context, symbol string) (*Quote, error) {
	mc.step()
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	price, ok := mc.prices[symbol]
	if !ok {
		return nil, ErrDataUnavailable
	}
	open := mc.open[symbol]
	spread := price * 0.001
	return &Quote{
		Symbol:           symbol,
		Price:            price,
		Bid:              price - spread,
		Ask:              price + spread,
		PrevClose:        open,
		DayChangePercent: (price - open) / open * 100,
		SessionVolume:    mc.volumes[symbol],
		AsOf:             time.Now(),
	}, nil
}

// Bars returns a simulated random-walk history ending at the current
// price.
func (mc *MockClient) Bars(_ context.Context, symbol string, interval Interval, limit int) ([]Bar, error) {
	mc.step()
	mc.mu.RLock()
	endPrice, ok := mc.prices[symbol]
	baseVolume := mc.volumes[symbol]
	mc.mu.RUnlock()
	if !ok {
		return nil, ErrDataUnavailable
	}

	step := interval.Duration()
	bars := make([]Bar, limit)
	now := time.Now().Truncate(step)

	// Walk backwards from the live price so the series joins up.
	price := endPrice
	for i := limit - 1; i >= 0; i-- {
		change := (mc.rng.Float64() - 0.5) * 0.02
		open := price / (1 + change)
		high := math.Max(open, price) * (1 + mc.rng.Float64()*0.005)
		low := math.Min(open, price) * (1 - mc.rng.Float64()*0.005)
		vol := baseVolume / float64(limit) * (0.5 + mc.rng.Float64())

		bars[i] = Bar{
			Time:   now.Add(-time.Duration(limit-i) * step),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: vol,
			Trades: int64(50 + mc.rng.Intn(500)),
			VWAP:   (high + low + price) / 3,
		}
		price = open
	}
	return bars, nil
}

// BarsRange derives the count from the span and delegates to Bars.
func (mc *MockClient) BarsRange(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]Bar, error) {
	n := int(end.Sub(start) / interval.Duration())
	if n < 1 {
		n = 1
	}
	if n > 1000 {
		n = 1000
	}
	return mc.Bars(ctx, symbol, interval, n)
}

// Movers ranks the simulated universe by day change.
func (mc *MockClient) Movers(_ context.Context, top int) ([]MoverEntry, []MoverEntry, error) {
	mc.step()
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	entries := make([]MoverEntry, 0, len(mc.prices))
	for sym, price := range mc.prices {
		open := mc.open[sym]
		entries = append(entries, MoverEntry{
			Symbol:        sym,
			Price:         price,
			Change:        price - open,
			ChangePercent: (price - open) / open * 100,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ChangePercent > entries[j].ChangePercent })

	n := top
	if n > len(entries) {
		n = len(entries)
	}
	gainers := append([]MoverEntry(nil), entries[:n]...)

	losers := make([]MoverEntry, len(entries))
	copy(losers, entries)
	sort.Slice(losers, func(i, j int) bool { return losers[i].ChangePercent < losers[j].ChangePercent })
	if len(losers) > n {
		losers = losers[:n]
	}
	return gainers, losers, nil
}

// Sector returns the simulated sector classification.
func (mc *MockClient) Sector(_ context.Context, symbol string) (string, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if s, ok := mc.sectors[symbol]; ok {
		return s, nil
	}
	return "", ErrDataUnavailable
}

// SetPrice pins a symbol's price, for tests that need exact levels.
func (mc *MockClient) SetPrice(symbol string, price float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.prices[symbol] = price
}

// SetDayChange pins a symbol's day change by moving its open.
func (mc *MockClient) SetDayChange(symbol string, percent float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if p, ok := mc.prices[symbol]; ok {
		mc.open[symbol] = p / (1 + percent/100)
	}
}

// SetVolume pins a symbol's session volume.
func (mc *MockClient) SetVolume(symbol string, volume float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.volumes[symbol] = volume
}
