package marketdata

import (
	"context"
	"time"
)

// DataClient is the read-side port for market data. Implementations
// must be safe for concurrent use.
type DataClient interface {
	// Snapshot returns the latest quote for one symbol.
	Snapshot(ctx context.Context, symbol string) (*Quote, error)

	// Bars returns up to limit most recent bars, oldest first.
	Bars(ctx context.Context, symbol string, interval Interval, limit int) ([]Bar, error)

	// BarsRange returns bars between start and end, oldest first.
	BarsRange(ctx context.Context, symbol string, interval Interval, start, end time.Time) ([]Bar, error)

	// Movers returns the day's top gainers and losers rankings.
	Movers(ctx context.Context, top int) (gainers, losers []MoverEntry, err error)

	// Sector returns the sector classification for a symbol.
	Sector(ctx context.Context, symbol string) (string, error)
}

// Compile-time interface checks
var (
	_ DataClient = (*Client)(nil)
	_ DataClient = (*CachedClient)(nil)
	_ DataClient = (*MockClient)(nil)
)
