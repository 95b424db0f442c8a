package marketdata

import (
	"context"
	"errors"
)

var (
	// ErrDataUnavailable covers upstream outages, missing symbols, and
	// snapshots too stale to act on.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrRateLimited signals the provider pushed back; callers should
	// shed load rather than retry immediately.
	ErrRateLimited = errors.New("market data rate limited")

	// ErrTimeout signals the per-call deadline elapsed.
	ErrTimeout = errors.New("market data timeout")
)

// IsTransient reports whether err is worth retrying on a later cycle.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDataUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
