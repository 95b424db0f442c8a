package broker

import "errors"

var (
	// ErrRejected means the broker refused the order outright.
	ErrRejected = errors.New("order rejected")

	// ErrInsufficientBuyingPower means the account cannot fund the order.
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")

	// ErrMarketClosed means the venue is not accepting this order now.
	ErrMarketClosed = errors.New("market closed")

	// ErrTransient covers timeouts, rate pushback, and 5xx responses;
	// the same request may succeed shortly.
	ErrTransient = errors.New("transient broker error")

	// ErrOrderNotFound is returned by lookups for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")
)

// IsRetryable reports whether the operation may be retried as-is.
// Rejections and funding errors are final for the current intent.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
