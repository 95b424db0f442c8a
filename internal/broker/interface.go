package broker

import "context"

// BrokerClient is the write-side port to the brokerage. Implementations
// must be safe for concurrent use.
type BrokerClient interface {
	// Account returns cash, buying power, and day-trade usage.
	Account(ctx context.Context) (*Account, error)

	// Positions lists currently open positions.
	Positions(ctx context.Context) ([]Position, error)

	// PlaceBuy submits a day-limit buy. idemKey deduplicates retries:
	// submitting the same key twice must not create a second order.
	PlaceBuy(ctx context.Context, symbol string, shares float64, limitPrice float64, idemKey string) (*Order, error)

	// PlaceSell submits a market sell for the full share count.
	PlaceSell(ctx context.Context, symbol string, shares float64, idemKey string) (*Order, error)

	// Order looks an order up by its idempotency key.
	Order(ctx context.Context, idemKey string) (*Order, error)

	// Orders lists orders filtered by status, newest first.
	Orders(ctx context.Context, status string, limit int) ([]Order, error)
}

// Compile-time interface checks
var (
	_ BrokerClient = (*Client)(nil)
	_ BrokerClient = (*MockClient)(nil)
)
