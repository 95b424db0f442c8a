package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient simulates a brokerage for dry-run mode and tests. Buys
// fill instantly at the limit price, sells at the last known price.
type MockClient struct {
	mu sync.Mutex

	cash      float64
	positions map[string]*Position
	orders    map[string]*Order // keyed by client_order_id
	history   []Order

	// lastPrice feeds sell fills; defaults to the position entry.
	lastPrice map[string]float64

	failNext error
}

// NewMockClient creates a mock account with the given starting cash.
func NewMockClient(cash float64) *MockClient {
	return &MockClient{
		cash:      cash,
		positions: make(map[string]*Position),
		orders:    make(map[string]*Order),
		lastPrice: make(map[string]float64),
	}
}

// SetPrice pins the fill price for subsequent sells of symbol.
func (m *MockClient) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPrice[symbol] = price
}

// FailNext makes the next order call return err once.
func (m *MockClient) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Account returns the simulated account.
func (m *MockClient) Account(context.Context) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	equity := m.cash
	for sym, p := range m.positions {
		price := m.lastPrice[sym]
		if price <= 0 {
			price = p.AvgEntryPrice
		}
		equity += p.Qty * price
	}
	return &Account{
		Cash:        m.cash,
		BuyingPower: m.cash,
		Equity:      equity,
		Status:      "ACTIVE",
	}, nil
}

// Positions lists simulated open positions.
func (m *MockClient) Positions(context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Position, 0, len(m.positions))
	for sym, p := range m.positions {
		cp := m.lastPrice[sym]
		if cp <= 0 {
			cp = p.AvgEntryPrice
		}
		pos := *p
		pos.CurrentPrice = cp
		pos.MarketValue = cp * pos.Qty
		pos.UnrealizedPL = (cp - pos.AvgEntryPrice) * pos.Qty
		out = append(out, pos)
	}
	return out, nil
}

// PlaceBuy fills instantly at the limit price.
func (m *MockClient) PlaceBuy(_ context.Context, symbol string, shares, limitPrice float64, idemKey string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if existing, ok := m.orders[idemKey]; ok {
		o := *existing
		return &o, nil
	}

	cost := shares * limitPrice
	if cost > m.cash {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBuyingPower, cost, m.cash)
	}

	m.cash -= cost
	if pos, ok := m.positions[symbol]; ok {
		total := pos.Qty + shares
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Qty + limitPrice*shares) / total
		pos.Qty = total
	} else {
		m.positions[symbol] = &Position{Symbol: symbol, Qty: shares, AvgEntryPrice: limitPrice, Side: "long"}
	}
	if m.lastPrice[symbol] == 0 {
		m.lastPrice[symbol] = limitPrice
	}

	order := m.record(symbol, "buy", "limit", shares, limitPrice, limitPrice, idemKey)
	return order, nil
}

// PlaceSell fills instantly at the last known price.
func (m *MockClient) PlaceSell(_ context.Context, symbol string, shares float64, idemKey string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if existing, ok := m.orders[idemKey]; ok {
		o := *existing
		return &o, nil
	}

	pos, ok := m.positions[symbol]
	if !ok || pos.Qty < shares {
		return nil, fmt.Errorf("%w: no position in %s for %.0f shares", ErrRejected, symbol, shares)
	}

	price := m.lastPrice[symbol]
	if price <= 0 {
		price = pos.AvgEntryPrice
	}

	m.cash += shares * price
	pos.Qty -= shares
	if pos.Qty <= 0 {
		delete(m.positions, symbol)
	}

	order := m.record(symbol, "sell", "market", shares, 0, price, idemKey)
	return order, nil
}

func (m *MockClient) record(symbol, side, typ string, qty, limit, fill float64, idemKey string) *Order {
	now := time.Now()
	order := &Order{
		ID:             uuid.NewString(),
		ClientOrderID:  idemKey,
		Symbol:         symbol,
		Side:           side,
		Type:           typ,
		Qty:            qty,
		LimitPrice:     limit,
		FilledQty:      qty,
		FilledAvgPrice: fill,
		Status:         OrderStatusFilled,
		SubmittedAt:    now,
		FilledAt:       &now,
	}
	m.orders[idemKey] = order
	m.history = append(m.history, *order)
	o := *order
	return &o
}

// Order looks an order up by its idempotency key.
func (m *MockClient) Order(_ context.Context, idemKey string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[idemKey]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, ErrOrderNotFound
}

// Orders lists recorded orders, newest first.
func (m *MockClient) Orders(_ context.Context, status string, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Order, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		o := m.history[i]
		if status != "" && status != "all" && o.Status != status {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockClient) takeFailure() error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	return nil
}
