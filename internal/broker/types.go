package broker

import "time"

// Account is the broker account snapshot.
type Account struct {
	Cash             float64 `json:"cash,string"`
	BuyingPower      float64 `json:"buying_power,string"`
	Equity           float64 `json:"equity,string"`
	DayTradeCount    int     `json:"daytrade_count"`
	PatternDayTrader bool    `json:"pattern_day_trader"`
	Status           string  `json:"status"`
}

// Position is one open broker position.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty,string"`
	AvgEntryPrice float64 `json:"avg_entry_price,string"`
	CurrentPrice  float64 `json:"current_price,string"`
	MarketValue   float64 `json:"market_value,string"`
	UnrealizedPL  float64 `json:"unrealized_pl,string"`
	Side          string  `json:"side"`
}

// Order is the broker's view of one order.
type Order struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	Qty            float64    `json:"qty,string"`
	LimitPrice     float64    `json:"limit_price,string"`
	FilledQty      float64    `json:"filled_qty,string"`
	FilledAvgPrice float64    `json:"filled_avg_price,string"`
	Status         string     `json:"status"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
}

// Order statuses we act on.
const (
	OrderStatusNew             = "new"
	OrderStatusAccepted        = "accepted"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCanceled        = "canceled"
	OrderStatusRejected        = "rejected"
	OrderStatusExpired         = "expired"
)

// IsTerminal reports whether the order will not change further.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsFilled reports a complete fill.
func (o *Order) IsFilled() bool { return o.Status == OrderStatusFilled }
