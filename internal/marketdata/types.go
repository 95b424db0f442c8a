package marketdata

import "time"

// Quote is a point-in-time snapshot for one symbol.
type Quote struct {
	Symbol           string    `json:"symbol"`
	Price            float64   `json:"price"`
	Bid              float64   `json:"bid"`
	Ask              float64   `json:"ask"`
	PrevClose        float64   `json:"prev_close"`
	DayChangePercent float64   `json:"day_change_percent"`
	SessionVolume    float64   `json:"session_volume"`
	AsOf             time.Time `json:"as_of"`
}

// Spread returns the bid/ask spread as a fraction of price, or 0 when
// either side is missing.
func (q *Quote) Spread() float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.Price <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / q.Price
}

// Bar is one OHLCV aggregate.
type Bar struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
	Trades int64     `json:"n"`
	VWAP   float64   `json:"vw"`
}

// TypicalPrice returns (H+L+C)/3.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// MoverEntry is one row of a gainers/losers ranking.
type MoverEntry struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"percent_change"`
}

// Interval selects a bar aggregation window.
type Interval string

const (
	Interval1Min  Interval = "1Min"
	Interval5Min  Interval = "5Min"
	Interval15Min Interval = "15Min"
	Interval1Hour Interval = "1Hour"
	Interval1Day  Interval = "1Day"
)

// Duration returns the wall-clock span of one bar.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1Min:
		return time.Minute
	case Interval5Min:
		return 5 * time.Minute
	case Interval15Min:
		return 15 * time.Minute
	case Interval1Hour:
		return time.Hour
	case Interval1Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
