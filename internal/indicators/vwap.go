package indicators

import "intraday-trading-bot/internal/marketdata"

// VWAPResult locates price relative to the volume-weighted average of the
// bar window. Distance feeds the expected-move model: trading well under
// VWAP on an otherwise bullish read is a discount entry.
type VWAPResult struct {
	VWAP            float64 `json:"vwap"`
	DistancePercent float64 `json:"distance_percent"`
}

// SessionVWAP computes VWAP over the bar window from typical prices,
// preferring the vendor's per-bar VWAP when present.
func SessionVWAP(bars []marketdata.Bar, price float64) VWAPResult {
	var notional, volume float64
	for _, b := range bars {
		p := b.VWAP
		if p <= 0 {
			p = b.TypicalPrice()
		}
		notional += p * b.Volume
		volume += b.Volume
	}
	if volume == 0 || price <= 0 {
		return VWAPResult{}
	}

	vwap := notional / volume
	return VWAPResult{
		VWAP:            vwap,
		DistancePercent: (price - vwap) / vwap * 100,
	}
}
