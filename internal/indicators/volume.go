package indicators

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"intraday-trading-bot/internal/learning"
	"intraday-trading-bot/internal/marketdata"
)

// A bullish VPT read additionally requires the current bar's volume to run
// at least this multiple of the recent mean. Accumulation on thin volume is
// not accumulation.
const vptVolumeGate = 1.2

// VPTResult captures the volume-price-trend read: is volume flowing in
// ahead of price (accumulation) or out ahead of it (distribution).
type VPTResult struct {
	VPT             float64                   `json:"vpt"`
	Slope           float64                   `json:"slope"`
	PriceSlope      float64                   `json:"price_slope"`
	R2              float64                   `json:"r2"`
	RelativeVolume  float64                   `json:"relative_volume"`
	VolumeConfirmed bool                      `json:"volume_confirmed"`
	Feature         learning.IndicatorFeature `json:"feature"`
}

// VolumePriceTrend accumulates volume scaled by each bar's percent move and
// compares the VPT trend against the price trend over the window. VPT
// climbing faster than price is accumulation: buyers absorbing supply
// before the move shows in price. The bullish read only fires when the
// current bar's volume clears the gate over the window mean.
func VolumePriceTrend(bars []marketdata.Bar, window int) VPTResult {
	result := VPTResult{
		Feature: neutralFeature(learning.CategoryVolumePriceTrend, "volume_price_trend"),
	}
	if len(bars) < window+2 {
		return result
	}

	closes := barCloses(bars)
	vpt := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		change := 0.0
		if closes[i-1] != 0 {
			change = (closes[i] - closes[i-1]) / closes[i-1]
		}
		vpt[i] = vpt[i-1] + bars[i].Volume*change
	}
	result.VPT = vpt[len(vpt)-1]

	tail := vpt[len(vpt)-window:]
	priceTail := closes[len(closes)-window:]
	xs := make([]float64, window)
	for i := range xs {
		xs[i] = float64(i)
	}

	alpha, beta := stat.LinearRegression(xs, tail, nil, false)
	result.R2 = stat.RSquared(xs, tail, nil, alpha, beta)
	result.Slope = normalizedSlope(beta, tail)

	_, priceBeta := stat.LinearRegression(xs, priceTail, nil, false)
	result.PriceSlope = normalizedSlope(priceBeta, priceTail)

	meanVol := stat.Mean(barVolumes(bars[len(bars)-window:]), nil)
	if meanVol > 0 {
		result.RelativeVolume = bars[len(bars)-1].Volume / meanVol
	}
	result.VolumeConfirmed = result.RelativeVolume >= vptVolumeGate

	strength := result.Slope
	if strength > 0 {
		// Price lagging a rising VPT strengthens the accumulation read.
		strength += clamp(result.Slope-result.PriceSlope, 0, 0.5)
		if !result.VolumeConfirmed {
			strength = 0
		}
	} else if strength < 0 {
		strength -= clamp(result.PriceSlope-result.Slope, 0, 0.5)
	}
	result.Feature.Strength = clamp(strength, -1, 1)

	// A ragged VPT line is a low-quality read regardless of its slope.
	result.Feature.Confidence = clamp(result.R2, 0.2, 0.95)
	if result.Feature.Strength == 0 {
		result.Feature.Confidence = 0
	}
	return result
}

// normalizedSlope expresses a regression slope in standard deviations per
// bar, making slopes comparable across series of different scales.
func normalizedSlope(beta float64, series []float64) float64 {
	sd := stat.StdDev(series, nil)
	if sd == 0 {
		return 0
	}
	return beta / sd
}

// Order-flow horizons and blend. The short and long horizons are fixed; the
// medium horizon is the configured flow window. Acceleration bonuses only
// count when the flow change clears a threshold scaled by recent return
// volatility, so a quiet tape cannot fake conviction.
const (
	flowShortBars = 5
	flowLongBars  = 50

	flowShortWeight  = 0.45
	flowMediumWeight = 0.35
	flowLongWeight   = 0.20

	flowAccelScale = 0.5
	flowDeltaBonus = 0.15
	flowAccelBonus = 0.10

	defaultVolumeSpike = 2.0
)

// OrderFlowResult is the bar-level buying/selling pressure proxy. Pressures
// are aggregated over the medium window; the flows are volume-normalized
// net pressure over each horizon.
type OrderFlowResult struct {
	BuyPressure    float64                   `json:"buy_pressure"`
	SellPressure   float64                   `json:"sell_pressure"`
	ShortFlow      float64                   `json:"short_flow"`
	MediumFlow     float64                   `json:"medium_flow"`
	LongFlow       float64                   `json:"long_flow"`
	FlowDelta      float64                   `json:"flow_delta"`
	FlowAccel      float64                   `json:"flow_accel"`
	RelativeVolume float64                   `json:"relative_volume"`
	Feature        learning.IndicatorFeature `json:"feature"`
}

// OrderFlow reads buying and selling pressure from where each bar closes in
// its range: pressure = close position in [low, high] x volume x
// (1 + the favorable intrabar return). Net pressure is normalized by volume
// per horizon, and the blended signal is topped up when the medium flow is
// accelerating faster than recent volatility explains. The volumeSpike
// threshold (from the adaptive thresholds) sets the relative volume at
// which confidence maxes out.
func OrderFlow(bars []marketdata.Bar, window int, volumeSpike float64) OrderFlowResult {
	result := OrderFlowResult{
		RelativeVolume: 1,
		Feature:        neutralFeature(learning.CategoryOrderFlow, "order_flow"),
	}
	if len(bars) < window+2 {
		return result
	}
	if volumeSpike <= 0 {
		volumeSpike = defaultVolumeSpike
	}

	for _, b := range bars[len(bars)-window:] {
		buy, sell := barPressure(b)
		result.BuyPressure += buy
		result.SellPressure += sell
	}

	result.ShortFlow = netFlow(bars, flowShortBars)
	result.MediumFlow = netFlow(bars, window)
	result.LongFlow = result.MediumFlow
	if len(bars) >= flowLongBars {
		result.LongFlow = netFlow(bars, flowLongBars)
	}

	// First and second differences of the medium flow, one bar back each.
	prev := netFlow(bars[:len(bars)-1], window)
	prev2 := netFlow(bars[:len(bars)-2], window)
	result.FlowDelta = result.MediumFlow - prev
	result.FlowAccel = result.FlowDelta - (prev - prev2)

	if len(bars) >= 2*window {
		prior := bars[len(bars)-2*window : len(bars)-window]
		priorAvg := stat.Mean(barVolumes(prior), nil)
		if priorAvg > 0 {
			result.RelativeVolume = stat.Mean(barVolumes(bars[len(bars)-window:]), nil) / priorAvg
		}
	}

	strength := flowShortWeight*result.ShortFlow +
		flowMediumWeight*result.MediumFlow +
		flowLongWeight*result.LongFlow

	threshold := flowAccelScale * returnVolatility(bars, window)
	if threshold > 0 {
		if abs(result.FlowDelta) > threshold {
			strength += math.Copysign(flowDeltaBonus, result.FlowDelta)
		}
		if abs(result.FlowAccel) > threshold {
			strength += math.Copysign(flowAccelBonus, result.FlowAccel)
		}
	}

	result.Feature.Strength = clamp(strength, -1, 1)
	result.Feature.Confidence = clamp(0.25+0.65*result.RelativeVolume/volumeSpike, 0.25, 0.9)
	return result
}

// barPressure splits one bar's volume into buying and selling pressure by
// where it closed in its range, each side boosted by its favorable share of
// the intrabar return.
func barPressure(b marketdata.Bar) (buy, sell float64) {
	pos := 0.5
	if rng := b.High - b.Low; rng > 0 {
		pos = clamp((b.Close-b.Low)/rng, 0, 1)
	}
	r := 0.0
	if b.Open > 0 {
		r = (b.Close - b.Open) / b.Open
	}
	buy = pos * b.Volume * (1 + math.Max(0, r))
	sell = (1 - pos) * b.Volume * (1 + math.Max(0, -r))
	return buy, sell
}

// netFlow is the volume-normalized net pressure over the last n bars,
// roughly in [-1, 1] on a calm tape.
func netFlow(bars []marketdata.Bar, n int) float64 {
	if n <= 0 || len(bars) < n {
		return 0
	}
	var net, vol float64
	for _, b := range bars[len(bars)-n:] {
		buy, sell := barPressure(b)
		net += buy - sell
		vol += b.Volume
	}
	if vol == 0 {
		return 0
	}
	return net / vol
}

// returnVolatility is the standard deviation of bar-to-bar returns over the
// last window bars.
func returnVolatility(bars []marketdata.Bar, window int) float64 {
	if len(bars) < window+1 {
		return 0
	}
	tail := bars[len(bars)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1].Close != 0 {
			returns = append(returns, (tail[i].Close-tail[i-1].Close)/tail[i-1].Close)
		}
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}
