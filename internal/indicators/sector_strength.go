package indicators

import (
	"intraday-trading-bot/internal/learning"
	"intraday-trading-bot/internal/marketdata"
)

// Relative strength timeframes in bars, most recent first, with their
// composite weights. Recent outperformance counts for the most.
var (
	rsTimeframes = []int{5, 10, 20, 50}
	rsWeights    = []float64{0.4, 0.3, 0.2, 0.1}
)

// Composite cuts: excess return versus the sector has to clear 2% and
// versus the market 3% before the signal reads bullish, and at least
// three of the four timeframes have to agree on direction.
const (
	rsSectorCut     = 2.0
	rsMarketCut     = 3.0
	rsMinConsistent = 3
)

// SectorRSResult is the multi-timeframe relative strength read.
type SectorRSResult struct {
	VsSector   float64                   `json:"vs_sector"`
	VsMarket   float64                   `json:"vs_market"`
	Consistent int                       `json:"consistent"`
	Timeframes []float64                 `json:"timeframes"`
	Feature    learning.IndicatorFeature `json:"feature"`
}

// SectorRelativeStrength measures how the symbol's return stacks up against
// its sector ETF and the broad market across the standard timeframes. A
// symbol can only be strong relative to references that have data; either
// reference series missing yields a neutral feature rather than a guess.
func SectorRelativeStrength(bars, sectorBars, marketBars []marketdata.Bar) SectorRSResult {
	result := SectorRSResult{
		Feature: neutralFeature(learning.CategorySectorStrength, "sector_rs"),
	}

	longest := rsTimeframes[len(rsTimeframes)-1]
	if len(bars) < longest+1 || len(sectorBars) < longest+1 || len(marketBars) < longest+1 {
		return result
	}

	closes := barCloses(bars)
	sector := barCloses(sectorBars)
	market := barCloses(marketBars)

	result.Timeframes = make([]float64, len(rsTimeframes))
	for i, tf := range rsTimeframes {
		own := trailingReturn(closes, tf)
		excessSector := own - trailingReturn(sector, tf)
		excessMarket := own - trailingReturn(market, tf)

		result.VsSector += rsWeights[i] * excessSector
		result.VsMarket += rsWeights[i] * excessMarket
		result.Timeframes[i] = excessSector

		switch {
		case excessSector > 0 && excessMarket > 0:
			result.Consistent++
		case excessSector < 0 && excessMarket < 0:
			result.Consistent++
		}
	}

	if result.Consistent < rsMinConsistent {
		return result
	}

	switch {
	case result.VsSector > rsSectorCut && result.VsMarket > rsMarketCut:
		result.Feature.Strength = clamp(result.VsSector/(2*rsSectorCut), 0.3, 1)
	case result.VsSector < -rsSectorCut && result.VsMarket < -rsMarketCut:
		result.Feature.Strength = -clamp(-result.VsSector/(2*rsSectorCut), 0.3, 1)
	default:
		return result
	}

	// Full agreement across timeframes is a firmer read than a 3-of-4.
	result.Feature.Confidence = clamp(0.4+0.15*float64(result.Consistent), 0, 0.95)
	return result
}

// trailingReturn is the percent return over the last n bars.
func trailingReturn(closes []float64, n int) float64 {
	last := len(closes) - 1
	base := closes[last-n]
	if base == 0 {
		return 0
	}
	return (closes[last] - base) / base * 100
}
