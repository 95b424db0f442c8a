// Package regime classifies the current market character of a symbol:
// trending versus mean-reverting, and high versus low volatility. Indicator
// thresholds adapt to the classification instead of using one fixed set.
package regime

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Trend is the directional character of recent price action.
type Trend string

const (
	TrendTrending      Trend = "trending"
	TrendMeanReverting Trend = "mean_reverting"
	TrendUncertain     Trend = "uncertain"
)

// Volatility buckets.
type Volatility string

const (
	VolHigh Volatility = "high_vol"
	VolLow  Volatility = "low_vol"
)

// Classification is the regime verdict for one symbol at one instant.
type Classification struct {
	Trend         Trend      `json:"trend"`
	Volatility    Volatility `json:"volatility"`
	VolPercentile float64    `json:"vol_percentile"`
	Efficiency    float64    `json:"efficiency"`
	Uncertain     bool       `json:"uncertain"`
}

// Label renders the regime as a compact tag for journals and logs.
func (c Classification) Label() string {
	if c.Uncertain {
		return string(TrendUncertain)
	}
	return string(c.Trend) + "/" + string(c.Volatility)
}

// HighVolatility reports whether volatility sits in the upper bucket.
func (c Classification) HighVolatility() bool {
	return c.Volatility == VolHigh
}

// Config tunes the classifier windows.
type Config struct {
	TrendWindow   int     // bars for the efficiency ratio
	VolWindow     int     // bars per realized-vol sample
	VolHistory    int     // how many rolling vol samples to rank against
	TrendCut      float64 // efficiency ratio above this means trending
	HighVolCut    float64 // percentile at or above this means high vol
	MinBars       int     // below this the classification is uncertain
}

// DefaultConfig returns the standard windows: a 20-bar efficiency ratio,
// 10-bar vol samples ranked against 60 rolling samples.
func DefaultConfig() Config {
	return Config{
		TrendWindow: 20,
		VolWindow:   10,
		VolHistory:  60,
		TrendCut:    0.35,
		HighVolCut:  70,
		MinBars:     30,
	}
}

// Classify evaluates a close series, oldest first.
func Classify(closes []float64, cfg Config) Classification {
	if cfg.TrendWindow <= 0 {
		cfg = DefaultConfig()
	}

	if len(closes) < cfg.MinBars {
		return Classification{
			Trend:      TrendUncertain,
			Volatility: VolLow,
			Uncertain:  true,
		}
	}

	er := efficiencyRatio(closes, cfg.TrendWindow)
	trend := TrendMeanReverting
	if er >= cfg.TrendCut {
		trend = TrendTrending
	}

	pct := volPercentile(closes, cfg.VolWindow, cfg.VolHistory)
	vol := VolLow
	if pct >= cfg.HighVolCut {
		vol = VolHigh
	}

	return Classification{
		Trend:         trend,
		Volatility:    vol,
		VolPercentile: pct,
		Efficiency:    er,
	}
}

// efficiencyRatio is Kaufman's ratio: net move over the window divided by
// the sum of absolute bar-to-bar moves. 1.0 is a straight line, 0 is pure
// chop.
func efficiencyRatio(closes []float64, window int) float64 {
	if len(closes) < window+1 {
		window = len(closes) - 1
	}
	start := len(closes) - window - 1

	net := math.Abs(closes[len(closes)-1] - closes[start])
	var path float64
	for i := start + 1; i < len(closes); i++ {
		path += math.Abs(closes[i] - closes[i-1])
	}
	if path == 0 {
		return 0
	}
	return net / path
}

// volPercentile ranks the most recent realized-vol sample against a history
// of rolling samples from the same series. Returns [0, 100].
func volPercentile(closes []float64, window, history int) float64 {
	returns := percentReturns(closes)
	if len(returns) < window {
		return 50
	}

	var samples []float64
	for end := len(returns); end >= window && len(samples) < history; end-- {
		samples = append(samples, stat.StdDev(returns[end-window:end], nil))
	}
	if len(samples) < 2 {
		return 50
	}

	current := samples[0]
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	below := 0
	for _, s := range sorted {
		if s < current {
			below++
		}
	}
	return 100 * float64(below) / float64(len(sorted))
}

func percentReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1]*100)
	}
	return returns
}
