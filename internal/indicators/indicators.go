// Package indicators turns bar history into the raw feature readings the
// scoring model consumes. Every indicator returns an unweighted
// learning.IndicatorFeature: signed strength in [-1, 1], own confidence in
// [0, 1]. Weighting happens in the learning package, never here, so the
// same readings can be replayed under any weight set.
//
// All indicators degrade to a neutral zero feature on short history instead
// of guessing.
package indicators

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"intraday-trading-bot/internal/learning"
	"intraday-trading-bot/internal/marketdata"
	"intraday-trading-bot/internal/regime"
)

// Config tunes the indicator windows.
type Config struct {
	RSIPeriod        int `json:"rsi_period"`
	DivergenceWindow int `json:"divergence_window"`
	FlowWindow       int `json:"flow_window"`
	TrendWindow      int `json:"trend_window"`
	BollingerPeriod  int `json:"bollinger_period"`
}

// DefaultConfig returns the standard windows.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:        14,
		DivergenceWindow: 20,
		FlowWindow:       20,
		TrendWindow:      20,
		BollingerPeriod:  20,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = d.RSIPeriod
	}
	if c.DivergenceWindow <= 0 {
		c.DivergenceWindow = d.DivergenceWindow
	}
	if c.FlowWindow <= 0 {
		c.FlowWindow = d.FlowWindow
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = d.TrendWindow
	}
	if c.BollingerPeriod <= 0 {
		c.BollingerPeriod = d.BollingerPeriod
	}
}

// Input is everything one evaluation sees. Bars are intraday, oldest first.
// SectorBars and MarketBars may be empty when a reference series could not
// be fetched; the sector indicator then reads neutral. VolumeSpike is the
// adaptive relative-volume threshold; zero means the built-in default.
type Input struct {
	Symbol      string
	Price       float64
	Bars        []marketdata.Bar
	SectorBars  []marketdata.Bar
	MarketBars  []marketdata.Bar
	VolumeSpike float64
	AsOf        time.Time
}

// Engine evaluates the full indicator set for one input.
type Engine struct {
	cfg       Config
	regimeCfg regime.Config
	log       zerolog.Logger
}

// NewEngine creates an indicator engine.
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	cfg.normalize()
	return &Engine{
		cfg:       cfg,
		regimeCfg: regime.DefaultConfig(),
		log:       logger.With().Str("component", "indicators").Logger(),
	}
}

// Evaluation bundles the feature snapshot with the per-indicator detail that
// goes into decision payloads.
type Evaluation struct {
	Snapshot   *learning.FeatureSnapshot `json:"snapshot"`
	Regime     regime.Classification     `json:"regime"`
	RSIZScore  RSIZScoreResult           `json:"rsi_zscore"`
	Divergence DivergenceResult          `json:"divergence"`
	VPT        VPTResult                 `json:"vpt"`
	OrderFlow  OrderFlowResult           `json:"order_flow"`
	SectorRS   SectorRSResult            `json:"sector_rs"`
	Bollinger  BollingerResult           `json:"bollinger"`
	VWAP       VWAPResult                `json:"vwap"`
	WilliamsR  WilliamsRResult           `json:"williams_r"`
}

// Evaluate runs every indicator over the input. Sentiment and context
// fields of the snapshot are left zero for the caller to fill.
func (e *Engine) Evaluate(in Input) (*Evaluation, error) {
	if len(in.Bars) == 0 {
		return nil, fmt.Errorf("no bars for %s", in.Symbol)
	}
	price := in.Price
	if price <= 0 {
		price = in.Bars[len(in.Bars)-1].Close
	}

	closes := barCloses(in.Bars)
	reg := regime.Classify(closes, e.regimeCfg)

	ev := &Evaluation{Regime: reg}
	ev.RSIZScore = RSIZScore(closes, e.cfg.RSIPeriod, reg.HighVolatility())
	ev.Divergence = MomentumDivergence(in.Bars, e.cfg.DivergenceWindow)
	ev.VPT = VolumePriceTrend(in.Bars, e.cfg.TrendWindow)
	ev.OrderFlow = OrderFlow(in.Bars, e.cfg.FlowWindow, in.VolumeSpike)
	ev.SectorRS = SectorRelativeStrength(in.Bars, in.SectorBars, in.MarketBars)
	ev.Bollinger = AdaptiveBollinger(closes, price, e.cfg.BollingerPeriod, reg)
	ev.VWAP = SessionVWAP(in.Bars, price)
	ev.WilliamsR = WilliamsR(in.Bars, e.cfg.RSIPeriod)

	ev.Snapshot = &learning.FeatureSnapshot{
		Symbol: in.Symbol,
		Price:  price,
		Indicators: []learning.IndicatorFeature{
			ev.RSIZScore.Feature,
			ev.Divergence.Feature,
			ev.VPT.Feature,
			ev.OrderFlow.Feature,
			ev.SectorRS.Feature,
			ev.Bollinger.Feature,
		},
		RSI:                 ev.RSIZScore.RSI,
		VWAPDistancePercent: ev.VWAP.DistancePercent,
		Regime:              reg.Label(),
		CapturedAt:          in.AsOf,
	}
	return ev, nil
}

// ---------------------------------------------------------------------------
// shared helpers
// ---------------------------------------------------------------------------

func neutralFeature(cat learning.Category, name string) learning.IndicatorFeature {
	return learning.IndicatorFeature{Category: cat, Name: name}
}

func barCloses(bars []marketdata.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func barVolumes(bars []marketdata.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	return math.Abs(v)
}
