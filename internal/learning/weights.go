// Package learning owns the adaptive parameters of the recommender: the
// per-category weight multipliers, the confidence calibration multiplier and
// the decision thresholds. It scores feature snapshots into confidence
// values, measures realized performance, and runs the validation-gated
// weight adjustment cycle.
//
// The recommender imports this package, never the reverse: learning
// re-scores journaled feature snapshots instead of recomputing indicators.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"intraday-trading-bot/internal/journal"
)

// Category identifies one indicator family in the scoring model.
type Category string

const (
	CategoryRSIZScore          Category = "rsi_zscore"
	CategoryMomentumDivergence Category = "momentum_divergence"
	CategoryVolumePriceTrend   Category = "vpt"
	CategoryOrderFlow          Category = "order_flow"
	CategorySectorStrength     Category = "sector_rs"
	CategoryAdaptiveBollinger  Category = "adaptive_bb"
)

// Categories lists every scoring category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryRSIZScore,
		CategoryMomentumDivergence,
		CategoryVolumePriceTrend,
		CategoryOrderFlow,
		CategorySectorStrength,
		CategoryAdaptiveBollinger,
	}
}

// baseCategoryWeights is the fixed structural weight of each category. The
// learned multiplier scales these; it never replaces them.
var baseCategoryWeights = map[Category]float64{
	CategoryRSIZScore:          0.15,
	CategoryMomentumDivergence: 0.25,
	CategoryVolumePriceTrend:   0.20,
	CategoryOrderFlow:          0.20,
	CategorySectorStrength:     0.15,
	CategoryAdaptiveBollinger:  0.05,
}

// BaseCategoryWeight returns the structural weight for a category, 0 for an
// unknown one.
func BaseCategoryWeight(c Category) float64 {
	return baseCategoryWeights[c]
}

// Multiplier and threshold rails. A learning cycle may move a value by at
// most one step toward a rail; it can never cross it.
const (
	MinMultiplier = 0.3
	MaxMultiplier = 2.0

	MinConfidenceMultiplier = 0.5
	MaxConfidenceMultiplier = 1.5

	MinConfidenceFloor = 5.0
	MinConfidenceCeil  = 9.0

	RiskRewardFloor = 1.5
	RiskRewardCeil  = 3.0

	RSIOversoldFloor   = 20.0
	RSIOversoldCeil    = 35.0
	RSIOverboughtFloor = 65.0
	RSIOverboughtCeil  = 80.0

	VolumeSpikeFloor = 1.5
	VolumeSpikeCeil  = 4.0

	MinExpectedMoveFloor = 1.0
	MinExpectedMoveCeil  = 5.0

	ThresholdStep = 0.5
	RSIBandStep   = 2.5
)

// Weights is one committed set of adaptive parameters. Version matches the
// journal weight snapshot that produced it; version 0 is the built-in
// default before any cycle has committed.
type Weights struct {
	Version              int                  `json:"version"`
	Multipliers          map[Category]float64 `json:"multipliers"`
	ConfidenceMultiplier float64              `json:"confidence_multiplier"`
	MinConfidence        float64              `json:"min_confidence"`
	RiskRewardMin        float64              `json:"risk_reward_min"`
	RSIOversold          float64              `json:"rsi_oversold"`
	RSIOverbought        float64              `json:"rsi_overbought"`
	VolumeSpike          float64              `json:"volume_spike_multiplier"`
	MinExpectedMovePct   float64              `json:"min_expected_move_percent"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// DefaultWeights returns the neutral parameter set used before any learning
// cycle has committed.
func DefaultWeights() Weights {
	multipliers := make(map[Category]float64, len(baseCategoryWeights))
	for _, c := range Categories() {
		multipliers[c] = 1.0
	}
	return Weights{
		Version:              0,
		Multipliers:          multipliers,
		ConfidenceMultiplier: 1.0,
		MinConfidence:        7.0,
		RiskRewardMin:        2.0,
		RSIOversold:          30.0,
		RSIOverbought:        70.0,
		VolumeSpike:          2.0,
		MinExpectedMovePct:   3.0,
	}
}

// Clone returns a deep copy safe for independent mutation.
func (w Weights) Clone() Weights {
	out := w
	out.Multipliers = make(map[Category]float64, len(w.Multipliers))
	for c, m := range w.Multipliers {
		out.Multipliers[c] = m
	}
	return out
}

// Clamp forces every parameter inside its rails. Missing multipliers are
// filled with 1.0 so a snapshot from an older schema stays usable.
func (w *Weights) Clamp() {
	if w.Multipliers == nil {
		w.Multipliers = make(map[Category]float64, len(baseCategoryWeights))
	}
	for _, c := range Categories() {
		m, ok := w.Multipliers[c]
		if !ok {
			m = 1.0
		}
		w.Multipliers[c] = clamp(m, MinMultiplier, MaxMultiplier)
	}
	w.ConfidenceMultiplier = clamp(w.ConfidenceMultiplier, MinConfidenceMultiplier, MaxConfidenceMultiplier)
	w.MinConfidence = clamp(w.MinConfidence, MinConfidenceFloor, MinConfidenceCeil)
	w.RiskRewardMin = clamp(w.RiskRewardMin, RiskRewardFloor, RiskRewardCeil)

	// Older snapshots predate the threshold fields; zero means default.
	d := DefaultWeights()
	w.RSIOversold = clampOrDefault(w.RSIOversold, RSIOversoldFloor, RSIOversoldCeil, d.RSIOversold)
	w.RSIOverbought = clampOrDefault(w.RSIOverbought, RSIOverboughtFloor, RSIOverboughtCeil, d.RSIOverbought)
	w.VolumeSpike = clampOrDefault(w.VolumeSpike, VolumeSpikeFloor, VolumeSpikeCeil, d.VolumeSpike)
	w.MinExpectedMovePct = clampOrDefault(w.MinExpectedMovePct, MinExpectedMoveFloor, MinExpectedMoveCeil, d.MinExpectedMovePct)
}

func clampOrDefault(v, lo, hi, def float64) float64 {
	if v == 0 {
		return def
	}
	return clamp(v, lo, hi)
}

// EffectiveWeight is the structural weight scaled by the learned multiplier.
func (w Weights) EffectiveWeight(c Category) float64 {
	m, ok := w.Multipliers[c]
	if !ok {
		m = 1.0
	}
	return baseCategoryWeights[c] * m
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

// Holder publishes the active weight set to concurrent readers. Readers get
// a deep copy; an update swaps the whole set atomically.
type Holder struct {
	mu sync.RWMutex
	w  Weights
}

// NewHolder creates a holder seeded with the given weights.
func NewHolder(w Weights) *Holder {
	w.Clamp()
	return &Holder{w: w}
}

// Current returns a deep copy of the active weights.
func (h *Holder) Current() Weights {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.w.Clone()
}

// Update replaces the active weights.
func (h *Holder) Update(w Weights) {
	w.Clamp()
	h.mu.Lock()
	h.w = w
	h.mu.Unlock()
}

// Version returns the active snapshot version without copying the maps.
func (h *Holder) Version() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.w.Version
}

// WeightStore is the slice of the journal the loader needs.
type WeightStore interface {
	LatestWeightSnapshot(ctx context.Context) (*journal.WeightSnapshot, error)
}

// LoadWeights restores the latest committed weights, falling back to the
// given initial set when no snapshot has ever been committed.
func LoadWeights(ctx context.Context, store WeightStore, initial Weights) (Weights, error) {
	snap, err := store.LatestWeightSnapshot(ctx)
	if err != nil {
		return Weights{}, fmt.Errorf("failed to load weight snapshot: %w", err)
	}
	if snap == nil {
		initial.Clamp()
		return initial, nil
	}

	var w Weights
	if err := json.Unmarshal(snap.Payload, &w); err != nil {
		return Weights{}, fmt.Errorf("failed to decode weight snapshot %d: %w", snap.Version, err)
	}
	w.Version = snap.Version
	w.Clamp()
	return w, nil
}
