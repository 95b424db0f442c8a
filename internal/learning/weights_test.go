package learning

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"intraday-trading-bot/internal/journal"
)

func TestDefaultWeightsAreNeutral(t *testing.T) {
	w := DefaultWeights()
	if w.Version != 0 {
		t.Errorf("default version should be 0, got %d", w.Version)
	}
	for _, c := range Categories() {
		if w.Multipliers[c] != 1.0 {
			t.Errorf("multiplier for %s should be 1.0, got %f", c, w.Multipliers[c])
		}
	}
	if w.ConfidenceMultiplier != 1.0 {
		t.Errorf("confidence multiplier should be 1.0, got %f", w.ConfidenceMultiplier)
	}
	if w.MinConfidence != 7.0 || w.RiskRewardMin != 2.0 {
		t.Errorf("unexpected default thresholds: %+v", w)
	}
	if w.RSIOversold != 30.0 || w.RSIOverbought != 70.0 {
		t.Errorf("unexpected default RSI bands: %+v", w)
	}
	if w.VolumeSpike != 2.0 || w.MinExpectedMovePct != 3.0 {
		t.Errorf("unexpected default volume/move thresholds: %+v", w)
	}
}

func TestBaseCategoryWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, c := range Categories() {
		sum += BaseCategoryWeight(c)
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("base category weights should sum to 1.0, got %f", sum)
	}
}

func TestClampForcesRails(t *testing.T) {
	w := Weights{
		Multipliers: map[Category]float64{
			CategoryRSIZScore:          5.0,
			CategoryMomentumDivergence: 0.01,
		},
		ConfidenceMultiplier: 3.0,
		MinConfidence:        2.0,
		RiskRewardMin:        9.0,
		RSIOversold:          50.0,
		RSIOverbought:        55.0,
		VolumeSpike:          0.1,
		MinExpectedMovePct:   12.0,
	}
	w.Clamp()

	if w.Multipliers[CategoryRSIZScore] != MaxMultiplier {
		t.Errorf("high multiplier not clamped: %f", w.Multipliers[CategoryRSIZScore])
	}
	if w.Multipliers[CategoryMomentumDivergence] != MinMultiplier {
		t.Errorf("low multiplier not clamped: %f", w.Multipliers[CategoryMomentumDivergence])
	}
	if w.Multipliers[CategoryOrderFlow] != 1.0 {
		t.Errorf("missing multiplier should fill with 1.0, got %f", w.Multipliers[CategoryOrderFlow])
	}
	if w.ConfidenceMultiplier != MaxConfidenceMultiplier {
		t.Errorf("confidence multiplier not clamped: %f", w.ConfidenceMultiplier)
	}
	if w.MinConfidence != MinConfidenceFloor {
		t.Errorf("min confidence not raised to floor: %f", w.MinConfidence)
	}
	if w.RiskRewardMin != RiskRewardCeil {
		t.Errorf("risk reward not clamped to ceiling: %f", w.RiskRewardMin)
	}
	if w.RSIOversold != RSIOversoldCeil {
		t.Errorf("oversold band not clamped to ceiling: %f", w.RSIOversold)
	}
	if w.RSIOverbought != RSIOverboughtFloor {
		t.Errorf("overbought band not raised to floor: %f", w.RSIOverbought)
	}
	if w.VolumeSpike != VolumeSpikeFloor {
		t.Errorf("volume spike not raised to floor: %f", w.VolumeSpike)
	}
	if w.MinExpectedMovePct != MinExpectedMoveCeil {
		t.Errorf("min expected move not clamped to ceiling: %f", w.MinExpectedMovePct)
	}
}

// Snapshots written before the threshold fields existed decode them as
// zero; Clamp must backfill the defaults instead of pinning the rails.
func TestClampBackfillsMissingThresholds(t *testing.T) {
	w := DefaultWeights()
	w.RSIOversold = 0
	w.RSIOverbought = 0
	w.VolumeSpike = 0
	w.MinExpectedMovePct = 0
	w.Clamp()

	d := DefaultWeights()
	if w.RSIOversold != d.RSIOversold || w.RSIOverbought != d.RSIOverbought {
		t.Errorf("zero RSI bands should backfill defaults, got %+v", w)
	}
	if w.VolumeSpike != d.VolumeSpike || w.MinExpectedMovePct != d.MinExpectedMovePct {
		t.Errorf("zero volume/move thresholds should backfill defaults, got %+v", w)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	w := DefaultWeights()
	clone := w.Clone()
	clone.Multipliers[CategoryOrderFlow] = 1.8

	if w.Multipliers[CategoryOrderFlow] != 1.0 {
		t.Fatal("mutating a clone leaked into the original")
	}
}

func TestHolderHandsOutCopies(t *testing.T) {
	h := NewHolder(DefaultWeights())

	got := h.Current()
	got.Multipliers[CategoryRSIZScore] = 0.4

	if h.Current().Multipliers[CategoryRSIZScore] != 1.0 {
		t.Fatal("mutating a read copy changed the holder's weights")
	}
}

func TestHolderUpdateSwapsAtomically(t *testing.T) {
	h := NewHolder(DefaultWeights())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w := h.Current()
				if w.ConfidenceMultiplier < MinConfidenceMultiplier || w.ConfidenceMultiplier > MaxConfidenceMultiplier {
					t.Errorf("observed out-of-rails confidence multiplier %f", w.ConfidenceMultiplier)
					return
				}
			}
		}()
	}

	for j := 0; j < 100; j++ {
		w := DefaultWeights()
		w.Version = j
		w.ConfidenceMultiplier = 0.5 + float64(j%10)*0.1
		h.Update(w)
	}
	wg.Wait()

	if h.Version() != 99 {
		t.Fatalf("expected final version 99, got %d", h.Version())
	}
}

type fakeWeightStore struct {
	snap *journal.WeightSnapshot
	err  error
}

func (f *fakeWeightStore) LatestWeightSnapshot(context.Context) (*journal.WeightSnapshot, error) {
	return f.snap, f.err
}

func TestLoadWeightsFallsBackToInitial(t *testing.T) {
	initial := DefaultWeights()
	initial.MinConfidence = 6.5
	initial.RSIOversold = 25.0

	w, err := LoadWeights(context.Background(), &fakeWeightStore{}, initial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Version != 0 || w.Multipliers[CategoryVolumePriceTrend] != 1.0 {
		t.Fatalf("expected initial weights, got %+v", w)
	}
	if w.MinConfidence != 6.5 || w.RSIOversold != 25.0 {
		t.Fatalf("configured seed thresholds should survive the fallback, got %+v", w)
	}
}

func TestLoadWeightsRestoresAndClampsSnapshot(t *testing.T) {
	stored := DefaultWeights()
	stored.Multipliers[CategoryMomentumDivergence] = 2.5 // written by a buggy or older build
	stored.MinConfidence = 8.0
	raw, err := json.Marshal(stored)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	store := &fakeWeightStore{snap: &journal.WeightSnapshot{Version: 7, Payload: raw}}
	w, err := LoadWeights(context.Background(), store, DefaultWeights())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.Version != 7 {
		t.Errorf("expected version 7, got %d", w.Version)
	}
	if w.Multipliers[CategoryMomentumDivergence] != MaxMultiplier {
		t.Errorf("out-of-rails stored multiplier should clamp to %f, got %f",
			MaxMultiplier, w.Multipliers[CategoryMomentumDivergence])
	}
	if w.MinConfidence != 8.0 {
		t.Errorf("expected restored threshold 8.0, got %f", w.MinConfidence)
	}
}

func TestLoadWeightsRejectsCorruptPayload(t *testing.T) {
	store := &fakeWeightStore{snap: &journal.WeightSnapshot{Version: 3, Payload: []byte("{not json")}}
	if _, err := LoadWeights(context.Background(), store, DefaultWeights()); err == nil {
		t.Fatal("expected decode error for corrupt payload")
	}
}

func TestEffectiveWeight(t *testing.T) {
	w := DefaultWeights()
	w.Multipliers[CategoryVolumePriceTrend] = 1.5

	if got := w.EffectiveWeight(CategoryVolumePriceTrend); got != 0.20*1.5 {
		t.Errorf("expected 0.30, got %f", got)
	}
	if got := w.EffectiveWeight(Category("unknown")); got != 0 {
		t.Errorf("unknown category should weigh 0, got %f", got)
	}
}
