package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday-trading-bot/internal/broker"
	"intraday-trading-bot/internal/journal"
	"intraday-trading-bot/internal/marketdata"
	"intraday-trading-bot/internal/risk"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeQuotes struct {
	prices map[string]float64
}

func (f *fakeQuotes) Snapshot(_ context.Context, symbol string) (*marketdata.Quote, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return nil, marketdata.ErrDataUnavailable
	}
	return &marketdata.Quote{Symbol: symbol, Price: p}, nil
}

type fakeSeller struct {
	sells    []string
	failWith error
	fillAt   float64
}

func (f *fakeSeller) PlaceSell(_ context.Context, symbol string, shares float64, idemKey string) (*broker.Order, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.sells = append(f.sells, idemKey)
	price := f.fillAt
	return &broker.Order{Symbol: symbol, Qty: shares, FilledQty: shares,
		FilledAvgPrice: price, Status: broker.OrderStatusFilled}, nil
}

func (f *fakeSeller) Order(_ context.Context, idemKey string) (*broker.Order, error) {
	return &broker.Order{ClientOrderID: idemKey, Status: broker.OrderStatusFilled, FilledAvgPrice: f.fillAt}, nil
}

type fakeStore struct {
	positions       []*journal.PositionRecord
	outcomes        []*journal.OutcomeRecord
	predictions     map[string]*journal.PredictionRecord
	evaluated       map[string]float64
	levels          []levelUpdate
	linked          map[string]int64
	health          []string
	outcomeFailures int
}

type levelUpdate struct {
	id       int64
	highest  float64
	trailing *float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		predictions: make(map[string]*journal.PredictionRecord),
		evaluated:   make(map[string]float64),
		linked:      make(map[string]int64),
	}
}

func (f *fakeStore) OpenPositions(context.Context) ([]*journal.PositionRecord, error) {
	var open []*journal.PositionRecord
	for _, p := range f.positions {
		if p.Status == journal.PositionOpen || p.Status == "" {
			open = append(open, p)
		}
	}
	return open, nil
}

func (f *fakeStore) UpdatePositionLevels(_ context.Context, id int64, highest float64, trailing *float64) error {
	f.levels = append(f.levels, levelUpdate{id: id, highest: highest, trailing: trailing})
	return nil
}

func (f *fakeStore) MarkPositionExiting(_ context.Context, id int64, exitOrderID, exitReason string) error {
	for _, p := range f.positions {
		if p.ID == id {
			p.ExitOrderID = exitOrderID
			p.ExitReason = exitReason
		}
	}
	return nil
}

func (f *fakeStore) ClosePosition(_ context.Context, id int64, exitPrice float64, exitReason string) error {
	for _, p := range f.positions {
		if p.ID == id {
			p.Status = journal.PositionClosed
			p.ExitPrice = &exitPrice
			p.ExitReason = exitReason
		}
	}
	return nil
}

func (f *fakeStore) AppendOutcome(_ context.Context, rec *journal.OutcomeRecord) error {
	if f.outcomeFailures > 0 {
		f.outcomeFailures--
		return journal.ErrPositionNotFound
	}
	rec.ID = int64(len(f.outcomes) + 1)
	f.outcomes = append(f.outcomes, rec)
	return nil
}

func (f *fakeStore) UpdateDecisionOutcome(_ context.Context, decisionID string, outcomeID int64) error {
	f.linked[decisionID] = outcomeID
	return nil
}

func (f *fakeStore) PredictionByDecision(_ context.Context, decisionID string) (*journal.PredictionRecord, error) {
	for _, p := range f.predictions {
		if p.DecisionID == decisionID {
			return p, nil
		}
	}
	return nil, journal.ErrPositionNotFound
}

func (f *fakeStore) MarkPredictionEvaluated(_ context.Context, id string, actualMove, actualHours, accuracy float64) error {
	f.evaluated[id] = accuracy
	return nil
}

func (f *fakeStore) PendingPredictions(_ context.Context, before time.Time, _ int) ([]*journal.PredictionRecord, error) {
	var out []*journal.PredictionRecord
	for _, p := range f.predictions {
		if p.EvaluatedAt == nil && !p.HorizonAt.After(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendHealth(_ context.Context, _, status, detail string, _ interface{}) error {
	f.health = append(f.health, status+": "+detail)
	return nil
}

type silentMessenger struct{ msgs []string }

func (s *silentMessenger) Info(_ context.Context, text string) { s.msgs = append(s.msgs, text) }

func position(id int64, entry, stop, target float64, openedAt time.Time) *journal.PositionRecord {
	return &journal.PositionRecord{
		ID: id, Symbol: "PLUG", DecisionID: "dec-1", Status: journal.PositionOpen,
		Shares: 100, EntryPrice: entry, StopPrice: stop, TargetPrice: target,
		HighestPrice: entry, OpenedAt: openedAt,
	}
}

func newMonitor(t *testing.T, store *fakeStore, quotes *fakeQuotes, seller *fakeSeller, at time.Time) (*Monitor, *silentMessenger, *risk.DailyGuard) {
	t.Helper()
	msgr := &silentMessenger{}
	guard := risk.NewDailyGuard(risk.Config{MaxDailyTrades: 10, MaxDailyLossPercent: 0.15}, zerolog.Nop())
	ids := broker.NewOrderIDGenerator(nil, broker.ModePaper, time.UTC, zerolog.Nop())
	m := New(DefaultConfig(), quotes, seller, ids, store, msgr, guard, nil, fixedClock{t: at}, zerolog.Nop())
	return m, msgr, guard
}

func TestTargetExitProducesOutcome(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.positions = []*journal.PositionRecord{position(1, 5.00, 4.85, 5.30, at.Add(-90*time.Minute))}
	store.predictions["pred-1"] = &journal.PredictionRecord{
		ID: "pred-1", DecisionID: "dec-1", Symbol: "PLUG",
		ExpectedMovePercent: 6.0, ExpectedHours: 4.0, ReferencePrice: 5.00,
		HorizonAt: at.Add(2 * time.Hour), CreatedAt: at.Add(-90 * time.Minute),
	}
	seller := &fakeSeller{fillAt: 5.32}
	m, msgr, _ := newMonitor(t, store, &fakeQuotes{prices: map[string]float64{"PLUG": 5.35}}, seller, at)

	require.NoError(t, m.Sweep(context.Background()))

	require.Len(t, store.outcomes, 1)
	out := store.outcomes[0]
	assert.Equal(t, ExitTarget, out.ExitReason)
	assert.InDelta(t, 6.4, out.RealizedPercent, 0.01)
	assert.True(t, out.Success)
	assert.InDelta(t, 90, out.HoldingMinutes, 0.01)
	assert.Equal(t, "pred-1", out.PredictionID)
	assert.Contains(t, store.evaluated, "pred-1")
	assert.Equal(t, int64(1), store.linked["dec-1"])
	assert.NotEmpty(t, msgr.msgs)
}

func TestStopExitRecordsLoss(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.positions = []*journal.PositionRecord{position(1, 5.00, 4.85, 5.30, at.Add(-30*time.Minute))}
	seller := &fakeSeller{fillAt: 4.84}
	m, _, guard := newMonitor(t, store, &fakeQuotes{prices: map[string]float64{"PLUG": 4.80}}, seller, at)

	require.NoError(t, m.Sweep(context.Background()))

	require.Len(t, store.outcomes, 1)
	assert.Equal(t, ExitStop, store.outcomes[0].ExitReason)
	assert.False(t, store.outcomes[0].Success)
	assert.Less(t, guard.State().RealizedPnLPct, 0.0)
}

func TestTrailingArmsAndNeverMovesDown(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newFakeStore()
	pos := position(1, 5.00, 4.85, 6.00, at.Add(-10*time.Minute)) // R = 0.15
	store.positions = []*journal.PositionRecord{pos}
	quotes := &fakeQuotes{prices: map[string]float64{"PLUG": 5.10}}
	seller := &fakeSeller{fillAt: 5.10}
	m, _, _ := newMonitor(t, store, quotes, seller, at)

	// Below the arm threshold (entry + 1.5R = 5.225) no trailing stop.
	require.NoError(t, m.Sweep(context.Background()))
	assert.Nil(t, pos.TrailingStop)

	// Crossing the threshold locks in entry + 0.2R = 5.03.
	quotes.prices["PLUG"] = 5.23
	require.NoError(t, m.Sweep(context.Background()))
	require.NotNil(t, pos.TrailingStop)
	assert.InDelta(t, 5.03, *pos.TrailingStop, 0.01)

	// A new high advances the trailing stop.
	quotes.prices["PLUG"] = 5.40
	require.NoError(t, m.Sweep(context.Background()))
	advanced := *pos.TrailingStop
	assert.Greater(t, advanced, 5.03)

	// A pullback that stays above the stop does not lower it.
	quotes.prices["PLUG"] = advanced + 0.01
	require.NoError(t, m.Sweep(context.Background()))
	assert.InDelta(t, advanced, *pos.TrailingStop, 1e-9)

	// Falling to the trailing stop exits with the trailing reason.
	quotes.prices["PLUG"] = advanced
	seller.fillAt = advanced
	require.NoError(t, m.Sweep(context.Background()))
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, ExitTrailing, store.outcomes[0].ExitReason)
	assert.True(t, store.outcomes[0].Success, "trailing exit locks in a gain")
}

func TestTimeExitAfterMaxHolding(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.positions = []*journal.PositionRecord{position(1, 5.00, 4.85, 5.30, at.Add(-5*time.Hour))}
	seller := &fakeSeller{fillAt: 5.02}
	m, _, _ := newMonitor(t, store, &fakeQuotes{prices: map[string]float64{"PLUG": 5.02}}, seller, at)

	require.NoError(t, m.Sweep(context.Background()))
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, ExitTime, store.outcomes[0].ExitReason)
}

func TestEmergencyExitOnGapDown(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newFakeStore()
	// Stop far below so the gap check fires before the stop would.
	pos := position(1, 5.00, 4.00, 6.00, at.Add(-10*time.Minute))
	store.positions = []*journal.PositionRecord{pos}
	seller := &fakeSeller{fillAt: 4.55}
	m, _, _ := newMonitor(t, store, &fakeQuotes{prices: map[string]float64{"PLUG": 4.55}}, seller, at)

	require.NoError(t, m.Sweep(context.Background()))
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, ExitEmergency, store.outcomes[0].ExitReason)
}

func TestQuoteMissSkipsPosition(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.positions = []*journal.PositionRecord{position(1, 5.00, 4.85, 5.30, at.Add(-time.Minute))}
	seller := &fakeSeller{}
	m, _, _ := newMonitor(t, store, &fakeQuotes{prices: map[string]float64{}}, seller, at)

	require.NoError(t, m.Sweep(context.Background()))
	assert.Empty(t, store.outcomes)
	assert.Equal(t, journal.PositionOpen, store.positions[0].Status)
}

func TestSellFailureEscalates(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.positions = []*journal.PositionRecord{position(1, 5.00, 4.85, 5.30, at.Add(-time.Minute))}
	seller := &fakeSeller{failWith: broker.ErrTransient}
	m, msgr, _ := newMonitor(t, store, &fakeQuotes{prices: map[string]float64{"PLUG": 5.35}}, seller, at)

	require.NoError(t, m.Sweep(context.Background()))

	assert.Empty(t, store.outcomes, "a failed sell must not fabricate an outcome")
	require.NotEmpty(t, store.health)
	assert.Contains(t, store.health[0], journal.HealthDegraded)
	require.NotEmpty(t, msgr.msgs)
	assert.Contains(t, msgr.msgs[0], "MANUAL ACTION NEEDED")
}

func TestExitReasonVocabulary(t *testing.T) {
	assert.Equal(t, "target", ExitTarget)
	assert.Equal(t, "trailing_stop", ExitTrailing)
	assert.Equal(t, "stop", ExitStop)
	assert.Equal(t, "time", ExitTime)
	assert.Equal(t, "emergency", ExitEmergency)
}

func TestOutcomeWriteRetriedAfterTransientFailure(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.positions = []*journal.PositionRecord{position(1, 5.00, 4.85, 5.30, at.Add(-30*time.Minute))}
	store.outcomeFailures = 2
	seller := &fakeSeller{fillAt: 5.32}
	m, _, _ := newMonitor(t, store, &fakeQuotes{prices: map[string]float64{"PLUG": 5.35}}, seller, at)

	require.NoError(t, m.Sweep(context.Background()))

	require.Len(t, store.outcomes, 1, "a transient journal failure must not lose the outcome")
	assert.Equal(t, int64(1), store.linked["dec-1"])
	assert.Empty(t, store.health)
}

func TestOutcomeLossJournaledWhenWritesKeepFailing(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.positions = []*journal.PositionRecord{position(1, 5.00, 4.85, 5.30, at.Add(-30*time.Minute))}
	store.outcomeFailures = 100
	seller := &fakeSeller{fillAt: 4.84}
	m, _, guard := newMonitor(t, store, &fakeQuotes{prices: map[string]float64{"PLUG": 4.80}}, seller, at)

	require.NoError(t, m.Sweep(context.Background()))

	assert.Empty(t, store.outcomes)
	require.NotEmpty(t, store.health, "a lost outcome must leave a health record for replay")
	assert.Contains(t, store.health[0], journal.HealthDegraded)
	assert.Contains(t, store.health[0], "dec-1")
	assert.Less(t, guard.State().RealizedPnLPct, 0.0, "realized loss still reaches the guard")
}

func TestEvaluatePredictionsPastHorizon(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.predictions["pred-1"] = &journal.PredictionRecord{
		ID: "pred-1", DecisionID: "dec-9", Symbol: "PLUG",
		ExpectedMovePercent: 5.0, ExpectedHours: 2.0, ReferencePrice: 5.00,
		HorizonAt: at.Add(-time.Minute), CreatedAt: at.Add(-3 * time.Hour),
	}
	m, _, _ := newMonitor(t, store, &fakeQuotes{prices: map[string]float64{"PLUG": 5.20}}, &fakeSeller{}, at)

	require.NoError(t, m.EvaluatePredictions(context.Background()))
	acc, ok := store.evaluated["pred-1"]
	require.True(t, ok)
	assert.Greater(t, acc, 0.5, "right direction earns at least the direction weight")
}
