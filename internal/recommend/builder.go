package recommend

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"intraday-trading-bot/internal/learning"
)

// InvariantError marks a broken arithmetic invariant inside an evaluation.
// It is never suppressed: the caller journals the full snapshot and skips
// the candidate.
type InvariantError struct {
	Check  string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Check, e.Detail)
}

// Step is one ordered reasoning step. Delta is the step's signed effect on
// the final confidence, after the confidence multiplier.
type Step struct {
	Name      string  `json:"name"`
	Input     string  `json:"input"`
	Delta     float64 `json:"delta"`
	Rationale string  `json:"rationale"`
}

// Levels is the proposed price structure of a trade.
type Levels struct {
	Entry      float64 `json:"entry"`
	Stop       float64 `json:"stop"`
	Target     float64 `json:"target"`
	RiskReward float64 `json:"risk_reward"`
}

// Sizing is the share-count derivation.
type Sizing struct {
	Equity           float64 `json:"equity"`
	PositionFraction float64 `json:"position_fraction"`
	Shares           float64 `json:"shares"`
	Notional         float64 `json:"notional"`
}

// Payload is the full reasoning chain journaled with every decision. A
// reader can reconstruct the confidence from Steps alone.
type Payload struct {
	Symbol       string                   `json:"symbol"`
	Action       string                   `json:"action"`
	Steps        []Step                   `json:"steps"`
	Breakdown    *learning.ScoreBreakdown `json:"breakdown,omitempty"`
	KeyFactors   []string                 `json:"key_factors,omitempty"`
	RiskFactors  []string                 `json:"risk_factors,omitempty"`
	Alternatives []string                 `json:"alternatives,omitempty"`
	Levels       *Levels                  `json:"levels,omitempty"`
	Sizing       *Sizing                  `json:"sizing,omitempty"`
	Summary      string                   `json:"summary"`
	ValidUntil   *time.Time               `json:"valid_until,omitempty"`
	EvaluatedAt  time.Time                `json:"evaluated_at"`
}

// Builder accumulates the reasoning chain for one evaluation in the order
// the steps actually ran.
type Builder struct {
	payload Payload
}

// NewBuilder opens the reasoning chain for one symbol.
func NewBuilder(symbol string, at time.Time) *Builder {
	return &Builder{payload: Payload{Symbol: symbol, EvaluatedAt: at}}
}

// Step appends one reasoning step.
func (b *Builder) Step(name, input string, delta float64, rationale string) {
	b.payload.Steps = append(b.payload.Steps, Step{
		Name:      name,
		Input:     input,
		Delta:     delta,
		Rationale: rationale,
	})
}

// KeyFactor records one reason supporting the trade.
func (b *Builder) KeyFactor(f string) {
	b.payload.KeyFactors = append(b.payload.KeyFactors, f)
}

// RiskFactor records one reason against the trade.
func (b *Builder) RiskFactor(f string) {
	b.payload.RiskFactors = append(b.payload.RiskFactors, f)
}

// Alternative records a rejected alternative action.
func (b *Builder) Alternative(a string) {
	b.payload.Alternatives = append(b.payload.Alternatives, a)
}

// RiskFactors returns the factors recorded so far.
func (b *Builder) RiskFactors() []string { return b.payload.RiskFactors }

// KeyFactors returns the factors recorded so far.
func (b *Builder) KeyFactors() []string { return b.payload.KeyFactors }

// DeltaSum adds up the recorded step deltas.
func (b *Builder) DeltaSum() float64 {
	var sum float64
	for _, s := range b.payload.Steps {
		sum += s.Delta
	}
	return sum
}

// VerifyBreakdown checks that the recorded steps reconstruct the raw score:
// base + sum(deltas) must equal the breakdown's pre-clamp value. A mismatch
// means a step was dropped or double-counted.
func (b *Builder) VerifyBreakdown(bd *learning.ScoreBreakdown) error {
	want := bd.Raw - bd.Base
	got := b.DeltaSum()
	if math.Abs(want-got) > 1e-6 {
		return &InvariantError{
			Check:  "contribution_sum",
			Detail: fmt.Sprintf("steps sum to %.6f, breakdown implies %.6f", got, want),
		}
	}
	return nil
}

// Finalize seals the chain with the chosen action and serializes it for the
// decision journal.
func (b *Builder) Finalize(action, summary string, bd *learning.ScoreBreakdown, levels *Levels, sizing *Sizing, validUntil *time.Time) (json.RawMessage, error) {
	b.payload.Action = action
	b.payload.Summary = summary
	b.payload.Breakdown = bd
	b.payload.Levels = levels
	b.payload.Sizing = sizing
	b.payload.ValidUntil = validUntil

	raw, err := json.Marshal(b.payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode decision payload: %w", err)
	}
	return raw, nil
}
