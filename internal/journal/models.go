package journal

import (
	"encoding/json"
	"time"
)

// Family identifies one journal record family. Appends within a family are
// serialized so rows land in the order the caller produced them.
type Family string

const (
	FamilyPredictions     Family = "predictions"
	FamilyDecisions       Family = "decisions"
	FamilyOutcomes        Family = "outcomes"
	FamilyPositions       Family = "positions"
	FamilyWatchlists      Family = "watchlists"
	FamilyAgentLogs       Family = "agent_logs"
	FamilySystemHealth    Family = "system_health"
	FamilyLearningCycles  Family = "learning_cycles"
	FamilyWeightSnapshots Family = "weight_snapshots"
)

// Families lists every record family in a stable order.
func Families() []Family {
	return []Family{
		FamilyPredictions,
		FamilyDecisions,
		FamilyOutcomes,
		FamilyPositions,
		FamilyWatchlists,
		FamilyAgentLogs,
		FamilySystemHealth,
		FamilyLearningCycles,
		FamilyWeightSnapshots,
	}
}

// Decision status constants
const (
	DecisionProposed    = "proposed"
	DecisionExecuted    = "executed"
	DecisionRejected    = "rejected"
	DecisionExpired     = "expired"
	DecisionRefused     = "refused"
	DecisionClosed      = "closed"
	DecisionPendingFill = "pending_fill"
)

// DecisionRecord is one recommender evaluation: a proposal, a refusal or a
// skip. Payload carries the full reasoning chain as emitted by the
// recommender; Features carries the raw per-category scores so a later
// learning pass can re-score the decision under candidate weights.
type DecisionRecord struct {
	ID             string          `json:"id"`
	SchemaVersion  int             `json:"schema_version"`
	Symbol         string          `json:"symbol"`
	Action         string          `json:"action"`
	Status         string          `json:"status"`
	Confidence     float64         `json:"confidence"`
	RefusalReason  string          `json:"refusal_reason,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	WeightsVersion int             `json:"weights_version"`
	Features       json.RawMessage `json:"features,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	OutcomeID      *int64          `json:"outcome_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PredictionRecord is the falsifiable claim attached to a decision: expected
// move, direction and horizon, scored once the horizon has elapsed.
type PredictionRecord struct {
	ID                  string     `json:"id"`
	SchemaVersion       int        `json:"schema_version"`
	DecisionID          string     `json:"decision_id"`
	Symbol              string     `json:"symbol"`
	Setup               string     `json:"setup"`
	Direction           string     `json:"direction"`
	ExpectedMovePercent float64    `json:"expected_move_percent"`
	ExpectedHours       float64    `json:"expected_hours"`
	ReferencePrice      float64    `json:"reference_price"`
	HorizonAt           time.Time  `json:"horizon_at"`
	EvaluatedAt         *time.Time `json:"evaluated_at,omitempty"`
	ActualMovePercent   *float64   `json:"actual_move_percent,omitempty"`
	ActualHours         *float64   `json:"actual_hours,omitempty"`
	AccuracyScore       *float64   `json:"accuracy_score,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Evaluated reports whether the prediction has been scored.
func (p *PredictionRecord) Evaluated() bool {
	return p.EvaluatedAt != nil
}

// OutcomeRecord is the realized result of an executed decision. Outcomes are
// the learning corpus and are never pruned.
type OutcomeRecord struct {
	ID                  int64     `json:"id"`
	SchemaVersion       int       `json:"schema_version"`
	DecisionID          string    `json:"decision_id"`
	PredictionID        string    `json:"prediction_id,omitempty"`
	Symbol              string    `json:"symbol"`
	EntryPrice          float64   `json:"entry_price"`
	ExitPrice           float64   `json:"exit_price"`
	Shares              float64   `json:"shares"`
	EnteredAt           time.Time `json:"entered_at"`
	ExitedAt            time.Time `json:"exited_at"`
	HoldingMinutes      float64   `json:"holding_minutes"`
	RealizedPnL         float64   `json:"realized_pnl"`
	RealizedPercent     float64   `json:"realized_percent"`
	ExitReason          string    `json:"exit_reason"`
	MaxFavorablePercent float64   `json:"max_favorable_percent"`
	MaxAdversePercent   float64   `json:"max_adverse_percent"`
	AccuracyScore       float64   `json:"accuracy_score"`
	Success             bool      `json:"success"`
	CreatedAt           time.Time `json:"created_at"`
}

// Position status constants
const (
	PositionOpen   = "open"
	PositionClosed = "closed"
)

// PositionRecord is the persisted state of one brokerage position. The
// monitor updates highest_price and trailing_stop in place; the closed row
// remains for audit.
type PositionRecord struct {
	ID            int64      `json:"id"`
	SchemaVersion int        `json:"schema_version"`
	Symbol        string     `json:"symbol"`
	DecisionID    string     `json:"decision_id"`
	Status        string     `json:"status"`
	Shares        float64    `json:"shares"`
	EntryPrice    float64    `json:"entry_price"`
	StopPrice     float64    `json:"stop_price"`
	TargetPrice   float64    `json:"target_price"`
	TrailingStop  *float64   `json:"trailing_stop,omitempty"`
	HighestPrice  float64    `json:"highest_price"`
	EntryOrderID  string     `json:"entry_order_id,omitempty"`
	ExitOrderID   string     `json:"exit_order_id,omitempty"`
	ExitReason    string     `json:"exit_reason,omitempty"`
	ExitPrice     *float64   `json:"exit_price,omitempty"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsOpen reports whether the position is still held.
func (p *PositionRecord) IsOpen() bool {
	return p.Status == PositionOpen
}

// WatchlistRecord is one screener pass: the surviving candidates plus the
// criteria that produced them. Degraded marks a carry-forward of the previous
// watchlist after a data outage.
type WatchlistRecord struct {
	ID            int64           `json:"id"`
	SchemaVersion int             `json:"schema_version"`
	SessionDate   string          `json:"session_date"`
	Degraded      bool            `json:"degraded"`
	SymbolCount   int             `json:"symbol_count"`
	Criteria      json.RawMessage `json:"criteria"`
	Entries       json.RawMessage `json:"entries"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AgentLogRecord is one structured activity line from a component, kept for
// the status API and offline analysis.
type AgentLogRecord struct {
	ID            int64           `json:"id"`
	SchemaVersion int             `json:"schema_version"`
	Component     string          `json:"component"`
	Level         string          `json:"level"`
	Message       string          `json:"message"`
	Data          json.RawMessage `json:"data,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Health status constants
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// HealthRecord is one component status report.
type HealthRecord struct {
	ID            int64           `json:"id"`
	SchemaVersion int             `json:"schema_version"`
	Component     string          `json:"component"`
	Status        string          `json:"status"`
	Detail        string          `json:"detail,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LearningCycleRecord is the audit record of one weight adjustment attempt,
// whether or not the candidate weights were committed.
type LearningCycleRecord struct {
	ID                   int64           `json:"id"`
	SchemaVersion        int             `json:"schema_version"`
	TriggerKind          string          `json:"trigger_kind"`
	StartedAt            time.Time       `json:"started_at"`
	FinishedAt           time.Time       `json:"finished_at"`
	OutcomesUsed         int             `json:"outcomes_used"`
	Committed            bool            `json:"committed"`
	SkipReason           string          `json:"skip_reason,omitempty"`
	ScoreBefore          float64         `json:"score_before"`
	ScoreAfter           float64         `json:"score_after"`
	WeightsVersionBefore int             `json:"weights_version_before"`
	WeightsVersionAfter  int             `json:"weights_version_after"`
	Report               json.RawMessage `json:"report,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// WeightSnapshot is one committed weight set. Versions are monotonic and
// snapshots are never deleted, so any historical decision can be replayed
// under the weights that produced it.
type WeightSnapshot struct {
	Version         int             `json:"version"`
	SchemaVersion   int             `json:"schema_version"`
	Payload         json.RawMessage `json:"payload"`
	ValidationScore float64         `json:"validation_score"`
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
