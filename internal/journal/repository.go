package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository provides journal operations for all record families.
//
// Appends within a family hold that family's lock, so two goroutines
// journaling to the same family never interleave out of caller order.
// Reads and cross-family appends run concurrently.
type Repository struct {
	db    *DB
	locks map[Family]*sync.Mutex
}

// NewRepository creates a repository over an established database.
func NewRepository(db *DB) *Repository {
	locks := make(map[Family]*sync.Mutex, len(Families()))
	for _, f := range Families() {
		locks[f] = &sync.Mutex{}
	}
	return &Repository{db: db, locks: locks}
}

func (r *Repository) lock(f Family) func() {
	mu := r.locks[f]
	mu.Lock()
	return mu.Unlock
}

// ---------------------------------------------------------------------------
// Decisions
// ---------------------------------------------------------------------------

// AppendDecision journals one recommender evaluation. The record ID doubles
// as the correlation ID for the confirmation flow; a missing ID is assigned
// here.
func (r *Repository) AppendDecision(ctx context.Context, rec *DecisionRecord) error {
	defer r.lock(FamilyDecisions)()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = 1
	}

	query := `
		INSERT INTO decisions (id, schema_version, symbol, action, status, confidence,
			refusal_reason, summary, weights_version, features, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := r.db.Pool.QueryRow(ctx, query,
		rec.ID, rec.SchemaVersion, rec.Symbol, rec.Action, rec.Status, rec.Confidence,
		rec.RefusalReason, rec.Summary, rec.WeightsVersion, rec.Features, rec.Payload,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// UpdateDecisionStatus moves a decision through its lifecycle
// (proposed -> pending_fill/executed/rejected/expired, executed -> closed).
func (r *Repository) UpdateDecisionStatus(ctx context.Context, id, status string) error {
	query := `UPDATE decisions SET status = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.db.Pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update decision status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("decision %s not found", id)
	}
	return nil
}

// UpdateDecisionOutcome links a closed decision to its realized outcome row.
func (r *Repository) UpdateDecisionOutcome(ctx context.Context, decisionID string, outcomeID int64) error {
	query := `UPDATE decisions SET outcome_id = $1, status = $2, updated_at = NOW() WHERE id = $3`
	tag, err := r.db.Pool.Exec(ctx, query, outcomeID, DecisionClosed, decisionID)
	if err != nil {
		return fmt.Errorf("failed to link decision outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("decision %s not found", decisionID)
	}
	return nil
}

// DecisionByID fetches a single decision.
func (r *Repository) DecisionByID(ctx context.Context, id string) (*DecisionRecord, error) {
	query := decisionColumns + ` WHERE id = $1`
	rec := &DecisionRecord{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.SchemaVersion, &rec.Symbol, &rec.Action, &rec.Status,
		&rec.Confidence, &rec.RefusalReason, &rec.Summary, &rec.WeightsVersion,
		&rec.Features, &rec.Payload, &rec.OutcomeID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return rec, nil
}

// RecentDecisions returns the newest decisions first.
func (r *Repository) RecentDecisions(ctx context.Context, limit int) ([]*DecisionRecord, error) {
	query := decisionColumns + ` ORDER BY created_at DESC LIMIT $1`
	return r.queryDecisions(ctx, query, limit)
}

// DecisionsBySymbol returns the newest decisions for one symbol.
func (r *Repository) DecisionsBySymbol(ctx context.Context, symbol string, limit int) ([]*DecisionRecord, error) {
	query := decisionColumns + ` WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2`
	return r.queryDecisions(ctx, query, symbol, limit)
}

// DecisionsByStatus returns the newest decisions in a given lifecycle state.
func (r *Repository) DecisionsByStatus(ctx context.Context, status string, limit int) ([]*DecisionRecord, error) {
	query := decisionColumns + ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
	return r.queryDecisions(ctx, query, status, limit)
}

const decisionColumns = `
	SELECT id, schema_version, symbol, action, status, confidence, refusal_reason,
		summary, weights_version, features, payload, outcome_id, created_at, updated_at
	FROM decisions`

func (r *Repository) queryDecisions(ctx context.Context, query string, args ...interface{}) ([]*DecisionRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*DecisionRecord
	for rows.Next() {
		rec := &DecisionRecord{}
		err := rows.Scan(
			&rec.ID, &rec.SchemaVersion, &rec.Symbol, &rec.Action, &rec.Status,
			&rec.Confidence, &rec.RefusalReason, &rec.Summary, &rec.WeightsVersion,
			&rec.Features, &rec.Payload, &rec.OutcomeID, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return decisions, nil
}

// ---------------------------------------------------------------------------
// Predictions
// ---------------------------------------------------------------------------

// AppendPrediction journals the falsifiable claim behind a decision.
func (r *Repository) AppendPrediction(ctx context.Context, rec *PredictionRecord) error {
	defer r.lock(FamilyPredictions)()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = 1
	}

	query := `
		INSERT INTO predictions (id, schema_version, decision_id, symbol, setup, direction,
			expected_move_percent, expected_hours, reference_price, horizon_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := r.db.Pool.QueryRow(ctx, query,
		rec.ID, rec.SchemaVersion, rec.DecisionID, rec.Symbol, rec.Setup, rec.Direction,
		rec.ExpectedMovePercent, rec.ExpectedHours, rec.ReferencePrice, rec.HorizonAt,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append prediction: %w", err)
	}
	return nil
}

// MarkPredictionEvaluated records the score of an elapsed prediction.
func (r *Repository) MarkPredictionEvaluated(ctx context.Context, id string, actualMovePercent, actualHours, accuracy float64) error {
	query := `
		UPDATE predictions
		SET evaluated_at = NOW(), actual_move_percent = $1, actual_hours = $2, accuracy_score = $3
		WHERE id = $4 AND evaluated_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, query, actualMovePercent, actualHours, accuracy, id)
	if err != nil {
		return fmt.Errorf("failed to mark prediction evaluated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("prediction %s not found or already evaluated", id)
	}
	return nil
}

// PendingPredictions returns unevaluated predictions whose horizon has
// elapsed, oldest first.
func (r *Repository) PendingPredictions(ctx context.Context, before time.Time, limit int) ([]*PredictionRecord, error) {
	query := predictionColumns + `
		WHERE evaluated_at IS NULL AND horizon_at <= $1
		ORDER BY horizon_at ASC LIMIT $2`
	return r.queryPredictions(ctx, query, before, limit)
}

// PredictionByDecision fetches the prediction attached to a decision.
func (r *Repository) PredictionByDecision(ctx context.Context, decisionID string) (*PredictionRecord, error) {
	query := predictionColumns + ` WHERE decision_id = $1 ORDER BY created_at DESC LIMIT 1`
	preds, err := r.queryPredictions(ctx, query, decisionID)
	if err != nil {
		return nil, err
	}
	if len(preds) == 0 {
		return nil, fmt.Errorf("no prediction for decision %s", decisionID)
	}
	return preds[0], nil
}

// RecentPredictions returns the newest predictions first.
func (r *Repository) RecentPredictions(ctx context.Context, limit int) ([]*PredictionRecord, error) {
	query := predictionColumns + ` ORDER BY created_at DESC LIMIT $1`
	return r.queryPredictions(ctx, query, limit)
}

const predictionColumns = `
	SELECT id, schema_version, decision_id, symbol, setup, direction,
		expected_move_percent, expected_hours, reference_price, horizon_at,
		evaluated_at, actual_move_percent, actual_hours, accuracy_score, created_at
	FROM predictions`

func (r *Repository) queryPredictions(ctx context.Context, query string, args ...interface{}) ([]*PredictionRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var preds []*PredictionRecord
	for rows.Next() {
		rec := &PredictionRecord{}
		err := rows.Scan(
			&rec.ID, &rec.SchemaVersion, &rec.DecisionID, &rec.Symbol, &rec.Setup,
			&rec.Direction, &rec.ExpectedMovePercent, &rec.ExpectedHours,
			&rec.ReferencePrice, &rec.HorizonAt, &rec.EvaluatedAt,
			&rec.ActualMovePercent, &rec.ActualHours, &rec.AccuracyScore, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		preds = append(preds, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}
	return preds, nil
}

// ---------------------------------------------------------------------------
// Outcomes
// ---------------------------------------------------------------------------

// AppendOutcome journals the realized result of an executed decision and
// assigns its row ID.
func (r *Repository) AppendOutcome(ctx context.Context, rec *OutcomeRecord) error {
	defer r.lock(FamilyOutcomes)()

	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = 1
	}

	query := `
		INSERT INTO outcomes (schema_version, decision_id, prediction_id, symbol,
			entry_price, exit_price, shares, entered_at, exited_at, holding_minutes,
			realized_pnl, realized_percent, exit_reason, max_favorable_percent,
			max_adverse_percent, accuracy_score, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at`

	var predictionID interface{}
	if rec.PredictionID != "" {
		predictionID = rec.PredictionID
	}

	err := r.db.Pool.QueryRow(ctx, query,
		rec.SchemaVersion, rec.DecisionID, predictionID, rec.Symbol,
		rec.EntryPrice, rec.ExitPrice, rec.Shares, rec.EnteredAt, rec.ExitedAt,
		rec.HoldingMinutes, rec.RealizedPnL, rec.RealizedPercent, rec.ExitReason,
		rec.MaxFavorablePercent, rec.MaxAdversePercent, rec.AccuracyScore, rec.Success,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns the newest outcomes first.
func (r *Repository) RecentOutcomes(ctx context.Context, limit int) ([]*OutcomeRecord, error) {
	query := outcomeColumns + ` ORDER BY created_at DESC LIMIT $1`
	return r.queryOutcomes(ctx, query, limit)
}

// OutcomesSince returns outcomes created at or after the cutoff, oldest
// first so callers can split chronologically.
func (r *Repository) OutcomesSince(ctx context.Context, since time.Time) ([]*OutcomeRecord, error) {
	query := outcomeColumns + ` WHERE created_at >= $1 ORDER BY created_at ASC`
	return r.queryOutcomes(ctx, query, since)
}

// OutcomesBySymbol returns the newest outcomes for one symbol.
func (r *Repository) OutcomesBySymbol(ctx context.Context, symbol string, limit int) ([]*OutcomeRecord, error) {
	query := outcomeColumns + ` WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2`
	return r.queryOutcomes(ctx, query, symbol, limit)
}

// RealizedPnLSince sums realized PnL and counts exits at or after the
// cutoff. The daily guard uses it to rebuild its state on restart.
func (r *Repository) RealizedPnLSince(ctx context.Context, since time.Time) (float64, int, error) {
	query := `SELECT COALESCE(SUM(realized_pnl), 0), COUNT(*) FROM outcomes WHERE exited_at >= $1`
	var pnl float64
	var count int
	if err := r.db.Pool.QueryRow(ctx, query, since).Scan(&pnl, &count); err != nil {
		return 0, 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return pnl, count, nil
}

const outcomeColumns = `
	SELECT id, schema_version, decision_id, COALESCE(prediction_id::text, ''), symbol,
		entry_price, exit_price, shares, entered_at, exited_at, holding_minutes,
		realized_pnl, realized_percent, exit_reason, max_favorable_percent,
		max_adverse_percent, accuracy_score, success, created_at
	FROM outcomes`

func (r *Repository) queryOutcomes(ctx context.Context, query string, args ...interface{}) ([]*OutcomeRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*OutcomeRecord
	for rows.Next() {
		rec := &OutcomeRecord{}
		err := rows.Scan(
			&rec.ID, &rec.SchemaVersion, &rec.DecisionID, &rec.PredictionID, &rec.Symbol,
			&rec.EntryPrice, &rec.ExitPrice, &rec.Shares, &rec.EnteredAt, &rec.ExitedAt,
			&rec.HoldingMinutes, &rec.RealizedPnL, &rec.RealizedPercent, &rec.ExitReason,
			&rec.MaxFavorablePercent, &rec.MaxAdversePercent, &rec.AccuracyScore,
			&rec.Success, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}
	return outcomes, nil
}

// ---------------------------------------------------------------------------
// Training examples
// ---------------------------------------------------------------------------

// TrainingExample pairs an outcome with the decision that produced it; the
// decision's raw feature snapshot lets learning re-score under candidate
// weights without recomputing indicators.
type TrainingExample struct {
	Decision DecisionRecord `json:"decision"`
	Outcome  OutcomeRecord  `json:"outcome"`
}

// TrainingExamples returns decision/outcome pairs in chronological order of
// realization, ready for a train/validation split.
func (r *Repository) TrainingExamples(ctx context.Context, since time.Time, limit int) ([]TrainingExample, error) {
	query := `
		SELECT d.id, d.symbol, d.action, d.confidence, d.weights_version, d.features,
			o.id, o.decision_id, COALESCE(o.prediction_id::text, ''), o.symbol,
			o.entry_price, o.exit_price, o.shares, o.entered_at, o.exited_at,
			o.holding_minutes, o.realized_pnl, o.realized_percent, o.exit_reason,
			o.max_favorable_percent, o.max_adverse_percent, o.accuracy_score,
			o.success, o.created_at
		FROM outcomes o
		JOIN decisions d ON d.id = o.decision_id
		WHERE o.created_at >= $1
		ORDER BY o.created_at ASC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query training examples: %w", err)
	}
	defer rows.Close()

	var examples []TrainingExample
	for rows.Next() {
		var ex TrainingExample
		err := rows.Scan(
			&ex.Decision.ID, &ex.Decision.Symbol, &ex.Decision.Action,
			&ex.Decision.Confidence, &ex.Decision.WeightsVersion, &ex.Decision.Features,
			&ex.Outcome.ID, &ex.Outcome.DecisionID, &ex.Outcome.PredictionID,
			&ex.Outcome.Symbol, &ex.Outcome.EntryPrice, &ex.Outcome.ExitPrice,
			&ex.Outcome.Shares, &ex.Outcome.EnteredAt, &ex.Outcome.ExitedAt,
			&ex.Outcome.HoldingMinutes, &ex.Outcome.RealizedPnL, &ex.Outcome.RealizedPercent,
			&ex.Outcome.ExitReason, &ex.Outcome.MaxFavorablePercent,
			&ex.Outcome.MaxAdversePercent, &ex.Outcome.AccuracyScore,
			&ex.Outcome.Success, &ex.Outcome.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan training example: %w", err)
		}
		examples = append(examples, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating training examples: %w", err)
	}
	return examples, nil
}
