package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ---------------------------------------------------------------------------
// Watchlists
// ---------------------------------------------------------------------------

// SaveWatchlist journals one screener pass.
func (r *Repository) SaveWatchlist(ctx context.Context, rec *WatchlistRecord) error {
	defer r.lock(FamilyWatchlists)()

	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = 1
	}

	query := `
		INSERT INTO watchlists (schema_version, session_date, degraded, symbol_count, criteria, entries)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.db.Pool.QueryRow(ctx, query,
		rec.SchemaVersion, rec.SessionDate, rec.Degraded, rec.SymbolCount,
		rec.Criteria, rec.Entries,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save watchlist: %w", err)
	}
	return nil
}

// LatestWatchlist returns the most recent watchlist, or nil when none has
// ever been journaled.
func (r *Repository) LatestWatchlist(ctx context.Context) (*WatchlistRecord, error) {
	query := `
		SELECT id, schema_version, session_date, degraded, symbol_count, criteria, entries, created_at
		FROM watchlists ORDER BY created_at DESC LIMIT 1`

	rec := &WatchlistRecord{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&rec.ID, &rec.SchemaVersion, &rec.SessionDate, &rec.Degraded,
		&rec.SymbolCount, &rec.Criteria, &rec.Entries, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest watchlist: %w", err)
	}
	return rec, nil
}

// ---------------------------------------------------------------------------
// Agent logs
// ---------------------------------------------------------------------------

// AppendAgentLog journals one structured activity line. Data may be nil.
func (r *Repository) AppendAgentLog(ctx context.Context, component, level, message string, data interface{}) error {
	defer r.lock(FamilyAgentLogs)()

	payload, err := marshalOptional(data)
	if err != nil {
		return fmt.Errorf("failed to marshal agent log data: %w", err)
	}

	query := `INSERT INTO agent_logs (component, level, message, data) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.Pool.Exec(ctx, query, component, level, message, payload); err != nil {
		return fmt.Errorf("failed to append agent log: %w", err)
	}
	return nil
}

// RecentAgentLogs returns the newest log lines first. An empty component
// matches all components.
func (r *Repository) RecentAgentLogs(ctx context.Context, component string, limit int) ([]*AgentLogRecord, error) {
	query := `
		SELECT id, schema_version, component, level, message, data, created_at
		FROM agent_logs
		WHERE ($1 = '' OR component = $1)
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, component, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent logs: %w", err)
	}
	defer rows.Close()

	var logs []*AgentLogRecord
	for rows.Next() {
		rec := &AgentLogRecord{}
		if err := rows.Scan(&rec.ID, &rec.SchemaVersion, &rec.Component, &rec.Level,
			&rec.Message, &rec.Data, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent log: %w", err)
		}
		logs = append(logs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent logs: %w", err)
	}
	return logs, nil
}

// ---------------------------------------------------------------------------
// System health
// ---------------------------------------------------------------------------

// AppendHealth journals one component status report. Data may be nil.
func (r *Repository) AppendHealth(ctx context.Context, component, status, detail string, data interface{}) error {
	defer r.lock(FamilySystemHealth)()

	payload, err := marshalOptional(data)
	if err != nil {
		return fmt.Errorf("failed to marshal health data: %w", err)
	}

	query := `INSERT INTO system_health (component, status, detail, data) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.Pool.Exec(ctx, query, component, status, detail, payload); err != nil {
		return fmt.Errorf("failed to append health report: %w", err)
	}
	return nil
}

// RecentHealth returns the newest health reports first.
func (r *Repository) RecentHealth(ctx context.Context, limit int) ([]*HealthRecord, error) {
	query := `
		SELECT id, schema_version, component, status, detail, data, created_at
		FROM system_health ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query health reports: %w", err)
	}
	defer rows.Close()

	var reports []*HealthRecord
	for rows.Next() {
		rec := &HealthRecord{}
		if err := rows.Scan(&rec.ID, &rec.SchemaVersion, &rec.Component, &rec.Status,
			&rec.Detail, &rec.Data, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan health report: %w", err)
		}
		reports = append(reports, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health reports: %w", err)
	}
	return reports, nil
}

// ---------------------------------------------------------------------------
// Learning cycles
// ---------------------------------------------------------------------------

// AppendLearningCycle journals one weight adjustment attempt.
func (r *Repository) AppendLearningCycle(ctx context.Context, rec *LearningCycleRecord) error {
	defer r.lock(FamilyLearningCycles)()

	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = 1
	}

	query := `
		INSERT INTO learning_cycles (schema_version, trigger_kind, started_at, finished_at,
			outcomes_used, committed, skip_reason, score_before, score_after,
			weights_version_before, weights_version_after, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	err := r.db.Pool.QueryRow(ctx, query,
		rec.SchemaVersion, rec.TriggerKind, rec.StartedAt, rec.FinishedAt,
		rec.OutcomesUsed, rec.Committed, rec.SkipReason, rec.ScoreBefore,
		rec.ScoreAfter, rec.WeightsVersionBefore, rec.WeightsVersionAfter, rec.Report,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append learning cycle: %w", err)
	}
	return nil
}

// RecentLearningCycles returns the newest cycles first.
func (r *Repository) RecentLearningCycles(ctx context.Context, limit int) ([]*LearningCycleRecord, error) {
	query := `
		SELECT id, schema_version, trigger_kind, started_at, finished_at, outcomes_used,
			committed, skip_reason, score_before, score_after, weights_version_before,
			weights_version_after, report, created_at
		FROM learning_cycles ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query learning cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*LearningCycleRecord
	for rows.Next() {
		rec := &LearningCycleRecord{}
		err := rows.Scan(&rec.ID, &rec.SchemaVersion, &rec.TriggerKind, &rec.StartedAt,
			&rec.FinishedAt, &rec.OutcomesUsed, &rec.Committed, &rec.SkipReason,
			&rec.ScoreBefore, &rec.ScoreAfter, &rec.WeightsVersionBefore,
			&rec.WeightsVersionAfter, &rec.Report, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan learning cycle: %w", err)
		}
		cycles = append(cycles, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating learning cycles: %w", err)
	}
	return cycles, nil
}

// ---------------------------------------------------------------------------
// Weight snapshots
// ---------------------------------------------------------------------------

// SaveWeightSnapshot persists a committed weight set under the next version.
// The version is computed inside the insert; the family lock keeps two
// concurrent commits from racing on the same version.
func (r *Repository) SaveWeightSnapshot(ctx context.Context, payload interface{}, validationScore float64, note string) (*WeightSnapshot, error) {
	defer r.lock(FamilyWeightSnapshots)()

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal weight snapshot: %w", err)
	}

	query := `
		INSERT INTO weight_snapshots (version, schema_version, payload, validation_score, note)
		SELECT COALESCE(MAX(version), 0) + 1, 1, $1, $2, $3 FROM weight_snapshots
		RETURNING version, created_at`

	snap := &WeightSnapshot{SchemaVersion: 1, Payload: raw, ValidationScore: validationScore, Note: note}
	err = r.db.Pool.QueryRow(ctx, query, raw, validationScore, note).Scan(&snap.Version, &snap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save weight snapshot: %w", err)
	}
	return snap, nil
}

// LatestWeightSnapshot returns the highest-version snapshot, or nil when no
// weights have ever been committed.
func (r *Repository) LatestWeightSnapshot(ctx context.Context) (*WeightSnapshot, error) {
	query := weightSnapshotColumns + ` ORDER BY version DESC LIMIT 1`

	rec := &WeightSnapshot{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&rec.Version, &rec.SchemaVersion, &rec.Payload, &rec.ValidationScore,
		&rec.Note, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest weight snapshot: %w", err)
	}
	return rec, nil
}

// WeightSnapshotByVersion fetches one historical snapshot.
func (r *Repository) WeightSnapshotByVersion(ctx context.Context, version int) (*WeightSnapshot, error) {
	query := weightSnapshotColumns + ` WHERE version = $1`

	rec := &WeightSnapshot{}
	err := r.db.Pool.QueryRow(ctx, query, version).Scan(
		&rec.Version, &rec.SchemaVersion, &rec.Payload, &rec.ValidationScore,
		&rec.Note, &rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get weight snapshot %d: %w", version, err)
	}
	return rec, nil
}

// WeightSnapshots returns snapshots newest first.
func (r *Repository) WeightSnapshots(ctx context.Context, limit int) ([]*WeightSnapshot, error) {
	query := weightSnapshotColumns + ` ORDER BY version DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query weight snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*WeightSnapshot
	for rows.Next() {
		rec := &WeightSnapshot{}
		if err := rows.Scan(&rec.Version, &rec.SchemaVersion, &rec.Payload,
			&rec.ValidationScore, &rec.Note, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan weight snapshot: %w", err)
		}
		snaps = append(snaps, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating weight snapshots: %w", err)
	}
	return snaps, nil
}

const weightSnapshotColumns = `
	SELECT version, schema_version, payload, validation_score, note, created_at
	FROM weight_snapshots`

// marshalOptional converts data to JSON, passing nil and pre-marshaled
// payloads through untouched.
func marshalOptional(data interface{}) (interface{}, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		if len(raw) == 0 {
			return nil, nil
		}
		return raw, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
