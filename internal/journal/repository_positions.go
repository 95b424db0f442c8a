package journal

import (
	"context"
	"errors"
	"fmt"
)

// ErrPositionNotFound is returned when no open position matches a lookup.
var ErrPositionNotFound = errors.New("position not found")

// OpenPosition journals a newly filled entry and assigns its row ID.
func (r *Repository) OpenPosition(ctx context.Context, rec *PositionRecord) error {
	defer r.lock(FamilyPositions)()

	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = 1
	}
	if rec.Status == "" {
		rec.Status = PositionOpen
	}
	if rec.HighestPrice == 0 {
		rec.HighestPrice = rec.EntryPrice
	}

	query := `
		INSERT INTO positions (schema_version, symbol, decision_id, status, shares,
			entry_price, stop_price, target_price, trailing_stop, highest_price,
			entry_order_id, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err := r.db.Pool.QueryRow(ctx, query,
		rec.SchemaVersion, rec.Symbol, rec.DecisionID, rec.Status, rec.Shares,
		rec.EntryPrice, rec.StopPrice, rec.TargetPrice, rec.TrailingStop,
		rec.HighestPrice, rec.EntryOrderID, rec.OpenedAt,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to open position: %w", err)
	}
	return nil
}

// UpdatePositionLevels persists the monitor's highest-price ratchet and any
// trailing stop movement.
func (r *Repository) UpdatePositionLevels(ctx context.Context, id int64, highestPrice float64, trailingStop *float64) error {
	query := `
		UPDATE positions
		SET highest_price = $1, trailing_stop = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`
	tag, err := r.db.Pool.Exec(ctx, query, highestPrice, trailingStop, id, PositionOpen)
	if err != nil {
		return fmt.Errorf("failed to update position levels: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open position %d: %w", id, ErrPositionNotFound)
	}
	return nil
}

// MarkPositionExiting records the exit order before the fill confirms, so a
// restart mid-exit does not double-sell.
func (r *Repository) MarkPositionExiting(ctx context.Context, id int64, exitOrderID, exitReason string) error {
	query := `
		UPDATE positions
		SET exit_order_id = $1, exit_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`
	tag, err := r.db.Pool.Exec(ctx, query, exitOrderID, exitReason, id, PositionOpen)
	if err != nil {
		return fmt.Errorf("failed to mark position exiting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open position %d: %w", id, ErrPositionNotFound)
	}
	return nil
}

// ClosePosition finalizes an exited position.
func (r *Repository) ClosePosition(ctx context.Context, id int64, exitPrice float64, exitReason string) error {
	query := `
		UPDATE positions
		SET status = $1, exit_price = $2, exit_reason = $3, closed_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status = $5`
	tag, err := r.db.Pool.Exec(ctx, query, PositionClosed, exitPrice, exitReason, id, PositionOpen)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open position %d: %w", id, ErrPositionNotFound)
	}
	return nil
}

// OpenPositions returns all currently held positions, oldest entry first.
func (r *Repository) OpenPositions(ctx context.Context) ([]*PositionRecord, error) {
	query := positionColumns + ` WHERE status = $1 ORDER BY opened_at ASC`
	return r.queryPositions(ctx, query, PositionOpen)
}

// OpenPositionBySymbol fetches the open position for one symbol.
func (r *Repository) OpenPositionBySymbol(ctx context.Context, symbol string) (*PositionRecord, error) {
	query := positionColumns + ` WHERE status = $1 AND symbol = $2 ORDER BY opened_at DESC LIMIT 1`
	positions, err := r.queryPositions(ctx, query, PositionOpen, symbol)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("open position for %s: %w", symbol, ErrPositionNotFound)
	}
	return positions[0], nil
}

// PositionByID fetches one position regardless of status.
func (r *Repository) PositionByID(ctx context.Context, id int64) (*PositionRecord, error) {
	query := positionColumns + ` WHERE id = $1`
	positions, err := r.queryPositions(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("position %d: %w", id, ErrPositionNotFound)
	}
	return positions[0], nil
}

// RecentPositions returns the newest positions first, open or closed.
func (r *Repository) RecentPositions(ctx context.Context, limit int) ([]*PositionRecord, error) {
	query := positionColumns + ` ORDER BY created_at DESC LIMIT $1`
	return r.queryPositions(ctx, query, limit)
}

const positionColumns = `
	SELECT id, schema_version, symbol, decision_id, status, shares, entry_price,
		stop_price, target_price, trailing_stop, highest_price, entry_order_id,
		exit_order_id, exit_reason, exit_price, opened_at, closed_at,
		created_at, updated_at
	FROM positions`

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*PositionRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []*PositionRecord
	for rows.Next() {
		rec := &PositionRecord{}
		err := rows.Scan(
			&rec.ID, &rec.SchemaVersion, &rec.Symbol, &rec.DecisionID, &rec.Status,
			&rec.Shares, &rec.EntryPrice, &rec.StopPrice, &rec.TargetPrice,
			&rec.TrailingStop, &rec.HighestPrice, &rec.EntryOrderID, &rec.ExitOrderID,
			&rec.ExitReason, &rec.ExitPrice, &rec.OpenedAt, &rec.ClosedAt,
			&rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}
