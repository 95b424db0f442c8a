package journal

import (
	"context"
	"fmt"
	"time"
)

// Retention policy: operational families are pruned after the retention
// window; outcomes and weight snapshots are kept forever. Outcomes are the
// learning corpus, and snapshots let any historical decision be replayed
// under the weights that produced it. Open positions are never pruned
// regardless of age.
const DefaultRetention = 90 * 24 * time.Hour

type pruneStatement struct {
	family Family
	query  string
}

// pruneStatements lists the delete per prunable family. Outcomes and weight
// snapshots are deliberately absent.
func pruneStatements() []pruneStatement {
	return []pruneStatement{
		{FamilyPredictions, `DELETE FROM predictions WHERE created_at < $1`},
		{FamilyDecisions, `DELETE FROM decisions WHERE created_at < $1`},
		{FamilyPositions, `DELETE FROM positions WHERE status = 'closed' AND closed_at < $1`},
		{FamilyWatchlists, `DELETE FROM watchlists WHERE created_at < $1`},
		{FamilyAgentLogs, `DELETE FROM agent_logs WHERE created_at < $1`},
		{FamilySystemHealth, `DELETE FROM system_health WHERE created_at < $1`},
		{FamilyLearningCycles, `DELETE FROM learning_cycles WHERE created_at < $1`},
	}
}

// PruneResult reports rows deleted per family.
type PruneResult map[Family]int64

// Total sums deletions across families.
func (p PruneResult) Total() int64 {
	var total int64
	for _, n := range p {
		total += n
	}
	return total
}

// Prune deletes operational records older than the cutoff. Outcomes and
// weight snapshots survive; old decisions may leave dangling decision_id
// references on outcomes, which the training join simply skips.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	if cutoff.IsZero() {
		return nil, fmt.Errorf("prune cutoff must be set")
	}

	result := make(PruneResult)
	for _, stmt := range pruneStatements() {
		tag, err := r.db.Pool.Exec(ctx, stmt.query, cutoff)
		if err != nil {
			return result, fmt.Errorf("failed to prune %s: %w", stmt.family, err)
		}
		result[stmt.family] = tag.RowsAffected()
	}
	return result, nil
}
