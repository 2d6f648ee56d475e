package database

import (
	"context"
	"time"
)

// ============================================================================
// WORKER STATUS
// ============================================================================

// UpsertWorkerStatus persists the orchestrator's view of a worker
func (r *Repository) UpsertWorkerStatus(ctx context.Context, status *WorkerStatus) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO worker_status (name, state, run_id, reason, started_at, restart_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name) DO UPDATE SET
			state = EXCLUDED.state,
			run_id = EXCLUDED.run_id,
			reason = EXCLUDED.reason,
			started_at = EXCLUDED.started_at,
			restart_count = EXCLUDED.restart_count,
			updated_at = EXCLUDED.updated_at`,
		status.Name, status.State, status.RunID, status.Reason,
		status.StartedAt, status.RestartCount, time.Now())
	return err
}

// GetWorkerStatuses retrieves all persisted worker statuses
func (r *Repository) GetWorkerStatuses(ctx context.Context) ([]WorkerStatus, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT name, state, run_id, reason, started_at, restart_count, updated_at
		 FROM worker_status ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []WorkerStatus
	for rows.Next() {
		var s WorkerStatus
		if err := rows.Scan(&s.Name, &s.State, &s.RunID, &s.Reason, &s.StartedAt, &s.RestartCount, &s.UpdatedAt); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}
