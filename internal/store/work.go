package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"migration-engine/internal/models"
)

// RegisterWorker inserts a worker row in idle state.
func (s *Store) RegisterWorker(ctx context.Context, w models.Worker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workers (id, name, type, status, last_heartbeat, registered_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`, w.ID, w.Name, w.Type, models.WorkerStatusIdle)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	return nil
}

// HeartbeatWorker refreshes a worker's liveness timestamp.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE workers SET last_heartbeat = NOW() WHERE id = $1
	`, workerID)
	return err
}

// UpdateWorkerStatus transitions a worker and its current item reference.
func (s *Store) UpdateWorkerStatus(ctx context.Context, workerID, status string, currentItem *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE workers SET status = $2, current_item = $3 WHERE id = $1
	`, workerID, status, currentItem)
	return err
}

// AddWorkerCounts accumulates processed/failed row totals for a worker.
func (s *Store) AddWorkerCounts(ctx context.Context, workerID string, processed, failed int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE workers SET rows_processed = rows_processed + $2, rows_failed = rows_failed + $3 WHERE id = $1
	`, workerID, processed, failed)
	return err
}

// InsertWorkItems creates the work items for a partitioned table load in one
// transaction.
func (s *Store) InsertWorkItems(ctx context.Context, items []models.WorkItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO work_items (id, batch_id, type, target_table, range_start, range_end, depends_on, priority, execution_order, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		`, it.ID, it.BatchID, it.Type, it.TargetTable, it.RangeStart, it.RangeEnd, it.DependsOn,
			it.Priority, it.ExecutionOrder, models.WorkStatusPending); err != nil {
			return fmt.Errorf("insert work item: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ClaimWorkItem atomically assigns one eligible item to the worker and moves
// it straight to processing, so a claim that errors never strands an item in
// an intermediate state. An item is eligible when it is pending (or held by a
// worker whose heartbeat has been silent longer than staleSeconds) and every
// item it depends on has completed. FOR UPDATE SKIP LOCKED guarantees
// at-most-one-worker-per-item under concurrent claimers. Returns (nil, nil)
// when nothing is claimable.
func (s *Store) ClaimWorkItem(ctx context.Context, workerID string, types []string, staleSeconds int) (*models.WorkItem, error) {
	row := s.pool.QueryRow(ctx, `
		WITH candidate AS (
			SELECT w.id
			FROM work_items w
			WHERE w.type = ANY($2)
			  AND (
			    w.status = 'pending'
			    OR (w.status IN ('assigned', 'processing') AND w.assigned_to IN (
			          SELECT id FROM workers
			          WHERE last_heartbeat < NOW() - make_interval(secs => $3)))
			  )
			  AND NOT EXISTS (
			    SELECT 1 FROM unnest(w.depends_on) AS dep(id)
			    JOIN work_items d ON d.id = dep.id
			    WHERE d.status <> 'completed'
			  )
			ORDER BY w.priority DESC, w.execution_order
			FOR UPDATE OF w SKIP LOCKED
			LIMIT 1
		)
		UPDATE work_items w
		SET status = 'processing', assigned_to = $1, updated_at = NOW()
		FROM candidate
		WHERE w.id = candidate.id
		RETURNING w.id, w.batch_id, w.type, w.target_table, w.range_start, w.range_end, w.depends_on,
		          w.assigned_to, w.priority, w.execution_order, w.status, w.rows_processed, w.rows_succeeded,
		          w.rows_failed, w.created_at, w.updated_at
	`, workerID, types, staleSeconds)

	item, err := scanWorkItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CompleteWorkItem records final counts and marks the item completed.
func (s *Store) CompleteWorkItem(ctx context.Context, workID string, processed, succeeded, failed int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE work_items
		SET status = 'completed', rows_processed = $2, rows_succeeded = $3, rows_failed = $4, updated_at = NOW()
		WHERE id = $1
	`, workID, processed, succeeded, failed)
	return err
}

// FailWorkItem marks an item failed so it shows up in run diagnostics.
func (s *Store) FailWorkItem(ctx context.Context, workID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE work_items SET status = 'failed', updated_at = NOW() WHERE id = $1
	`, workID)
	return err
}

// PendingWorkCount reports how many items for a batch are not yet terminal.
func (s *Store) PendingWorkCount(ctx context.Context, batchID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM work_items
		WHERE batch_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, batchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending work: %w", err)
	}
	return n, nil
}

func scanWorkItem(row rowScanner) (models.WorkItem, error) {
	var it models.WorkItem
	var assigned pgtype.Text
	if err := row.Scan(&it.ID, &it.BatchID, &it.Type, &it.TargetTable, &it.RangeStart, &it.RangeEnd,
		&it.DependsOn, &assigned, &it.Priority, &it.ExecutionOrder, &it.Status,
		&it.RowsProcessed, &it.RowsSucceeded, &it.RowsFailed, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return models.WorkItem{}, err
	}
	it.AssignedTo = textPtr(assigned)
	return it, nil
}
