package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"migration-engine/internal/models"
)

// InsertRetryItem enqueues a failed operation for retry.
func (s *Store) InsertRetryItem(ctx context.Context, item models.RetryQueueItem) error {
	payloadJSON, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshal retry payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO retry_queue_items (id, batch_id, operation, target_table, affected_rows, error_code, error_message, payload, attempt, max_attempts, next_retry_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
	`, item.ID, item.BatchID, item.Operation, item.TargetTable, item.AffectedRows, item.ErrorCode,
		item.ErrorMessage, payloadJSON, item.Attempt, item.MaxAttempts, item.NextRetryAt, item.Status)
	if err != nil {
		return fmt.Errorf("insert retry item: %w", err)
	}
	return nil
}

// DueRetryItems returns up to limit pending/retrying items whose next retry
// time has passed and that still have attempts left, oldest due first.
func (s *Store) DueRetryItems(ctx context.Context, now time.Time, limit int) ([]models.RetryQueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, batch_id, operation, target_table, affected_rows, error_code, error_message, payload, attempt, max_attempts, next_retry_at, status, created_at, updated_at
		FROM retry_queue_items
		WHERE status IN ('pending', 'retrying')
		  AND attempt < max_attempts
		  AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	defer rows.Close()

	var out []models.RetryQueueItem
	for rows.Next() {
		item, err := scanRetryItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetRetryItem fetches one retry item by id.
func (s *Store) GetRetryItem(ctx context.Context, id string) (models.RetryQueueItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, batch_id, operation, target_table, affected_rows, error_code, error_message, payload, attempt, max_attempts, next_retry_at, status, created_at, updated_at
		FROM retry_queue_items WHERE id = $1
	`, id)
	return scanRetryItem(row)
}

// UpdateRetryStatus sets only the status.
func (s *Store) UpdateRetryStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE retry_queue_items SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

// RescheduleRetry records a failed attempt and the next retry time.
func (s *Store) RescheduleRetry(ctx context.Context, id string, attempt int, nextRetryAt time.Time, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE retry_queue_items
		SET attempt = $2, next_retry_at = $3, error_message = $4, status = 'pending', updated_at = NOW()
		WHERE id = $1
	`, id, attempt, nextRetryAt, message)
	return err
}

// ExhaustRetry marks an item exhausted and clears its schedule.
func (s *Store) ExhaustRetry(ctx context.Context, id string, attempt int, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE retry_queue_items
		SET attempt = $2, next_retry_at = NULL, error_message = $3, status = 'exhausted', updated_at = NOW()
		WHERE id = $1
	`, id, attempt, message)
	return err
}

// ExhaustedRetries lists exhausted items for a batch so they can be surfaced
// in the final error report.
func (s *Store) ExhaustedRetries(ctx context.Context, batchID string) ([]models.RetryQueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, batch_id, operation, target_table, affected_rows, error_code, error_message, payload, attempt, max_attempts, next_retry_at, status, created_at, updated_at
		FROM retry_queue_items
		WHERE batch_id = $1 AND status = 'exhausted'
		ORDER BY created_at
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query exhausted retries: %w", err)
	}
	defer rows.Close()

	var out []models.RetryQueueItem
	for rows.Next() {
		item, err := scanRetryItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRetryItem(row rowScanner) (models.RetryQueueItem, error) {
	var item models.RetryQueueItem
	var payloadJSON []byte
	var next pgtype.Timestamptz
	if err := row.Scan(&item.ID, &item.BatchID, &item.Operation, &item.TargetTable, &item.AffectedRows,
		&item.ErrorCode, &item.ErrorMessage, &payloadJSON, &item.Attempt, &item.MaxAttempts,
		&next, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return models.RetryQueueItem{}, fmt.Errorf("scan retry item: %w", err)
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &item.Payload); err != nil {
			return models.RetryQueueItem{}, fmt.Errorf("unmarshal retry payload: %w", err)
		}
	}
	item.NextRetryAt = timePtr(next)
	return item, nil
}
