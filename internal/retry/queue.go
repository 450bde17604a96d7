package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"migration-engine/internal/models"
)

// Defaults for the backoff schedule.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultMaxAttempts = 5

	claimLimit = 50
)

// store is the slice of the datastore the queue needs.
type store interface {
	InsertRetryItem(ctx context.Context, item models.RetryQueueItem) error
	DueRetryItems(ctx context.Context, now time.Time, limit int) ([]models.RetryQueueItem, error)
	GetRetryItem(ctx context.Context, id string) (models.RetryQueueItem, error)
	UpdateRetryStatus(ctx context.Context, id, status string) error
	RescheduleRetry(ctx context.Context, id string, attempt int, nextRetryAt time.Time, message string) error
	ExhaustRetry(ctx context.Context, id string, attempt int, message string) error
}

// Queue is a durable retry queue with exponential backoff and bounded
// attempts. State lives entirely in the datastore; any worker may claim due
// items.
type Queue struct {
	store       store
	logger      *zap.Logger
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewQueue creates a queue with the default backoff schedule.
func NewQueue(s store, logger *zap.Logger) *Queue {
	return NewQueueWithSchedule(s, logger, DefaultBaseDelay, DefaultMaxDelay, DefaultMaxAttempts)
}

// NewQueueWithSchedule creates a queue with an explicit backoff schedule.
// Non-positive values fall back to the defaults.
func NewQueueWithSchedule(s store, logger *zap.Logger, baseDelay, maxDelay time.Duration, maxAttempts int) *Queue {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		store:       s,
		logger:      logger,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Enqueue records a failed operation for retry, due immediately.
func (q *Queue) Enqueue(ctx context.Context, batchID, operation, targetTable string, affectedRows []int,
	errorCode, errorMessage string, payload map[string]any) (string, error) {

	now := q.now()
	item := models.RetryQueueItem{
		ID:           uuid.NewString(),
		BatchID:      batchID,
		Operation:    operation,
		TargetTable:  targetTable,
		AffectedRows: affectedRows,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		Payload:      payload,
		Attempt:      0,
		MaxAttempts:  q.maxAttempts,
		NextRetryAt:  &now,
		Status:       models.RetryStatusPending,
	}
	if err := q.store.InsertRetryItem(ctx, item); err != nil {
		return "", fmt.Errorf("enqueue retry: %w", err)
	}
	q.logger.Info("retry enqueued",
		zap.String("retry_id", item.ID),
		zap.String("operation", operation),
		zap.String("table", targetTable),
		zap.String("error_code", errorCode))
	return item.ID, nil
}

// ClaimDue returns up to 50 items that are due now, still have attempts left,
// and are pending or retrying, ordered by due time.
func (q *Queue) ClaimDue(ctx context.Context) ([]models.RetryQueueItem, error) {
	return q.store.DueRetryItems(ctx, q.now(), claimLimit)
}

// MarkStarted transitions an item to retrying.
func (q *Queue) MarkStarted(ctx context.Context, id string) error {
	return q.store.UpdateRetryStatus(ctx, id, models.RetryStatusRetrying)
}

// MarkSucceeded transitions an item to its terminal succeeded state.
func (q *Queue) MarkSucceeded(ctx context.Context, id string) error {
	return q.store.UpdateRetryStatus(ctx, id, models.RetryStatusSucceeded)
}

// MarkFailed records a failed attempt. The item is exhausted once its
// attempts are used up; otherwise it goes back to pending with an
// exponentially backed-off, jittered next-retry time.
func (q *Queue) MarkFailed(ctx context.Context, id, message string) error {
	item, err := q.store.GetRetryItem(ctx, id)
	if err != nil {
		return fmt.Errorf("load retry item: %w", err)
	}

	attempt := item.Attempt + 1
	if attempt >= item.MaxAttempts {
		if err := q.store.ExhaustRetry(ctx, id, attempt, message); err != nil {
			return fmt.Errorf("exhaust retry: %w", err)
		}
		q.logger.Warn("retry exhausted",
			zap.String("retry_id", id),
			zap.String("operation", item.Operation),
			zap.Int("attempts", attempt))
		return nil
	}

	delay := backoffWithJitter(q.baseDelay, q.maxDelay, attempt)
	next := q.now().Add(delay)
	if err := q.store.RescheduleRetry(ctx, id, attempt, next, message); err != nil {
		return fmt.Errorf("reschedule retry: %w", err)
	}
	q.logger.Info("retry rescheduled",
		zap.String("retry_id", id),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
	return nil
}

// backoffDelay is the un-jittered schedule: base doubled per attempt, capped.
// Attempt numbers start at 1.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp > float64(max) {
		return max
	}
	return time.Duration(exp)
}

// backoffWithJitter randomizes the delay within ±10% to avoid synchronized
// retries, still clamped to the cap.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := backoffDelay(base, max, attempt)
	jittered := time.Duration(float64(delay) * (0.9 + 0.2*rand.Float64()))
	if jittered > max {
		return max
	}
	return jittered
}
