// Package worker drives the migration worker loop: it claims partitioned
// work items through the coordinator, dispatches them to type handlers, and
// drains the durable retry queue by replaying failed operations.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"migration-engine/internal/models"
	"migration-engine/internal/telemetry"
)

const defaultPollInterval = 2 * time.Second

// Handler executes one claimed work item and reports its row counts.
type Handler func(ctx context.Context, item models.WorkItem) (processed, succeeded, failed int, err error)

// claimer is the slice of the coordinator the processor needs.
type claimer interface {
	ClaimWork(ctx context.Context, workerID string, types []string) (*models.WorkItem, error)
	CompleteWork(ctx context.Context, workerID, workID string, processed, succeeded, failed int) error
	FailWork(ctx context.Context, workerID, workID string) error
}

// store is the slice of the datastore the processor needs.
type store interface {
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) error
}

// retryQueue is the slice of the retry queue the processor drains.
type retryQueue interface {
	ClaimDue(ctx context.Context) ([]models.RetryQueueItem, error)
	MarkStarted(ctx context.Context, id string) error
	MarkSucceeded(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, message string) error
}

// Processor is one worker process's execution loop.
type Processor struct {
	coordinator  claimer
	store        store
	retries      retryQueue
	logger       *zap.Logger
	workerID     string
	types        []string
	pollInterval time.Duration
	handlers     map[string]Handler
}

// NewProcessor creates a processor for an already registered worker. types is
// the set of work item types this worker claims; a zero poll interval means
// the default.
func NewProcessor(coord claimer, st store, retries retryQueue, logger *zap.Logger,
	workerID string, types []string, pollInterval time.Duration) *Processor {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Processor{
		coordinator:  coord,
		store:        st,
		retries:      retries,
		logger:       logger,
		workerID:     workerID,
		types:        types,
		pollInterval: pollInterval,
		handlers:     make(map[string]Handler),
	}
}

// RegisterHandler binds a handler to a work item type.
func (p *Processor) RegisterHandler(workType string, handler Handler) {
	if workType == "" || handler == nil {
		return
	}
	p.handlers[workType] = handler
}

// Run polls for claimable work until context cancellation. Each pass first
// drains due retry items, then claims at most one work item. Only types with
// a registered handler are claimed.
func (p *Processor) Run(ctx context.Context) error {
	types := p.claimTypes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.drainRetries(ctx)

		item, err := p.coordinator.ClaimWork(ctx, p.workerID, types)
		if err != nil {
			p.logger.Warn("claim failed", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if item == nil {
			p.sleep(ctx)
			continue
		}

		telemetry.WorkItemsClaimed.Inc()
		telemetry.WorkersActiveGauge.Inc()
		processed, succeeded, failed, err := p.dispatch(ctx, *item)
		telemetry.WorkersActiveGauge.Dec()

		if err != nil {
			p.logger.Error("work item failed",
				zap.String("work_id", item.ID),
				zap.String("type", item.Type),
				zap.String("table", item.TargetTable),
				zap.Error(err))
			if ferr := p.coordinator.FailWork(ctx, p.workerID, item.ID); ferr != nil {
				p.logger.Warn("mark work failed", zap.String("work_id", item.ID), zap.Error(ferr))
			}
			continue
		}

		if err := p.coordinator.CompleteWork(ctx, p.workerID, item.ID, processed, succeeded, failed); err != nil {
			p.logger.Warn("complete work", zap.String("work_id", item.ID), zap.Error(err))
			continue
		}
		p.logger.Info("work item completed",
			zap.String("work_id", item.ID),
			zap.String("type", item.Type),
			zap.String("table", item.TargetTable),
			zap.Int("processed", processed),
			zap.Int("failed", failed))
	}
}

func (p *Processor) claimTypes() []string {
	out := make([]string, 0, len(p.types))
	for _, t := range p.types {
		if _, ok := p.handlers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (p *Processor) dispatch(ctx context.Context, item models.WorkItem) (int, int, int, error) {
	handler, ok := p.handlers[item.Type]
	if !ok {
		return 0, 0, 0, fmt.Errorf("no handler registered for work type %q", item.Type)
	}
	return handler(ctx, item)
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

// drainRetries claims due retry items and replays them. A replay failure
// counts one more attempt against the item; the queue reschedules or
// exhausts it.
func (p *Processor) drainRetries(ctx context.Context) {
	items, err := p.retries.ClaimDue(ctx)
	if err != nil {
		p.logger.Warn("claim due retries", zap.Error(err))
		return
	}
	for _, item := range items {
		if err := p.retries.MarkStarted(ctx, item.ID); err != nil {
			continue
		}
		if err := p.runRetry(ctx, item); err != nil {
			if item.Attempt+1 >= item.MaxAttempts {
				telemetry.RetriesExhausted.Inc()
			}
			if merr := p.retries.MarkFailed(ctx, item.ID, err.Error()); merr != nil {
				p.logger.Warn("mark retry failed", zap.String("retry_id", item.ID), zap.Error(merr))
			}
			continue
		}
		if err := p.retries.MarkSucceeded(ctx, item.ID); err != nil {
			p.logger.Warn("mark retry succeeded", zap.String("retry_id", item.ID), zap.Error(err))
			continue
		}
		p.logger.Info("retry succeeded",
			zap.String("retry_id", item.ID),
			zap.String("operation", item.Operation),
			zap.String("table", item.TargetTable),
			zap.Int("rows", len(item.AffectedRows)))
	}
}

func (p *Processor) runRetry(ctx context.Context, item models.RetryQueueItem) error {
	switch item.Operation {
	case models.RetryOpBulkInsert:
		columns, ok := payloadColumns(item.Payload)
		if !ok {
			return fmt.Errorf("retry %s: payload has no replayable columns", item.ID)
		}
		rows, ok := payloadRows(item.Payload)
		if !ok {
			return fmt.Errorf("retry %s: payload has no replayable rows", item.ID)
		}
		return p.store.InsertRows(ctx, item.TargetTable, columns, rows)
	default:
		return fmt.Errorf("no retry handler for operation %q", item.Operation)
	}
}

// payloadColumns tolerates both the in-process shape ([]string) and the shape
// the payload takes after a round trip through jsonb ([]any of string).
func payloadColumns(payload map[string]any) ([]string, bool) {
	switch v := payload["columns"].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, c := range v {
			s, ok := c.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func payloadRows(payload map[string]any) ([][]any, bool) {
	switch v := payload["rows"].(type) {
	case [][]any:
		return v, true
	case []any:
		out := make([][]any, 0, len(v))
		for _, r := range v {
			row, ok := r.([]any)
			if !ok {
				return nil, false
			}
			out = append(out, row)
		}
		return out, true
	default:
		return nil, false
	}
}
