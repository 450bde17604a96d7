package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"migration-engine/internal/models"
)

const (
	// DefaultHeartbeatInterval is how often a registered worker refreshes
	// its liveness timestamp.
	DefaultHeartbeatInterval = 30 * time.Second
	// missedHeartbeatsBeforeDead is how many silent intervals make a
	// worker's claimed work eligible for re-claim.
	missedHeartbeatsBeforeDead = 3

	// DefaultChunkSize is the row-range width of one work item.
	DefaultChunkSize = 100
)

// store is the slice of the datastore the coordinator needs. The claim is a
// single atomic store operation so at most one worker holds an item.
type store interface {
	RegisterWorker(ctx context.Context, w models.Worker) error
	HeartbeatWorker(ctx context.Context, workerID string) error
	UpdateWorkerStatus(ctx context.Context, workerID, status string, currentItem *string) error
	AddWorkerCounts(ctx context.Context, workerID string, processed, failed int64) error
	InsertWorkItems(ctx context.Context, items []models.WorkItem) error
	ClaimWorkItem(ctx context.Context, workerID string, types []string, staleSeconds int) (*models.WorkItem, error)
	CompleteWorkItem(ctx context.Context, workID string, processed, succeeded, failed int) error
	FailWorkItem(ctx context.Context, workID string) error
}

// Coordinator partitions table loads into claimable work items and tracks
// worker liveness through heartbeats. All coordination state lives in the
// datastore; any number of worker processes share one queue.
type Coordinator struct {
	store     store
	logger    *zap.Logger
	interval  time.Duration
	chunkSize int

	mu         sync.Mutex
	heartbeats map[string]chan struct{}
}

// New creates a coordinator. Zero interval and chunk size mean the defaults.
func New(s store, logger *zap.Logger, interval time.Duration, chunkSize int) *Coordinator {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Coordinator{
		store:      s,
		logger:     logger,
		interval:   interval,
		chunkSize:  chunkSize,
		heartbeats: map[string]chan struct{}{},
	}
}

// Register creates the worker record and starts its periodic heartbeat
// goroutine, which runs until Shutdown.
func (c *Coordinator) Register(ctx context.Context, name, workerType string) (string, error) {
	worker := models.Worker{
		ID:   uuid.NewString(),
		Name: name,
		Type: workerType,
	}
	if err := c.store.RegisterWorker(ctx, worker); err != nil {
		return "", fmt.Errorf("register worker: %w", err)
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.heartbeats[worker.ID] = stop
	c.mu.Unlock()
	go c.heartbeatLoop(worker.ID, stop)

	c.logger.Info("worker registered",
		zap.String("worker_id", worker.ID),
		zap.String("name", name),
		zap.String("type", workerType))
	return worker.ID, nil
}

func (c *Coordinator) heartbeatLoop(workerID string, stop <-chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.interval/2)
			if err := c.store.HeartbeatWorker(ctx, workerID); err != nil {
				c.logger.Warn("heartbeat failed",
					zap.String("worker_id", workerID),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// CreateWorkQueue partitions [0, totalRows) into contiguous chunks, each one
// work item carrying the shared dependency list and an increasing execution
// order. Returns the created item ids in order.
func (c *Coordinator) CreateWorkQueue(ctx context.Context, batchID, table string, totalRows, chunkSize int, workType string, dependsOn []string) ([]string, error) {
	if chunkSize <= 0 {
		chunkSize = c.chunkSize
	}
	if totalRows <= 0 {
		return nil, nil
	}

	var items []models.WorkItem
	order := 0
	for start := 0; start < totalRows; start += chunkSize {
		end := start + chunkSize
		if end > totalRows {
			end = totalRows
		}
		items = append(items, models.WorkItem{
			ID:             uuid.NewString(),
			BatchID:        batchID,
			Type:           workType,
			TargetTable:    table,
			RangeStart:     start,
			RangeEnd:       end,
			DependsOn:      dependsOn,
			ExecutionOrder: order,
		})
		order++
	}

	if err := c.store.InsertWorkItems(ctx, items); err != nil {
		return nil, fmt.Errorf("create work queue: %w", err)
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	c.logger.Info("work queue created",
		zap.String("batch_id", batchID),
		zap.String("table", table),
		zap.Int("items", len(ids)),
		zap.Int("chunk_size", chunkSize))
	return ids, nil
}

// ClaimWork assigns one eligible item to the worker, or returns nil when
// nothing is claimable. The store moves the item to processing in the same
// atomic claim, so there is no window where a claim error leaves the item
// assigned but unworked. Items held by a worker that has missed three
// heartbeats are eligible for re-claim.
func (c *Coordinator) ClaimWork(ctx context.Context, workerID string, types []string) (*models.WorkItem, error) {
	staleSeconds := int(c.interval.Seconds()) * missedHeartbeatsBeforeDead
	item, err := c.store.ClaimWorkItem(ctx, workerID, types, staleSeconds)
	if err != nil {
		return nil, fmt.Errorf("claim work: %w", err)
	}
	if item == nil {
		return nil, nil
	}

	if err := c.store.UpdateWorkerStatus(ctx, workerID, models.WorkerStatusProcessing, &item.ID); err != nil {
		c.logger.Warn("worker status update failed",
			zap.String("worker_id", workerID),
			zap.Error(err))
	}
	return item, nil
}

// CompleteWork marks the item completed with its counts and returns the
// worker to idle.
func (c *Coordinator) CompleteWork(ctx context.Context, workerID, workID string, processed, succeeded, failed int) error {
	if err := c.store.CompleteWorkItem(ctx, workID, processed, succeeded, failed); err != nil {
		return fmt.Errorf("complete work: %w", err)
	}
	if err := c.store.AddWorkerCounts(ctx, workerID, int64(processed), int64(failed)); err != nil {
		c.logger.Warn("worker counts update failed",
			zap.String("worker_id", workerID),
			zap.Error(err))
	}
	return c.store.UpdateWorkerStatus(ctx, workerID, models.WorkerStatusIdle, nil)
}

// FailWork marks the item failed and returns the worker to idle.
func (c *Coordinator) FailWork(ctx context.Context, workerID, workID string) error {
	if err := c.store.FailWorkItem(ctx, workID); err != nil {
		return fmt.Errorf("fail work: %w", err)
	}
	return c.store.UpdateWorkerStatus(ctx, workerID, models.WorkerStatusIdle, nil)
}

// Shutdown stops the worker's heartbeat and marks it shut down.
func (c *Coordinator) Shutdown(ctx context.Context, workerID string) error {
	c.mu.Lock()
	if stop, ok := c.heartbeats[workerID]; ok {
		close(stop)
		delete(c.heartbeats, workerID)
	}
	c.mu.Unlock()
	return c.store.UpdateWorkerStatus(ctx, workerID, models.WorkerStatusShutdown, nil)
}
