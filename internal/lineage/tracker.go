package lineage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"migration-engine/internal/models"
	"migration-engine/internal/similarity"
)

const defaultFlushThreshold = 100

// store is the slice of the datastore the tracker needs.
type store interface {
	InsertLineageRecords(ctx context.Context, records []models.LineageRecord) error
	LineageByTarget(ctx context.Context, targetTable, targetRowID string) ([]models.LineageRecord, error)
}

// Tracker buffers lineage records in memory and flushes them to the store in
// batches. Entries carry content hashes of the source and target values, not
// the values themselves. Flush failures are logged and dropped: a lineage
// persistence hiccup must never abort a migration.
type Tracker struct {
	store     store
	logger    *zap.Logger
	threshold int

	mu     sync.Mutex
	buffer []models.LineageRecord
}

// NewTracker creates a tracker with the given auto-flush threshold. A
// threshold of 0 means the default of 100.
func NewTracker(s store, logger *zap.Logger, threshold int) *Tracker {
	if threshold <= 0 {
		threshold = defaultFlushThreshold
	}
	return &Tracker{store: s, logger: logger, threshold: threshold}
}

// Record appends one lineage entry. Once the buffer reaches the flush
// threshold it is written out synchronously.
func (t *Tracker) Record(ctx context.Context, batchID, sourceFile string, sourceRow int, sourceColumn string,
	sourceValue any, targetTable, targetColumn string, steps []string, targetValue any,
	targetRowID string, valid bool, errs []string) {

	rec := models.LineageRecord{
		ID:           uuid.NewString(),
		BatchID:      batchID,
		SourceFile:   sourceFile,
		SourceRow:    sourceRow,
		SourceColumn: sourceColumn,
		SourceHash:   hashValue(sourceValue),
		TargetTable:  targetTable,
		TargetColumn: targetColumn,
		TargetRowID:  targetRowID,
		TargetHash:   hashValue(targetValue),
		Steps:        steps,
		Valid:        valid,
		Errors:       errs,
	}

	t.mu.Lock()
	t.buffer = append(t.buffer, rec)
	full := len(t.buffer) >= t.threshold
	t.mu.Unlock()

	if full {
		t.Flush(ctx)
	}
}

// Flush writes all buffered entries and clears the buffer. Call at the end of
// a run so the tail is not lost. On store failure the entries are dropped and
// the failure logged.
func (t *Tracker) Flush(ctx context.Context) int {
	t.mu.Lock()
	pending := t.buffer
	t.buffer = nil
	t.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}
	if err := t.store.InsertLineageRecords(ctx, pending); err != nil {
		t.logger.Warn("lineage flush failed, entries dropped",
			zap.Int("count", len(pending)),
			zap.Error(err))
		return 0
	}
	return len(pending)
}

// Buffered reports the current number of unflushed entries.
func (t *Tracker) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffer)
}

// TraceLineage reconstructs the ordered chain of lineage entries feeding one
// output row from the durable store.
func (t *Tracker) TraceLineage(ctx context.Context, targetTable, targetRowID string) ([]models.LineageRecord, error) {
	return t.store.LineageByTarget(ctx, targetTable, targetRowID)
}

// hashValue digests any value. Nil digests to the empty string so a failed or
// skipped target is distinguishable from a real written value.
func hashValue(v any) string {
	if v == nil {
		return ""
	}
	return similarity.Hash(fmt.Sprintf("%v", v))
}
