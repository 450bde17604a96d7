package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"migration-engine/internal/migration"
	"migration-engine/internal/models"
)

// recordSource fetches a half-open row range of a source extract and takes
// outcome reports so the collaborator can track its suggestion quality.
type recordSource interface {
	Records(ctx context.Context, sourceSystem, sourceFile string, start, end int) ([]models.Record, error)
	Suggestions(ctx context.Context, sourceSystem, sourceFile string) ([]models.FieldMapping, error)
	ReportResult(ctx context.Context, result any) error
}

// LoadReport is the per-work-item outcome posted back to the collaborator.
type LoadReport struct {
	BatchID       string `json:"batch_id"`
	WorkID        string `json:"work_id"`
	SourceSystem  string `json:"source_system"`
	TargetTable   string `json:"target_table"`
	RowsProcessed int    `json:"rows_processed"`
	RowsSucceeded int    `json:"rows_succeeded"`
	RowsFailed    int    `json:"rows_failed"`
}

// batchGetter looks up the batch a work item belongs to.
type batchGetter interface {
	GetBatch(ctx context.Context, id string) (models.MigrationBatch, error)
}

// rangeLoader runs the mapping, validation, and load pipeline over a claimed
// row range.
type rangeLoader interface {
	LoadRange(ctx context.Context, batchID, table string, offset int,
		records []models.Record, req migration.RunRequest) (processed, succeeded, failed int)
}

// LoadHandler executes "load" work items: it fetches the item's row range
// from the record source and pushes it through the same pipeline the
// orchestrator uses for in-process runs.
type LoadHandler struct {
	source       recordSource
	batches      batchGetter
	loader       rangeLoader
	logger       *zap.Logger
	batchSize    int
	mappingCache map[string][]models.FieldMapping
}

func NewLoadHandler(source recordSource, batches batchGetter, loader rangeLoader,
	logger *zap.Logger, batchSize int) *LoadHandler {
	return &LoadHandler{
		source:       source,
		batches:      batches,
		loader:       loader,
		logger:       logger,
		batchSize:    batchSize,
		mappingCache: make(map[string][]models.FieldMapping),
	}
}

// Handle loads the item's row range [RangeStart, RangeEnd).
func (h *LoadHandler) Handle(ctx context.Context, item models.WorkItem) (int, int, int, error) {
	batch, err := h.batches.GetBatch(ctx, item.BatchID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("load batch %s: %w", item.BatchID, err)
	}

	mappings, err := h.mappingsFor(ctx, batch)
	if err != nil {
		return 0, 0, 0, err
	}

	records, err := h.source.Records(ctx, batch.SourceSystem, batch.SourceFile, item.RangeStart, item.RangeEnd)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("fetch rows %d-%d: %w", item.RangeStart, item.RangeEnd, err)
	}
	if len(records) == 0 {
		h.logger.Warn("row range came back empty",
			zap.String("work_id", item.ID),
			zap.Int("start", item.RangeStart),
			zap.Int("end", item.RangeEnd))
		return 0, 0, 0, nil
	}

	processed, succeeded, failed := h.loader.LoadRange(ctx, item.BatchID, item.TargetTable,
		item.RangeStart, records, migration.RunRequest{
			SourceSystem:    batch.SourceSystem,
			SourceFile:      batch.SourceFile,
			Mappings:        mappings,
			InsertBatchSize: h.batchSize,
		})

	// The outcome report is advisory; a delivery failure never fails the item.
	report := LoadReport{
		BatchID:       item.BatchID,
		WorkID:        item.ID,
		SourceSystem:  batch.SourceSystem,
		TargetTable:   item.TargetTable,
		RowsProcessed: processed,
		RowsSucceeded: succeeded,
		RowsFailed:    failed,
	}
	if err := h.source.ReportResult(ctx, report); err != nil {
		h.logger.Warn("result report not delivered",
			zap.String("work_id", item.ID),
			zap.Error(err))
	}
	return processed, succeeded, failed, nil
}

// mappingsFor resolves field mappings for a batch once and caches them; every
// work item of the same batch shares one suggestion fetch.
func (h *LoadHandler) mappingsFor(ctx context.Context, batch models.MigrationBatch) ([]models.FieldMapping, error) {
	if cached, ok := h.mappingCache[batch.ID]; ok {
		return cached, nil
	}
	mappings, err := h.source.Suggestions(ctx, batch.SourceSystem, batch.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("mapping suggestions for batch %s: %w", batch.ID, err)
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("no field mappings available for batch %s", batch.ID)
	}
	h.mappingCache[batch.ID] = mappings
	return mappings, nil
}
