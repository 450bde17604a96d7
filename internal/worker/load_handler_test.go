package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"migration-engine/internal/migration"
	"migration-engine/internal/models"
)

type rangeFetch struct {
	start int
	end   int
}

type fakeRecordSource struct {
	records         []models.Record
	mappings        []models.FieldMapping
	fetches         []rangeFetch
	suggestionCalls int
	recordsErr      error
	reports         []any
	reportErr       error
}

func (f *fakeRecordSource) Records(_ context.Context, _, _ string, start, end int) ([]models.Record, error) {
	if f.recordsErr != nil {
		return nil, f.recordsErr
	}
	f.fetches = append(f.fetches, rangeFetch{start, end})
	if start > len(f.records) {
		return nil, nil
	}
	if end > len(f.records) {
		end = len(f.records)
	}
	return f.records[start:end], nil
}

func (f *fakeRecordSource) Suggestions(_ context.Context, _, _ string) ([]models.FieldMapping, error) {
	f.suggestionCalls++
	return f.mappings, nil
}

func (f *fakeRecordSource) ReportResult(_ context.Context, result any) error {
	if f.reportErr != nil {
		return f.reportErr
	}
	f.reports = append(f.reports, result)
	return nil
}

type fakeBatchGetter struct{ batch models.MigrationBatch }

func (f *fakeBatchGetter) GetBatch(_ context.Context, id string) (models.MigrationBatch, error) {
	if id != f.batch.ID {
		return models.MigrationBatch{}, errors.New("batch not found")
	}
	return f.batch, nil
}

type loadedRange struct {
	batchID string
	table   string
	offset  int
	rows    int
	req     migration.RunRequest
}

type fakeRangeLoader struct{ loads []loadedRange }

func (f *fakeRangeLoader) LoadRange(_ context.Context, batchID, table string, offset int,
	records []models.Record, req migration.RunRequest) (int, int, int) {
	f.loads = append(f.loads, loadedRange{batchID, table, offset, len(records), req})
	return len(records), len(records), 0
}

func staffMappings() []models.FieldMapping {
	return []models.FieldMapping{
		{SourceColumn: "EMPNAME", TargetTable: "staff", TargetColumn: "full_name", TransformID: "titlecase"},
	}
}

func TestLoadHandlerLoadsClaimedRange(t *testing.T) {
	source := &fakeRecordSource{
		records: []models.Record{
			{"EMPNAME": "john smith"},
			{"EMPNAME": "jane doe"},
			{"EMPNAME": "bob jones"},
		},
		mappings: staffMappings(),
	}
	batches := &fakeBatchGetter{batch: models.MigrationBatch{
		ID: "batch-1", SourceSystem: "legacy-hr", SourceFile: "employees.csv",
	}}
	loader := &fakeRangeLoader{}

	h := NewLoadHandler(source, batches, loader, zap.NewNop(), 50)
	processed, succeeded, failed, err := h.Handle(context.Background(), models.WorkItem{
		ID: "work-1", BatchID: "batch-1", Type: models.WorkTypeLoad,
		TargetTable: "staff", RangeStart: 1, RangeEnd: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 0, failed)

	require.Len(t, loader.loads, 1)
	load := loader.loads[0]
	assert.Equal(t, "batch-1", load.batchID)
	assert.Equal(t, "staff", load.table)
	assert.Equal(t, 1, load.offset)
	assert.Equal(t, 2, load.rows)
	assert.Equal(t, "legacy-hr", load.req.SourceSystem)
	assert.Equal(t, staffMappings(), load.req.Mappings)
	assert.Equal(t, 50, load.req.InsertBatchSize)
	assert.Equal(t, []rangeFetch{{1, 3}}, source.fetches)

	require.Len(t, source.reports, 1, "each finished item reports its outcome")
	assert.Equal(t, LoadReport{
		BatchID:       "batch-1",
		WorkID:        "work-1",
		SourceSystem:  "legacy-hr",
		TargetTable:   "staff",
		RowsProcessed: 2,
		RowsSucceeded: 2,
	}, source.reports[0])
}

func TestLoadHandlerReportFailureDoesNotFailItem(t *testing.T) {
	source := &fakeRecordSource{
		records:   []models.Record{{"EMPNAME": "john smith"}},
		mappings:  staffMappings(),
		reportErr: errors.New("collaborator unreachable"),
	}
	batches := &fakeBatchGetter{batch: models.MigrationBatch{ID: "batch-1", SourceSystem: "legacy-hr"}}
	loader := &fakeRangeLoader{}

	h := NewLoadHandler(source, batches, loader, zap.NewNop(), 50)
	processed, succeeded, _, err := h.Handle(context.Background(), models.WorkItem{
		ID: "work-1", BatchID: "batch-1", TargetTable: "staff", RangeStart: 0, RangeEnd: 1,
	})
	require.NoError(t, err, "the outcome report is advisory")
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, succeeded)
	require.Len(t, loader.loads, 1)
}

func TestLoadHandlerCachesMappingsPerBatch(t *testing.T) {
	source := &fakeRecordSource{
		records:  []models.Record{{"EMPNAME": "john smith"}, {"EMPNAME": "jane doe"}},
		mappings: staffMappings(),
	}
	batches := &fakeBatchGetter{batch: models.MigrationBatch{ID: "batch-1", SourceSystem: "legacy-hr"}}
	loader := &fakeRangeLoader{}

	h := NewLoadHandler(source, batches, loader, zap.NewNop(), 50)
	for _, r := range []rangeFetch{{0, 1}, {1, 2}} {
		_, _, _, err := h.Handle(context.Background(), models.WorkItem{
			BatchID: "batch-1", TargetTable: "staff", RangeStart: r.start, RangeEnd: r.end,
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, source.suggestionCalls)
	assert.Len(t, loader.loads, 2)
}

func TestLoadHandlerErrorsSurfaceToProcessor(t *testing.T) {
	source := &fakeRecordSource{
		mappings:   staffMappings(),
		recordsErr: errors.New("record source timeout"),
	}
	batches := &fakeBatchGetter{batch: models.MigrationBatch{ID: "batch-1"}}
	loader := &fakeRangeLoader{}

	h := NewLoadHandler(source, batches, loader, zap.NewNop(), 50)
	_, _, _, err := h.Handle(context.Background(), models.WorkItem{
		BatchID: "batch-1", TargetTable: "staff", RangeStart: 0, RangeEnd: 100,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record source timeout")
	assert.Empty(t, loader.loads)
}

func TestLoadHandlerUnknownBatch(t *testing.T) {
	batches := &fakeBatchGetter{batch: models.MigrationBatch{ID: "batch-1"}}
	h := NewLoadHandler(&fakeRecordSource{mappings: staffMappings()}, batches, &fakeRangeLoader{}, zap.NewNop(), 50)

	_, _, _, err := h.Handle(context.Background(), models.WorkItem{BatchID: "batch-9", TargetTable: "staff"})
	require.Error(t, err)
}
