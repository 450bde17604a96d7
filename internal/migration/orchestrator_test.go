package migration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"migration-engine/internal/models"
	"migration-engine/internal/routing"
)

type fakeBatchStore struct {
	batches     map[string]*models.MigrationBatch
	inserted    map[string][][]any
	insertCols  map[string][]string
	audits      []string
	failInserts func(table string, rows [][]any) error
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{
		batches:    map[string]*models.MigrationBatch{},
		inserted:   map[string][][]any{},
		insertCols: map[string][]string{},
	}
}

func (f *fakeBatchStore) CreateBatch(_ context.Context, b models.MigrationBatch) error {
	copied := b
	f.batches[b.ID] = &copied
	return nil
}

func (f *fakeBatchStore) FinalizeBatch(_ context.Context, id, status string, successCount, errorCount int) error {
	b := f.batches[id]
	b.Status = status
	b.SuccessCount = successCount
	b.ErrorCount = errorCount
	return nil
}

func (f *fakeBatchStore) AppendAudit(_ context.Context, _, event, _ string) error {
	f.audits = append(f.audits, event)
	return nil
}

func (f *fakeBatchStore) InsertRows(_ context.Context, table string, columns []string, rows [][]any) error {
	if f.failInserts != nil {
		if err := f.failInserts(table, rows); err != nil {
			return err
		}
	}
	f.inserted[table] = append(f.inserted[table], rows...)
	f.insertCols[table] = columns
	return nil
}

type fakeSnapshotter struct{ created [][]string }

func (f *fakeSnapshotter) CreateSnapshot(_ context.Context, tables []string, _, _, _ string) (string, error) {
	f.created = append(f.created, tables)
	return "snap-1", nil
}

type fakeDuplicateFinder struct{ candidates []models.DedupCandidate }

func (f *fakeDuplicateFinder) FindDuplicates(_ context.Context, _ string, _ []models.Record) ([]models.DedupCandidate, error) {
	return f.candidates, nil
}

type fakeLineage struct {
	recorded int
	flushed  int
}

func (f *fakeLineage) Record(_ context.Context, _, _ string, _ int, _ string, _ any,
	_, _ string, _ []string, _ any, _ string, _ bool, _ []string) {
	f.recorded++
}

func (f *fakeLineage) Flush(_ context.Context) int {
	n := f.recorded - f.flushed
	f.flushed = f.recorded
	return n
}

type queuedRetry struct {
	operation    string
	table        string
	affectedRows []int
}

type fakeRetries struct{ queued []queuedRetry }

func (f *fakeRetries) Enqueue(_ context.Context, _, operation, targetTable string, affectedRows []int,
	_, _ string, _ map[string]any) (string, error) {
	f.queued = append(f.queued, queuedRetry{operation, targetTable, affectedRows})
	return fmt.Sprintf("retry-%d", len(f.queued)), nil
}

type fakeScorer struct{ score models.QualityScore }

func (f *fakeScorer) CalculateScore(_ context.Context, batchID string) models.QualityScore {
	s := f.score
	s.BatchID = batchID
	return s
}

type fakeRouter struct{ decisions map[string]routing.Decision }

func (f *fakeRouter) Evaluate(_ context.Context, sourceColumn string, _ models.Record) (routing.Decision, error) {
	return f.decisions[sourceColumn], nil
}

type fakeWorkflowRunner struct {
	template  models.WorkflowTemplate
	next      []models.WorkflowStep
	completed []string
}

func (f *fakeWorkflowRunner) GetTemplate(_ context.Context, _ string) (models.WorkflowTemplate, error) {
	return f.template, nil
}

func (f *fakeWorkflowRunner) CreateExecution(_ context.Context, _ string, _ models.WorkflowTemplate) (string, error) {
	return "exec-1", nil
}

func (f *fakeWorkflowRunner) GetNextStep(_ context.Context, _ string) (*models.WorkflowStep, error) {
	if len(f.next) == 0 {
		return nil, nil
	}
	s := f.next[0]
	f.next = f.next[1:]
	return &s, nil
}

func (f *fakeWorkflowRunner) CompleteStep(_ context.Context, _, table string) error {
	f.completed = append(f.completed, table)
	return nil
}

func newTestOrchestrator(store *fakeBatchStore, retries *fakeRetries, router ruleRouter) *Orchestrator {
	return NewOrchestrator(store, &fakeSnapshotter{}, &fakeDuplicateFinder{}, &fakeLineage{},
		retries, router, &fakeScorer{score: models.QualityScore{Grade: "A", Overall: 92}}, nil, zap.NewNop())
}

func staffMappings() []models.FieldMapping {
	return []models.FieldMapping{
		{SourceColumn: "name", TargetTable: "staff", TargetColumn: "full_name", TransformID: "titlecase"},
		{SourceColumn: "dob", TargetTable: "staff", TargetColumn: "date_of_birth", TransformID: "normalize_date"},
	}
}

func TestRunEndToEndCountsPerFailureClass(t *testing.T) {
	store := newFakeBatchStore()
	retries := &fakeRetries{}

	// Row 3 carries a sentinel value so the fake store can fail exactly its
	// insert chunk.
	store.failInserts = func(_ string, rows [][]any) error {
		for _, row := range rows {
			for _, v := range row {
				if v == "Transient Failure" {
					return errors.New("connection reset by peer")
				}
			}
		}
		return nil
	}

	o := newTestOrchestrator(store, retries, nil)
	result, err := o.Run(context.Background(), RunRequest{
		SourceSystem: "legacy-hr",
		SourceFile:   "staff.csv",
		Records: []models.Record{
			{"name": "john smith", "dob": "1980-04-01"},
			{"name": "jane doe", "dob": "not a date"},
			{"name": "transient failure", "dob": "1990-01-02"},
		},
		Mappings:        staffMappings(),
		InsertBatchSize: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalRecords)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 2, result.ErrorCount)
	assert.Equal(t, 1, result.RetriesQueued)

	require.Len(t, retries.queued, 1)
	assert.Equal(t, "bulk_insert", retries.queued[0].operation)
	assert.Equal(t, []int{3}, retries.queued[0].affectedRows, "retry references exactly row 3")

	batch := store.batches[result.BatchID]
	assert.Equal(t, models.BatchStatusCompletedWithErrors, batch.Status)
	assert.Equal(t, "snap-1", result.SnapshotID)
	require.NotNil(t, result.QualityScore)
	assert.Equal(t, "A", result.QualityScore.Grade)
}

func TestRunCleanBatchCompletes(t *testing.T) {
	store := newFakeBatchStore()
	o := newTestOrchestrator(store, &fakeRetries{}, nil)

	result, err := o.Run(context.Background(), RunRequest{
		SourceSystem: "legacy-hr",
		Records: []models.Record{
			{"name": "john smith", "dob": "1980-04-01"},
			{"name": "jane doe", "dob": "04/01/1985"},
		},
		Mappings: staffMappings(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Zero(t, result.ErrorCount)
	assert.Equal(t, 4, result.LineageRecordsCreated, "one lineage record per mapped field")
	assert.Equal(t, models.BatchStatusCompleted, store.batches[result.BatchID].Status)
	assert.Len(t, store.inserted["staff"], 2)
	assert.Equal(t, []string{"date_of_birth", "full_name"}, store.insertCols["staff"])
}

func TestRunLineageDistinguishesNullFromMissing(t *testing.T) {
	store := newFakeBatchStore()
	o := newTestOrchestrator(store, &fakeRetries{}, nil)

	result, err := o.Run(context.Background(), RunRequest{
		SourceSystem: "legacy-hr",
		Records: []models.Record{
			{"name": "john smith", "dob": nil}, // dob delivered as explicit null
			{"name": "jane doe"},               // dob never present
		},
		Mappings: staffMappings(),
	})
	require.NoError(t, err)

	// Two name fields map normally, the delivered null gets a lineage row of
	// its own, and the absent key leaves no trace.
	assert.Equal(t, 3, result.LineageRecordsCreated)
	assert.Equal(t, 2, result.SuccessCount, "a null field is not a row error")
}

func TestRunDryRunWritesNothing(t *testing.T) {
	store := newFakeBatchStore()
	snaps := &fakeSnapshotter{}
	o := NewOrchestrator(store, snaps, &fakeDuplicateFinder{}, &fakeLineage{},
		&fakeRetries{}, nil, &fakeScorer{}, nil, zap.NewNop())

	result, err := o.Run(context.Background(), RunRequest{
		SourceSystem: "legacy-hr",
		Records:      []models.Record{{"name": "john smith", "dob": "1980-04-01"}},
		Mappings:     staffMappings(),
		DryRun:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.SuccessCount, "rows validate in a dry run")
	assert.Empty(t, store.inserted, "no target writes")
	assert.Empty(t, snaps.created, "no snapshot")
	assert.Empty(t, result.SnapshotID)
	assert.Nil(t, result.QualityScore)
}

func TestRunRoutingActions(t *testing.T) {
	store := newFakeBatchStore()
	router := &fakeRouter{decisions: map[string]routing.Decision{
		"ssn": {Matched: true, ActionType: models.ActionSkip},
		"name": {Matched: true, ActionType: models.ActionMapToColumn,
			ActionConfig: map[string]any{"column": "legal_name"}},
	}}
	o := newTestOrchestrator(store, &fakeRetries{}, router)

	result, err := o.Run(context.Background(), RunRequest{
		SourceSystem: "legacy-hr",
		Records:      []models.Record{{"name": "john smith", "dob": "1980-04-01", "ssn": "123-45-6789"}},
		Mappings: append(staffMappings(),
			models.FieldMapping{SourceColumn: "ssn", TargetTable: "staff", TargetColumn: "national_id"}),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.SuccessCount)
	require.Len(t, store.inserted["staff"], 1)
	assert.Equal(t, []string{"date_of_birth", "legal_name"}, store.insertCols["staff"],
		"name remapped by rule, ssn suppressed")
}

func TestRunWorkflowWarnsOnTablesWithoutSteps(t *testing.T) {
	store := newFakeBatchStore()
	workflows := &fakeWorkflowRunner{
		template: models.WorkflowTemplate{ID: "tpl-1", Name: "standard",
			Steps: []models.WorkflowStep{{Table: "staff"}}},
		next: []models.WorkflowStep{{Table: "staff"}},
	}
	core, logs := observer.New(zap.WarnLevel)
	o := NewOrchestrator(store, &fakeSnapshotter{}, &fakeDuplicateFinder{}, &fakeLineage{},
		&fakeRetries{}, nil, &fakeScorer{}, workflows, zap.New(core))

	// The departments mapping has no step in the template: its rows must not
	// load, and the gap must be surfaced in the log.
	result, err := o.Run(context.Background(), RunRequest{
		SourceSystem: "legacy-hr",
		Records:      []models.Record{{"name": "john smith", "dob": "1980-04-01", "dept": "Radiology"}},
		Mappings: append(staffMappings(),
			models.FieldMapping{SourceColumn: "dept", TargetTable: "departments", TargetColumn: "name"}),
		WorkflowTemplate: "standard",
	})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", result.WorkflowExecutionID)

	assert.Len(t, store.inserted["staff"], 1)
	assert.Empty(t, store.inserted["departments"])

	entries := logs.FilterMessage("mapped table has no workflow step, rows not loaded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "departments", entries[0].ContextMap()["table"])
	assert.Equal(t, "standard", entries[0].ContextMap()["template"])
}

func TestRunDuplicatesSurfacedInResult(t *testing.T) {
	store := newFakeBatchStore()
	dups := &fakeDuplicateFinder{candidates: []models.DedupCandidate{{ID: "c1"}, {ID: "c2"}}}
	o := NewOrchestrator(store, &fakeSnapshotter{}, dups, &fakeLineage{},
		&fakeRetries{}, nil, &fakeScorer{}, nil, zap.NewNop())

	result, err := o.Run(context.Background(), RunRequest{
		SourceSystem: "legacy-hr",
		Records:      []models.Record{{"name": "a", "dob": "1980-04-01"}},
		Mappings:     staffMappings(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.DuplicatesFound)
}
