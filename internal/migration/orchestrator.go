package migration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"migration-engine/internal/models"
	"migration-engine/internal/routing"
)

// DefaultInsertBatchSize is how many staged rows go into one bulk insert.
const DefaultInsertBatchSize = 100

// Consumer-side slices of the collaborators the orchestrator composes.

type batchStore interface {
	CreateBatch(ctx context.Context, b models.MigrationBatch) error
	FinalizeBatch(ctx context.Context, id, status string, successCount, errorCount int) error
	AppendAudit(ctx context.Context, batchID, event, detail string) error
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) error
}

type snapshotter interface {
	CreateSnapshot(ctx context.Context, tables []string, batchID, snapType, description string) (string, error)
}

type duplicateFinder interface {
	FindDuplicates(ctx context.Context, batchID string, records []models.Record) ([]models.DedupCandidate, error)
}

type lineageRecorder interface {
	Record(ctx context.Context, batchID, sourceFile string, sourceRow int, sourceColumn string,
		sourceValue any, targetTable, targetColumn string, steps []string, targetValue any,
		targetRowID string, valid bool, errs []string)
	Flush(ctx context.Context) int
}

type retryEnqueuer interface {
	Enqueue(ctx context.Context, batchID, operation, targetTable string, affectedRows []int,
		errorCode, errorMessage string, payload map[string]any) (string, error)
}

type ruleRouter interface {
	Evaluate(ctx context.Context, sourceColumn string, record models.Record) (routing.Decision, error)
}

type qualityScorer interface {
	CalculateScore(ctx context.Context, batchID string) models.QualityScore
}

type workflowRunner interface {
	GetTemplate(ctx context.Context, idOrName string) (models.WorkflowTemplate, error)
	CreateExecution(ctx context.Context, batchID string, template models.WorkflowTemplate) (string, error)
	GetNextStep(ctx context.Context, executionID string) (*models.WorkflowStep, error)
	CompleteStep(ctx context.Context, executionID, table string) error
}

// RunRequest describes one migration run.
type RunRequest struct {
	SourceSystem string
	SourceFile   string
	Records      []models.Record
	// Mappings come from the external pattern-detection collaborator and
	// are untrusted: every routed value is still validated field by field.
	Mappings []models.FieldMapping
	// Validators maps a target column to the validator applied to it.
	Validators map[string]string
	// WorkflowTemplate, when set, gates table processing order by the
	// named template's dependency graph.
	WorkflowTemplate string
	DryRun           bool
	InsertBatchSize  int
}

// Orchestrator composes snapshotting, dedup, routing, lineage, retries,
// workflow gating, and quality scoring into one migration run.
type Orchestrator struct {
	store     batchStore
	snapshots snapshotter
	dedup     duplicateFinder
	lineage   lineageRecorder
	retries   retryEnqueuer
	router    ruleRouter
	scorer    qualityScorer
	workflows workflowRunner
	logger    *zap.Logger
}

func NewOrchestrator(store batchStore, snapshots snapshotter, dedup duplicateFinder,
	lineage lineageRecorder, retries retryEnqueuer, router ruleRouter,
	scorer qualityScorer, workflows workflowRunner, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		snapshots: snapshots,
		dedup:     dedup,
		lineage:   lineage,
		retries:   retries,
		router:    router,
		scorer:    scorer,
		workflows: workflows,
		logger:    logger,
	}
}

// stagedRow is one source row's values destined for a single target table.
type stagedRow struct {
	sourceRow int
	values    map[string]any
}

// runState accumulates a run's outcome as tables are processed.
type runState struct {
	result EnterpriseMigrationResult
}

// Run executes one migration: snapshot, dedup scan, per-table mapped load
// (workflow-gated when a template is named), lineage flush, quality score.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*EnterpriseMigrationResult, error) {
	start := time.Now()
	batchSize := req.InsertBatchSize
	if batchSize <= 0 {
		batchSize = DefaultInsertBatchSize
	}

	status := models.BatchStatusProcessing
	if req.DryRun {
		status = models.BatchStatusDryRun
	}
	batch := models.MigrationBatch{
		ID:           uuid.NewString(),
		SourceSystem: req.SourceSystem,
		SourceFile:   req.SourceFile,
		TotalRecords: len(req.Records),
		Status:       status,
		StartedAt:    start,
	}
	if err := o.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	o.audit(ctx, batch.ID, "run_started", fmt.Sprintf("source=%s records=%d dry_run=%t",
		req.SourceSystem, len(req.Records), req.DryRun))

	state := &runState{}
	state.result.BatchID = batch.ID
	state.result.TotalRecords = len(req.Records)

	tables := targetTables(req.Mappings)

	if !req.DryRun && len(tables) > 0 {
		snapshotID, err := o.snapshots.CreateSnapshot(ctx, tables, batch.ID,
			models.SnapshotTypePreMigration, "pre-migration snapshot")
		if err != nil {
			return nil, fmt.Errorf("pre-migration snapshot: %w", err)
		}
		state.result.SnapshotID = snapshotID
		o.audit(ctx, batch.ID, "snapshot_created", snapshotID)
	}

	candidates, err := o.dedup.FindDuplicates(ctx, batch.ID, req.Records)
	if err != nil {
		o.logger.Warn("duplicate scan failed",
			zap.String("batch_id", batch.ID),
			zap.Error(err))
	}
	state.result.DuplicatesFound = len(candidates)

	if req.WorkflowTemplate != "" {
		if err := o.runWithWorkflow(ctx, batch.ID, req, tables, batchSize, state); err != nil {
			return nil, err
		}
	} else {
		for _, table := range tables {
			o.processTable(ctx, batch.ID, table, req, batchSize, state)
		}
	}

	o.lineage.Flush(ctx)

	finalStatus := models.BatchStatusCompleted
	if state.result.ErrorCount > 0 {
		finalStatus = models.BatchStatusCompletedWithErrors
	}
	if err := o.store.FinalizeBatch(ctx, batch.ID, finalStatus,
		state.result.SuccessCount, state.result.ErrorCount); err != nil {
		return nil, fmt.Errorf("finalize batch: %w", err)
	}

	if !req.DryRun {
		score := o.scorer.CalculateScore(ctx, batch.ID)
		state.result.QualityScore = &score
	}

	elapsed := time.Since(start)
	state.result.ProcessingTimeMs = elapsed.Milliseconds()
	if secs := elapsed.Seconds(); secs > 0 {
		state.result.ThroughputRowsPerSecond = float64(len(req.Records)) / secs
	}

	o.audit(ctx, batch.ID, "run_finished", fmt.Sprintf("status=%s success=%d errors=%d",
		finalStatus, state.result.SuccessCount, state.result.ErrorCount))
	o.logger.Info("migration run finished",
		zap.String("batch_id", batch.ID),
		zap.String("status", finalStatus),
		zap.Int("success", state.result.SuccessCount),
		zap.Int("errors", state.result.ErrorCount),
		zap.Int("retries_queued", state.result.RetriesQueued),
		zap.Duration("elapsed", elapsed))
	return &state.result, nil
}

// runWithWorkflow processes tables in the order the template's dependency
// graph allows. Because table loads within a run are sequential here, a nil
// next step with unfinished tables means the template references tables this
// run does not load; those are skipped.
func (o *Orchestrator) runWithWorkflow(ctx context.Context, batchID string, req RunRequest,
	tables []string, batchSize int, state *runState) error {

	template, err := o.workflows.GetTemplate(ctx, req.WorkflowTemplate)
	if err != nil {
		return fmt.Errorf("workflow template: %w", err)
	}
	execID, err := o.workflows.CreateExecution(ctx, batchID, template)
	if err != nil {
		return fmt.Errorf("workflow execution: %w", err)
	}
	state.result.WorkflowExecutionID = execID

	mapped := make(map[string]bool, len(tables))
	for _, t := range tables {
		mapped[t] = true
	}
	visited := make(map[string]bool, len(tables))

	for {
		step, err := o.workflows.GetNextStep(ctx, execID)
		if err != nil {
			return fmt.Errorf("next workflow step: %w", err)
		}
		if step == nil {
			// A mapped table the template never stepped through stays
			// unloaded; make that visible instead of silently dropping rows.
			for _, t := range tables {
				if !visited[t] {
					o.logger.Warn("mapped table has no workflow step, rows not loaded",
						zap.String("batch_id", batchID),
						zap.String("table", t),
						zap.String("template", template.Name))
				}
			}
			return nil
		}
		if mapped[step.Table] {
			visited[step.Table] = true
			o.processTable(ctx, batchID, step.Table, req, batchSize, state)
		}
		if err := o.workflows.CompleteStep(ctx, execID, step.Table); err != nil {
			return fmt.Errorf("complete workflow step: %w", err)
		}
	}
}

// processTable maps, transforms, validates, and loads every source row into
// one target table. Rows failing any field validation are counted failed and
// never staged; staged chunks that fail to insert are queued for retry and
// their rows counted failed for this run.
func (o *Orchestrator) processTable(ctx context.Context, batchID, table string, req RunRequest,
	batchSize int, state *runState) {
	o.loadRows(ctx, batchID, table, req.Records, 0, req, batchSize, state)
}

// LoadRange maps and loads a slice of source rows into one table on behalf of
// a distributed worker holding a claimed row range. Row numbers continue from
// offset so lineage and retry references match the full extract.
func (o *Orchestrator) LoadRange(ctx context.Context, batchID, table string, offset int,
	records []models.Record, req RunRequest) (processed, succeeded, failed int) {

	batchSize := req.InsertBatchSize
	if batchSize <= 0 {
		batchSize = DefaultInsertBatchSize
	}
	state := &runState{}
	o.loadRows(ctx, batchID, table, records, offset, req, batchSize, state)
	o.lineage.Flush(ctx)
	return len(records), state.result.SuccessCount, state.result.ErrorCount
}

func (o *Orchestrator) loadRows(ctx context.Context, batchID, table string, records []models.Record,
	offset int, req RunRequest, batchSize int, state *runState) {

	var pending []stagedRow

	flush := func() {
		if len(pending) == 0 {
			return
		}
		chunk := pending
		pending = nil

		if req.DryRun {
			state.result.SuccessCount += len(chunk)
			return
		}

		columns, rows := columnarize(chunk)
		if err := o.store.InsertRows(ctx, table, columns, rows); err != nil {
			affected := make([]int, len(chunk))
			for i, r := range chunk {
				affected[i] = r.sourceRow
			}
			// The payload carries the staged values so a retry worker can
			// re-execute the insert without re-reading the source.
			payload := map[string]any{"columns": columns, "rows": rows}
			if _, qerr := o.retries.Enqueue(ctx, batchID, models.RetryOpBulkInsert, table, affected,
				"INSERT_FAILED", err.Error(), payload); qerr != nil {
				o.logger.Error("retry enqueue failed",
					zap.String("batch_id", batchID),
					zap.Error(qerr))
			} else {
				state.result.RetriesQueued++
			}
			state.result.ErrorCount += len(chunk)
			for _, r := range chunk {
				state.result.Errors = append(state.result.Errors, RowError{
					Table: table, Row: r.sourceRow, Message: err.Error(),
				})
			}
			return
		}
		state.result.SuccessCount += len(chunk)
	}

	for i, record := range records {
		rowNum := offset + i + 1
		values, rowErrs := o.mapRow(ctx, batchID, table, rowNum, record, req, state)
		if len(rowErrs) > 0 {
			state.result.ErrorCount++
			state.result.Errors = append(state.result.Errors, rowErrs...)
			continue
		}
		if len(values) == 0 {
			continue // every field skipped by routing
		}
		pending = append(pending, stagedRow{sourceRow: rowNum, values: values})
		if len(pending) >= batchSize {
			flush()
		}
	}
	flush()
}

// mapRow applies every field mapping targeting the table to one record,
// returning the staged column values or the row's validation errors.
func (o *Orchestrator) mapRow(ctx context.Context, batchID, table string, rowNum int,
	record models.Record, req RunRequest, state *runState) (map[string]any, []RowError) {

	values := map[string]any{}
	var rowErrs []RowError
	targetRowID := fmt.Sprintf("%s:%d", batchID, rowNum)

	for _, m := range req.Mappings {
		if m.TargetTable != table {
			continue
		}

		raw, present := record.String(m.SourceColumn)
		steps := []string{}
		targetColumn := m.TargetColumn
		transformID := m.TransformID
		skip := false

		if o.router != nil {
			decision, err := o.router.Evaluate(ctx, m.SourceColumn, record)
			if err != nil {
				o.logger.Warn("rule evaluation unavailable",
					zap.String("column", m.SourceColumn),
					zap.Error(err))
			} else if decision.Matched {
				steps = append(steps, "rule:"+decision.ActionType)
				switch decision.ActionType {
				case models.ActionSkip:
					skip = true
				case models.ActionMapToColumn:
					if col, ok := decision.ActionConfig["column"].(string); ok {
						targetColumn = col
					}
				case models.ActionMapToTable:
					if tbl, ok := decision.ActionConfig["table"].(string); ok && tbl != table {
						skip = true // routed to a different table's pass
					}
				case models.ActionTransform:
					if id, ok := decision.ActionConfig["transform_id"].(string); ok {
						transformID = id
					}
				case models.ActionFlagReview:
					o.audit(ctx, batchID, "flagged_for_review",
						fmt.Sprintf("row=%d column=%s", rowNum, m.SourceColumn))
				}
			}
		}
		if skip {
			continue
		}
		if !present {
			// A key the extract delivered as an explicit null still gets a
			// lineage row; a key never present does not.
			if _, exists := record.Field(m.SourceColumn); exists {
				o.lineage.Record(ctx, batchID, req.SourceFile, rowNum, m.SourceColumn, nil,
					table, targetColumn, steps, nil, targetRowID, true, nil)
				state.result.LineageRecordsCreated++
			}
			continue
		}

		transformed := raw
		var fieldErrs []string
		if transformID != "" {
			steps = append(steps, transformID)
			out, err := ApplyTransform(transformID, raw)
			if err != nil {
				fieldErrs = append(fieldErrs, err.Error())
			} else {
				transformed = out
			}
		}
		if len(fieldErrs) == 0 {
			if name := req.Validators[targetColumn]; name != "" {
				steps = append(steps, "validate:"+name)
				if err := ValidateField(name, transformed); err != nil {
					fieldErrs = append(fieldErrs, err.Error())
				}
			}
		}

		valid := len(fieldErrs) == 0
		var targetValue any
		if valid {
			targetValue = transformed
		}
		o.lineage.Record(ctx, batchID, req.SourceFile, rowNum, m.SourceColumn, raw,
			table, targetColumn, steps, targetValue, targetRowID, valid, fieldErrs)
		state.result.LineageRecordsCreated++

		if !valid {
			rowErrs = append(rowErrs, RowError{
				Table: table, Row: rowNum, Column: m.SourceColumn,
				Message: fieldErrs[0],
			})
			continue
		}
		values[targetColumn] = transformed
	}
	return values, rowErrs
}

// audit appends an audit row, fire-and-forget.
func (o *Orchestrator) audit(ctx context.Context, batchID, event, detail string) {
	if err := o.store.AppendAudit(ctx, batchID, event, detail); err != nil {
		o.logger.Debug("audit append failed", zap.Error(err))
	}
}

// targetTables returns the distinct target tables in mapping order.
func targetTables(mappings []models.FieldMapping) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mappings {
		if !seen[m.TargetTable] {
			seen[m.TargetTable] = true
			out = append(out, m.TargetTable)
		}
	}
	return out
}

// columnarize converts staged rows into the sorted column list and row value
// slices the store's bulk insert expects. Columns absent on a row are nil.
func columnarize(chunk []stagedRow) ([]string, [][]any) {
	colSet := map[string]bool{}
	for _, r := range chunk {
		for c := range r.values {
			colSet[c] = true
		}
	}
	columns := make([]string, 0, len(colSet))
	for c := range colSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	rows := make([][]any, len(chunk))
	for i, r := range chunk {
		row := make([]any, len(columns))
		for j, c := range columns {
			if v, ok := r.values[c]; ok {
				row[j] = v
			}
		}
		rows[i] = row
	}
	return columns, rows
}
