package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"migration-engine/internal/config"
	"migration-engine/internal/coordinator"
	"migration-engine/internal/dedup"
	"migration-engine/internal/lineage"
	"migration-engine/internal/mappings"
	"migration-engine/internal/migration"
	"migration-engine/internal/models"
	"migration-engine/internal/ratelimit"
	"migration-engine/internal/snapshot"
	"migration-engine/internal/store"
	"migration-engine/internal/telemetry"
)

// Server wires HTTP handlers for the migration control plane.
type Server struct {
	cfg          config.Config
	store        *store.Store
	orchestrator *migration.Orchestrator
	snapshots    *snapshot.Manager
	dedup        *dedup.Deduplicator
	lineage      *lineage.Tracker
	mappings     *mappings.Client
	limiter      *ratelimit.TokenBucket
	archiver     *snapshot.Archiver
	coordinator  *coordinator.Coordinator
	logger       *zap.Logger
}

// New constructs the API server. archiver may be nil when no object storage
// is configured.
func New(cfg config.Config, st *store.Store, orch *migration.Orchestrator,
	snaps *snapshot.Manager, dd *dedup.Deduplicator, lt *lineage.Tracker,
	mc *mappings.Client, limiter *ratelimit.TokenBucket, archiver *snapshot.Archiver,
	coord *coordinator.Coordinator, logger *zap.Logger) *Server {
	return &Server{
		cfg:          cfg,
		store:        st,
		orchestrator: orch,
		snapshots:    snaps,
		dedup:        dd,
		lineage:      lt,
		mappings:     mc,
		limiter:      limiter,
		archiver:     archiver,
		coordinator:  coord,
		logger:       logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/migrations", s.handleStartMigration)
	r.Get("/migrations/{id}", s.handleGetMigration)
	r.Post("/migrations/{id}/rollback", s.handleRollback)
	r.Get("/migrations/{id}/duplicates", s.handleListDuplicates)
	r.Post("/duplicates/{id}/resolve", s.handleResolveDuplicate)
	r.Get("/lineage/{table}/{rowID}", s.handleTraceLineage)
	r.Get("/snapshots", s.handleListSnapshots)
	r.Post("/snapshots/{id}/archive", s.handleArchiveSnapshot)
	r.Get("/retries/exhausted", s.handleExhaustedRetries)
	r.Post("/work-queues", s.handleCreateWorkQueue)
	r.Get("/work-queues/{batchID}", s.handleWorkQueueStatus)
	return r
}

type startMigrationRequest struct {
	SourceSystem     string                `json:"source_system"`
	SourceFile       string                `json:"source_file"`
	Records          []models.Record       `json:"records"`
	Mappings         []models.FieldMapping `json:"mappings,omitempty"`
	Validators       map[string]string     `json:"validators,omitempty"`
	WorkflowTemplate string                `json:"workflow_template,omitempty"`
	DryRun           bool                  `json:"dry_run"`
}

func (s *Server) handleStartMigration(w http.ResponseWriter, r *http.Request) {
	var req startMigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.SourceSystem == "" {
		http.Error(w, "source_system is required", http.StatusBadRequest)
		return
	}
	if len(req.Records) == 0 {
		http.Error(w, "records are required", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.AllowSource(r.Context(), req.SourceSystem)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	// When the caller supplies no mappings, ask the pattern-detection
	// collaborator for suggestions.
	if len(req.Mappings) == 0 && s.mappings != nil {
		suggested, err := s.mappings.Suggestions(r.Context(), req.SourceSystem, req.SourceFile)
		if err != nil {
			http.Error(w, fmt.Sprintf("mapping suggestions unavailable: %v", err), http.StatusBadGateway)
			return
		}
		req.Mappings = suggested
	}
	if len(req.Mappings) == 0 {
		http.Error(w, "no field mappings available", http.StatusBadRequest)
		return
	}

	telemetry.MigrationsStarted.Inc()
	result, err := s.orchestrator.Run(r.Context(), migration.RunRequest{
		SourceSystem:     req.SourceSystem,
		SourceFile:       req.SourceFile,
		Records:          req.Records,
		Mappings:         req.Mappings,
		Validators:       req.Validators,
		WorkflowTemplate: req.WorkflowTemplate,
		DryRun:           req.DryRun,
		InsertBatchSize:  s.cfg.InsertBatchSize,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	telemetry.RowsMigrated.Add(float64(result.SuccessCount))
	telemetry.RowsFailed.Add(float64(result.ErrorCount))
	telemetry.RetriesQueued.Add(float64(result.RetriesQueued))
	telemetry.DuplicatesFound.Add(float64(result.DuplicatesFound))
	if result.SnapshotID != "" {
		telemetry.SnapshotsCreated.Inc()
	}
	if result.ErrorCount > 0 {
		telemetry.MigrationsWithError.Inc()
	} else {
		telemetry.MigrationsCompleted.Inc()
	}

	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetMigration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

type rollbackRequest struct {
	SnapshotID  string `json:"snapshot_id"`
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
	ApprovedBy  string `json:"approved_by"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	snapshotID := req.SnapshotID
	if snapshotID == "" {
		// Default to the batch's most recent active snapshot.
		snaps, err := s.snapshots.ListSnapshots(r.Context(), batchID)
		if err != nil || len(snaps) == 0 {
			http.Error(w, "no active snapshot for batch", http.StatusNotFound)
			return
		}
		snapshotID = snaps[0].ID
	}

	result := s.snapshots.Rollback(r.Context(), snapshotID, req.Reason, req.RequestedBy, req.ApprovedBy)
	_ = s.store.AppendAudit(r.Context(), batchID, "rollback",
		fmt.Sprintf("snapshot=%s requested_by=%s approved_by=%s success=%t",
			snapshotID, req.RequestedBy, req.ApprovedBy, result.Success))
	telemetry.RollbacksTotal.Inc()

	code := http.StatusOK
	if !result.Success {
		code = http.StatusConflict
	}
	writeJSON(w, code, result)
}

func (s *Server) handleListDuplicates(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	candidates, err := s.dedup.CandidatesForBatch(r.Context(), batchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes"`
}

func (s *Server) handleResolveDuplicate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Resolution == "" || req.ResolvedBy == "" {
		http.Error(w, "resolution and resolved_by are required", http.StatusBadRequest)
		return
	}
	if err := s.dedup.ResolveDuplicate(r.Context(), id, req.Resolution, req.ResolvedBy, req.Notes); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleTraceLineage(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	rowID := chi.URLParam(r, "rowID")
	chain, err := s.lineage.TraceLineage(r.Context(), table, rowID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lineage": chain})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	batchID := r.URL.Query().Get("batch_id")
	snaps, err := s.snapshots.ListSnapshots(r.Context(), batchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (s *Server) handleArchiveSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.archiver == nil {
		http.Error(w, "snapshot archiving is not configured", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.snapshots.GetSnapshot(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	url, err := s.archiver.Archive(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"snapshot_id": id, "url": url})
}

func (s *Server) handleExhaustedRetries(w http.ResponseWriter, r *http.Request) {
	batchID := r.URL.Query().Get("batch_id")
	if batchID == "" {
		http.Error(w, "batch_id is required", http.StatusBadRequest)
		return
	}
	items, err := s.store.ExhaustedRetries(r.Context(), batchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type createWorkQueueRequest struct {
	SourceSystem string   `json:"source_system"`
	SourceFile   string   `json:"source_file"`
	TargetTable  string   `json:"target_table"`
	TotalRows    int      `json:"total_rows"`
	ChunkSize    int      `json:"chunk_size"`
	WorkType     string   `json:"work_type"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

// handleCreateWorkQueue creates a batch whose load is partitioned into
// claimable work items for the worker fleet, instead of running in-process.
func (s *Server) handleCreateWorkQueue(w http.ResponseWriter, r *http.Request) {
	var req createWorkQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.SourceSystem == "" || req.TargetTable == "" || req.TotalRows <= 0 {
		http.Error(w, "source_system, target_table, and total_rows are required", http.StatusBadRequest)
		return
	}
	if req.WorkType == "" {
		req.WorkType = models.WorkTypeLoad
	}

	batch := models.MigrationBatch{
		ID:           uuid.NewString(),
		SourceSystem: req.SourceSystem,
		SourceFile:   req.SourceFile,
		TotalRecords: req.TotalRows,
		Status:       models.BatchStatusProcessing,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateBatch(r.Context(), batch); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ids, err := s.coordinator.CreateWorkQueue(r.Context(), batch.ID, req.TargetTable,
		req.TotalRows, req.ChunkSize, req.WorkType, req.DependsOn)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = s.store.AppendAudit(r.Context(), batch.ID, "work_queue_created",
		fmt.Sprintf("table=%s items=%d rows=%d", req.TargetTable, len(ids), req.TotalRows))

	writeJSON(w, http.StatusCreated, map[string]any{
		"batch_id":      batch.ID,
		"work_item_ids": ids,
	})
}

func (s *Server) handleWorkQueueStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	batch, err := s.store.GetBatch(r.Context(), batchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	pending, err := s.store.PendingWorkCount(r.Context(), batchID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch":        batch,
		"pending_work": pending,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
