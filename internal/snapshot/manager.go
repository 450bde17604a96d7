package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"migration-engine/internal/models"
)

// ErrApprovalRequired is returned when a rollback is requested without a
// second, distinct approver.
var ErrApprovalRequired = errors.New("rollback requires a distinct requester and approver")

// store is the slice of the datastore the manager needs. Snapshot capture and
// restore run inside single store transactions so neither can partially
// commit.
type store interface {
	CreateSnapshot(ctx context.Context, snap models.Snapshot) (rows, sizeBytes int64, err error)
	GetSnapshot(ctx context.Context, id string) (models.Snapshot, error)
	ListSnapshots(ctx context.Context, batchID string) ([]models.Snapshot, error)
	RollbackToSnapshot(ctx context.Context, snapshotID string) (rowsRestored, rowsDeleted int64, err error)
}

// Manager creates and restores table snapshots.
type Manager struct {
	store  store
	logger *zap.Logger
}

func NewManager(s store, logger *zap.Logger) *Manager {
	return &Manager{store: s, logger: logger}
}

// CreateSnapshot captures the full current contents of the named tables and
// returns the new snapshot's id.
func (m *Manager) CreateSnapshot(ctx context.Context, tables []string, batchID, snapType, description string) (string, error) {
	if len(tables) == 0 {
		return "", errors.New("no tables to snapshot")
	}
	snap := models.Snapshot{
		ID:          uuid.NewString(),
		Type:        snapType,
		Tables:      tables,
		Description: description,
	}
	if batchID != "" {
		snap.BatchID = &batchID
	}

	rows, size, err := m.store.CreateSnapshot(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	m.logger.Info("snapshot created",
		zap.String("snapshot_id", snap.ID),
		zap.Strings("tables", tables),
		zap.Int64("rows", rows),
		zap.Int64("size_bytes", size))
	return snap.ID, nil
}

// Rollback restores every table captured in the snapshot with replace
// semantics. It is a destructive action and requires two distinct identities:
// the requester and an approver. A failure is returned as a structured
// result, never swallowed, because it implies the target may be left
// inconsistent and needs operator attention.
func (m *Manager) Rollback(ctx context.Context, snapshotID, reason, requestedBy, approvedBy string) models.RollbackResult {
	if requestedBy == "" || approvedBy == "" || requestedBy == approvedBy {
		return models.RollbackResult{Success: false, Error: ErrApprovalRequired.Error()}
	}

	start := time.Now()
	restored, deleted, err := m.store.RollbackToSnapshot(ctx, snapshotID)
	elapsed := time.Since(start)

	if err != nil {
		m.logger.Error("rollback failed",
			zap.String("snapshot_id", snapshotID),
			zap.String("requested_by", requestedBy),
			zap.String("approved_by", approvedBy),
			zap.Error(err))
		return models.RollbackResult{Success: false, DurationMs: elapsed.Milliseconds(), Error: err.Error()}
	}

	m.logger.Info("rollback completed",
		zap.String("snapshot_id", snapshotID),
		zap.String("reason", reason),
		zap.String("requested_by", requestedBy),
		zap.String("approved_by", approvedBy),
		zap.Int64("rows_restored", restored),
		zap.Int64("rows_deleted", deleted))
	return models.RollbackResult{
		Success:      true,
		RowsRestored: restored,
		RowsDeleted:  deleted,
		DurationMs:   elapsed.Milliseconds(),
	}
}

// ListSnapshots lists active snapshots, most recent first. An empty batchID
// lists across all batches.
func (m *Manager) ListSnapshots(ctx context.Context, batchID string) ([]models.Snapshot, error) {
	return m.store.ListSnapshots(ctx, batchID)
}

// GetSnapshot fetches one snapshot's metadata.
func (m *Manager) GetSnapshot(ctx context.Context, id string) (models.Snapshot, error) {
	return m.store.GetSnapshot(ctx, id)
}
