package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"migration-engine/internal/models"
)

type fakeSnapshotStore struct {
	snapshots map[string]models.Snapshot
	failWith  error
	restored  []string
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{snapshots: map[string]models.Snapshot{}}
}

func (f *fakeSnapshotStore) CreateSnapshot(_ context.Context, snap models.Snapshot) (int64, int64, error) {
	if f.failWith != nil {
		return 0, 0, f.failWith
	}
	snap.Status = models.SnapshotStatusActive
	snap.TotalRows = 10
	snap.SizeBytes = 2048
	f.snapshots[snap.ID] = snap
	return snap.TotalRows, snap.SizeBytes, nil
}

func (f *fakeSnapshotStore) GetSnapshot(_ context.Context, id string) (models.Snapshot, error) {
	snap, ok := f.snapshots[id]
	if !ok {
		return models.Snapshot{}, errors.New("not found")
	}
	return snap, nil
}

func (f *fakeSnapshotStore) ListSnapshots(_ context.Context, batchID string) ([]models.Snapshot, error) {
	var out []models.Snapshot
	for _, s := range f.snapshots {
		if s.Status != models.SnapshotStatusActive {
			continue
		}
		if batchID != "" && (s.BatchID == nil || *s.BatchID != batchID) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSnapshotStore) RollbackToSnapshot(_ context.Context, id string) (int64, int64, error) {
	if f.failWith != nil {
		return 0, 0, f.failWith
	}
	snap, ok := f.snapshots[id]
	if !ok || snap.Status != models.SnapshotStatusActive {
		return 0, 0, errors.New("snapshot not active")
	}
	snap.Status = models.SnapshotStatusRestored
	f.snapshots[id] = snap
	f.restored = append(f.restored, id)
	return snap.TotalRows, 2, nil
}

func TestCreateAndListSnapshots(t *testing.T) {
	fake := newFakeSnapshotStore()
	m := NewManager(fake, zap.NewNop())

	id, err := m.CreateSnapshot(context.Background(), []string{"staff", "departments"},
		"batch-1", models.SnapshotTypePreMigration, "before nightly run")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	list, err := m.ListSnapshots(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"staff", "departments"}, list[0].Tables)

	_, err = m.CreateSnapshot(context.Background(), nil, "", models.SnapshotTypeManual, "")
	assert.Error(t, err, "empty table list is rejected")
}

func TestRollbackRequiresTwoIdentities(t *testing.T) {
	fake := newFakeSnapshotStore()
	m := NewManager(fake, zap.NewNop())

	id, err := m.CreateSnapshot(context.Background(), []string{"staff"}, "batch-1",
		models.SnapshotTypePreMigration, "")
	require.NoError(t, err)

	res := m.Rollback(context.Background(), id, "bad load", "alice", "alice")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "distinct requester and approver")
	assert.Empty(t, fake.restored, "nothing was restored")

	res = m.Rollback(context.Background(), id, "bad load", "alice", "")
	assert.False(t, res.Success)
}

func TestRollbackConsumesSnapshotOnce(t *testing.T) {
	fake := newFakeSnapshotStore()
	m := NewManager(fake, zap.NewNop())

	id, err := m.CreateSnapshot(context.Background(), []string{"staff"}, "batch-1",
		models.SnapshotTypePreMigration, "")
	require.NoError(t, err)

	res := m.Rollback(context.Background(), id, "bad load", "alice", "bob")
	require.True(t, res.Success)
	assert.Equal(t, int64(10), res.RowsRestored)
	assert.Equal(t, int64(2), res.RowsDeleted)

	res = m.Rollback(context.Background(), id, "again", "alice", "bob")
	assert.False(t, res.Success, "a restored snapshot cannot be consumed twice")
	assert.NotEmpty(t, res.Error)
}

func TestRollbackFailureIsStructuredNotSwallowed(t *testing.T) {
	fake := newFakeSnapshotStore()
	m := NewManager(fake, zap.NewNop())

	id, err := m.CreateSnapshot(context.Background(), []string{"staff"}, "batch-1",
		models.SnapshotTypePreMigration, "")
	require.NoError(t, err)

	fake.failWith = errors.New("store unreachable")
	res := m.Rollback(context.Background(), id, "bad load", "alice", "bob")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "store unreachable")
}
