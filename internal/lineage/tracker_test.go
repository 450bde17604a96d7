package lineage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"migration-engine/internal/models"
)

type fakeLineageStore struct {
	inserted [][]models.LineageRecord
	failNext bool
}

func (f *fakeLineageStore) InsertLineageRecords(_ context.Context, records []models.LineageRecord) error {
	if f.failNext {
		f.failNext = false
		return errors.New("store unavailable")
	}
	f.inserted = append(f.inserted, records)
	return nil
}

func (f *fakeLineageStore) LineageByTarget(_ context.Context, table, rowID string) ([]models.LineageRecord, error) {
	var out []models.LineageRecord
	for _, batch := range f.inserted {
		for _, r := range batch {
			if r.TargetTable == table && r.TargetRowID == rowID {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func record(t *Tracker, row int, col string) {
	t.Record(context.Background(), "batch-1", "staff.csv", row, col,
		"raw", "staff", col, []string{"trim"}, "clean", "row-1", true, nil)
}

func TestTrackerAutoFlushAtThreshold(t *testing.T) {
	fake := &fakeLineageStore{}
	tracker := NewTracker(fake, zap.NewNop(), 3)

	record(tracker, 1, "first_name")
	record(tracker, 1, "last_name")
	assert.Equal(t, 2, tracker.Buffered())
	assert.Empty(t, fake.inserted)

	record(tracker, 1, "dob")
	assert.Equal(t, 0, tracker.Buffered())
	require.Len(t, fake.inserted, 1)
	assert.Len(t, fake.inserted[0], 3)
}

func TestTrackerFlushWritesTail(t *testing.T) {
	fake := &fakeLineageStore{}
	tracker := NewTracker(fake, zap.NewNop(), 100)

	record(tracker, 1, "first_name")
	record(tracker, 2, "first_name")

	n := tracker.Flush(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, tracker.Buffered())

	assert.Equal(t, 0, tracker.Flush(context.Background()), "empty flush is a no-op")
}

func TestTrackerFlushFailureDropsWithoutError(t *testing.T) {
	fake := &fakeLineageStore{failNext: true}
	tracker := NewTracker(fake, zap.NewNop(), 100)

	record(tracker, 1, "first_name")
	n := tracker.Flush(context.Background())

	assert.Equal(t, 0, n)
	assert.Equal(t, 0, tracker.Buffered(), "dropped entries are not retried")
}

func TestTrackerHashesNotRawValues(t *testing.T) {
	fake := &fakeLineageStore{}
	tracker := NewTracker(fake, zap.NewNop(), 1)

	tracker.Record(context.Background(), "batch-1", "staff.csv", 1, "ssn",
		"123-45-6789", "staff", "national_id", []string{"normalize"}, "123456789", "row-9", true, nil)

	require.Len(t, fake.inserted, 1)
	rec := fake.inserted[0][0]
	assert.NotContains(t, rec.SourceHash, "123-45-6789")
	assert.NotContains(t, rec.TargetHash, "123456789")
	assert.Len(t, rec.SourceHash, 16)
	assert.NotEqual(t, rec.SourceHash, rec.TargetHash)
}

func TestTraceLineageReturnsChain(t *testing.T) {
	fake := &fakeLineageStore{}
	tracker := NewTracker(fake, zap.NewNop(), 100)

	record(tracker, 1, "first_name")
	record(tracker, 1, "last_name")
	tracker.Flush(context.Background())

	chain, err := tracker.TraceLineage(context.Background(), "staff", "row-1")
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}
