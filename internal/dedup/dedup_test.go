package dedup

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"migration-engine/internal/models"
)

type fakeDedupStore struct {
	candidates map[string]*models.DedupCandidate
	pairs      map[string]string
}

func newFakeDedupStore() *fakeDedupStore {
	return &fakeDedupStore{
		candidates: map[string]*models.DedupCandidate{},
		pairs:      map[string]string{},
	}
}

func (f *fakeDedupStore) InsertDedupCandidate(_ context.Context, c models.DedupCandidate) (string, error) {
	key := c.BatchID + "|" + c.RecordA + "|" + c.RecordB
	if id, ok := f.pairs[key]; ok {
		return id, nil // idempotent on the pair: the first id wins
	}
	f.pairs[key] = c.ID
	copied := c
	f.candidates[c.ID] = &copied
	return c.ID, nil
}

func (f *fakeDedupStore) ResolveDedupCandidate(_ context.Context, id, resolution, resolvedBy, notes string) error {
	c, ok := f.candidates[id]
	if !ok || c.Resolution != models.ResolutionPending {
		return fmt.Errorf("candidate %s not found or already resolved", id)
	}
	c.Resolution = resolution
	c.ResolvedBy = resolvedBy
	c.ResolutionNotes = notes
	return nil
}

func (f *fakeDedupStore) DedupCandidatesByBatch(_ context.Context, batchID string) ([]models.DedupCandidate, error) {
	var out []models.DedupCandidate
	for _, c := range f.candidates {
		if c.BatchID == batchID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func TestFindDuplicatesSurfacesCloseNames(t *testing.T) {
	fake := newFakeDedupStore()
	d := NewDeduplicator(fake, zap.NewNop(), 0)

	records := []models.Record{
		{"id": "r1", "name": "John Smith", "dob": "1980-04-01", "phone": "555-123-4567"},
		{"id": "r2", "name": "John Smyth", "dob": "1980-04-01", "phone": "(555) 123-4567"},
		{"id": "r3", "name": "Alice Jones", "dob": "1992-11-30", "phone": "555-999-0000"},
	}

	found, err := d.FindDuplicates(context.Background(), "batch-1", records)
	require.NoError(t, err)
	require.Len(t, found, 1)

	c := found[0]
	assert.Equal(t, "r1", c.RecordA)
	assert.Equal(t, "r2", c.RecordB)
	assert.GreaterOrEqual(t, c.Score, 0.8)
	assert.Equal(t, 1.0, c.FieldScores["dob"])
	assert.Equal(t, 1.0, c.FieldScores["phone"], "formatting differences are normalized away")
}

func TestFindDuplicatesRenormalizesOverPresentFields(t *testing.T) {
	fake := newFakeDedupStore()
	d := NewDeduplicator(fake, zap.NewNop(), 0)

	// Only email is comparable: renormalization makes a single exact match
	// score 1.0 on its own, which is by itself a very strong signal.
	sameEmail := []models.Record{
		{"id": "r1", "email": "J.Smith@example.com"},
		{"id": "r2", "email": "j.smith@example.com"},
	}
	found, err := d.FindDuplicates(context.Background(), "batch-1", sameEmail)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 1.0, found[0].Score)

	// Names differ and only email matches: the email weight alone cannot
	// carry the composite over the threshold.
	mixed := []models.Record{
		{"id": "r3", "name": "John Smith", "email": "shared@example.com"},
		{"id": "r4", "name": "Maria Garcia", "email": "shared@example.com"},
	}
	found, err = d.FindDuplicates(context.Background(), "batch-2", mixed)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFindDuplicatesHumanReviewFlag(t *testing.T) {
	fake := newFakeDedupStore()
	d := NewDeduplicator(fake, zap.NewNop(), 0)

	certain := []models.Record{
		{"id": "r1", "name": "John Smith", "dob": "1980-04-01", "phone": "5551234567", "email": "js@example.com"},
		{"id": "r2", "name": "John Smith", "dob": "1980-04-01", "phone": "5551234567", "email": "JS@example.com"},
	}
	found, err := d.FindDuplicates(context.Background(), "batch-1", certain)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.False(t, found[0].RequiresHumanReview, "near-certain matches may auto-resolve")

	fuzzy := []models.Record{
		{"id": "r3", "name": "John Smith", "dob": "1980-04-01", "phone": "5551234567"},
		{"id": "r4", "name": "Jon Smithe", "dob": "1980-04-01", "phone": "5551234567"},
	}
	found, err = d.FindDuplicates(context.Background(), "batch-2", fuzzy)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].RequiresHumanReview)
}

func TestFindDuplicatesRescanIsIdempotent(t *testing.T) {
	fake := newFakeDedupStore()
	d := NewDeduplicator(fake, zap.NewNop(), 0)

	records := []models.Record{
		{"id": "r1", "name": "John Smith", "dob": "1980-04-01"},
		{"id": "r2", "name": "John Smyth", "dob": "1980-04-01"},
	}
	first, err := d.FindDuplicates(context.Background(), "batch-1", records)
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := d.FindDuplicates(context.Background(), "batch-1", records)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID,
		"a rescanned pair carries the id it was first persisted with")

	stored, err := d.CandidatesForBatch(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1, "rescan does not create duplicate candidates")

	require.NoError(t, d.ResolveDuplicate(context.Background(), second[0].ID,
		models.ResolutionMergeA, "reviewer", ""),
		"the id returned by a rescan resolves against the stored candidate")
}

func TestResolveDuplicateOnce(t *testing.T) {
	fake := newFakeDedupStore()
	d := NewDeduplicator(fake, zap.NewNop(), 0)

	records := []models.Record{
		{"id": "r1", "name": "John Smith", "dob": "1980-04-01"},
		{"id": "r2", "name": "John Smyth", "dob": "1980-04-01"},
	}
	found, err := d.FindDuplicates(context.Background(), "batch-1", records)
	require.NoError(t, err)
	require.Len(t, found, 1)
	id := found[0].ID

	require.NoError(t, d.ResolveDuplicate(context.Background(), id, models.ResolutionMergeA, "reviewer", "same person"))
	assert.Error(t, d.ResolveDuplicate(context.Background(), id, models.ResolutionKeepBoth, "reviewer", ""),
		"a candidate resolves exactly once")
	assert.Error(t, d.ResolveDuplicate(context.Background(), id, "bogus", "reviewer", ""))
}
