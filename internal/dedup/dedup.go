package dedup

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"migration-engine/internal/models"
	"migration-engine/internal/similarity"
)

// Field weights of the composite score. Weights are renormalized over the
// fields actually present on both records of a pair.
const (
	weightName  = 0.40
	weightDOB   = 0.25
	weightPhone = 0.20
	weightEmail = 0.15
)

const (
	// DefaultThreshold is the composite score above which a pair is
	// surfaced as a candidate.
	DefaultThreshold = 0.8
	// autoResolveThreshold is the score above which a candidate no longer
	// requires human review.
	autoResolveThreshold = 0.95
)

// store is the slice of the datastore the deduplicator needs.
type store interface {
	InsertDedupCandidate(ctx context.Context, c models.DedupCandidate) (string, error)
	ResolveDedupCandidate(ctx context.Context, id, resolution, resolvedBy, notes string) error
	DedupCandidatesByBatch(ctx context.Context, batchID string) ([]models.DedupCandidate, error)
}

// Deduplicator finds near-duplicate source records within one batch using a
// weighted composite of name, date-of-birth, phone, and email similarity.
type Deduplicator struct {
	store     store
	logger    *zap.Logger
	threshold float64
}

// NewDeduplicator creates a deduplicator. A threshold of 0 means the default.
func NewDeduplicator(s store, logger *zap.Logger, threshold float64) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Deduplicator{store: s, logger: logger, threshold: threshold}
}

// FindDuplicates scores every unordered pair of records and persists pairs at
// or above the threshold as candidates. Pairwise O(n²) is acceptable because
// dedup runs over one source batch, not the whole target store. Candidate
// inserts are idempotent on the normalized record-id pair: rescanning a batch
// never duplicates candidates, and a rescanned pair comes back under the id
// it was first persisted with.
func (d *Deduplicator) FindDuplicates(ctx context.Context, batchID string, records []models.Record) ([]models.DedupCandidate, error) {
	var found []models.DedupCandidate
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			score, fieldScores := d.scorePair(records[i], records[j])
			if score < d.threshold {
				continue
			}

			a, b := recordID(records[i], i), recordID(records[j], j)
			if a > b {
				a, b = b, a
			}
			cand := models.DedupCandidate{
				ID:                  uuid.NewString(),
				BatchID:             batchID,
				RecordA:             a,
				RecordB:             b,
				Score:               score,
				FieldScores:         fieldScores,
				RequiresHumanReview: score < autoResolveThreshold,
				Resolution:          models.ResolutionPending,
			}
			id, err := d.store.InsertDedupCandidate(ctx, cand)
			if err != nil {
				return nil, fmt.Errorf("persist candidate %s/%s: %w", a, b, err)
			}
			cand.ID = id
			found = append(found, cand)
		}
	}

	d.logger.Info("duplicate scan completed",
		zap.String("batch_id", batchID),
		zap.Int("records", len(records)),
		zap.Int("candidates", len(found)))
	return found, nil
}

// ResolveDuplicate records the decision on a candidate. A candidate resolves
// exactly once; a second resolution attempt is an error.
func (d *Deduplicator) ResolveDuplicate(ctx context.Context, id, resolution, resolvedBy, notes string) error {
	switch resolution {
	case models.ResolutionMergeA, models.ResolutionMergeB, models.ResolutionKeepBoth,
		models.ResolutionManualReview, models.ResolutionAutoMerged:
	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}
	if err := d.store.ResolveDedupCandidate(ctx, id, resolution, resolvedBy, notes); err != nil {
		return err
	}
	d.logger.Info("duplicate resolved",
		zap.String("candidate_id", id),
		zap.String("resolution", resolution),
		zap.String("resolved_by", resolvedBy))
	return nil
}

// CandidatesForBatch lists a batch's candidates, highest score first.
func (d *Deduplicator) CandidatesForBatch(ctx context.Context, batchID string) ([]models.DedupCandidate, error) {
	return d.store.DedupCandidatesByBatch(ctx, batchID)
}

// scorePair computes the renormalized composite similarity of two records.
// A field pair where either side is absent contributes neither score nor
// weight; if no comparable fields exist the pair scores 0.
func (d *Deduplicator) scorePair(a, b models.Record) (float64, map[string]float64) {
	fieldScores := make(map[string]float64)
	var weighted, totalWeight float64

	if nameA, okA := fullName(a); okA {
		if nameB, okB := fullName(b); okB {
			s := similarity.NameSimilarity(nameA, nameB)
			fieldScores["name"] = s
			weighted += weightName * s
			totalWeight += weightName
		}
	}
	if s, ok := exactMatch(a, b, "dob", normalizeDOB); ok {
		fieldScores["dob"] = s
		weighted += weightDOB * s
		totalWeight += weightDOB
	}
	if s, ok := exactMatch(a, b, "phone", normalizePhone); ok {
		fieldScores["phone"] = s
		weighted += weightPhone * s
		totalWeight += weightPhone
	}
	if s, ok := exactMatch(a, b, "email", normalizeEmail); ok {
		fieldScores["email"] = s
		weighted += weightEmail * s
		totalWeight += weightEmail
	}

	if totalWeight == 0 {
		return 0, fieldScores
	}
	return weighted / totalWeight, fieldScores
}

// exactMatch scores a field 1.0 on normalized equality, 0 otherwise. The
// second return is false when either record lacks the field.
func exactMatch(a, b models.Record, key string, normalize func(string) string) (float64, bool) {
	va, okA := a.String(key)
	vb, okB := b.String(key)
	if !okA || !okB {
		return 0, false
	}
	if normalize(va) == normalize(vb) {
		return 1.0, true
	}
	return 0, true
}

// fullName reads a record's name, accepting either a single name field or
// first/last split across two.
func fullName(r models.Record) (string, bool) {
	if name, ok := r.String("name"); ok && name != "" {
		return name, true
	}
	first, okF := r.String("first_name")
	last, okL := r.String("last_name")
	if !okF && !okL {
		return "", false
	}
	name := strings.TrimSpace(first + " " + last)
	return name, name != ""
}

func normalizeDOB(s string) string {
	return strings.TrimSpace(s)
}

// normalizePhone keeps digits only and strips a leading country code 1 from
// 11-digit numbers.
func normalizePhone(s string) string {
	var digits strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	out := digits.String()
	if len(out) == 11 && out[0] == '1' {
		out = out[1:]
	}
	return out
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// recordID identifies a record by its id field, falling back to its position
// in the batch.
func recordID(r models.Record, index int) string {
	if id, ok := r.String("id"); ok && id != "" {
		return id
	}
	return fmt.Sprintf("row-%d", index)
}
