package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"migration-engine/internal/models"
)

// InsertDedupCandidate records a suspected duplicate pair and returns the
// persisted candidate id. The insert is idempotent on (batch_id, record_a,
// record_b): rescanning a batch hits the conflict arm and returns the id the
// pair was first stored under, not the fresh one the caller generated.
func (s *Store) InsertDedupCandidate(ctx context.Context, c models.DedupCandidate) (string, error) {
	fieldScores, err := json.Marshal(c.FieldScores)
	if err != nil {
		return "", fmt.Errorf("marshal field scores: %w", err)
	}
	var id string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO dedup_candidates (id, batch_id, record_a, record_b, score, field_scores, requires_human_review, resolution, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (batch_id, record_a, record_b) DO UPDATE SET id = dedup_candidates.id
		RETURNING id
	`, c.ID, c.BatchID, c.RecordA, c.RecordB, c.Score, fieldScores, c.RequiresHumanReview, models.ResolutionPending).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert dedup candidate: %w", err)
	}
	return id, nil
}

// ResolveDedupCandidate applies a resolution to a still-pending candidate.
// Resolving twice is rejected at the query level: the UPDATE only matches
// pending rows.
func (s *Store) ResolveDedupCandidate(ctx context.Context, id, resolution, resolvedBy, notes string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dedup_candidates
		SET resolution = $2, resolved_by = $3, resolution_notes = $4, resolved_at = NOW()
		WHERE id = $1 AND resolution = 'pending'
	`, id, resolution, resolvedBy, notes)
	if err != nil {
		return fmt.Errorf("resolve dedup candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("candidate %s not found or already resolved", id)
	}
	return nil
}

// GetDedupCandidate fetches one candidate by id.
func (s *Store) GetDedupCandidate(ctx context.Context, id string) (models.DedupCandidate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, batch_id, record_a, record_b, score, field_scores, requires_human_review, resolution, resolved_by, resolution_notes, created_at, resolved_at
		FROM dedup_candidates WHERE id = $1
	`, id)
	return scanDedupCandidate(row)
}

// DedupCandidatesByBatch lists a batch's candidates, highest score first.
func (s *Store) DedupCandidatesByBatch(ctx context.Context, batchID string) ([]models.DedupCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, batch_id, record_a, record_b, score, field_scores, requires_human_review, resolution, resolved_by, resolution_notes, created_at, resolved_at
		FROM dedup_candidates
		WHERE batch_id = $1
		ORDER BY score DESC, created_at
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query dedup candidates: %w", err)
	}
	defer rows.Close()

	var out []models.DedupCandidate
	for rows.Next() {
		c, err := scanDedupCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DuplicateRecordCount counts distinct records implicated in candidates above
// the threshold, used by the uniqueness sub-score.
func (s *Store) DuplicateRecordCount(ctx context.Context, batchID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT rec) FROM (
			SELECT record_a AS rec FROM dedup_candidates WHERE batch_id = $1
			UNION
			SELECT record_b FROM dedup_candidates WHERE batch_id = $1
		) pairs
	`, batchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count duplicate records: %w", err)
	}
	return n, nil
}

func scanDedupCandidate(row rowScanner) (models.DedupCandidate, error) {
	var c models.DedupCandidate
	var fieldScores []byte
	var resolvedBy, notes pgtype.Text
	var resolvedAt pgtype.Timestamptz
	if err := row.Scan(&c.ID, &c.BatchID, &c.RecordA, &c.RecordB, &c.Score, &fieldScores,
		&c.RequiresHumanReview, &c.Resolution, &resolvedBy, &notes, &c.CreatedAt, &resolvedAt); err != nil {
		return models.DedupCandidate{}, fmt.Errorf("scan dedup candidate: %w", err)
	}
	if len(fieldScores) > 0 {
		if err := json.Unmarshal(fieldScores, &c.FieldScores); err != nil {
			return models.DedupCandidate{}, fmt.Errorf("unmarshal field scores: %w", err)
		}
	}
	if resolvedBy.Valid {
		c.ResolvedBy = resolvedBy.String
	}
	if notes.Valid {
		c.ResolutionNotes = notes.String
	}
	c.ResolvedAt = timePtr(resolvedAt)
	return c, nil
}
