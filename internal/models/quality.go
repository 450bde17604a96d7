package models

import "time"

// DedupCandidate resolutions. A candidate transitions away from pending
// exactly once, by a reviewer or an automatic high-confidence rule.
const (
	ResolutionPending      = "pending"
	ResolutionMergeA       = "merge_a"
	ResolutionMergeB       = "merge_b"
	ResolutionKeepBoth     = "keep_both"
	ResolutionManualReview = "manual_review"
	ResolutionAutoMerged   = "auto_merged"
)

// DedupCandidate is a pair of source records suspected to describe the same
// entity. RecordA/RecordB are stored in normalized (low, high) order so the
// unordered pair has a single identity.
type DedupCandidate struct {
	ID                  string             `json:"id"`
	BatchID             string             `json:"batch_id"`
	RecordA             string             `json:"record_a"`
	RecordB             string             `json:"record_b"`
	Score               float64            `json:"score"`
	FieldScores         map[string]float64 `json:"field_scores"`
	RequiresHumanReview bool               `json:"requires_human_review"`
	Resolution          string             `json:"resolution"`
	ResolvedBy          string             `json:"resolved_by,omitempty"`
	ResolutionNotes     string             `json:"resolution_notes,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	ResolvedAt          *time.Time         `json:"resolved_at,omitempty"`
}

// QualityScore is the post-migration composite quality assessment for one
// batch. Sub-scores are 0-100.
type QualityScore struct {
	ID                 string    `json:"id"`
	BatchID            string    `json:"batch_id"`
	Completeness       float64   `json:"completeness"`
	Accuracy           float64   `json:"accuracy"`
	Consistency        float64   `json:"consistency"`
	Uniqueness         float64   `json:"uniqueness"`
	Overall            float64   `json:"overall"`
	Grade              string    `json:"grade"`
	ReadyForProduction bool      `json:"ready_for_production"`
	CalculatedAt       time.Time `json:"calculated_at"`
}
