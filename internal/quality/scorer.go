package quality

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"migration-engine/internal/models"
	"migration-engine/internal/store"
)

// inputSource supplies the raw aggregates and persists the computed score.
// The numeric heavy lifting happens in the datastore; the scorer turns the
// aggregates into sub-scores, a grade, and a production-readiness verdict.
type inputSource interface {
	QualityInputsForBatch(ctx context.Context, batchID string) (store.QualityInputs, error)
	InsertQualityScore(ctx context.Context, q models.QualityScore) error
}

// Readiness thresholds. A high overall score with poor accuracy is not
// enough: both gates must pass.
const (
	readyOverallMin  = 85
	readyAccuracyMin = 90
)

// Scorer computes the post-migration composite quality score for a batch.
type Scorer struct {
	source inputSource
	logger *zap.Logger
}

func NewScorer(source inputSource, logger *zap.Logger) *Scorer {
	return &Scorer{source: source, logger: logger}
}

// CalculateScore computes, persists, and returns the quality score for a
// batch. On any failure it returns an all-zero score with grade F and
// readyForProduction false; it never returns an error, because a scoring
// hiccup must not fail an otherwise-complete migration.
func (s *Scorer) CalculateScore(ctx context.Context, batchID string) models.QualityScore {
	in, err := s.source.QualityInputsForBatch(ctx, batchID)
	if err != nil {
		s.logger.Warn("quality inputs unavailable, scoring zero",
			zap.String("batch_id", batchID),
			zap.Error(err))
		return zeroScore(batchID)
	}

	score := models.QualityScore{
		ID:           uuid.NewString(),
		BatchID:      batchID,
		Completeness: percent(in.LineageLanded, in.LineageTotal),
		Accuracy:     percent(in.LineageValid, in.LineageTotal),
		Consistency:  percent(in.CleanRows, in.SourceRows),
		Uniqueness:   100 - percent(in.DuplicateRows, in.SourceRows),
	}
	score.Overall = (score.Completeness + score.Accuracy + score.Consistency + score.Uniqueness) / 4
	score.Grade = gradeFor(score.Overall)
	score.ReadyForProduction = score.Overall >= readyOverallMin && score.Accuracy >= readyAccuracyMin

	if err := s.source.InsertQualityScore(ctx, score); err != nil {
		s.logger.Warn("quality score not persisted",
			zap.String("batch_id", batchID),
			zap.Error(err))
	}

	s.logger.Info("quality score calculated",
		zap.String("batch_id", batchID),
		zap.Float64("overall", score.Overall),
		zap.String("grade", score.Grade),
		zap.Bool("ready", score.ReadyForProduction))
	return score
}

// gradeFor maps an overall score to its letter grade.
func gradeFor(overall float64) string {
	switch {
	case overall >= 95:
		return "A+"
	case overall >= 90:
		return "A"
	case overall >= 85:
		return "B+"
	case overall >= 75:
		return "C+"
	case overall >= 70:
		return "C"
	case overall >= 60:
		return "D"
	default:
		return "F"
	}
}

// percent returns num/denom as a 0-100 score; an empty denominator scores 0.
func percent(num, denom int64) float64 {
	if denom <= 0 {
		return 0
	}
	return 100 * float64(num) / float64(denom)
}

func zeroScore(batchID string) models.QualityScore {
	return models.QualityScore{
		ID:      uuid.NewString(),
		BatchID: batchID,
		Grade:   "F",
	}
}
