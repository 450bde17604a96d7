// Package store is the pgx-backed datastore for the migration engine. It is
// the single source of truth and the only synchronization point between
// workers: work-item claiming, snapshot restore, and quality scoring are
// implemented here as transactional compound operations.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"migration-engine/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateBatch inserts a new migration batch row.
func (s *Store) CreateBatch(ctx context.Context, b models.MigrationBatch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO migration_batches (id, source_system, source_file, total_records, success_count, error_count, status, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6, NOW(), NOW())
	`, b.ID, b.SourceSystem, b.SourceFile, b.TotalRecords, b.Status, b.StartedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetBatch fetches a batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (models.MigrationBatch, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_system, source_file, total_records, success_count, error_count, status, started_at, completed_at, created_at, updated_at
		FROM migration_batches WHERE id = $1
	`, id)

	var b models.MigrationBatch
	var completed pgtype.Timestamptz
	if err := row.Scan(&b.ID, &b.SourceSystem, &b.SourceFile, &b.TotalRecords, &b.SuccessCount, &b.ErrorCount, &b.Status, &b.StartedAt, &completed, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.MigrationBatch{}, fmt.Errorf("batch not found: %w", err)
		}
		return models.MigrationBatch{}, fmt.Errorf("scan batch: %w", err)
	}
	b.CompletedAt = timePtr(completed)
	return b, nil
}

// FinalizeBatch records final counts and the terminal status.
func (s *Store) FinalizeBatch(ctx context.Context, id, status string, successCount, errorCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE migration_batches
		SET status = $2, success_count = $3, error_count = $4, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, status, successCount, errorCount)
	return err
}

// UpdateBatchStatus sets a non-terminal status.
func (s *Store) UpdateBatchStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE migration_batches SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

// AppendAudit adds an audit row. Callers treat failures as fire-and-forget.
func (s *Store) AppendAudit(ctx context.Context, batchID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO migration_audit (batch_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, batchID, event, detail)
	return err
}

// InsertRows bulk-inserts rows into a target table. All rows must share the
// same column set. A failure here is a transient infrastructure error that
// the caller queues for retry.
func (s *Store) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "))
	args := make([]any, 0, len(rows)*len(columns))
	for ri, row := range rows {
		if ri > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for ci := range columns {
			if ci > 0 {
				sb.WriteString(", ")
			}
			args = append(args, row[ci])
			fmt.Fprintf(&sb, "$%d", len(args))
		}
		sb.WriteString(")")
	}

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// CountRows returns the current row count of a target table.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", pgx.Identifier{table}.Sanitize())
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		return &t.Time
	}
	return nil
}
