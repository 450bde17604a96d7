package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"migration-engine/internal/models"
)

// CreateSnapshot captures the full current contents of each named table into
// snapshot_rows within a single transaction and records the snapshot as
// active. Returns total rows and captured payload size.
func (s *Store) CreateSnapshot(ctx context.Context, snap models.Snapshot) (int64, int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var totalRows, sizeBytes int64
	for _, table := range snap.Tables {
		ident := pgx.Identifier{table}.Sanitize()
		tag, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO snapshot_rows (snapshot_id, table_name, row_data)
			SELECT $1, $2, row_to_json(t)::jsonb FROM %s t
		`, ident), snap.ID, table)
		if err != nil {
			return 0, 0, fmt.Errorf("capture %s: %w", table, err)
		}
		totalRows += tag.RowsAffected()
	}

	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(pg_column_size(row_data)), 0) FROM snapshot_rows WHERE snapshot_id = $1
	`, snap.ID).Scan(&sizeBytes); err != nil {
		return 0, 0, fmt.Errorf("size snapshot: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO snapshots (id, batch_id, type, tables, total_rows, size_bytes, status, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, snap.ID, snap.BatchID, snap.Type, snap.Tables, totalRows, sizeBytes, models.SnapshotStatusActive, snap.Description); err != nil {
		return 0, 0, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return totalRows, sizeBytes, nil
}

// GetSnapshot fetches snapshot metadata.
func (s *Store) GetSnapshot(ctx context.Context, id string) (models.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, batch_id, type, tables, total_rows, size_bytes, status, description, created_at, restored_at
		FROM snapshots WHERE id = $1
	`, id)
	return scanSnapshot(row)
}

// ListSnapshots lists active snapshots, most recent first, optionally
// filtered by batch.
func (s *Store) ListSnapshots(ctx context.Context, batchID string) ([]models.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, batch_id, type, tables, total_rows, size_bytes, status, description, created_at, restored_at
		FROM snapshots
		WHERE status = 'active' AND ($1 = '' OR batch_id = $1)
		ORDER BY created_at DESC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// RollbackToSnapshot restores every captured table to its snapshot contents
// with replace semantics, inside one transaction: current rows are deleted
// and the captured rows re-inserted, so nothing partially commits. The
// snapshot is marked restored and cannot be consumed again.
func (s *Store) RollbackToSnapshot(ctx context.Context, snapshotID string) (rowsRestored, rowsDeleted int64, err error) {
	snap, err := s.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return 0, 0, err
	}
	if snap.Status != models.SnapshotStatusActive {
		return 0, 0, fmt.Errorf("snapshot %s is %s, not active", snapshotID, snap.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	for _, table := range snap.Tables {
		ident := pgx.Identifier{table}.Sanitize()

		delTag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", ident))
		if err != nil {
			return 0, 0, fmt.Errorf("clear %s: %w", table, err)
		}

		insTag, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s
			SELECT (jsonb_populate_record(NULL::%s, sr.row_data)).*
			FROM snapshot_rows sr
			WHERE sr.snapshot_id = $1 AND sr.table_name = $2
		`, ident, ident), snapshotID, table)
		if err != nil {
			return 0, 0, fmt.Errorf("restore %s: %w", table, err)
		}

		rowsRestored += insTag.RowsAffected()
		if extra := delTag.RowsAffected() - insTag.RowsAffected(); extra > 0 {
			rowsDeleted += extra
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE snapshots SET status = 'restored', restored_at = NOW() WHERE id = $1
	`, snapshotID); err != nil {
		return 0, 0, fmt.Errorf("mark snapshot restored: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return rowsRestored, rowsDeleted, nil
}

// SnapshotRows streams the captured payload of one snapshot, used by the
// archive offload.
func (s *Store) SnapshotRows(ctx context.Context, snapshotID string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(jsonb_agg(jsonb_build_object('table', table_name, 'row', row_data)), '[]')
		FROM snapshot_rows WHERE snapshot_id = $1
	`, snapshotID).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("read snapshot rows: %w", err)
	}
	return payload, nil
}

func scanSnapshot(row rowScanner) (models.Snapshot, error) {
	var snap models.Snapshot
	var batchID pgtype.Text
	var restored pgtype.Timestamptz
	if err := row.Scan(&snap.ID, &batchID, &snap.Type, &snap.Tables, &snap.TotalRows, &snap.SizeBytes,
		&snap.Status, &snap.Description, &snap.CreatedAt, &restored); err != nil {
		return models.Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.BatchID = textPtr(batchID)
	snap.RestoredAt = timePtr(restored)
	return snap, nil
}
