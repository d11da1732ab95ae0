package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/storage"
)

// CreateRecords persists a batch of records in a single transaction and
// assigns their numeric IDs in order.
func (s *SQLiteStore) CreateRecords(ctx context.Context, records []*storage.NewRecord) error {
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, rec := range records {
		if rec.ParentID == "" && rec.ParentIndex >= 0 {
			if rec.ParentIndex >= i {
				return fmt.Errorf("record %d references parent %d which is not earlier in the batch", i, rec.ParentIndex)
			}
			rec.ParentID = records[rec.ParentIndex].ID
		}
		parent, err := nullableID(rec.ParentID)
		if err != nil {
			return err
		}

		rec.CreatedAt = now
		rec.UpdatedAt = now
		if rec.UpdatedBy == "" {
			rec.UpdatedBy = rec.EnteredBy
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO records (kind, parent_id, payload, entered_by, updated_by, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(rec.Kind), parent, rec.Payload, rec.EnteredBy, rec.UpdatedBy, rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s record: %w", rec.Kind, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read record id: %w", err)
		}
		rec.ID = strconv.FormatInt(id, 10)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRecord retrieves a live record by ID.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*storage.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, parent_id, payload, entered_by, updated_by, deleted, created_at, updated_at
		 FROM records WHERE id = ? AND deleted = 0`,
		id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// UpdateRecord replaces the payload of a live record.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, id string, payload []byte, updatedBy string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET payload = ?, updated_by = ?, updated_at = ? WHERE id = ? AND deleted = 0",
		payload, updatedBy, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return requireAffected(res, id)
}

// DeleteRecord soft-deletes a record and every descendant.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string, updatedBy string) error {
	res, err := s.db.ExecContext(ctx,
		`WITH RECURSIVE tree(id) AS (
		     SELECT id FROM records WHERE id = ? AND deleted = 0
		     UNION ALL
		     SELECT r.id FROM records r JOIN tree ON r.parent_id = tree.id
		 )
		 UPDATE records SET deleted = 1, updated_by = ?, updated_at = ?
		 WHERE id IN (SELECT id FROM tree)`,
		id, updatedBy, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return requireAffected(res, id)
}

// ListChildren returns the live children of a record in creation order.
func (s *SQLiteStore) ListChildren(ctx context.Context, parentID string) ([]*storage.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, parent_id, payload, entered_by, updated_by, deleted, created_at, updated_at
		 FROM records WHERE parent_id = ? AND deleted = 0 ORDER BY id`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var records []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

func scanRecord(row scanner) (*storage.Record, error) {
	var (
		rec    storage.Record
		id     int64
		kind   string
		parent sql.NullInt64
	)
	if err := row.Scan(
		&id,
		&kind,
		&parent,
		&rec.Payload,
		&rec.EnteredBy,
		&rec.UpdatedBy,
		&rec.Deleted,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.ID = strconv.FormatInt(id, 10)
	rec.Kind = models.Kind(kind)
	if parent.Valid {
		rec.ParentID = strconv.FormatInt(parent.Int64, 10)
	}
	return &rec, nil
}

func nullableID(id string) (any, error) {
	if id == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid record id %q: %w", id, err)
	}
	return n, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, storage.ErrNotFound)
	}
	return nil
}
