package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/storage"
)

// SaveEntry inserts or replaces a journal entry.
func (s *SQLiteStore) SaveEntry(ctx context.Context, entry *storage.Entry) error {
	if entry.LocalID == "" {
		return fmt.Errorf("journal entry has no local id")
	}
	if entry.UpdatedAt == 0 {
		entry.UpdatedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_entries (local_id, kind, server_id, client_temp_id, action, parent_local_id, payload, dirty, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(local_id) DO UPDATE SET
		     kind = excluded.kind,
		     server_id = excluded.server_id,
		     client_temp_id = excluded.client_temp_id,
		     action = excluded.action,
		     parent_local_id = excluded.parent_local_id,
		     payload = excluded.payload,
		     dirty = excluded.dirty,
		     updated_at = excluded.updated_at`,
		entry.LocalID, string(entry.Kind), entry.ServerID, entry.ClientTempID,
		entry.Action.String(), entry.ParentLocalID, entry.Payload, entry.Dirty, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save journal entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a journal entry by local id.
func (s *SQLiteStore) GetEntry(ctx context.Context, localID string) (*storage.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT local_id, kind, server_id, client_temp_id, action, parent_local_id, payload, dirty, updated_at
		 FROM journal_entries WHERE local_id = ?`,
		localID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("journal entry %s: %w", localID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return entry, nil
}

// ListPending returns entries still awaiting the server, oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]*storage.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT local_id, kind, server_id, client_temp_id, action, parent_local_id, payload, dirty, updated_at
		 FROM journal_entries
		 WHERE action != ? OR dirty = 1
		 ORDER BY updated_at, local_id`,
		models.ActionUpdate.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	defer rows.Close()

	var entries []*storage.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal entries: %w", err)
	}
	return entries, nil
}

// DeleteEntry removes a journal entry. Deleting a missing entry is not an
// error.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, localID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM journal_entries WHERE local_id = ?", localID); err != nil {
		return fmt.Errorf("failed to delete journal entry: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*storage.Entry, error) {
	var (
		entry  storage.Entry
		kind   string
		action string
	)
	if err := row.Scan(
		&entry.LocalID,
		&kind,
		&entry.ServerID,
		&entry.ClientTempID,
		&action,
		&entry.ParentLocalID,
		&entry.Payload,
		&entry.Dirty,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	entry.Kind = models.Kind(kind)

	parsed, err := models.ParseSyncAction(action)
	if err != nil {
		return nil, err
	}
	entry.Action = parsed
	return &entry, nil
}
