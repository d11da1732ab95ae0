// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/eventsync/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Entry is the durable sync state of one local entity. It is keyed by the
// local id so an interrupted submission can be retried after a restart.
type Entry struct {
	LocalID       string            `json:"local_id"`
	Kind          models.Kind       `json:"kind"`
	ServerID      string            `json:"server_id,omitempty"`
	ClientTempID  string            `json:"client_temp_id,omitempty"`
	Action        models.SyncAction `json:"action"`
	ParentLocalID string            `json:"parent_local_id,omitempty"`

	// Payload is the JSON encoding of the entity's current fields.
	Payload []byte `json:"-"`

	// Dirty is true while local changes have not been acknowledged.
	Dirty bool `json:"dirty"`

	// UpdatedAt is the Unix timestamp of the last write.
	UpdatedAt int64 `json:"updated_at"`
}

// Journal is the client-side persistence boundary.
type Journal interface {
	// SaveEntry inserts or replaces the entry for entry.LocalID.
	SaveEntry(ctx context.Context, entry *Entry) error

	// GetEntry retrieves an entry by local id.
	GetEntry(ctx context.Context, localID string) (*Entry, error)

	// ListPending returns entries that still need the server: Create and
	// Delete entries, and dirty Update entries.
	ListPending(ctx context.Context) ([]*Entry, error)

	// DeleteEntry removes an entry once its entity no longer exists.
	DeleteEntry(ctx context.Context, localID string) error

	// Close releases any resources held by the journal.
	Close() error
}

// Record is one authoritative row on the reference server.
type Record struct {
	ID       string
	Kind     models.Kind
	ParentID string

	// Payload is the JSON encoding of the record's fields.
	Payload []byte

	EnteredBy string
	UpdatedBy string
	Deleted   bool

	CreatedAt int64
	UpdatedAt int64
}

// RecordStore defines the storage operations of the reference authority.
// This abstraction allows swapping storage backends without changing the
// server layer.
type RecordStore interface {
	// CreateRecords persists records atomically and assigns their IDs in
	// order. A record whose ParentID is empty and whose ParentIndex points at
	// an earlier record is attached to that record's new ID.
	CreateRecords(ctx context.Context, records []*NewRecord) error

	// GetRecord retrieves a live record by ID.
	GetRecord(ctx context.Context, id string) (*Record, error)

	// UpdateRecord replaces the payload of a live record.
	UpdateRecord(ctx context.Context, id string, payload []byte, updatedBy string) error

	// DeleteRecord soft-deletes a record and its descendants.
	DeleteRecord(ctx context.Context, id string, updatedBy string) error

	// ListChildren returns the live children of a record.
	ListChildren(ctx context.Context, parentID string) ([]*Record, error)

	// Close releases any resources held by the store.
	Close() error
}

// NewRecord is a record awaiting its server ID.
type NewRecord struct {
	Record

	// ClientTempID is echoed back to the client with the assigned ID.
	ClientTempID string

	// ParentIndex is the position of the parent within the same batch, or
	// -1 when Record.ParentID is already known.
	ParentIndex int
}

// UserStore defines storage operations for users and their aliases.
type UserStore interface {
	// CreateUser inserts a new user.
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByID retrieves a user by ID, or returns ErrNotFound.
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// ListUsers returns every known user ordered by ID.
	ListUsers(ctx context.Context) ([]*models.User, error)
}
