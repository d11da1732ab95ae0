package models

import (
	"errors"
	"fmt"

	"github.com/mmynk/eventsync/internal/shadow"
)

// SyncAction is the wire intent of an entity.
type SyncAction int

const (
	// ActionCreate marks an entity the server has never seen.
	ActionCreate SyncAction = iota
	// ActionUpdate marks a persisted entity.
	ActionUpdate
	// ActionDelete marks a persisted entity whose removal is pending.
	ActionDelete
)

func (a SyncAction) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("SyncAction(%d)", int(a))
	}
}

// MarshalText encodes the action by name.
func (a SyncAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a name written by MarshalText.
func (a *SyncAction) UnmarshalText(text []byte) error {
	parsed, err := ParseSyncAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseSyncAction is the inverse of SyncAction.String.
func ParseSyncAction(s string) (SyncAction, error) {
	switch s {
	case "create":
		return ActionCreate, nil
	case "update":
		return ActionUpdate, nil
	case "delete":
		return ActionDelete, nil
	}
	return 0, fmt.Errorf("unknown sync action: %q", s)
}

// Kind names an entity type.
type Kind string

const (
	KindEvent       Kind = "event"
	KindParticipant Kind = "participant"
	KindItem        Kind = "item"
	KindItemOption  Kind = "item_option"
	KindTransaction Kind = "transaction"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ErrNotPersisted is returned when a transition requires a server id.
var ErrNotPersisted = errors.New("entity has no server id")

// ValidationError reports a required field left empty.
type ValidationError struct {
	Kind  Kind
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("removing the %s is not allowed, please delete the %s instead", e.Field, e.Kind)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SyncState is the identity and lifecycle tag embedded in every entity.
type SyncState struct {
	// LocalID never changes for the lifetime of the in-memory entity.
	LocalID string

	// ServerID is the durable identifier, empty until the first Create is
	// acknowledged.
	ServerID string

	// ClientTempID stands in for ServerID before the entity is persisted.
	ClientTempID string

	// Action is the current wire intent.
	Action SyncAction
}

// NewSyncState returns the state of a brand-new, unsubmitted entity.
func NewSyncState() SyncState {
	return SyncState{
		LocalID:      NewLocalID(),
		ClientTempID: NewTempID(),
		Action:       ActionCreate,
	}
}

// PersistedSyncState returns the state of an entity the server already knows.
func PersistedSyncState(serverID string) SyncState {
	return SyncState{
		LocalID:  NewLocalID(),
		ServerID: serverID,
		Action:   ActionUpdate,
	}
}

// Identifier returns the id the server or peers know this entity by.
func (s *SyncState) Identifier() string {
	if s.ServerID != "" {
		return s.ServerID
	}
	return s.ClientTempID
}

// Persisted reports whether the server has acknowledged the entity.
func (s *SyncState) Persisted() bool {
	return s.ServerID != ""
}

// MarkDeleted applies a user-initiated deletion. It reports discard=true when
// the entity was never submitted: the caller must purge it locally and no
// Delete is ever issued. A Delete-tagged entity always has a server id.
func (s *SyncState) MarkDeleted() (discard bool, err error) {
	switch s.Action {
	case ActionCreate:
		return true, nil
	case ActionUpdate:
		if s.ServerID == "" {
			return false, ErrNotPersisted
		}
		s.Action = ActionDelete
		return false, nil
	default:
		return false, nil
	}
}

// Entity is a synchronizable record.
type Entity interface {
	shadow.Entity

	Kind() Kind
	Sync() *SyncState

	// ParentLocalID is the local id of the owning entity, empty for roots.
	ParentLocalID() string

	// Validate returns a *ValidationError when the required field is empty.
	Validate() error

	// RestoreRequired copies the required field back from the shadow copy
	// and reports whether a shadow existed.
	RestoreRequired() bool
}

// Owner is an entity that owns child collections.
type Owner interface {
	Entity

	// Children returns every owned child, depth one.
	Children() []Entity

	// RemoveChild drops the child with the given local id.
	RemoveChild(localID string) bool
}

func collection[T shadow.Entity](items []T) shadow.Collection {
	coll := make(shadow.Collection, len(items))
	for i, item := range items {
		coll[i] = item
	}
	return coll
}

func removeByLocalID[T Entity](items []T, localID string) ([]T, bool) {
	for i, item := range items {
		if item.Sync().LocalID == localID {
			return append(items[:i:i], items[i+1:]...), true
		}
	}
	return items, false
}
