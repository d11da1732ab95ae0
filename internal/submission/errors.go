package submission

import (
	"errors"
	"fmt"

	"github.com/mmynk/eventsync/internal/models"
)

var (
	// ErrParentNotPersisted is returned when a child is submitted before its
	// owner's Create was acknowledged.
	ErrParentNotPersisted = errors.New("parent has no server id yet")

	// ErrUnknownEntity is returned when an entity or its owner is not
	// registered with the pipeline's Index.
	ErrUnknownEntity = errors.New("entity is not registered")
)

// Class is the user-facing category of a failed submission.
type Class int

const (
	// ClassValidation is a required field left empty. It never reaches the
	// transport and is reported through Result, not as an error.
	ClassValidation Class = iota
	// ClassCancelled is a request superseded by the caller. Logged only.
	ClassCancelled
	// ClassTransport is a network or server failure. Retryable.
	ClassTransport
	// ClassReconciliation is a Create acknowledgment lacking the expected
	// identifier. Users see it as a transport failure.
	ClassReconciliation
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassCancelled:
		return "cancelled"
	case ClassTransport:
		return "transport"
	case ClassReconciliation:
		return "reconciliation"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// SyncError is a failed submission of one entity.
type SyncError struct {
	Class   Class
	Kind    models.Kind
	LocalID string
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("failed to sync %s %s (%s): %v", e.Kind, e.LocalID, e.Class, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Notice returns the message shown to the user, or "" for classes the user
// never sees.
func (e *SyncError) Notice() string {
	switch e.Class {
	case ClassTransport, ClassReconciliation:
		return transientNotice(e.Kind)
	case ClassValidation:
		return e.Err.Error()
	default:
		return ""
	}
}

func transientNotice(kind models.Kind) string {
	return fmt.Sprintf("there was a problem syncing the %s, will retry later", kind)
}

// Notice is a user-visible message raised by the pipeline.
type Notice struct {
	Kind    models.Kind
	LocalID string
	Message string

	// Transient is true for retryable sync failures, false for validation
	// messages.
	Transient bool
}

// Notifier receives user-visible notices.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) {
	f(n)
}
