// Package transport defines the boundary between the sync engine and the
// remote authority, and ships requests over Connect RPC.
//
// The engine does not prescribe a wire encoding: a Request carries a plain
// payload map and the Connect client encodes it as a google.protobuf.Struct.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmynk/eventsync/internal/models"
)

// ErrCancelled is matched by every Error of class Cancelled.
var ErrCancelled = errors.New("request cancelled")

// Class separates a request superseded on purpose from a genuine failure.
type Class int

const (
	// ClassOther is a network or server failure; surfaced and retried later.
	ClassOther Class = iota
	// ClassCancelled is an in-flight request cancelled by context teardown.
	ClassCancelled
)

func (c Class) String() string {
	if c == ClassCancelled {
		return "cancelled"
	}
	return "other"
}

// Error is a classified transport failure.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCancelled) match cancelled errors.
func (e *Error) Is(target error) bool {
	return target == ErrCancelled && e.Class == ClassCancelled
}

// Classify wraps err as an *Error, treating context cancellation as
// ClassCancelled. Already classified errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Class: ClassCancelled, Err: err}
	}
	return &Error{Class: ClassOther, Err: err}
}

// Request is one submission.
type Request struct {
	Action models.SyncAction
	Kind   models.Kind

	// ServerID addresses the record for Update and Delete.
	ServerID string

	// ClientTempID identifies the record for Create.
	ClientTempID string

	// ParentServerID is the durable id of the owning record, if any.
	ParentServerID string

	// Payload is the serialized entity, including nested children created in
	// the same round trip.
	Payload map[string]any
}

// IDPair maps a client temporary id to the server id assigned on Create.
type IDPair struct {
	ClientTempID string
	ServerID     string
}

// Ack is a successful response. A Create yields one pair per created record.
type Ack struct {
	IDs []IDPair
}

// IDMap indexes the ack's pairs by temporary id.
func (a Ack) IDMap() map[string]string {
	ids := make(map[string]string, len(a.IDs))
	for _, pair := range a.IDs {
		ids[pair.ClientTempID] = pair.ServerID
	}
	return ids
}

// Transport sends a request to the remote authority.
type Transport interface {
	Send(ctx context.Context, req Request) (Ack, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req Request) (Ack, error)

// Send implements Transport.
func (f Func) Send(ctx context.Context, req Request) (Ack, error) {
	return f(ctx, req)
}
