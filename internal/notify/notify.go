// Package notify carries aggregate snapshots from the authority to every
// client that has the aggregate open.
package notify

import (
	"context"
	"errors"

	"github.com/mmynk/eventsync/internal/wire"
)

const topicPrefix = "eventsync:event:"

// ErrNoAggregate is returned when publishing a notification without a
// snapshot to route it by.
var ErrNoAggregate = errors.New("notification carries no aggregate")

// Feed delivers notifications for one aggregate. The channel is closed when
// ctx ends or the underlying connection is lost.
type Feed interface {
	Subscribe(ctx context.Context, eventID string) (<-chan *wire.Notification, error)
}

// Publisher broadcasts a notification to the subscribers of its aggregate.
type Publisher interface {
	Publish(ctx context.Context, n *wire.Notification) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, n *wire.Notification) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, n *wire.Notification) error {
	return f(ctx, n)
}

// Topic is the routing key of an event's notifications.
func Topic(eventID string) string {
	return topicPrefix + eventID
}

func eventID(n *wire.Notification) (string, error) {
	if n == nil || n.Event == nil || n.Event.ID == "" {
		return "", ErrNoAggregate
	}
	return n.Event.ID, nil
}
