package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mmynk/eventsync/internal/wire"
)

// RedisPublisher publishes notifications on per-event Redis channels so
// every server instance can relay them to its own subscribers.
type RedisPublisher struct {
	rdb *redis.Client
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a RedisPublisher.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, n *wire.Notification) error {
	id, err := eventID(n)
	if err != nil {
		return err
	}
	data, err := wire.EncodeNotification(n)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, Topic(id), data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// RedisFeed subscribes straight to an event's Redis channel.
type RedisFeed struct {
	rdb *redis.Client
}

var _ Feed = (*RedisFeed)(nil)

// NewRedisFeed creates a RedisFeed.
func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb}
}

// Subscribe implements Feed.
func (f *RedisFeed) Subscribe(ctx context.Context, eventID string) (<-chan *wire.Notification, error) {
	pubsub := f.rdb.Subscribe(ctx, Topic(eventID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", Topic(eventID), err)
	}

	out := make(chan *wire.Notification, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n, err := wire.DecodeNotification([]byte(msg.Payload))
				if err != nil {
					slog.Warn("Dropping undecodable notification", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Relay forwards every event notification published on Redis to pub until
// ctx ends.
func Relay(ctx context.Context, rdb *redis.Client, pub Publisher) error {
	pubsub := rdb.PSubscribe(ctx, topicPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	slog.Info("Relaying notifications from redis", "pattern", topicPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n, err := wire.DecodeNotification([]byte(msg.Payload))
			if err != nil {
				slog.Warn("Dropping undecodable notification", "channel", msg.Channel, "error", err)
				continue
			}
			if err := pub.Publish(ctx, n); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("Failed to relay notification", "channel", msg.Channel, "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
