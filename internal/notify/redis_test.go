package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/wire"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("EVENTSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EVENTSYNC_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	return rdb
}

func TestRedis_PublishAndSubscribe(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventID := "test-" + models.NewLocalID()
	ch, err := NewRedisFeed(rdb).Subscribe(ctx, eventID)
	require.NoError(t, err)

	require.NoError(t, NewRedisPublisher(rdb).Publish(ctx, notification(eventID, "Ski trip")))

	select {
	case n := <-ch:
		assert.Equal(t, eventID, n.Event.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestRelay_ForwardsToPublisher(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventID := "test-" + models.NewLocalID()
	got := make(chan *wire.Notification, 1)
	relayed := PublisherFunc(func(_ context.Context, n *wire.Notification) error {
		if n.Event.ID == eventID {
			select {
			case got <- n:
			default:
			}
		}
		return nil
	})
	go Relay(ctx, rdb, relayed)

	pub := NewRedisPublisher(rdb)
	require.Eventually(t, func() bool {
		require.NoError(t, pub.Publish(ctx, notification(eventID, "Ski trip")))
		select {
		case <-got:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}
