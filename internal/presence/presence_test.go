package presence

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/eventsync/internal/models"
)

type failingService struct {
	calls atomic.Int32
}

func (s *failingService) Mark(ctx context.Context, rec Record) error {
	s.calls.Add(1)
	return errors.New("presence backend down")
}

func (s *failingService) List(ctx context.Context, recordID string) ([]Record, error) {
	return nil, errors.New("presence backend down")
}

func TestTracker_ViewersExcludeSelf(t *testing.T) {
	svc := NewMemoryService()
	alice := NewTracker(svc, "alice")
	bob := NewTracker(svc, "bob")
	carol := NewTracker(svc, "carol")
	ctx := context.Background()

	alice.MarkOpen("55", models.KindEvent)
	bob.MarkOpen("55", models.KindEvent)
	carol.MarkOpen("56", models.KindEvent)
	alice.Wait()
	bob.Wait()
	carol.Wait()

	viewers, err := alice.ViewersOf(ctx, "55")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, viewers)
	assert.True(t, alice.IsOpenByAnother(ctx, "55"))
	assert.False(t, carol.IsOpenByAnother(ctx, "56"))

	bob.MarkClosed("55", models.KindEvent)
	bob.Wait()
	assert.False(t, alice.IsOpenByAnother(ctx, "55"))

	records, err := svc.List(ctx, "55")
	require.NoError(t, err)
	require.Len(t, records, 2, "closing keeps an inactive record")
	assert.False(t, records[1].Active)
}

func TestTracker_FailuresAreSwallowed(t *testing.T) {
	svc := &failingService{}
	tracker := NewTracker(svc, "alice")

	tracker.MarkOpen("55", models.KindEvent)
	tracker.MarkClosed("55", models.KindEvent)
	tracker.Wait()

	assert.Equal(t, int32(2), svc.calls.Load())
	assert.False(t, tracker.IsOpenByAnother(context.Background(), "55"))
}

func TestTracker_IgnoresUnpersistedRecords(t *testing.T) {
	svc := &failingService{}
	tracker := NewTracker(svc, "alice")

	tracker.MarkOpen("", models.KindEvent)
	tracker.Wait()

	assert.Zero(t, svc.calls.Load())
}

type blockingService struct {
	release chan struct{}
}

func (s *blockingService) Mark(ctx context.Context, rec Record) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *blockingService) List(ctx context.Context, recordID string) ([]Record, error) {
	return nil, nil
}

func TestTracker_WaitTimeout(t *testing.T) {
	svc := &blockingService{release: make(chan struct{})}
	alice := NewTracker(svc, "alice")

	alice.MarkClosed("55", models.KindEvent)
	assert.False(t, alice.WaitTimeout(10*time.Millisecond), "mark still blocked")

	close(svc.release)
	assert.True(t, alice.WaitTimeout(time.Second))
}
