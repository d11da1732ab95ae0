// Package presence tracks which users currently have a record open for
// editing. The signal is advisory: it never blocks a write, it only informs
// the user that someone else may be editing the same record.
package presence

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mmynk/eventsync/internal/metrics"
	"github.com/mmynk/eventsync/internal/models"
)

// Record is one user's viewing state for one record.
type Record struct {
	RecordID   string      `json:"record_id"`
	RecordType models.Kind `json:"record_type"`
	User       string      `json:"user"`
	Active     bool        `json:"active"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Service is the shared presence store.
type Service interface {
	// Mark records that user opened (Active) or closed the record.
	Mark(ctx context.Context, rec Record) error

	// List returns every presence record of recordID, active or not.
	List(ctx context.Context, recordID string) ([]Record, error)
}

const defaultMarkTimeout = 5 * time.Second

// Tracker marks presence on behalf of one user.
type Tracker struct {
	svc     Service
	user    string
	timeout time.Duration

	wg sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMarkTimeout bounds each background mark call.
func WithMarkTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewTracker creates a tracker acting as user.
func NewTracker(svc Service, user string, opts ...Option) *Tracker {
	t := &Tracker{
		svc:     svc,
		user:    user,
		timeout: defaultMarkTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// User returns the user the tracker marks for.
func (t *Tracker) User() string {
	return t.user
}

// MarkOpen records in the background that the user opened the record.
// Failures are logged and never reported to the caller.
func (t *Tracker) MarkOpen(recordID string, recordType models.Kind) {
	t.mark(recordID, recordType, true)
}

// MarkClosed records in the background that the user closed the record.
func (t *Tracker) MarkClosed(recordID string, recordType models.Kind) {
	t.mark(recordID, recordType, false)
}

func (t *Tracker) mark(recordID string, recordType models.Kind, active bool) {
	if recordID == "" {
		return
	}
	rec := Record{
		RecordID:   recordID,
		RecordType: recordType,
		User:       t.user,
		Active:     active,
		UpdatedAt:  time.Now().UTC(),
	}
	state := "closed"
	if active {
		state = "open"
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if err := t.svc.Mark(ctx, rec); err != nil {
			metrics.PresenceMarks.WithLabelValues(state, "error").Inc()
			slog.Warn("Failed to mark presence", "record_id", recordID, "record_type", recordType, "state", state, "error", err)
			return
		}
		metrics.PresenceMarks.WithLabelValues(state, "ok").Inc()
		slog.Debug("Marked presence", "record_id", recordID, "state", state)
	}()
}

// ViewersOf returns the other users with the record open, sorted.
func (t *Tracker) ViewersOf(ctx context.Context, recordID string) ([]string, error) {
	records, err := t.svc.List(ctx, recordID)
	if err != nil {
		return nil, err
	}
	var viewers []string
	for _, rec := range records {
		if !rec.Active || rec.User == t.user || slices.Contains(viewers, rec.User) {
			continue
		}
		viewers = append(viewers, rec.User)
	}
	slices.Sort(viewers)
	return viewers, nil
}

// IsOpenByAnother reports whether any other user has the record open. A
// failing service reads as "no".
func (t *Tracker) IsOpenByAnother(ctx context.Context, recordID string) bool {
	viewers, err := t.ViewersOf(ctx, recordID)
	if err != nil {
		slog.Debug("Failed to list presence", "record_id", recordID, "error", err)
		return false
	}
	return len(viewers) > 0
}

// Wait blocks until every background mark has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// WaitTimeout is Wait bounded by d. It reports whether every mark finished.
func (t *Tracker) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// MemoryService is an in-process Service.
type MemoryService struct {
	mu      sync.Mutex
	records map[string]map[string]Record
}

var _ Service = (*MemoryService)(nil)

// NewMemoryService returns an empty MemoryService.
func NewMemoryService() *MemoryService {
	return &MemoryService{records: make(map[string]map[string]Record)}
}

// Mark implements Service.
func (s *MemoryService) Mark(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.records[rec.RecordID]
	if !ok {
		byUser = make(map[string]Record)
		s.records[rec.RecordID] = byUser
	}
	// Background marks may land out of order; the newest one wins.
	if prev, ok := byUser[rec.User]; ok && rec.UpdatedAt.Before(prev.UpdatedAt) {
		return nil
	}
	byUser[rec.User] = rec
	return nil
}

// List implements Service.
func (s *MemoryService) List(ctx context.Context, recordID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]Record, 0, len(s.records[recordID]))
	for _, rec := range s.records[recordID] {
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b Record) int {
		return strings.Compare(a.User, b.User)
	})
	return records, nil
}
