// Package engine runs editing sessions over a shared Event aggregate.
//
// A Session owns one goroutine that performs every read and write of the
// aggregate: user mutations, the local phases of each submission and the
// merge of remote snapshots. Transport calls run on the goroutine that
// called Save, so the aggregate stays editable while a request is in flight.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mmynk/eventsync/internal/merge"
	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/notify"
	"github.com/mmynk/eventsync/internal/presence"
	"github.com/mmynk/eventsync/internal/shadow"
	"github.com/mmynk/eventsync/internal/submission"
	"github.com/mmynk/eventsync/internal/wire"
)

// ErrClosed is returned by every Session method once the session ended.
var ErrClosed = errors.New("session closed")

// Saved is the result of one entity's submission during Save.
type Saved struct {
	Entity models.Entity
	submission.Result
}

// Session is an editing session over one Event.
type Session struct {
	event    *models.Event
	pipeline *submission.Pipeline
	merger   *merge.Engine
	presence *presence.Tracker
	onChange func(merge.Report)

	// markedOpen is the server id presence was marked open for, if any.
	markedOpen string

	ops  chan func()
	quit chan struct{}
	done chan struct{}

	// ctx ends with the session and abandons in-flight transport calls.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	saveMu    sync.Mutex

	// Owned by the session goroutine.
	inFlight      map[string]bool
	pendingDelete map[string]bool
}

// Option configures a Session.
type Option func(*Session)

// WithPresence marks the event open and closed around the session.
func WithPresence(t *presence.Tracker) Option {
	return func(s *Session) {
		s.presence = t
	}
}

// WithMerger merges incoming notifications with m.
func WithMerger(m *merge.Engine) Option {
	return func(s *Session) {
		s.merger = m
	}
}

// WithOnChange calls fn on the session goroutine after every merge that
// changed local state.
func WithOnChange(fn func(merge.Report)) Option {
	return func(s *Session) {
		s.onChange = fn
	}
}

// Open starts a session over ev. A persisted event is snapshotted as the
// session's baseline; a new one has no baseline until it is created.
func Open(ctx context.Context, ev *models.Event, p *submission.Pipeline, opts ...Option) *Session {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		event:         ev,
		pipeline:      p,
		merger:        merge.New(nil),
		ops:           make(chan func()),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		ctx:           sctx,
		cancel:        cancel,
		inFlight:      make(map[string]bool),
		pendingDelete: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	if ev.Persisted() {
		shadow.Snapshot(ev)
		if s.presence != nil {
			s.presence.MarkOpen(ev.ServerID, models.KindEvent)
			s.markedOpen = ev.ServerID
		}
	}
	p.Track(sctx, ev)

	go s.loop()
	slog.Debug("Session opened", "event_id", ev.Identifier(), "local_id", ev.LocalID)
	return s
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the session goroutine and waits for it. fn must not call
// back into the session.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.ops <- func() {
		defer close(finished)
		fn()
	}:
	case <-s.quit:
		return ErrClosed
	}
	<-finished
	return nil
}

// View calls fn with the event on the session goroutine.
func (s *Session) View(fn func(ev *models.Event)) error {
	return s.do(func() { fn(s.event) })
}

// Mutate calls fn with the event on the session goroutine and tracks any
// entity it added.
func (s *Session) Mutate(fn func(ev *models.Event)) error {
	return s.do(func() {
		fn(s.event)
		s.pipeline.Track(s.ctx, s.event)
	})
}

// Dirty reports whether the event or any descendant needs a submission.
func (s *Session) Dirty() (bool, error) {
	var dirty bool
	err := s.do(func() { dirty = shadow.IsDirty(s.event) || hasPending(s.event) })
	return dirty, err
}

func hasPending(e models.Entity) bool {
	if e.Sync().Action != models.ActionUpdate {
		return true
	}
	if owner, ok := e.(models.Owner); ok {
		for _, child := range owner.Children() {
			if hasPending(child) {
				return true
			}
		}
	}
	return false
}

// Viewers lists the other users who have the event open.
func (s *Session) Viewers(ctx context.Context) ([]string, error) {
	if s.presence == nil {
		return nil, nil
	}
	var id string
	if err := s.View(func(ev *models.Event) { id = ev.ServerID }); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return s.presence.ViewersOf(ctx, id)
}

// Save submits the event, then each child in order. A child is only sent
// once its owner has a server id; items go before their options.
func (s *Session) Save(ctx context.Context) ([]Saved, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	res, err := s.submit(ctx, s.event)
	if err != nil {
		return nil, err
	}
	saved := []Saved{{Entity: s.event, Result: res}}
	if res.Outcome == submission.OutcomeDiscarded {
		s.Close()
		return saved, nil
	}

	var children []models.Entity
	if err := s.do(func() { children = ordered(s.event) }); err != nil {
		return saved, err
	}

	var errs []error
	failed := make(map[string]bool)
	for _, child := range children {
		if failed[child.ParentLocalID()] {
			continue
		}
		res, err := s.submit(ctx, child)
		if errors.Is(err, ErrClosed) {
			errs = append(errs, err)
			break
		}
		if err != nil {
			failed[child.Sync().LocalID] = true
			errs = append(errs, err)
			continue
		}
		if res.Outcome != submission.OutcomeNoOp {
			saved = append(saved, Saved{Entity: child, Result: res})
		}
	}
	return saved, errors.Join(errs...)
}

// ordered flattens the event's children, each owner before its own.
func ordered(owner models.Owner) []models.Entity {
	var out []models.Entity
	for _, child := range owner.Children() {
		out = append(out, child)
		if o, ok := child.(models.Owner); ok {
			out = append(out, ordered(o)...)
		}
	}
	return out
}

// submit runs one submission: Prepare and Apply on the session goroutine,
// Send on the caller's. A Create acknowledged after the user deleted the
// entity is followed by its Delete.
func (s *Session) submit(ctx context.Context, e models.Entity) (submission.Result, error) {
	for {
		res, err := s.submitOnce(ctx, e)
		if err != nil || res.Outcome != submission.OutcomeCreated {
			return res, err
		}
		var again bool
		if err := s.do(func() { again = s.resolvePendingDelete(e) }); err != nil {
			return res, err
		}
		if !again {
			return res, nil
		}
	}
}

func (s *Session) submitOnce(ctx context.Context, e models.Entity) (submission.Result, error) {
	localID := e.Sync().LocalID

	var (
		prep    *submission.Prepared
		prepErr error
		gone    bool
	)
	err := s.do(func() {
		if _, ok := s.pipeline.Index().Get(localID); !ok {
			gone = true
			return
		}
		prep, prepErr = s.pipeline.Prepare(s.ctx, e)
		if prepErr == nil {
			if _, done := prep.Done(); !done {
				s.inFlight[localID] = true
			}
		}
	})
	if err != nil {
		return submission.Result{}, err
	}
	if gone {
		return submission.Result{Outcome: submission.OutcomeNoOp}, nil
	}
	if prepErr != nil {
		return submission.Result{}, prepErr
	}
	if res, done := prep.Done(); done {
		return res, nil
	}

	sendCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	ack, sendErr := s.pipeline.Send(sendCtx, prep)
	stop()
	cancel()

	var (
		res      submission.Result
		applyErr error
	)
	err = s.do(func() {
		delete(s.inFlight, localID)
		res, applyErr = s.pipeline.Apply(s.ctx, prep, ack, sendErr)
		if applyErr != nil && s.pendingDelete[localID] && e.Sync().Action == models.ActionCreate {
			delete(s.pendingDelete, localID)
			s.pipeline.Discard(s.ctx, e)
		}
	})
	if err != nil {
		slog.Debug("Submission result abandoned", "kind", e.Kind(), "local_id", localID)
		return submission.Result{}, err
	}
	return res, applyErr
}

// resolvePendingDelete tags a freshly created entity for deletion if the
// user removed it while its Create was in flight.
func (s *Session) resolvePendingDelete(e models.Entity) bool {
	localID := e.Sync().LocalID
	if !s.pendingDelete[localID] {
		return false
	}
	delete(s.pendingDelete, localID)
	if _, err := e.Sync().MarkDeleted(); err != nil {
		slog.Warn("Failed to apply deferred delete", "kind", e.Kind(), "local_id", localID, "error", err)
		return false
	}
	s.pipeline.Track(s.ctx, e)
	return true
}

// Remove deletes a child of the event. A never-submitted child is purged
// at once; a persisted one is tagged for deletion at the next Save.
func (s *Session) Remove(ctx context.Context, e models.Entity) error {
	var removeErr error
	err := s.do(func() {
		localID := e.Sync().LocalID
		if _, ok := s.pipeline.Index().Get(localID); !ok {
			removeErr = fmt.Errorf("%w: %s %s", submission.ErrUnknownEntity, e.Kind(), localID)
			return
		}
		if s.inFlight[localID] && e.Sync().Action == models.ActionCreate {
			s.pendingDelete[localID] = true
			return
		}
		discard, err := e.Sync().MarkDeleted()
		if err != nil {
			removeErr = fmt.Errorf("failed to delete %s %s: %w", e.Kind(), localID, err)
			return
		}
		if discard {
			s.pipeline.Discard(ctx, e)
			return
		}
		s.pipeline.Track(ctx, e)
	})
	if err != nil {
		return err
	}
	return removeErr
}

// Cancel reverts the event to its baseline and ends the session. A new
// event is dropped entirely.
func (s *Session) Cancel() error {
	err := s.do(func() {
		ev := s.event
		if ev.Action == models.ActionCreate {
			s.pipeline.Discard(s.ctx, ev)
			return
		}

		before := make(map[string]models.Entity)
		for _, e := range ordered(ev) {
			before[e.Sync().LocalID] = e
		}
		shadow.Restore(ev)
		revertDeletes(ev)
		for _, e := range ordered(ev) {
			delete(before, e.Sync().LocalID)
		}
		for _, e := range before {
			s.pipeline.Untrack(s.ctx, e)
		}
		s.pipeline.Track(s.ctx, ev)
		slog.Debug("Session cancelled", "event_id", ev.ServerID, "dropped", len(before))
	})
	if err != nil {
		return err
	}
	s.Close()
	return nil
}

func revertDeletes(e models.Entity) {
	if state := e.Sync(); state.Action == models.ActionDelete {
		state.Action = models.ActionUpdate
	}
	if owner, ok := e.(models.Owner); ok {
		for _, child := range owner.Children() {
			revertDeletes(child)
		}
	}
}

// Delete removes the whole event and ends the session.
func (s *Session) Delete(ctx context.Context) (submission.Result, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	var (
		discard bool
		markErr error
	)
	err := s.do(func() {
		if discard, markErr = s.event.MarkDeleted(); discard {
			s.pipeline.Discard(s.ctx, s.event)
		} else if markErr == nil {
			s.pipeline.Track(s.ctx, s.event)
		}
	})
	if err != nil {
		return submission.Result{}, err
	}
	if markErr != nil {
		return submission.Result{}, fmt.Errorf("failed to delete event: %w", markErr)
	}
	if discard {
		s.Close()
		return submission.Result{Outcome: submission.OutcomeDiscarded}, nil
	}

	res, err := s.submitOnce(ctx, s.event)
	if err != nil {
		return res, err
	}
	s.Close()
	return res, nil
}

// HandleNotification merges a remote snapshot into the event.
func (s *Session) HandleNotification(n *wire.Notification) (merge.Report, error) {
	if n == nil || n.AggregateType != models.KindEvent || n.Event == nil {
		return merge.Report{}, nil
	}
	var (
		report   merge.Report
		mergeErr error
	)
	err := s.do(func() {
		report, mergeErr = s.merger.Merge(s.event, n.Event)
		if mergeErr != nil {
			return
		}
		for _, e := range report.Added {
			s.pipeline.Track(s.ctx, e)
		}
		for _, e := range report.Removed {
			delete(s.pendingDelete, e.Sync().LocalID)
			s.pipeline.Untrack(s.ctx, e)
		}
		if report.FieldsUpdated || len(report.Updated) > 0 {
			s.pipeline.Track(s.ctx, s.event)
		}
		if report.Changed() && s.onChange != nil {
			s.onChange(report)
		}
	})
	if err != nil {
		return merge.Report{}, err
	}
	return report, mergeErr
}

// Follow merges every notification feed delivers for the event until ctx
// ends, the feed closes or the session ends.
func (s *Session) Follow(ctx context.Context, feed notify.Feed) error {
	var id string
	if err := s.View(func(ev *models.Event) { id = ev.ServerID }); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("failed to follow event: %w", models.ErrNotPersisted)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	ch, err := feed.Subscribe(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to follow event %s: %w", id, err)
	}
	for n := range ch {
		if _, err := s.HandleNotification(n); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			slog.Warn("Failed to merge notification", "event_id", id, "error", err)
		}
	}
	return nil
}

// Close ends the session. In-flight submissions are abandoned and their
// results discarded. Presence is marked closed only if Open marked it open.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.quit)
		<-s.done

		ev := s.event
		if s.presence != nil && s.markedOpen != "" {
			s.presence.MarkClosed(s.markedOpen, models.KindEvent)
		}
		slog.Debug("Session closed", "event_id", ev.Identifier(), "local_id", ev.LocalID)
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
