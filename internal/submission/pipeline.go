// Package submission pushes local entity changes to the server.
//
// A submission runs in three phases. Prepare and Apply read and mutate the
// entity and must run on the goroutine that owns the aggregate. Send only
// touches the request built by Prepare, so it can run anywhere.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmynk/eventsync/internal/identity"
	"github.com/mmynk/eventsync/internal/metrics"
	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/shadow"
	"github.com/mmynk/eventsync/internal/storage"
	"github.com/mmynk/eventsync/internal/transport"
	"github.com/mmynk/eventsync/internal/wire"
)

// Outcome is how a submission ended.
type Outcome int

const (
	// OutcomeNoOp means the entity was unchanged and nothing was sent.
	OutcomeNoOp Outcome = iota
	// OutcomeDiscarded means an invalid, never-submitted entity was purged.
	OutcomeDiscarded
	// OutcomeRejected means an invalid persisted entity had its required
	// field restored and nothing was sent.
	OutcomeRejected
	OutcomeCreated
	OutcomeUpdated
	OutcomeDeleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoOp:
		return "noop"
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeRejected:
		return "rejected"
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is a successful or locally resolved submission.
type Result struct {
	Outcome Outcome

	// Rekeys lists the identities swapped by a Create, parent first.
	Rekeys []identity.Rekey

	// Notice is the validation message of a rejected submission.
	Notice string
}

// Prepared is a submission captured on the mutation goroutine.
type Prepared struct {
	entity  models.Entity
	request transport.Request

	// sent is the entity's state as serialized into request.
	sent       *shadow.Copy
	nested     []models.Entity
	nestedSent map[string]*shadow.Copy

	result *Result
}

// Entity returns the entity being submitted.
func (p *Prepared) Entity() models.Entity {
	return p.entity
}

// Request returns the request to send.
func (p *Prepared) Request() transport.Request {
	return p.request
}

// Done reports whether the submission was resolved locally, in which case
// Send and Apply must not be called.
func (p *Prepared) Done() (Result, bool) {
	if p.result == nil {
		return Result{}, false
	}
	return *p.result, true
}

// Pipeline submits entities through a transport.
type Pipeline struct {
	transport transport.Transport
	index     *Index
	journal   storage.Journal
	notifier  Notifier
	nested    bool
	timeout   time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithJournal records every sync transition in j.
func WithJournal(j storage.Journal) Option {
	return func(p *Pipeline) {
		p.journal = j
	}
}

// WithNotifier delivers user-visible notices to n.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

// WithNestedCreate controls whether a Create carries the owner's
// unsubmitted children. Enabled by default.
func WithNestedCreate(enabled bool) Option {
	return func(p *Pipeline) {
		p.nested = enabled
	}
}

// WithTimeout bounds each transport call.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithIndex shares an existing Index.
func WithIndex(x *Index) Option {
	return func(p *Pipeline) {
		p.index = x
	}
}

// New creates a Pipeline sending through t.
func New(t transport.Transport, opts ...Option) *Pipeline {
	p := &Pipeline{
		transport: t,
		nested:    true,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.index == nil {
		p.index = NewIndex()
	}
	return p
}

// Index returns the pipeline's identifier index.
func (p *Pipeline) Index() *Index {
	return p.index
}

// Track registers e and its descendants and journals their current state.
func (p *Pipeline) Track(ctx context.Context, e models.Entity) {
	p.index.Add(e)
	p.walk(e, func(x models.Entity) { p.record(ctx, x) })
}

// Untrack drops e and its descendants from the index and the journal. The
// entity itself is left as is.
func (p *Pipeline) Untrack(ctx context.Context, e models.Entity) {
	p.walk(e, func(x models.Entity) { p.forget(ctx, x) })
	p.index.Remove(e)
}

// Submit runs all three phases on the calling goroutine.
func (p *Pipeline) Submit(ctx context.Context, e models.Entity) (Result, error) {
	prep, err := p.Prepare(ctx, e)
	if err != nil {
		return Result{}, err
	}
	if res, done := prep.Done(); done {
		return res, nil
	}
	ack, err := p.Send(ctx, prep)
	return p.Apply(ctx, prep, ack, err)
}

// Prepare decides whether e needs a round trip and, if so, serializes its
// current field values.
func (p *Pipeline) Prepare(ctx context.Context, e models.Entity) (*Prepared, error) {
	state := e.Sync()
	if _, ok := p.index.Get(state.LocalID); !ok {
		p.index.Add(e)
	}

	if state.Action != models.ActionDelete {
		if !p.needsSubmit(e) {
			return p.resolved(e, Result{Outcome: OutcomeNoOp}), nil
		}
		if err := e.Validate(); err != nil {
			return p.resolved(e, p.reject(ctx, e, err)), nil
		}
	}

	parentID, err := p.parentServerID(e)
	if err != nil {
		return nil, err
	}

	prep := &Prepared{entity: e}
	req := transport.Request{
		Action:         state.Action,
		Kind:           e.Kind(),
		ParentServerID: parentID,
	}
	switch state.Action {
	case models.ActionCreate:
		req.ClientTempID = state.ClientTempID
		if p.nested {
			prep.nested = p.validNested(ctx, e)
			prep.nestedSent = make(map[string]*shadow.Copy, len(prep.nested))
			for _, child := range prep.nested {
				prep.nestedSent[child.Sync().LocalID] = shadow.Capture(child)
			}
		}
		req.Payload = wire.Encode(e, p.nested)
		prep.sent = shadow.Capture(e)
	case models.ActionUpdate:
		req.ServerID = state.ServerID
		req.Payload = wire.Encode(e, false)
		prep.sent = shadow.Capture(e)
	case models.ActionDelete:
		if state.ServerID == "" {
			return nil, fmt.Errorf("failed to prepare delete of %s %s: %w", e.Kind(), state.LocalID, models.ErrNotPersisted)
		}
		req.ServerID = state.ServerID
	}
	prep.request = req

	p.record(ctx, e)
	return prep, nil
}

// Send performs the transport call. It is safe to call off the mutation
// goroutine.
func (p *Pipeline) Send(ctx context.Context, prep *Prepared) (transport.Ack, error) {
	if prep.result != nil {
		return transport.Ack{}, fmt.Errorf("submission of %s was resolved locally", prep.request.Kind)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	ack, err := p.transport.Send(ctx, prep.request)
	metrics.SubmissionDuration.
		WithLabelValues(string(prep.request.Kind), prep.request.Action.String()).
		Observe(time.Since(start).Seconds())
	return ack, transport.Classify(err)
}

// Apply folds the outcome of Send back into local state. A Create whose
// acknowledgment reconciled the entity but not all of its embedded children
// returns both the Result and a ClassReconciliation error.
func (p *Pipeline) Apply(ctx context.Context, prep *Prepared, ack transport.Ack, sendErr error) (Result, error) {
	e := prep.entity
	if sendErr != nil {
		return Result{}, p.fail(e, sendErr)
	}

	var res Result
	switch prep.request.Action {
	case models.ActionCreate:
		var err error
		if res, err = p.applyCreate(ctx, prep, ack); err != nil {
			return res, err
		}
	case models.ActionUpdate:
		shadow.Rebase(e, prep.sent)
		p.record(ctx, e)
		res = Result{Outcome: OutcomeUpdated}
	case models.ActionDelete:
		p.discard(ctx, e)
		res = Result{Outcome: OutcomeDeleted}
	}

	metrics.Submissions.WithLabelValues(string(e.Kind()), res.Outcome.String()).Inc()
	slog.Debug("Submission applied",
		"kind", e.Kind(),
		"local_id", e.Sync().LocalID,
		"server_id", e.Sync().ServerID,
		"outcome", res.Outcome,
	)
	return res, nil
}

// Discard purges a never-submitted entity from its owner. No request is
// ever sent for it.
func (p *Pipeline) Discard(ctx context.Context, e models.Entity) {
	p.discard(ctx, e)
	metrics.Submissions.WithLabelValues(string(e.Kind()), OutcomeDiscarded.String()).Inc()
}

func (p *Pipeline) applyCreate(ctx context.Context, prep *Prepared, ack transport.Ack) (Result, error) {
	e := prep.entity
	ids := ack.IDMap()

	rekey, err := identity.Reconcile(e, ids[prep.request.ClientTempID])
	if err != nil {
		slog.Error("Create acknowledgment did not reconcile",
			"kind", e.Kind(),
			"local_id", e.Sync().LocalID,
			"temp_id", prep.request.ClientTempID,
			"error", err,
		)
		metrics.Submissions.WithLabelValues(string(e.Kind()), ClassReconciliation.String()).Inc()
		p.notify(e, transientNotice(e.Kind()), true)
		return Result{}, &SyncError{Class: ClassReconciliation, Kind: e.Kind(), LocalID: e.Sync().LocalID, Err: err}
	}
	p.index.Rekey(rekey)
	shadow.Rebase(e, prep.sent)
	p.record(ctx, e)

	rekeys := []identity.Rekey{rekey}
	nestedRekeys, missing := identity.ReconcileAll(prep.nested, ids)
	for _, r := range nestedRekeys {
		p.index.Rekey(r)
		if child, ok := p.index.Get(r.LocalID); ok {
			shadow.Rebase(child, prep.nestedSent[r.LocalID])
			p.record(ctx, child)
		}
	}
	res := Result{Outcome: OutcomeCreated, Rekeys: append(rekeys, nestedRekeys...)}
	if len(missing) == 0 {
		return res, nil
	}

	temps := make([]string, 0, len(missing))
	for _, child := range missing {
		temps = append(temps, child.Sync().ClientTempID)
	}
	slog.Error("Create acknowledgment omitted nested ids",
		"kind", e.Kind(),
		"local_id", e.Sync().LocalID,
		"server_id", rekey.ServerID,
		"missing_temp_ids", temps,
	)
	metrics.Submissions.WithLabelValues(string(e.Kind()), ClassReconciliation.String()).Inc()
	p.notify(e, transientNotice(e.Kind()), true)
	return res, &SyncError{
		Class:   ClassReconciliation,
		Kind:    e.Kind(),
		LocalID: e.Sync().LocalID,
		Err:     fmt.Errorf("%w: %s", identity.ErrMissingNestedIDs, strings.Join(temps, ", ")),
	}
}

func (p *Pipeline) fail(e models.Entity, err error) error {
	class := ClassTransport
	if errors.Is(err, transport.ErrCancelled) {
		class = ClassCancelled
		slog.Debug("Submission cancelled", "kind", e.Kind(), "local_id", e.Sync().LocalID, "error", err)
	} else {
		slog.Warn("Submission failed", "kind", e.Kind(), "local_id", e.Sync().LocalID, "action", e.Sync().Action, "error", err)
		p.notify(e, transientNotice(e.Kind()), true)
	}
	metrics.Submissions.WithLabelValues(string(e.Kind()), class.String()).Inc()
	return &SyncError{Class: class, Kind: e.Kind(), LocalID: e.Sync().LocalID, Err: err}
}

// needsSubmit applies the smart-save rule. Persisted owners only compare
// their own fields; their children are submitted on their own.
func (p *Pipeline) needsSubmit(e models.Entity) bool {
	if _, ok := e.(models.Owner); ok && e.Sync().Action == models.ActionUpdate {
		return shadow.SelfDirty(e)
	}
	return shadow.IsDirty(e)
}

func (p *Pipeline) reject(ctx context.Context, e models.Entity, err error) Result {
	state := e.Sync()
	if state.Action == models.ActionCreate {
		slog.Info("Discarding invalid unsubmitted entity", "kind", e.Kind(), "local_id", state.LocalID, "error", err)
		p.Discard(ctx, e)
		return Result{Outcome: OutcomeDiscarded}
	}

	e.RestoreRequired()
	notice := err.Error()
	slog.Info("Rejected invalid entity locally", "kind", e.Kind(), "server_id", state.ServerID, "error", err)
	p.notify(e, notice, false)
	p.record(ctx, e)
	metrics.Submissions.WithLabelValues(string(e.Kind()), OutcomeRejected.String()).Inc()
	return Result{Outcome: OutcomeRejected, Notice: notice}
}

func (p *Pipeline) resolved(e models.Entity, res Result) *Prepared {
	if res.Outcome == OutcomeNoOp {
		metrics.Submissions.WithLabelValues(string(e.Kind()), res.Outcome.String()).Inc()
	}
	return &Prepared{entity: e, result: &res}
}

// validNested drops invalid unsubmitted descendants before they are
// embedded in e's Create.
func (p *Pipeline) validNested(ctx context.Context, e models.Entity) []models.Entity {
	for _, child := range wire.Nested(e) {
		if err := child.Validate(); err != nil {
			slog.Info("Discarding invalid unsubmitted entity", "kind", child.Kind(), "local_id", child.Sync().LocalID, "error", err)
			p.Discard(ctx, child)
		}
	}
	return wire.Nested(e)
}

func (p *Pipeline) parentServerID(e models.Entity) (string, error) {
	parentLocalID := e.ParentLocalID()
	if parentLocalID == "" {
		return "", nil
	}
	parent, ok := p.index.Get(parentLocalID)
	if !ok {
		return "", fmt.Errorf("%w: owner %s of %s %s", ErrUnknownEntity, parentLocalID, e.Kind(), e.Sync().LocalID)
	}
	if !parent.Sync().Persisted() {
		return "", fmt.Errorf("%w: %s %s", ErrParentNotPersisted, parent.Kind(), parentLocalID)
	}
	return parent.Sync().ServerID, nil
}

// discard removes e from its owner, the index and the journal.
func (p *Pipeline) discard(ctx context.Context, e models.Entity) {
	localID := e.Sync().LocalID
	if parent, ok := p.index.Get(e.ParentLocalID()); ok {
		if owner, ok := parent.(models.Owner); ok && owner.RemoveChild(localID) {
			shadow.Forget(owner, localID)
		}
	}
	p.walk(e, func(x models.Entity) { p.forget(ctx, x) })
	p.index.Remove(e)
	shadow.Discard(e)
}

func (p *Pipeline) walk(e models.Entity, fn func(models.Entity)) {
	fn(e)
	if owner, ok := e.(models.Owner); ok {
		for _, child := range owner.Children() {
			p.walk(child, fn)
		}
	}
}

func (p *Pipeline) notify(e models.Entity, message string, transient bool) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(Notice{
		Kind:      e.Kind(),
		LocalID:   e.Sync().LocalID,
		Message:   message,
		Transient: transient,
	})
}

// record journals e's sync state. Journal failures are logged; the
// in-memory state stays authoritative for the running session.
func (p *Pipeline) record(ctx context.Context, e models.Entity) {
	if p.journal == nil {
		return
	}
	state := e.Sync()
	payload, err := json.Marshal(wire.Encode(e, false))
	if err != nil {
		slog.Warn("Failed to encode journal entry", "kind", e.Kind(), "local_id", state.LocalID, "error", err)
		return
	}
	entry := &storage.Entry{
		LocalID:       state.LocalID,
		Kind:          e.Kind(),
		ServerID:      state.ServerID,
		ClientTempID:  state.ClientTempID,
		Action:        state.Action,
		ParentLocalID: e.ParentLocalID(),
		Payload:       payload,
		Dirty:         p.needsSubmit(e),
		UpdatedAt:     time.Now().Unix(),
	}
	if err := p.journal.SaveEntry(ctx, entry); err != nil {
		slog.Warn("Failed to write journal entry", "kind", e.Kind(), "local_id", state.LocalID, "error", err)
	}
}

func (p *Pipeline) forget(ctx context.Context, e models.Entity) {
	if p.journal == nil {
		return
	}
	if err := p.journal.DeleteEntry(ctx, e.Sync().LocalID); err != nil {
		slog.Warn("Failed to delete journal entry", "kind", e.Kind(), "local_id", e.Sync().LocalID, "error", err)
	}
}
