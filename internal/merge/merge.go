// Package merge folds remote aggregate snapshots into local aggregates.
//
// Each field group is gated by who may author it. The event's admin owns the
// event fields and the item definitions, every participant owns their own
// row, and a transaction belongs to the user who paid it. A snapshot authored
// by anyone else leaves that group alone, which keeps merges independent of
// delivery order for concurrent edits to different rows.
//
// Local entities with unsaved edits, or with a pending Create or Delete, are
// never overwritten.
package merge

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mmynk/eventsync/internal/metrics"
	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/shadow"
	"github.com/mmynk/eventsync/internal/wire"
)

// ErrAggregateMismatch is returned when a snapshot describes a different
// aggregate than the local one.
var ErrAggregateMismatch = errors.New("snapshot does not match local aggregate")

// Report describes what a merge changed.
type Report struct {
	// AdminUpdate is true when the snapshot was authored by the event's admin.
	AdminUpdate bool

	// FieldsUpdated is true when the event's own fields were overwritten.
	FieldsUpdated bool

	Added     []models.Entity
	Removed   []models.Entity
	Updated   []models.Entity
	Preserved []models.Entity

	// Skipped names the steps skipped because the snapshot lacked their
	// collection.
	Skipped []string
}

// Changed reports whether the merge touched local state.
func (r *Report) Changed() bool {
	return r.FieldsUpdated || len(r.Added) > 0 || len(r.Removed) > 0 || len(r.Updated) > 0
}

// Engine merges remote snapshots. It holds no per-aggregate state and is
// safe for concurrent use on different aggregates.
type Engine struct {
	dir Directory
}

// New creates an Engine resolving references through dir.
func New(dir Directory) *Engine {
	return &Engine{dir: dir}
}

// Merge applies remote to local in place. It must run on the goroutine that
// owns local.
func (m *Engine) Merge(local *models.Event, remote *wire.EventSnapshot) (Report, error) {
	if remote == nil {
		return Report{}, fmt.Errorf("%w: empty snapshot", ErrAggregateMismatch)
	}
	if !local.Persisted() || local.ServerID != remote.ID {
		return Report{}, fmt.Errorf("%w: local %q, remote %q", ErrAggregateMismatch, local.ServerID, remote.ID)
	}

	mg := &merger{
		dir:    m.dir,
		event:  local,
		remote: remote,
		actor:  remote.UpdatedBy,
	}
	mg.report.AdminUpdate = SameUser(m.dir, remote.UpdatedBy, remote.EnteredBy)

	working := remote.Participants
	if mg.report.AdminUpdate {
		mg.eventFields()
		mg.items()
		working = mg.adminParticipants()
	} else {
		mg.pendingParticipants()
	}
	mg.transactions()
	mg.ownParticipants(working)
	mg.dropRejected()

	origin := "peer"
	if mg.report.AdminUpdate {
		origin = "admin"
	}
	metrics.Merges.WithLabelValues(origin).Inc()
	slog.Debug("Merged remote snapshot",
		"event_id", remote.ID,
		"origin", origin,
		"updated_by", remote.UpdatedBy,
		"added", len(mg.report.Added),
		"removed", len(mg.report.Removed),
		"updated", len(mg.report.Updated),
		"preserved", len(mg.report.Preserved),
	)
	return mg.report, nil
}

type merger struct {
	dir    Directory
	event  *models.Event
	remote *wire.EventSnapshot
	actor  string
	report Report
}

// locked reports whether e carries local state a merge must not overwrite.
// An entity outside an editing session has no shadow and is never locked.
func locked(e models.Entity) bool {
	if e.Sync().Action != models.ActionUpdate {
		return true
	}
	if e.Shadow() == nil {
		return false
	}
	if _, ok := e.(models.Owner); ok {
		return shadow.SelfDirty(e)
	}
	return shadow.IsDirty(e)
}

func (mg *merger) eventFields() {
	ev := mg.event
	if locked(ev) {
		mg.preserve(ev)
		return
	}
	ev.EventFields = mg.remote.Fields()
	ev.EnteredBy = mg.remote.EnteredBy
	ev.UpdatedBy = mg.remote.UpdatedBy
	shadow.RebaseSelf(ev)
	mg.report.FieldsUpdated = true
}

// items replaces item definitions with the admin's: matching items are
// overwritten, new ones appended, and persisted items the admin no longer
// lists are removed.
func (mg *merger) items() {
	if mg.remote.Items == nil {
		mg.skip("items")
		return
	}
	ev := mg.event
	seen := make(map[string]bool, len(mg.remote.Items))
	for _, ri := range mg.remote.Items {
		seen[ri.ID] = true
		local := ev.ItemByServerID(ri.ID)
		if local == nil {
			item := ri.ToItem()
			ev.AddItem(item)
			mg.add(ev, item)
			continue
		}
		if locked(local) {
			mg.preserve(local)
		} else {
			local.ItemFields = ri.Fields()
			shadow.RebaseSelf(local)
			mg.report.Updated = append(mg.report.Updated, local)
		}
		mg.options(local, ri.Options)
	}

	for _, item := range slices.Clone(ev.Items) {
		if item.Action != models.ActionUpdate || seen[item.ServerID] {
			continue
		}
		if locked(item) {
			mg.preserve(item)
			continue
		}
		mg.remove(ev, item)
	}
}

func (mg *merger) options(item *models.Item, remote []wire.OptionSnapshot) {
	if remote == nil {
		mg.skip("item_options")
		return
	}
	seen := make(map[string]bool, len(remote))
	for _, ro := range remote {
		seen[ro.ID] = true
		local := item.OptionByServerID(ro.ID)
		if local == nil {
			option := ro.ToOption()
			item.AddOption(option)
			mg.add(item, option)
			continue
		}
		if locked(local) {
			mg.preserve(local)
			continue
		}
		local.ItemOptionFields = ro.Fields()
		shadow.RebaseSelf(local)
		mg.report.Updated = append(mg.report.Updated, local)
	}

	for _, option := range slices.Clone(item.Options) {
		if option.Action != models.ActionUpdate || seen[option.ServerID] {
			continue
		}
		if locked(option) {
			mg.preserve(option)
			continue
		}
		mg.remove(item, option)
	}
}

// adminParticipants removes participants the admin marked inactive or
// rejected and appends the ones missing locally. Existing rows are left for
// ownParticipants. It returns the remote participants still in play.
func (mg *merger) adminParticipants() []wire.ParticipantSnapshot {
	if mg.remote.Participants == nil {
		mg.skip("participants")
		return nil
	}
	ev := mg.event
	working := make([]wire.ParticipantSnapshot, 0, len(mg.remote.Participants))
	for _, rp := range mg.remote.Participants {
		local := ev.ParticipantByServerID(rp.ID)
		if rp.Removed() {
			if local != nil {
				mg.remove(ev, local)
			}
			continue
		}
		working = append(working, rp)
		if local != nil {
			continue
		}
		if unsent := ev.ParticipantByUser(rp.UserID); unsent != nil && unsent.Action == models.ActionCreate {
			mg.preserve(unsent)
			continue
		}
		p := rp.ToParticipant()
		ev.AddParticipant(p)
		mg.add(ev, p)
	}
	return working
}

// pendingParticipants lets an invitation response land without a peer's
// snapshot touching anything else.
func (mg *merger) pendingParticipants() {
	if mg.remote.Participants == nil {
		mg.skip("participants")
		return
	}
	for _, local := range mg.event.Participants {
		if local.Status != models.StatusPending || !local.Persisted() {
			continue
		}
		if rp, ok := findParticipant(mg.remote.Participants, local.ServerID); ok {
			mg.overwriteParticipant(local, rp)
		}
	}
}

// transactions applies the remote version of every transaction the acting
// user paid, or that nobody paid.
func (mg *merger) transactions() {
	if mg.remote.Transactions == nil {
		mg.skip("transactions")
		return
	}
	ev := mg.event
	seen := make(map[string]bool, len(mg.remote.Transactions))
	for _, rt := range mg.remote.Transactions {
		seen[rt.ID] = true
		if rt.PaidBy != "" && !SameUser(mg.dir, mg.actor, rt.PaidBy) {
			continue
		}
		fields := mg.resolve(rt.Fields())
		local := ev.TransactionByServerID(rt.ID)
		if local == nil {
			if !rt.Active {
				continue
			}
			tx := rt.ToTransaction()
			tx.TransactionFields = fields
			ev.AddTransaction(tx)
			mg.add(ev, tx)
			continue
		}
		if locked(local) {
			mg.preserve(local)
			continue
		}
		local.TransactionFields = fields
		shadow.RebaseSelf(local)
		mg.report.Updated = append(mg.report.Updated, local)
	}

	// A persisted transaction the acting user paid for and no longer lists
	// was deleted by them.
	for _, tx := range slices.Clone(ev.Transactions) {
		if tx.Action != models.ActionUpdate || seen[tx.ServerID] || !SameUser(mg.dir, mg.actor, tx.PaidBy) {
			continue
		}
		if locked(tx) {
			mg.preserve(tx)
			continue
		}
		mg.remove(ev, tx)
	}
}

// ownParticipants applies the acting user's own participant row.
func (mg *merger) ownParticipants(working []wire.ParticipantSnapshot) {
	ev := mg.event
	for _, rp := range working {
		if !SameUser(mg.dir, mg.actor, rp.UserID) {
			continue
		}
		local := ev.ParticipantByServerID(rp.ID)
		if local == nil {
			if rp.Removed() {
				continue
			}
			p := rp.ToParticipant()
			ev.AddParticipant(p)
			mg.add(ev, p)
			continue
		}
		mg.overwriteParticipant(local, rp)
	}
}

func (mg *merger) dropRejected() {
	for _, p := range slices.Clone(mg.event.Participants) {
		if p.Status == models.StatusRejected {
			mg.remove(mg.event, p)
		}
	}
}

func (mg *merger) overwriteParticipant(local *models.Participant, rp wire.ParticipantSnapshot) {
	if locked(local) {
		mg.preserve(local)
		return
	}
	local.ParticipantFields = rp.Fields()
	shadow.RebaseSelf(local)
	mg.report.Updated = append(mg.report.Updated, local)
}

// resolve drops references the directory does not know.
func (mg *merger) resolve(fields models.TransactionFields) models.TransactionFields {
	if mg.dir == nil {
		return fields
	}
	if id, ok := fields.Category.Get(); ok && !mg.dir.HasCategory(id) {
		fields.Category = models.None[string]()
	}
	if id, ok := fields.PaymentMethod.Get(); ok && !mg.dir.HasPaymentMethod(id) {
		fields.PaymentMethod = models.None[string]()
	}
	return fields
}

func (mg *merger) add(owner, child models.Entity) {
	shadow.Adopt(owner, child)
	mg.report.Added = append(mg.report.Added, child)
}

func (mg *merger) remove(owner models.Owner, child models.Entity) {
	localID := child.Sync().LocalID
	if !owner.RemoveChild(localID) {
		return
	}
	shadow.Forget(owner, localID)
	mg.report.Removed = append(mg.report.Removed, child)
}

func (mg *merger) preserve(e models.Entity) {
	slog.Debug("Kept local changes over remote snapshot",
		"kind", e.Kind(),
		"local_id", e.Sync().LocalID,
		"action", e.Sync().Action,
	)
	mg.report.Preserved = append(mg.report.Preserved, e)
}

func (mg *merger) skip(step string) {
	slog.Debug("Merge step skipped", "step", step, "event_id", mg.remote.ID)
	metrics.MergeSkips.WithLabelValues(step).Inc()
	mg.report.Skipped = append(mg.report.Skipped, step)
}

func findParticipant(participants []wire.ParticipantSnapshot, id string) (wire.ParticipantSnapshot, bool) {
	for _, p := range participants {
		if p.ID == id {
			return p, true
		}
	}
	return wire.ParticipantSnapshot{}, false
}
