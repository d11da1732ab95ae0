// Package shadow tracks point-in-time snapshots of mutable entities.
//
// An entity declares its comparable state through an explicit manifest
// (ComparableFields) instead of reflection. A Copy captures that manifest
// plus an opaque deep copy of the entity's state at edit-session start;
// IsDirty compares the live manifest against it and Restore writes the
// captured state back.
//
// Owned child collections are expressed as a Collection field. Snapshot
// recurses into every member, so each child carries its own Copy, and
// IsDirty reports a change when a member was added, removed or itself
// became dirty.
package shadow

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Field is one entry of an entity's comparable-fields manifest.
// Value must not alias memory the entity can still mutate (clone slices).
type Field struct {
	Name  string
	Value any
}

// Collection is the value of a Field that lists an owned child collection.
type Collection []Entity

// Entity is implemented by every record that can own a shadow copy.
type Entity interface {
	// ShadowKey identifies the entity inside its parent collection.
	ShadowKey() string

	// ComparableFields returns the manifest of fields that participate in
	// dirty checking. Derived and transient fields are excluded.
	ComparableFields() []Field

	// CaptureState returns a deep copy of the entity's restorable state.
	CaptureState() any

	// ApplyState overwrites the entity's state with a value previously
	// returned by CaptureState.
	ApplyState(state any)

	Shadow() *Copy
	SetShadow(c *Copy)
}

// Container is implemented by entities whose captured state holds members
// of owned collections. It lets the baseline follow membership changes that
// came from the server rather than from the user.
type Container interface {
	// PruneState returns state without the member identified by key.
	PruneState(state any, key string) any

	// AdoptState returns state with child added to its collection.
	AdoptState(state any, child Entity) any

	// RebaseState returns the entity's current own fields combined with the
	// collections held in state.
	RebaseState(state any) any
}

// Copy is an immutable snapshot owned by exactly one entity.
type Copy struct {
	fields  []Field
	state   any
	takenAt time.Time
}

// TakenAt returns when the snapshot was captured.
func (c *Copy) TakenAt() time.Time {
	return c.takenAt
}

// State returns the captured state, in the form returned by CaptureState.
func (c *Copy) State() any {
	return c.state
}

// Capture builds a Copy of e without attaching it. Collection membership is
// recorded but members keep their own shadows untouched.
func Capture(e Entity) *Copy {
	return capture(e, false)
}

func capture(e Entity, recurse bool) *Copy {
	fields := e.ComparableFields()
	captured := make([]Field, len(fields))
	for i, f := range fields {
		if coll, ok := f.Value.(Collection); ok {
			keys := make([]string, len(coll))
			for j, child := range coll {
				if recurse {
					Snapshot(child)
				}
				keys[j] = child.ShadowKey()
			}
			captured[i] = Field{Name: f.Name, Value: memberKeys(keys)}
			continue
		}
		captured[i] = f
	}
	return &Copy{
		fields:  captured,
		state:   e.CaptureState(),
		takenAt: time.Now(),
	}
}

// Snapshot captures the comparable state of e and attaches it as e's shadow,
// replacing any previous one.
func Snapshot(e Entity) *Copy {
	c := capture(e, true)
	e.SetShadow(c)
	return c
}

// Rebase replaces e's shadow with c, typically the Copy captured when the
// entity was serialized for a submission that has since been acknowledged.
func Rebase(e Entity, c *Copy) {
	if c == nil {
		return
	}
	e.SetShadow(c)
}

// IsDirty reports whether e diverged from its shadow. An entity that has no
// shadow has never been baselined and is always dirty. IsDirty never mutates e.
func IsDirty(e Entity) bool {
	return dirty(e, true)
}

// SelfDirty is IsDirty restricted to e's own scalar fields: owned
// collections and their members are ignored. Aggregates submit their
// children independently, so this is what decides whether the parent
// itself needs a round trip.
func SelfDirty(e Entity) bool {
	return dirty(e, false)
}

func dirty(e Entity, deep bool) bool {
	c := e.Shadow()
	if c == nil {
		return true
	}
	current := e.ComparableFields()
	if len(current) != len(c.fields) {
		return true
	}
	for i, f := range current {
		prev := c.fields[i]
		if f.Name != prev.Name {
			return true
		}
		if coll, ok := f.Value.(Collection); ok {
			if !deep {
				continue
			}
			keys, ok := prev.Value.(memberKeys)
			if !ok || collectionDiffers(coll, keys) {
				return true
			}
			continue
		}
		if !Equal(f.Value, prev.Value) {
			return true
		}
	}
	return false
}

// Restore overwrites e from its shadow, including owned collections, and
// reports whether a shadow existed. Children are restored recursively.
func Restore(e Entity) bool {
	c := e.Shadow()
	if c == nil {
		return false
	}
	e.ApplyState(c.state)
	for _, f := range e.ComparableFields() {
		if coll, ok := f.Value.(Collection); ok {
			for _, child := range coll {
				Restore(child)
			}
		}
	}
	return true
}

// Forget removes the collection member identified by key from e's shadow,
// so a member that no longer exists is neither reported as removed by
// IsDirty nor brought back by Restore. Other fields keep their baseline.
func Forget(e Entity, key string) {
	c := e.Shadow()
	if c == nil {
		return
	}
	fields := make([]Field, len(c.fields))
	for i, f := range c.fields {
		if keys, ok := f.Value.(memberKeys); ok {
			f.Value = slices.DeleteFunc(slices.Clone(keys), func(k string) bool { return k == key })
		}
		fields[i] = f
	}
	state := c.state
	if ct, ok := e.(Container); ok {
		state = ct.PruneState(state, key)
	}
	e.SetShadow(&Copy{fields: fields, state: state, takenAt: c.takenAt})
}

// Adopt adds child, already a member of one of e's collections, to e's
// baseline so IsDirty does not report it as added and Restore keeps it.
// The child gets its own shadow if it has none.
func Adopt(e, child Entity) {
	c := e.Shadow()
	if c == nil {
		return
	}
	if child.Shadow() == nil {
		Snapshot(child)
	}
	key := child.ShadowKey()
	var name string
	for _, f := range e.ComparableFields() {
		if coll, ok := f.Value.(Collection); ok && slices.ContainsFunc(coll, func(m Entity) bool { return m.ShadowKey() == key }) {
			name = f.Name
			break
		}
	}
	if name == "" {
		return
	}
	fields := make([]Field, len(c.fields))
	for i, f := range c.fields {
		if keys, ok := f.Value.(memberKeys); ok && f.Name == name && !slices.Contains(keys, key) {
			f.Value = append(slices.Clone(keys), key)
		}
		fields[i] = f
	}
	state := c.state
	if ct, ok := e.(Container); ok {
		state = ct.AdoptState(state, child)
	}
	e.SetShadow(&Copy{fields: fields, state: state, takenAt: c.takenAt})
}

// RebaseSelf advances e's baseline to its current own fields. Collection
// membership and members keep their baseline.
func RebaseSelf(e Entity) {
	c := e.Shadow()
	if c == nil {
		return
	}
	current := e.ComparableFields()
	fields := make([]Field, len(current))
	for i, f := range current {
		if _, ok := f.Value.(Collection); ok {
			for _, prev := range c.fields {
				if prev.Name == f.Name {
					f.Value = prev.Value
					break
				}
			}
		}
		fields[i] = f
	}
	state := e.CaptureState()
	if ct, ok := e.(Container); ok {
		state = ct.RebaseState(c.state)
	}
	e.SetShadow(&Copy{fields: fields, state: state, takenAt: c.takenAt})
}

// Discard drops e's shadow.
func Discard(e Entity) {
	e.SetShadow(nil)
}

type memberKeys []string

func collectionDiffers(coll Collection, keys memberKeys) bool {
	if len(coll) != len(keys) {
		return true
	}
	for _, child := range coll {
		if !slices.Contains(keys, child.ShadowKey()) {
			return true
		}
		if IsDirty(child) {
			return true
		}
	}
	return false
}

// Equal compares two manifest values structurally. Values outside the
// handled types must be comparable with ==.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []string:
		bv, ok := b.([]string)
		return ok && slices.Equal(av, bv)
	case []Field:
		bv, ok := b.([]Field)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Name != bv[i].Name || !Equal(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return a == b
	}
}
