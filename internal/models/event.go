package models

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/eventsync/internal/shadow"
)

// EventFields is the aggregate-level scalar state of an Event.
type EventFields struct {
	// Title is the required display name (e.g., "Ski Trip").
	Title string

	// Amount is the planned budget of the event.
	Amount decimal.Decimal

	Currency string

	StartDate time.Time
	EndDate   time.Time

	Location string
	Note     string
}

// Event is a shared record and the aggregate root that owns participants,
// items and transactions. It is the unit of collaborative merge.
type Event struct {
	SyncState
	EventFields

	// EnteredBy is the owner/admin who created the event.
	EnteredBy string

	// UpdatedBy is the author of the most recent server-side change.
	// It is attribution metadata, not a comparable field.
	UpdatedBy string

	Participants []*Participant
	Items        []*Item
	Transactions []*Transaction

	shadow *shadow.Copy
}

type eventState struct {
	fields       EventFields
	participants []*Participant
	items        []*Item
	transactions []*Transaction
}

// NewEvent returns an unsubmitted event owned by enteredBy.
func NewEvent(enteredBy string, fields EventFields) *Event {
	return &Event{
		SyncState:   NewSyncState(),
		EventFields: fields,
		EnteredBy:   enteredBy,
		UpdatedBy:   enteredBy,
	}
}

func (e *Event) Kind() Kind { return KindEvent }
func (e *Event) Sync() *SyncState { return &e.SyncState }
func (e *Event) ParentLocalID() string { return "" }
func (e *Event) ShadowKey() string { return e.LocalID }
func (e *Event) Shadow() *shadow.Copy { return e.shadow }
func (e *Event) SetShadow(c *shadow.Copy) { e.shadow = c }

// ComparableFields implements shadow.Entity.
func (e *Event) ComparableFields() []shadow.Field {
	return []shadow.Field{
		{Name: "title", Value: e.Title},
		{Name: "amount", Value: e.Amount},
		{Name: "currency", Value: e.Currency},
		{Name: "start_date", Value: e.StartDate},
		{Name: "end_date", Value: e.EndDate},
		{Name: "location", Value: e.Location},
		{Name: "note", Value: e.Note},
		{Name: "entered_by", Value: e.EnteredBy},
		{Name: "participants", Value: collection(e.Participants)},
		{Name: "items", Value: collection(e.Items)},
		{Name: "transactions", Value: collection(e.Transactions)},
	}
}

// CaptureState implements shadow.Entity.
func (e *Event) CaptureState() any {
	return eventState{
		fields:       e.EventFields,
		participants: slices.Clone(e.Participants),
		items:        slices.Clone(e.Items),
		transactions: slices.Clone(e.Transactions),
	}
}

// ApplyState implements shadow.Entity.
func (e *Event) ApplyState(state any) {
	s, ok := state.(eventState)
	if !ok {
		return
	}
	e.EventFields = s.fields
	e.Participants = slices.Clone(s.participants)
	e.Items = slices.Clone(s.items)
	e.Transactions = slices.Clone(s.transactions)
}

// PruneState implements shadow.Container.
func (e *Event) PruneState(state any, key string) any {
	s, ok := state.(eventState)
	if !ok {
		return state
	}
	s.participants, _ = removeByLocalID(slices.Clone(s.participants), key)
	s.items, _ = removeByLocalID(slices.Clone(s.items), key)
	s.transactions, _ = removeByLocalID(slices.Clone(s.transactions), key)
	return s
}

// AdoptState implements shadow.Container.
func (e *Event) AdoptState(state any, child shadow.Entity) any {
	s, ok := state.(eventState)
	if !ok {
		return state
	}
	switch c := child.(type) {
	case *Participant:
		s.participants = append(slices.Clone(s.participants), c)
	case *Item:
		s.items = append(slices.Clone(s.items), c)
	case *Transaction:
		s.transactions = append(slices.Clone(s.transactions), c)
	}
	return s
}

// RebaseState implements shadow.Container.
func (e *Event) RebaseState(state any) any {
	s, ok := state.(eventState)
	if !ok {
		return e.CaptureState()
	}
	s.fields = e.EventFields
	return s
}

// Validate requires a title.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return &ValidationError{Kind: KindEvent, Field: "title"}
	}
	return nil
}

// RestoreRequired restores the title from the shadow copy.
func (e *Event) RestoreRequired() bool {
	if e.shadow == nil {
		return false
	}
	s, ok := e.shadow.State().(eventState)
	if !ok {
		return false
	}
	e.Title = s.fields.Title
	return true
}

// AddParticipant attaches p to the event.
func (e *Event) AddParticipant(p *Participant) {
	p.EventLocalID = e.LocalID
	e.Participants = append(e.Participants, p)
}

// AddItem attaches i to the event.
func (e *Event) AddItem(i *Item) {
	i.EventLocalID = e.LocalID
	e.Items = append(e.Items, i)
}

// AddTransaction attaches t to the event.
func (e *Event) AddTransaction(t *Transaction) {
	t.EventLocalID = e.LocalID
	e.Transactions = append(e.Transactions, t)
}

// Children implements Owner.
func (e *Event) Children() []Entity {
	children := make([]Entity, 0, len(e.Participants)+len(e.Items)+len(e.Transactions))
	for _, p := range e.Participants {
		children = append(children, p)
	}
	for _, i := range e.Items {
		children = append(children, i)
	}
	for _, t := range e.Transactions {
		children = append(children, t)
	}
	return children
}

// RemoveChild implements Owner.
func (e *Event) RemoveChild(localID string) bool {
	var ok bool
	if e.Participants, ok = removeByLocalID(e.Participants, localID); ok {
		return true
	}
	if e.Items, ok = removeByLocalID(e.Items, localID); ok {
		return true
	}
	e.Transactions, ok = removeByLocalID(e.Transactions, localID)
	return ok
}

// ParticipantByServerID finds a participant by durable id.
func (e *Event) ParticipantByServerID(id string) *Participant {
	for _, p := range e.Participants {
		if p.ServerID == id {
			return p
		}
	}
	return nil
}

// ParticipantByUser finds the participant row of a user.
func (e *Event) ParticipantByUser(userID string) *Participant {
	for _, p := range e.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// ItemByServerID finds an item by durable id.
func (e *Event) ItemByServerID(id string) *Item {
	for _, i := range e.Items {
		if i.ServerID == id {
			return i
		}
	}
	return nil
}

// TransactionByServerID finds a transaction by durable id.
func (e *Event) TransactionByServerID(id string) *Transaction {
	for _, t := range e.Transactions {
		if t.ServerID == id {
			return t
		}
	}
	return nil
}

// IsAdmin reports whether userID owns the event.
func (e *Event) IsAdmin(userID string) bool {
	return userID != "" && userID == e.EnteredBy
}
