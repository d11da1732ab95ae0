package models

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/eventsync/internal/shadow"
)

// ItemFields is the comparable state of an Item, excluding its options.
type ItemFields struct {
	// Name is the required description (e.g., "Pizza", "Cabin").
	Name string

	// Amount is the price of one unit.
	Amount decimal.Decimal

	Quantity int64
}

// Item is a line item of an event. Items own their options.
type Item struct {
	SyncState
	ItemFields

	// EventLocalID is the owning event.
	EventLocalID string

	// Options are the selectable variants of this item.
	Options []*ItemOption

	shadow *shadow.Copy
}

type itemState struct {
	fields  ItemFields
	options []*ItemOption
}

// NewItem returns an unsubmitted item.
func NewItem(fields ItemFields) *Item {
	return &Item{
		SyncState:  NewSyncState(),
		ItemFields: fields,
	}
}

func (i *Item) Kind() Kind { return KindItem }
func (i *Item) Sync() *SyncState { return &i.SyncState }
func (i *Item) ParentLocalID() string { return i.EventLocalID }
func (i *Item) ShadowKey() string { return i.LocalID }
func (i *Item) Shadow() *shadow.Copy { return i.shadow }
func (i *Item) SetShadow(c *shadow.Copy) { i.shadow = c }

// ComparableFields implements shadow.Entity.
func (i *Item) ComparableFields() []shadow.Field {
	return []shadow.Field{
		{Name: "name", Value: i.Name},
		{Name: "amount", Value: i.Amount},
		{Name: "quantity", Value: i.Quantity},
		{Name: "options", Value: collection(i.Options)},
	}
}

// CaptureState implements shadow.Entity.
func (i *Item) CaptureState() any {
	return itemState{fields: i.ItemFields, options: slices.Clone(i.Options)}
}

// ApplyState implements shadow.Entity.
func (i *Item) ApplyState(state any) {
	if s, ok := state.(itemState); ok {
		i.ItemFields = s.fields
		i.Options = slices.Clone(s.options)
	}
}

// PruneState implements shadow.Container.
func (i *Item) PruneState(state any, key string) any {
	s, ok := state.(itemState)
	if !ok {
		return state
	}
	s.options, _ = removeByLocalID(slices.Clone(s.options), key)
	return s
}

// AdoptState implements shadow.Container.
func (i *Item) AdoptState(state any, child shadow.Entity) any {
	s, ok := state.(itemState)
	if !ok {
		return state
	}
	if o, ok := child.(*ItemOption); ok {
		s.options = append(slices.Clone(s.options), o)
	}
	return s
}

// RebaseState implements shadow.Container.
func (i *Item) RebaseState(state any) any {
	s, ok := state.(itemState)
	if !ok {
		return i.CaptureState()
	}
	s.fields = i.ItemFields
	return s
}

// Validate requires a name.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return &ValidationError{Kind: KindItem, Field: "name"}
	}
	return nil
}

// RestoreRequired restores the name from the shadow copy.
func (i *Item) RestoreRequired() bool {
	if i.shadow == nil {
		return false
	}
	s, ok := i.shadow.State().(itemState)
	if !ok {
		return false
	}
	i.Name = s.fields.Name
	return true
}

// AddOption attaches o to the item.
func (i *Item) AddOption(o *ItemOption) {
	o.ItemLocalID = i.LocalID
	i.Options = append(i.Options, o)
}

// Children implements Owner.
func (i *Item) Children() []Entity {
	children := make([]Entity, len(i.Options))
	for n, o := range i.Options {
		children[n] = o
	}
	return children
}

// RemoveChild implements Owner.
func (i *Item) RemoveChild(localID string) bool {
	var ok bool
	i.Options, ok = removeByLocalID(i.Options, localID)
	return ok
}

// OptionByServerID finds an option by durable id.
func (i *Item) OptionByServerID(id string) *ItemOption {
	for _, o := range i.Options {
		if o.ServerID == id {
			return o
		}
	}
	return nil
}

// Total is amount times quantity.
func (i *Item) Total() decimal.Decimal {
	return i.Amount.Mul(decimal.NewFromInt(i.Quantity))
}

// ItemOptionFields is the comparable state of an ItemOption.
type ItemOptionFields struct {
	Name string

	// Price is added to the item amount when the option is chosen.
	Price decimal.Decimal

	// ChosenBy lists the users who picked this option.
	ChosenBy []string
}

// ItemOption is one variant of an item.
type ItemOption struct {
	SyncState
	ItemOptionFields

	// ItemLocalID is the owning item.
	ItemLocalID string

	shadow *shadow.Copy
}

// NewItemOption returns an unsubmitted option.
func NewItemOption(fields ItemOptionFields) *ItemOption {
	return &ItemOption{
		SyncState:        NewSyncState(),
		ItemOptionFields: fields,
	}
}

func (o *ItemOption) Kind() Kind { return KindItemOption }
func (o *ItemOption) Sync() *SyncState { return &o.SyncState }
func (o *ItemOption) ParentLocalID() string { return o.ItemLocalID }
func (o *ItemOption) ShadowKey() string { return o.LocalID }
func (o *ItemOption) Shadow() *shadow.Copy { return o.shadow }
func (o *ItemOption) SetShadow(c *shadow.Copy) { o.shadow = c }

// ComparableFields implements shadow.Entity.
func (o *ItemOption) ComparableFields() []shadow.Field {
	return []shadow.Field{
		{Name: "name", Value: o.Name},
		{Name: "price", Value: o.Price},
		{Name: "chosen_by", Value: slices.Clone(o.ChosenBy)},
	}
}

// CaptureState implements shadow.Entity.
func (o *ItemOption) CaptureState() any {
	fields := o.ItemOptionFields
	fields.ChosenBy = slices.Clone(o.ChosenBy)
	return fields
}

// ApplyState implements shadow.Entity.
func (o *ItemOption) ApplyState(state any) {
	if fields, ok := state.(ItemOptionFields); ok {
		fields.ChosenBy = slices.Clone(fields.ChosenBy)
		o.ItemOptionFields = fields
	}
}

// Validate requires a name.
func (o *ItemOption) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return &ValidationError{Kind: KindItemOption, Field: "name"}
	}
	return nil
}

// RestoreRequired restores the name from the shadow copy.
func (o *ItemOption) RestoreRequired() bool {
	if o.shadow == nil {
		return false
	}
	fields, ok := o.shadow.State().(ItemOptionFields)
	if !ok {
		return false
	}
	o.Name = fields.Name
	return true
}
