package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/eventsync/internal/shadow"
)

// TransactionFields is the comparable, restorable state of a Transaction.
type TransactionFields struct {
	// Title is the required, user-visible name (e.g., "Groceries").
	Title string

	// Amount is the canonical amount; FormattedAmount derives from it.
	Amount decimal.Decimal

	// Currency is the ISO 4217 code.
	Currency string

	// PaidBy is the user who paid and owns this transaction.
	// Empty means the transaction is unowned and anyone may edit it.
	PaidBy string

	// Category references a category by id.
	Category Option[string]

	// PaymentMethod references a payment method by id.
	PaymentMethod Option[string]

	// Date is when the money changed hands.
	Date time.Time

	Note string

	// Active is false once the transaction was soft-deleted remotely.
	Active bool
}

// Transaction records money paid by one user.
type Transaction struct {
	SyncState
	TransactionFields

	// EventLocalID is the owning event, empty for standalone transactions.
	EventLocalID string

	// EnteredBy is the user who created the transaction.
	EnteredBy string

	shadow *shadow.Copy
}

// NewTransaction returns an unsubmitted transaction entered by user.
func NewTransaction(enteredBy string, fields TransactionFields) *Transaction {
	return &Transaction{
		SyncState:         NewSyncState(),
		TransactionFields: fields,
		EnteredBy:         enteredBy,
	}
}

func (t *Transaction) Kind() Kind { return KindTransaction }
func (t *Transaction) Sync() *SyncState { return &t.SyncState }
func (t *Transaction) ParentLocalID() string { return t.EventLocalID }
func (t *Transaction) ShadowKey() string { return t.LocalID }
func (t *Transaction) Shadow() *shadow.Copy { return t.shadow }
func (t *Transaction) SetShadow(c *shadow.Copy) { t.shadow = c }

// ComparableFields implements shadow.Entity.
func (t *Transaction) ComparableFields() []shadow.Field {
	return []shadow.Field{
		{Name: "title", Value: t.Title},
		{Name: "amount", Value: t.Amount},
		{Name: "currency", Value: t.Currency},
		{Name: "paid_by", Value: t.PaidBy},
		{Name: "category", Value: t.Category},
		{Name: "payment_method", Value: t.PaymentMethod},
		{Name: "date", Value: t.Date},
		{Name: "note", Value: t.Note},
		{Name: "active", Value: t.Active},
	}
}

// CaptureState implements shadow.Entity.
func (t *Transaction) CaptureState() any {
	return t.TransactionFields
}

// ApplyState implements shadow.Entity.
func (t *Transaction) ApplyState(state any) {
	if fields, ok := state.(TransactionFields); ok {
		t.TransactionFields = fields
	}
}

// Validate requires a title.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Kind: KindTransaction, Field: "title"}
	}
	return nil
}

// RestoreRequired restores the title from the shadow copy.
func (t *Transaction) RestoreRequired() bool {
	if t.shadow == nil {
		return false
	}
	fields, ok := t.shadow.State().(TransactionFields)
	if !ok {
		return false
	}
	t.Title = fields.Title
	return true
}

// FormattedAmount renders the amount for display. It is derived and never
// compared.
func (t *Transaction) FormattedAmount() string {
	return t.Amount.StringFixed(2) + " " + t.Currency
}
