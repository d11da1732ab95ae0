package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/eventsync/internal/models"
)

// Notification announces that a shared aggregate changed on the server. It
// always carries the full aggregate, never a diff.
type Notification struct {
	AggregateType models.Kind    `json:"aggregate_type"`
	Event         *EventSnapshot `json:"event,omitempty"`
}

// EventSnapshot is a remote Event aggregate. A nil sub-collection means the
// collection was absent from the payload; an empty one means it is empty.
type EventSnapshot struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`
	Location  string          `json:"location"`
	Note      string          `json:"note"`
	EnteredBy string          `json:"entered_by"`
	UpdatedBy string          `json:"updated_by"`

	Participants []ParticipantSnapshot `json:"participants"`
	Items        []ItemSnapshot        `json:"items"`
	Transactions []TransactionSnapshot `json:"transactions"`
}

// ParticipantSnapshot is a remote Participant.
type ParticipantSnapshot struct {
	ID          string                   `json:"id"`
	UserID      string                   `json:"user_id"`
	DisplayName string                   `json:"display_name"`
	Status      models.ParticipantStatus `json:"status"`
	Active      bool                     `json:"active"`
	Share       decimal.Decimal          `json:"share"`
}

// ItemSnapshot is a remote Item with its options.
type ItemSnapshot struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Amount   decimal.Decimal  `json:"amount"`
	Quantity int64            `json:"quantity"`
	Options  []OptionSnapshot `json:"options"`
}

// OptionSnapshot is a remote ItemOption.
type OptionSnapshot struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ChosenBy []string        `json:"chosen_by"`
}

// TransactionSnapshot is a remote Transaction.
type TransactionSnapshot struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaidBy        string          `json:"paid_by"`
	Category      *string         `json:"category"`
	PaymentMethod *string         `json:"payment_method"`
	Date          time.Time       `json:"date"`
	Note          string          `json:"note"`
	Active        bool            `json:"active"`
	EnteredBy     string          `json:"entered_by"`
}

// DecodeNotification parses a notification message.
func DecodeNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	if n.AggregateType == models.KindEvent && n.Event == nil {
		return nil, fmt.Errorf("event notification carries no snapshot")
	}
	return &n, nil
}

// EncodeNotification is the inverse of DecodeNotification.
func EncodeNotification(n *Notification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	return data, nil
}

// ToEvent builds a persisted local Event with its children. Inactive
// transactions are left out, as a merge would never add them.
func (s *EventSnapshot) ToEvent() *models.Event {
	ev := &models.Event{
		SyncState:   models.PersistedSyncState(s.ID),
		EventFields: s.Fields(),
		EnteredBy:   s.EnteredBy,
		UpdatedBy:   s.UpdatedBy,
	}
	for _, p := range s.Participants {
		ev.AddParticipant(p.ToParticipant())
	}
	for _, i := range s.Items {
		ev.AddItem(i.ToItem())
	}
	for _, t := range s.Transactions {
		if !t.Active {
			continue
		}
		ev.AddTransaction(t.ToTransaction())
	}
	return ev
}

// Fields returns the aggregate-level scalar fields.
func (s *EventSnapshot) Fields() models.EventFields {
	return models.EventFields{
		Title:     s.Title,
		Amount:    s.Amount,
		Currency:  s.Currency,
		StartDate: s.StartDate,
		EndDate:   s.EndDate,
		Location:  s.Location,
		Note:      s.Note,
	}
}

// Fields returns the participant's comparable fields.
func (s ParticipantSnapshot) Fields() models.ParticipantFields {
	return models.ParticipantFields{
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Status:      s.Status,
		Active:      s.Active,
		Share:       s.Share,
	}
}

// Removed reports whether the participant left or declined.
func (s ParticipantSnapshot) Removed() bool {
	return !s.Active || s.Status == models.StatusRejected
}

// ToParticipant builds a persisted local participant.
func (s ParticipantSnapshot) ToParticipant() *models.Participant {
	return &models.Participant{
		SyncState:         models.PersistedSyncState(s.ID),
		ParticipantFields: s.Fields(),
	}
}

// Fields returns the item's scalar fields.
func (s ItemSnapshot) Fields() models.ItemFields {
	return models.ItemFields{
		Name:     s.Name,
		Amount:   s.Amount,
		Quantity: s.Quantity,
	}
}

// ToItem builds a persisted local item with its options.
func (s ItemSnapshot) ToItem() *models.Item {
	item := &models.Item{
		SyncState:  models.PersistedSyncState(s.ID),
		ItemFields: s.Fields(),
	}
	for _, o := range s.Options {
		item.AddOption(o.ToOption())
	}
	return item
}

// Fields returns the option's comparable fields.
func (s OptionSnapshot) Fields() models.ItemOptionFields {
	return models.ItemOptionFields{
		Name:     s.Name,
		Price:    s.Price,
		ChosenBy: append([]string(nil), s.ChosenBy...),
	}
}

// ToOption builds a persisted local option.
func (s OptionSnapshot) ToOption() *models.ItemOption {
	return &models.ItemOption{
		SyncState:        models.PersistedSyncState(s.ID),
		ItemOptionFields: s.Fields(),
	}
}

// Fields returns the transaction's comparable fields. References are taken
// verbatim; resolving them against known categories is the merge's job.
func (s TransactionSnapshot) Fields() models.TransactionFields {
	return models.TransactionFields{
		Title:         s.Title,
		Amount:        s.Amount,
		Currency:      s.Currency,
		PaidBy:        s.PaidBy,
		Category:      fromPointer(s.Category),
		PaymentMethod: fromPointer(s.PaymentMethod),
		Date:          s.Date,
		Note:          s.Note,
		Active:        s.Active,
	}
}

// ToTransaction builds a persisted local transaction.
func (s TransactionSnapshot) ToTransaction() *models.Transaction {
	return &models.Transaction{
		SyncState:         models.PersistedSyncState(s.ID),
		TransactionFields: s.Fields(),
		EnteredBy:         s.EnteredBy,
	}
}

func fromPointer(s *string) models.Option[string] {
	if s == nil || *s == "" {
		return models.None[string]()
	}
	return models.Some(*s)
}
