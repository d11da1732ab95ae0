// Package wire converts entities to submission payloads and decodes remote
// aggregate snapshots.
//
// Payload keys and snapshot JSON tags are the same names, so the authority
// can store a payload as-is and later serve it back inside a snapshot.
package wire

import (
	"time"

	"github.com/mmynk/eventsync/internal/models"
)

// Payload keys shared by every kind.
const (
	KeyID           = "id"
	KeyClientTempID = "client_temp_id"
	KeyEnteredBy    = "entered_by"
	KeyUpdatedBy    = "updated_by"
	KeyParticipants = "participants"
	KeyItems        = "items"
	KeyTransactions = "transactions"
	KeyOptions      = "options"
)

// Encode serializes the current field values of e. When nested is true and
// e is in Create state, children that are also awaiting Create are embedded
// with their temporary ids so one round trip creates the whole subtree.
func Encode(e models.Entity, nested bool) map[string]any {
	var payload map[string]any
	switch v := e.(type) {
	case *models.Event:
		payload = eventPayload(v)
	case *models.Participant:
		payload = participantPayload(v)
	case *models.Item:
		payload = itemPayload(v)
	case *models.ItemOption:
		payload = optionPayload(v)
	case *models.Transaction:
		payload = transactionPayload(v)
	default:
		payload = map[string]any{}
	}
	if tempID := e.Sync().ClientTempID; tempID != "" {
		payload[KeyClientTempID] = tempID
	}
	if !nested || e.Sync().Action != models.ActionCreate {
		return payload
	}

	switch v := e.(type) {
	case *models.Event:
		if children := nestedPayloads(v.Participants, true); len(children) > 0 {
			payload[KeyParticipants] = children
		}
		if children := nestedPayloads(v.Items, true); len(children) > 0 {
			payload[KeyItems] = children
		}
		if children := nestedPayloads(v.Transactions, true); len(children) > 0 {
			payload[KeyTransactions] = children
		}
	case *models.Item:
		if children := nestedPayloads(v.Options, true); len(children) > 0 {
			payload[KeyOptions] = children
		}
	}
	return payload
}

// Nested returns e's children that ride along in e's Create payload, in
// the order Encode embeds them, grandchildren included.
func Nested(e models.Entity) []models.Entity {
	if e.Sync().Action != models.ActionCreate {
		return nil
	}
	var out []models.Entity
	switch v := e.(type) {
	case *models.Event:
		for _, child := range v.Children() {
			if child.Sync().Action == models.ActionCreate {
				out = append(out, child)
				out = append(out, Nested(child)...)
			}
		}
	case *models.Item:
		for _, child := range v.Children() {
			if child.Sync().Action == models.ActionCreate {
				out = append(out, child)
			}
		}
	}
	return out
}

func nestedPayloads[T models.Entity](children []T, nested bool) []any {
	var out []any
	for _, child := range children {
		if child.Sync().Action != models.ActionCreate {
			continue
		}
		out = append(out, Encode(child, nested))
	}
	return out
}

func eventPayload(e *models.Event) map[string]any {
	return map[string]any{
		"title":      e.Title,
		"amount":     e.Amount.String(),
		"currency":   e.Currency,
		"start_date": formatTime(e.StartDate),
		"end_date":   formatTime(e.EndDate),
		"location":   e.Location,
		"note":       e.Note,
		KeyEnteredBy: e.EnteredBy,
	}
}

func participantPayload(p *models.Participant) map[string]any {
	return map[string]any{
		"user_id":      p.UserID,
		"display_name": p.DisplayName,
		"status":       string(p.Status),
		"active":       p.Active,
		"share":        p.Share.String(),
	}
}

func itemPayload(i *models.Item) map[string]any {
	return map[string]any{
		"name":     i.Name,
		"amount":   i.Amount.String(),
		"quantity": i.Quantity,
	}
}

func optionPayload(o *models.ItemOption) map[string]any {
	chosen := make([]any, len(o.ChosenBy))
	for i, user := range o.ChosenBy {
		chosen[i] = user
	}
	return map[string]any{
		"name":      o.Name,
		"price":     o.Price.String(),
		"chosen_by": chosen,
	}
}

func transactionPayload(t *models.Transaction) map[string]any {
	return map[string]any{
		"title":          t.Title,
		"amount":         t.Amount.String(),
		"currency":       t.Currency,
		"paid_by":        t.PaidBy,
		"category":       optional(t.Category),
		"payment_method": optional(t.PaymentMethod),
		"date":           formatTime(t.Date),
		"note":           t.Note,
		"active":         t.Active,
		KeyEnteredBy:     t.EnteredBy,
	}
}

func optional(o models.Option[string]) any {
	if v, ok := o.Get(); ok {
		return v
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
