package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/eventsync/internal/models"
)

func TestEncode_NestedCreate(t *testing.T) {
	event := models.NewEvent("alice", models.EventFields{Title: "Trip", Amount: decimal.NewFromInt(500)})
	persisted := models.NewParticipant("bob", "Bob")
	persisted.SyncState = models.PersistedSyncState("9")
	fresh := models.NewParticipant("carol", "Carol")
	item := models.NewItem(models.ItemFields{Name: "Cabin", Quantity: 2})
	item.AddOption(models.NewItemOption(models.ItemOptionFields{Name: "Sauna", ChosenBy: []string{"carol"}}))
	event.AddParticipant(persisted)
	event.AddParticipant(fresh)
	event.AddItem(item)

	payload := Encode(event, true)

	assert.Equal(t, event.ClientTempID, payload[KeyClientTempID])
	assert.Equal(t, "500", payload["amount"])
	participants, ok := payload[KeyParticipants].([]any)
	require.True(t, ok)
	require.Len(t, participants, 1, "only unsubmitted children ride along")
	assert.Equal(t, fresh.ClientTempID, participants[0].(map[string]any)[KeyClientTempID])

	items := payload[KeyItems].([]any)
	options := items[0].(map[string]any)[KeyOptions].([]any)
	require.Len(t, options, 1)

	nested := Nested(event)
	require.Len(t, nested, 3)
	assert.Same(t, fresh, nested[0])

	_, err := structpb.NewStruct(payload)
	require.NoError(t, err, "payload must be representable as a protobuf Struct")
}

func TestEncode_UpdateIsFlat(t *testing.T) {
	event := models.NewEvent("alice", models.EventFields{Title: "Trip"})
	event.SyncState = models.PersistedSyncState("55")
	event.AddParticipant(models.NewParticipant("carol", "Carol"))

	payload := Encode(event, true)
	_, nested := payload[KeyParticipants]
	assert.False(t, nested)
	_, hasTemp := payload[KeyClientTempID]
	assert.False(t, hasTemp)
	assert.Empty(t, Nested(event))
}

func TestSnapshotRoundTripThroughPayload(t *testing.T) {
	tx := models.NewTransaction("alice", models.TransactionFields{
		Title:    "Fuel",
		Amount:   decimal.RequireFromString("61.30"),
		Currency: "EUR",
		PaidBy:   "alice",
		Category: models.Some("travel"),
		Date:     time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		Active:   true,
	})

	data, err := json.Marshal(Encode(tx, false))
	require.NoError(t, err)

	var snap TransactionSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	fields := snap.Fields()
	assert.True(t, fields.Amount.Equal(tx.Amount))
	assert.Equal(t, tx.Category, fields.Category)
	assert.False(t, fields.PaymentMethod.IsSome())
	assert.True(t, fields.Date.Equal(tx.Date))
	assert.Equal(t, "alice", snap.EnteredBy)
}

func TestToEvent_SkipsInactiveTransactions(t *testing.T) {
	snap := &EventSnapshot{
		ID:    "55",
		Title: "Ski trip",
		Transactions: []TransactionSnapshot{
			{ID: "900", Title: "Fuel", PaidBy: "alice", Active: true},
			{ID: "901", Title: "Void", PaidBy: "bob", Active: false},
		},
	}

	ev := snap.ToEvent()
	require.Len(t, ev.Transactions, 1)
	assert.Equal(t, "900", ev.Transactions[0].ServerID)
	assert.Nil(t, ev.TransactionByServerID("901"))
}

func TestDecodeNotification_AbsentCollections(t *testing.T) {
	n, err := DecodeNotification([]byte(`{"aggregate_type":"event","event":{"id":"55","title":"Trip","amount":"10","participants":[]}}`))
	require.NoError(t, err)

	assert.NotNil(t, n.Event.Participants, "present but empty")
	assert.Nil(t, n.Event.Transactions, "absent")
	assert.Nil(t, n.Event.Items, "absent")

	_, err = DecodeNotification([]byte(`{"aggregate_type":"event"}`))
	assert.Error(t, err)
}
