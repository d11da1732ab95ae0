package shadow_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/shadow"
)

func newTransaction() *models.Transaction {
	return models.NewTransaction("alice", models.TransactionFields{
		Title:    "Groceries",
		Amount:   decimal.RequireFromString("42.10"),
		Currency: "EUR",
		PaidBy:   "alice",
		Category: models.Some("food"),
		Date:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Active:   true,
	})
}

func TestSnapshotDirtyRestore(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tx *models.Transaction)
	}{
		{"title", func(tx *models.Transaction) { tx.Title = "Market" }},
		{"amount", func(tx *models.Transaction) { tx.Amount = decimal.RequireFromString("42.11") }},
		{"category cleared", func(tx *models.Transaction) { tx.Category = models.None[string]() }},
		{"payment method set", func(tx *models.Transaction) { tx.PaymentMethod = models.Some("card") }},
		{"date", func(tx *models.Transaction) { tx.Date = tx.Date.Add(time.Hour) }},
		{"paid by", func(tx *models.Transaction) { tx.PaidBy = "bob" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newTransaction()
			shadow.Snapshot(tx)
			assert.False(t, shadow.IsDirty(tx), "clean right after snapshot")

			tt.mutate(tx)
			assert.True(t, shadow.IsDirty(tx), "dirty after mutation")
			assert.True(t, shadow.IsDirty(tx), "repeated calls agree")

			require.True(t, shadow.Restore(tx))
			assert.False(t, shadow.IsDirty(tx), "clean after restore")
		})
	}
}

func TestIsDirty_EquivalentDecimal(t *testing.T) {
	tx := newTransaction()
	shadow.Snapshot(tx)

	tx.Amount = decimal.RequireFromString("42.100")
	assert.False(t, shadow.IsDirty(tx))
}

func TestIsDirty_NoShadow(t *testing.T) {
	tx := newTransaction()
	assert.True(t, shadow.IsDirty(tx))
	assert.False(t, shadow.Restore(tx))
}

func TestIsDirty_DerivedFieldIgnored(t *testing.T) {
	tx := newTransaction()
	shadow.Snapshot(tx)
	_ = tx.FormattedAmount()
	assert.False(t, shadow.IsDirty(tx))
}

func TestCollections(t *testing.T) {
	newEvent := func() (*models.Event, *models.Participant, *models.Item) {
		event := models.NewEvent("alice", models.EventFields{Title: "Ski Trip"})
		p := models.NewParticipant("bob", "Bob")
		item := models.NewItem(models.ItemFields{Name: "Cabin", Amount: decimal.NewFromInt(300), Quantity: 1})
		item.AddOption(models.NewItemOption(models.ItemOptionFields{Name: "Sauna", ChosenBy: []string{"bob"}}))
		event.AddParticipant(p)
		event.AddItem(item)
		shadow.Snapshot(event)
		return event, p, item
	}

	t.Run("snapshot recurses into children", func(t *testing.T) {
		event, p, item := newEvent()
		assert.NotNil(t, p.Shadow())
		assert.NotNil(t, item.Shadow())
		assert.NotNil(t, item.Options[0].Shadow())
		assert.False(t, shadow.IsDirty(event))
	})

	t.Run("child field change", func(t *testing.T) {
		event, p, _ := newEvent()
		p.Status = models.StatusAccepted
		assert.True(t, shadow.IsDirty(event))
		assert.False(t, shadow.SelfDirty(event))
	})

	t.Run("grandchild slice change", func(t *testing.T) {
		event, _, item := newEvent()
		item.Options[0].ChosenBy = append(item.Options[0].ChosenBy, "alice")
		assert.True(t, shadow.IsDirty(event))
	})

	t.Run("addition", func(t *testing.T) {
		event, _, _ := newEvent()
		event.AddParticipant(models.NewParticipant("carol", "Carol"))
		assert.True(t, shadow.IsDirty(event))
	})

	t.Run("removal then restore keeps identity", func(t *testing.T) {
		event, p, _ := newEvent()
		require.True(t, event.RemoveChild(p.LocalID))
		assert.True(t, shadow.IsDirty(event))

		shadow.Restore(event)
		require.Len(t, event.Participants, 1)
		assert.Same(t, p, event.Participants[0])
		assert.False(t, shadow.IsDirty(event))
	})

	t.Run("restore reverts child fields", func(t *testing.T) {
		event, p, _ := newEvent()
		p.DisplayName = "Robert"
		event.Title = "Beach Trip"
		shadow.Restore(event)
		assert.Equal(t, "Bob", p.DisplayName)
		assert.Equal(t, "Ski Trip", event.Title)
	})
}

func TestCaptureAndRebase(t *testing.T) {
	event := models.NewEvent("alice", models.EventFields{Title: "Ski Trip"})
	p := models.NewParticipant("bob", "Bob")
	event.AddParticipant(p)
	shadow.Snapshot(event)

	event.Title = "Ski Weekend"
	p.DisplayName = "Robert"
	sent := shadow.Capture(event)

	event.Note = "edited while in flight"
	shadow.Rebase(event, sent)

	assert.True(t, shadow.SelfDirty(event), "in-flight edit stays dirty")
	assert.True(t, shadow.IsDirty(p), "child shadow untouched by parent capture")

	event.Note = ""
	assert.False(t, shadow.SelfDirty(event))
}

func TestForget(t *testing.T) {
	event := models.NewEvent("alice", models.EventFields{Title: "Trip"})
	kept := models.NewParticipant("bob", "Bob")
	gone := models.NewParticipant("carol", "Carol")
	event.AddParticipant(kept)
	event.AddParticipant(gone)
	shadow.Snapshot(event)

	event.Title = "Ski trip"
	require.True(t, event.RemoveChild(gone.LocalID))
	shadow.Forget(event, gone.LocalID)

	assert.True(t, shadow.SelfDirty(event), "unrelated edits stay dirty")
	event.Title = "Trip"
	assert.False(t, shadow.IsDirty(event), "forgotten member no longer counts as removed")

	event.Title = "Ski trip"
	require.True(t, shadow.Restore(event))
	assert.Equal(t, "Trip", event.Title)
	require.Len(t, event.Participants, 1, "restore does not resurrect a forgotten member")
	assert.Same(t, kept, event.Participants[0])
}

func TestAdoptAndRebaseSelf(t *testing.T) {
	event := models.NewEvent("alice", models.EventFields{Title: "Trip"})
	shadow.Snapshot(event)

	local := models.NewParticipant("bob", "Bob")
	event.AddParticipant(local)
	remote := models.NewParticipant("carol", "Carol")
	event.AddParticipant(remote)
	shadow.Adopt(event, remote)
	require.NotNil(t, remote.Shadow(), "adopted member gets a baseline")

	event.Title = "Ski trip"
	shadow.RebaseSelf(event)
	assert.False(t, shadow.SelfDirty(event))
	assert.True(t, shadow.IsDirty(event), "the locally added member is still unsaved")

	require.True(t, shadow.Restore(event))
	assert.Equal(t, "Ski trip", event.Title)
	require.Len(t, event.Participants, 1, "restore keeps adopted members and drops local additions")
	assert.Same(t, remote, event.Participants[0])
	assert.False(t, shadow.IsDirty(event))
}
