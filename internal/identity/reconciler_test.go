package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/eventsync/internal/models"
)

func TestReconcile(t *testing.T) {
	tx := models.NewTransaction("alice", models.TransactionFields{Title: "Dinner"})
	tx.ClientTempID = "tmp-1"
	before := tx

	rekey, err := Reconcile(tx, "123")
	require.NoError(t, err)

	assert.Same(t, before, tx)
	assert.Equal(t, "123", tx.ServerID)
	assert.Empty(t, tx.ClientTempID)
	assert.Equal(t, models.ActionUpdate, tx.Action)
	assert.Equal(t, Rekey{LocalID: tx.LocalID, Kind: models.KindTransaction, OldTemp: "tmp-1", ServerID: "123"}, rekey)
}

func TestReconcile_Rejections(t *testing.T) {
	t.Run("missing server id", func(t *testing.T) {
		tx := models.NewTransaction("alice", models.TransactionFields{Title: "Dinner"})
		_, err := Reconcile(tx, "")
		assert.True(t, errors.Is(err, ErrMissingServerID))
		assert.Equal(t, models.ActionCreate, tx.Action)
	})

	t.Run("already persisted", func(t *testing.T) {
		tx := models.NewTransaction("alice", models.TransactionFields{Title: "Dinner"})
		tx.SyncState = models.PersistedSyncState("7")
		_, err := Reconcile(tx, "8")
		assert.True(t, errors.Is(err, ErrNotCreate))
		assert.Equal(t, "7", tx.ServerID)
	})
}

func TestReconcileAll(t *testing.T) {
	event := models.NewEvent("alice", models.EventFields{Title: "Trip"})
	p1 := models.NewParticipant("alice", "Alice")
	p2 := models.NewParticipant("bob", "Bob")
	event.AddParticipant(p1)
	event.AddParticipant(p2)

	ids := map[string]string{
		event.ClientTempID: "55",
		p1.ClientTempID:    "56",
	}

	rekeys, missing := ReconcileAll([]models.Entity{event, p1, p2}, ids)

	require.Len(t, rekeys, 2)
	require.Len(t, missing, 1)
	assert.Same(t, p2, missing[0])
	assert.Equal(t, "55", event.ServerID)
	assert.Equal(t, "56", p1.ServerID)
	assert.Equal(t, models.ActionCreate, p2.Action)
}
