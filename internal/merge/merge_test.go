package merge

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/shadow"
	"github.com/mmynk/eventsync/internal/wire"
)

var testDirectory = &StaticDirectory{
	Categories:     []string{"food", "travel"},
	PaymentMethods: []string{"card"},
	Users: []*models.User{
		{ID: "alice", Email: "alice@example.com"},
		{ID: "bob", Email: "bob@example.com", Aliases: []string{"bob-legacy"}},
		{ID: "carol", Email: "carol@example.com"},
	},
}

func persisted[T models.Entity](e T, id string) T {
	*e.Sync() = models.PersistedSyncState(id)
	return e
}

// newLocalEvent builds event 55 administered by alice.
func newLocalEvent() *models.Event {
	ev := persisted(models.NewEvent("alice", models.EventFields{
		Title:    "Ski trip",
		Amount:   decimal.NewFromInt(1200),
		Currency: "EUR",
	}), "55")

	for _, p := range []struct{ id, user string; status models.ParticipantStatus }{
		{"1", "alice", models.StatusAccepted},
		{"2", "bob", models.StatusAccepted},
		{"3", "carol", models.StatusPending},
	} {
		participant := persisted(models.NewParticipant(p.user, p.user), p.id)
		participant.Status = p.status
		ev.AddParticipant(participant)
	}

	item := persisted(models.NewItem(models.ItemFields{Name: "Cabin", Amount: decimal.NewFromInt(800), Quantity: 1}), "10")
	item.AddOption(persisted(models.NewItemOption(models.ItemOptionFields{Name: "Sauna", Price: decimal.NewFromInt(40)}), "20"))
	ev.AddItem(item)

	ev.AddTransaction(persisted(models.NewTransaction("alice", models.TransactionFields{
		Title: "Fuel", Amount: decimal.NewFromInt(50), Currency: "EUR", PaidBy: "alice", Active: true,
	}), "900"))
	ev.AddTransaction(persisted(models.NewTransaction("bob", models.TransactionFields{
		Title: "Groceries", Amount: decimal.NewFromInt(20), Currency: "EUR", PaidBy: "bob", Active: true,
	}), "901"))
	return ev
}

// snapshotOf mirrors a local event as the server would publish it.
func snapshotOf(ev *models.Event, updatedBy string) *wire.EventSnapshot {
	snap := &wire.EventSnapshot{
		ID:           ev.ServerID,
		Title:        ev.Title,
		Amount:       ev.Amount,
		Currency:     ev.Currency,
		EnteredBy:    ev.EnteredBy,
		UpdatedBy:    updatedBy,
		Participants: []wire.ParticipantSnapshot{},
		Items:        []wire.ItemSnapshot{},
		Transactions: []wire.TransactionSnapshot{},
	}
	for _, p := range ev.Participants {
		snap.Participants = append(snap.Participants, wire.ParticipantSnapshot{
			ID: p.ServerID, UserID: p.UserID, DisplayName: p.DisplayName, Status: p.Status, Active: p.Active, Share: p.Share,
		})
	}
	for _, i := range ev.Items {
		is := wire.ItemSnapshot{ID: i.ServerID, Name: i.Name, Amount: i.Amount, Quantity: i.Quantity, Options: []wire.OptionSnapshot{}}
		for _, o := range i.Options {
			is.Options = append(is.Options, wire.OptionSnapshot{ID: o.ServerID, Name: o.Name, Price: o.Price, ChosenBy: o.ChosenBy})
		}
		snap.Items = append(snap.Items, is)
	}
	for _, tx := range ev.Transactions {
		snap.Transactions = append(snap.Transactions, wire.TransactionSnapshot{
			ID: tx.ServerID, Title: tx.Title, Amount: tx.Amount, Currency: tx.Currency, PaidBy: tx.PaidBy,
			Date: tx.Date, Note: tx.Note, Active: tx.Active, EnteredBy: tx.EnteredBy,
		})
	}
	return snap
}

func remoteTransaction(snap *wire.EventSnapshot, id string) *wire.TransactionSnapshot {
	for i := range snap.Transactions {
		if snap.Transactions[i].ID == id {
			return &snap.Transactions[i]
		}
	}
	return nil
}

func TestMerge_TransactionAttribution(t *testing.T) {
	tests := []struct {
		name      string
		author    string
		txID      string
		wantApply bool
	}{
		{"payer edits own transaction", "bob", "901", true},
		{"payer known by alias", "bob-legacy", "901", true},
		{"other user edits foreign transaction", "carol", "901", false},
		{"admin edits foreign transaction", "alice", "901", false},
		{"admin edits own transaction", "alice", "900", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := newLocalEvent()
			snap := snapshotOf(local, tt.author)
			remoteTransaction(snap, tt.txID).Amount = decimal.NewFromInt(99)

			_, err := New(testDirectory).Merge(local, snap)
			require.NoError(t, err)

			tx := local.TransactionByServerID(tt.txID)
			require.NotNil(t, tx)
			assert.Equal(t, tt.wantApply, tx.Amount.Equal(decimal.NewFromInt(99)))
		})
	}
}

func TestMerge_UnownedTransactionAppliesFromAnyone(t *testing.T) {
	local := newLocalEvent()
	local.TransactionByServerID("901").PaidBy = ""
	snap := snapshotOf(local, "carol")
	remoteTransaction(snap, "901").Note = "split later"

	_, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.Equal(t, "split later", local.TransactionByServerID("901").Note)
}

func TestMerge_AdminRemovesParticipants(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "alice")
	snap.Participants[1].Active = false
	snap.Participants[2].Status = models.StatusRejected

	report, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.True(t, report.AdminUpdate)

	require.Len(t, local.Participants, 1)
	assert.Equal(t, "alice", local.Participants[0].UserID)
	assert.Len(t, report.Removed, 2)

	again, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.Empty(t, again.Removed, "removal is idempotent")
}

func TestMerge_AdminOverwritesDefinitions(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "alice")
	snap.Title = "Ski trip 2026"
	snap.Items[0].Name = "Chalet"
	snap.Items[0].Options = append(snap.Items[0].Options, wire.OptionSnapshot{ID: "21", Name: "Hot tub", Price: decimal.NewFromInt(60)})
	snap.Items = append(snap.Items, wire.ItemSnapshot{ID: "11", Name: "Ski pass", Amount: decimal.NewFromInt(300), Quantity: 3, Options: []wire.OptionSnapshot{}})
	snap.Participants = append(snap.Participants, wire.ParticipantSnapshot{ID: "4", UserID: "dave", Status: models.StatusPending, Active: true})
	snap.Participants[1].DisplayName = "Robert"

	unsent := models.NewItem(models.ItemFields{Name: "Snacks"})
	local.AddItem(unsent)

	report, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.True(t, report.FieldsUpdated)

	assert.Equal(t, "Ski trip 2026", local.Title)
	assert.Equal(t, "alice", local.UpdatedBy)
	assert.Equal(t, "Chalet", local.ItemByServerID("10").Name)
	assert.NotNil(t, local.ItemByServerID("10").OptionByServerID("21"))
	assert.NotNil(t, local.ItemByServerID("11"))
	assert.Contains(t, local.Items, unsent, "unsubmitted local items survive")
	assert.NotNil(t, local.ParticipantByServerID("4"))
	assert.Equal(t, "bob", local.ParticipantByServerID("2").DisplayName, "the admin does not overwrite another participant's row")
}

func TestMerge_AdminDropsItemsItNoLongerLists(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "alice")
	snap.Items = []wire.ItemSnapshot{}

	report, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.Empty(t, local.Items)
	assert.Len(t, report.Removed, 1)
}

func TestMerge_PeerCannotTouchEventFields(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "bob")
	snap.Title = "Bob's trip"
	snap.Items[0].Name = "Tent"

	report, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.False(t, report.AdminUpdate)
	assert.False(t, report.FieldsUpdated)
	assert.Equal(t, "Ski trip", local.Title)
	assert.Equal(t, "Cabin", local.ItemByServerID("10").Name)
}

func TestMerge_InvitationResponse(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "carol")
	snap.Participants[2].Status = models.StatusAccepted
	snap.Participants[2].Share = decimal.NewFromInt(1)

	_, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)

	carol := local.ParticipantByServerID("3")
	require.NotNil(t, carol)
	assert.Equal(t, models.StatusAccepted, carol.Status)
	assert.True(t, carol.Share.Equal(decimal.NewFromInt(1)))
}

func TestMerge_PeerDeclines(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "carol")
	snap.Participants[2].Status = models.StatusRejected

	report, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.Nil(t, local.ParticipantByServerID("3"))
	assert.Len(t, report.Removed, 1)
}

func TestMerge_PeerCannotEditOtherParticipant(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "carol")
	snap.Participants[1].DisplayName = "Robert"
	snap.Participants[1].Share = decimal.NewFromInt(5)

	_, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.Equal(t, "bob", local.ParticipantByServerID("2").DisplayName)
}

func TestMerge_AbsentCollectionsAreSkipped(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "alice")
	snap.Title = "Renamed"
	snap.Participants = nil
	snap.Items = nil
	snap.Transactions = nil

	report, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", local.Title)
	assert.ElementsMatch(t, []string{"items", "participants", "transactions"}, report.Skipped)
	assert.Len(t, local.Participants, 3)
	assert.Len(t, local.Items, 1)
	assert.Len(t, local.Transactions, 2)
}

func TestMerge_PreservesUnsavedLocalEdits(t *testing.T) {
	local := newLocalEvent()
	shadow.Snapshot(local)
	local.Title = "My title"
	fuel := local.TransactionByServerID("900")
	fuel.Note = "typing..."

	snap := snapshotOf(newLocalEvent(), "alice")
	snap.Title = "Admin title"
	remoteTransaction(snap, "900").Note = "remote note"
	snap.Items[0].Name = "Chalet"

	report, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)

	assert.Equal(t, "My title", local.Title)
	assert.Equal(t, "typing...", fuel.Note)
	assert.Contains(t, report.Preserved, models.Entity(local))
	assert.Contains(t, report.Preserved, models.Entity(fuel))

	assert.Equal(t, "Chalet", local.ItemByServerID("10").Name, "clean entities still merge")
	assert.False(t, shadow.IsDirty(local.ItemByServerID("10")), "merged state becomes the baseline")
}

func TestMerge_CancelKeepsMergedState(t *testing.T) {
	local := newLocalEvent()
	shadow.Snapshot(local)

	snap := snapshotOf(local, "alice")
	snap.Title = "Ski trip 2026"
	snap.Items = append(snap.Items, wire.ItemSnapshot{ID: "11", Name: "Ski pass", Options: []wire.OptionSnapshot{}})
	snap.Participants[1].Active = false

	_, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.False(t, shadow.IsDirty(local), "nothing local to save after a merge")

	require.True(t, shadow.Restore(local))
	assert.Equal(t, "Ski trip 2026", local.Title)
	assert.NotNil(t, local.ItemByServerID("11"))
	assert.Nil(t, local.ParticipantByServerID("2"))
}

func TestMerge_ResolvesReferences(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "bob")
	known, unknown, card := "food", "gambling", "card"
	remoteTransaction(snap, "901").Category = &unknown
	remoteTransaction(snap, "901").PaymentMethod = &card
	snap.Transactions = append(snap.Transactions, wire.TransactionSnapshot{
		ID: "902", Title: "Lunch", Amount: decimal.NewFromInt(15), PaidBy: "bob", Category: &known, Active: true,
	})

	_, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)

	groceries := local.TransactionByServerID("901")
	assert.False(t, groceries.Category.IsSome(), "unknown category resolves to none")
	assert.Equal(t, models.Some("card"), groceries.PaymentMethod)
	lunch := local.TransactionByServerID("902")
	require.NotNil(t, lunch)
	assert.Equal(t, models.Some("food"), lunch.Category)
}

func TestMerge_KeepsReferencesWithoutCatalog(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "bob")
	food, cash := "food", "cash"
	remoteTransaction(snap, "901").Category = &food
	remoteTransaction(snap, "901").PaymentMethod = &cash

	users := &StaticDirectory{Users: testDirectory.Users}
	_, err := New(users).Merge(local, snap)
	require.NoError(t, err)

	groceries := local.TransactionByServerID("901")
	assert.Equal(t, models.Some("food"), groceries.Category)
	assert.Equal(t, models.Some("cash"), groceries.PaymentMethod)

	empty := &StaticDirectory{Categories: []string{}, PaymentMethods: []string{}, Users: testDirectory.Users}
	assert.False(t, empty.HasCategory("food"))
	assert.False(t, empty.HasPaymentMethod("cash"))
}

func TestMerge_PayerDeletion(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "bob")
	snap.Transactions = snap.Transactions[:1]

	_, err := New(testDirectory).Merge(local, snap)
	require.NoError(t, err)
	assert.Nil(t, local.TransactionByServerID("901"))
	assert.NotNil(t, local.TransactionByServerID("900"))
}

func TestMerge_Mismatch(t *testing.T) {
	local := newLocalEvent()
	snap := snapshotOf(local, "alice")
	snap.ID = "56"

	_, err := New(testDirectory).Merge(local, snap)
	assert.ErrorIs(t, err, ErrAggregateMismatch)

	_, err = New(testDirectory).Merge(models.NewEvent("alice", models.EventFields{Title: "New"}), snapshotOf(local, "alice"))
	assert.ErrorIs(t, err, ErrAggregateMismatch)
}

func TestSameUser(t *testing.T) {
	assert.True(t, SameUser(testDirectory, "bob", "bob-legacy"))
	assert.True(t, SameUser(testDirectory, "BOB@example.com", "bob"))
	assert.False(t, SameUser(testDirectory, "bob", "carol"))
	assert.False(t, SameUser(testDirectory, "", ""))
	assert.True(t, SameUser(nil, "dave", "dave"))
}
