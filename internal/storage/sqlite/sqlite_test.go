package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "eventsync-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJournal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("SaveEntry upserts by local id", func(t *testing.T) {
		entry := &storage.Entry{
			LocalID:      "local-1",
			Kind:         models.KindEvent,
			ClientTempID: "tmp-1",
			Action:       models.ActionCreate,
			Payload:      []byte(`{"title":"Trip"}`),
			Dirty:        true,
		}
		if err := store.SaveEntry(ctx, entry); err != nil {
			t.Fatalf("SaveEntry failed: %v", err)
		}
		if entry.UpdatedAt == 0 {
			t.Error("Expected UpdatedAt to be set")
		}

		entry.ServerID = "55"
		entry.ClientTempID = ""
		entry.Action = models.ActionUpdate
		entry.Dirty = false
		if err := store.SaveEntry(ctx, entry); err != nil {
			t.Fatalf("SaveEntry (update) failed: %v", err)
		}

		got, err := store.GetEntry(ctx, "local-1")
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if got.ServerID != "55" || got.Action != models.ActionUpdate || got.Dirty {
			t.Errorf("Unexpected entry after upsert: %+v", got)
		}
		if string(got.Payload) != `{"title":"Trip"}` {
			t.Errorf("Expected payload to round trip, got %s", got.Payload)
		}
	})

	t.Run("ListPending returns only unfinished work", func(t *testing.T) {
		entries := []*storage.Entry{
			{LocalID: "create", Kind: models.KindTransaction, ClientTempID: "tmp-2", Action: models.ActionCreate, UpdatedAt: 1},
			{LocalID: "dirty", Kind: models.KindTransaction, ServerID: "900", Action: models.ActionUpdate, Dirty: true, UpdatedAt: 2},
			{LocalID: "clean", Kind: models.KindTransaction, ServerID: "901", Action: models.ActionUpdate, UpdatedAt: 3},
			{LocalID: "delete", Kind: models.KindParticipant, ServerID: "7", Action: models.ActionDelete, UpdatedAt: 4},
		}
		for _, e := range entries {
			if err := store.SaveEntry(ctx, e); err != nil {
				t.Fatalf("SaveEntry failed: %v", err)
			}
		}

		pending, err := store.ListPending(ctx)
		if err != nil {
			t.Fatalf("ListPending failed: %v", err)
		}
		var ids []string
		for _, e := range pending {
			ids = append(ids, e.LocalID)
		}
		want := []string{"create", "dirty", "delete"}
		if len(ids) != len(want) {
			t.Fatalf("Expected %v, got %v", want, ids)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Errorf("Expected %v, got %v", want, ids)
				break
			}
		}
	})

	t.Run("DeleteEntry removes the entry", func(t *testing.T) {
		if err := store.DeleteEntry(ctx, "create"); err != nil {
			t.Fatalf("DeleteEntry failed: %v", err)
		}
		_, err := store.GetEntry(ctx, "create")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if err := store.DeleteEntry(ctx, "create"); err != nil {
			t.Errorf("Deleting a missing entry should succeed, got %v", err)
		}
	})
}

func TestRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []*storage.NewRecord{
		{Record: storage.Record{Kind: models.KindEvent, Payload: []byte(`{}`), EnteredBy: "alice"}, ClientTempID: "tmp-1", ParentIndex: -1},
		{Record: storage.Record{Kind: models.KindItem, Payload: []byte(`{}`), EnteredBy: "alice"}, ClientTempID: "tmp-2", ParentIndex: 0},
		{Record: storage.Record{Kind: models.KindItemOption, Payload: []byte(`{}`), EnteredBy: "alice"}, ClientTempID: "tmp-3", ParentIndex: 1},
	}

	t.Run("CreateRecords assigns ids and links parents", func(t *testing.T) {
		if err := store.CreateRecords(ctx, batch); err != nil {
			t.Fatalf("CreateRecords failed: %v", err)
		}
		for i, rec := range batch {
			if rec.ID == "" {
				t.Errorf("Expected record %d to get an id", i)
			}
		}
		if batch[1].ParentID != batch[0].ID || batch[2].ParentID != batch[1].ID {
			t.Errorf("Expected parent links to follow the batch, got %q and %q", batch[1].ParentID, batch[2].ParentID)
		}
		if batch[0].UpdatedBy != "alice" {
			t.Errorf("Expected UpdatedBy to default to EnteredBy, got %q", batch[0].UpdatedBy)
		}
	})

	t.Run("CreateRecords rejects forward references", func(t *testing.T) {
		bad := []*storage.NewRecord{
			{Record: storage.Record{Kind: models.KindItem, Payload: []byte(`{}`)}, ParentIndex: 1},
			{Record: storage.Record{Kind: models.KindEvent, Payload: []byte(`{}`)}, ParentIndex: -1},
		}
		if err := store.CreateRecords(ctx, bad); err == nil {
			t.Error("Expected error for forward parent reference")
		}
	})

	t.Run("UpdateRecord replaces payload", func(t *testing.T) {
		if err := store.UpdateRecord(ctx, batch[0].ID, []byte(`{"title":"Ski"}`), "bob"); err != nil {
			t.Fatalf("UpdateRecord failed: %v", err)
		}
		rec, err := store.GetRecord(ctx, batch[0].ID)
		if err != nil {
			t.Fatalf("GetRecord failed: %v", err)
		}
		if string(rec.Payload) != `{"title":"Ski"}` || rec.UpdatedBy != "bob" {
			t.Errorf("Unexpected record after update: %+v", rec)
		}
	})

	t.Run("DeleteRecord cascades to descendants", func(t *testing.T) {
		if err := store.DeleteRecord(ctx, batch[1].ID, "alice"); err != nil {
			t.Fatalf("DeleteRecord failed: %v", err)
		}
		if _, err := store.GetRecord(ctx, batch[2].ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected option to be deleted with its item, got %v", err)
		}
		children, err := store.ListChildren(ctx, batch[0].ID)
		if err != nil {
			t.Fatalf("ListChildren failed: %v", err)
		}
		if len(children) != 0 {
			t.Errorf("Expected no live children, got %d", len(children))
		}
		if err := store.DeleteRecord(ctx, batch[1].ID, "alice"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
		}
	})
}

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := &models.User{
		ID:          "u-1",
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Aliases:     []string{"participant-7", "legacy-alice"},
	}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	got, err := store.GetUserByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if !got.Matches("participant-7") || !got.Matches("ALICE@example.com") {
		t.Errorf("Expected aliases to round trip, got %+v", got)
	}

	if _, err := store.GetUserByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 || len(users[0].Aliases) != 2 {
		t.Errorf("Unexpected users: %+v", users)
	}
}
