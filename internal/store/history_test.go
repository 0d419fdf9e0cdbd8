package store

import (
	"context"
	"testing"

	"github.com/erazemk/scanbin/internal/db"
	"github.com/erazemk/scanbin/internal/model"
)

func TestHistoryJoinsReferences(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, _ := CreateUser(ctx, database, "alice", "hash", model.RoleUser)
	shed := mustInsertItem(t, database, "T=1", "Shed", nil)
	box := mustInsertItem(t, database, "T=2", "Box", nil)

	_, err := InsertHistory(ctx, database, &model.HistoryEntry{
		ItemID:      box,
		Event:       model.EventMove,
		NewParentID: &shed,
		UserID:      &user.ID,
		CreatedAt:   testNow,
	})
	if err != nil {
		t.Fatalf("InsertHistory: %v", err)
	}

	entries, err := ListItemHistory(ctx, database, box)
	if err != nil {
		t.Fatalf("ListItemHistory: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ItemReference != "T=2" || e.NewParentReference != "T=1" || e.OldParentReference != "" {
		t.Errorf("unexpected references: %+v", e)
	}
	if e.Username != "alice" {
		t.Errorf("expected username alice, got %q", e.Username)
	}
}

func TestListRecentHistoryNewestFirst(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	a := mustInsertItem(t, database, "T=1", "A", nil)
	b := mustInsertItem(t, database, "T=2", "B", nil)
	InsertHistory(ctx, database, &model.HistoryEntry{ItemID: a, Event: model.EventCreate, CreatedAt: testNow})
	InsertHistory(ctx, database, &model.HistoryEntry{ItemID: b, Event: model.EventCreate, CreatedAt: testNow})
	InsertHistory(ctx, database, &model.HistoryEntry{ItemID: a, Event: model.EventAudit, CreatedAt: testNow})

	entries, _ := ListRecentHistory(ctx, database, 2)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Event != model.EventAudit || entries[1].ItemID != b {
		t.Errorf("expected newest first, got %+v", entries)
	}
}

func TestListUserHistory(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	alice, _ := CreateUser(ctx, database, "alice", "hash", model.RoleUser)
	bob, _ := CreateUser(ctx, database, "bob", "hash", model.RoleUser)
	a := mustInsertItem(t, database, "T=1", "A", nil)
	InsertHistory(ctx, database, &model.HistoryEntry{ItemID: a, Event: model.EventCreate, UserID: &alice.ID, CreatedAt: testNow})
	InsertHistory(ctx, database, &model.HistoryEntry{ItemID: a, Event: model.EventAudit, UserID: &bob.ID, CreatedAt: testNow})
	InsertHistory(ctx, database, &model.HistoryEntry{ItemID: a, Event: model.EventAudit, UserID: &alice.ID, CreatedAt: testNow})

	entries, err := ListUserHistory(ctx, database, alice.ID, 10)
	if err != nil {
		t.Fatalf("ListUserHistory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for alice, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Username != "alice" {
			t.Errorf("expected only alice's entries, got %+v", e)
		}
	}
	if entries[0].Event != model.EventAudit {
		t.Errorf("expected newest first, got %q", entries[0].Event)
	}
}
