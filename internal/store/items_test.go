package store

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/scanbin/internal/db"
)

var testNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func mustInsertItem(t *testing.T, q Querier, ref, name string, parentID *int64) int64 {
	t.Helper()
	id, err := InsertItem(context.Background(), q, ref, name, "", parentID, testNow)
	if err != nil {
		t.Fatalf("InsertItem(%s): %v", ref, err)
	}
	return id
}

func TestInsertAndGetItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	id, err := InsertItem(ctx, database, "T=1", "Shed", "garden shed", nil, testNow)
	if err != nil {
		t.Fatalf("InsertItem: %v", err)
	}

	item, err := GetItem(ctx, database, id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.Reference != "T=1" || item.Name != "Shed" || item.Description != "garden shed" {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.ParentID != nil || item.Deleted {
		t.Errorf("expected live root item, got parent=%v deleted=%v", item.ParentID, item.Deleted)
	}
	if !item.CreatedAt.Equal(testNow) {
		t.Errorf("expected created_at %v, got %v", testNow, item.CreatedAt)
	}

	byRef, _ := GetItemByReference(ctx, database, "T=1")
	if byRef == nil || byRef.ID != id {
		t.Errorf("expected lookup by reference to find item %d, got %+v", id, byRef)
	}

	missing, err := GetItemByReference(ctx, database, "T=404")
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil) for missing item, got (%v, %v)", missing, err)
	}
}

func TestDuplicateReferenceIsUniqueViolation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	mustInsertItem(t, database, "T=1", "Shed", nil)
	_, err := InsertItem(ctx, database, "T=1", "Other", "", nil, testNow)
	if err == nil {
		t.Fatal("expected duplicate reference to fail")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("expected unique violation, got %v", err)
	}
}

func TestListAncestorsNearestFirst(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	shed := mustInsertItem(t, database, "T=1", "Shed", nil)
	shelf := mustInsertItem(t, database, "T=2", "Shelf", &shed)
	box := mustInsertItem(t, database, "T=3", "Box", &shelf)

	ancestors, err := ListAncestors(ctx, database, box, 100)
	if err != nil {
		t.Fatalf("ListAncestors: %v", err)
	}
	if len(ancestors) != 2 || ancestors[0].ID != shelf || ancestors[1].ID != shed {
		t.Errorf("expected [shelf, shed], got %+v", ancestors)
	}

	root, _ := ListAncestors(ctx, database, shed, 100)
	if len(root) != 0 {
		t.Errorf("expected no ancestors for root, got %d", len(root))
	}
}

func TestListAncestorsStopsAtLimitOnLoop(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	a := mustInsertItem(t, database, "T=1", "A", nil)
	b := mustInsertItem(t, database, "T=2", "B", &a)
	// Corrupt the tree behind the store's back.
	SetItemParent(ctx, database, a, &b, testNow)

	ancestors, err := ListAncestors(ctx, database, a, 10)
	if err != nil {
		t.Fatalf("ListAncestors: %v", err)
	}
	if len(ancestors) != 10 {
		t.Errorf("expected walk to stop at limit 10, got %d", len(ancestors))
	}
}

func TestListChildrenAndDescendants(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	shed := mustInsertItem(t, database, "T=1", "Shed", nil)
	shelf := mustInsertItem(t, database, "T=2", "Shelf", &shed)
	mustInsertItem(t, database, "T=3", "Box", &shelf)
	gone := mustInsertItem(t, database, "T=4", "Broken box", &shed)
	mustInsertItem(t, database, "T=5", "Under broken box", &gone)
	MarkItemDeleted(ctx, database, gone, "broken", testNow)

	live, _ := ListChildren(ctx, database, shed, false)
	if len(live) != 1 {
		t.Errorf("expected 1 live child, got %d", len(live))
	}
	all, _ := ListChildren(ctx, database, shed, true)
	if len(all) != 2 {
		t.Errorf("expected 2 children including deleted, got %d", len(all))
	}

	ids, err := ListLiveDescendantIDs(ctx, database, shed)
	if err != nil {
		t.Fatalf("ListLiveDescendantIDs: %v", err)
	}
	// Shelf and Box; nothing below the deleted box.
	if len(ids) != 2 {
		t.Errorf("expected 2 live descendants, got %v", ids)
	}
}

func TestMarkAndClearDeleted(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	id := mustInsertItem(t, database, "T=1", "Delete Me", nil)
	if err := MarkItemDeleted(ctx, database, id, "consumed", testNow); err != nil {
		t.Fatalf("MarkItemDeleted: %v", err)
	}

	items, _ := ListItems(ctx, database, false)
	if len(items) != 0 {
		t.Errorf("expected 0 live items after soft delete, got %d", len(items))
	}

	// Should still be fetchable by reference (for history).
	got, _ := GetItemByReference(ctx, database, "T=1")
	if got == nil || !got.Deleted || got.DeletionReason != "consumed" {
		t.Fatalf("expected soft-deleted item with reason, got %+v", got)
	}

	if err := ClearItemDeleted(ctx, database, id, nil, testNow); err != nil {
		t.Fatalf("ClearItemDeleted: %v", err)
	}
	got, _ = GetItem(ctx, database, id)
	if got.Deleted || got.DeletionReason != "" {
		t.Errorf("expected restored item, got %+v", got)
	}
}

func TestItemImage(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	id := mustInsertItem(t, database, "T=1", "Photo Item", nil)
	SetItemImage(ctx, database, id, []byte("fake image data"), "image/jpeg", testNow)

	data, mime, err := GetItemImage(ctx, database, id)
	if err != nil {
		t.Fatalf("GetItemImage: %v", err)
	}
	if string(data) != "fake image data" {
		t.Errorf("expected image data, got %q", string(data))
	}
	if mime != "image/jpeg" {
		t.Errorf("expected mime 'image/jpeg', got %q", mime)
	}
}
