package tree

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/store"
)

// Unfiled is the location of an item that is not stored inside anything.
const Unfiled = "Unfiled"

// PathToRoot returns the containers of an item, nearest first, not including
// the item itself.
func (m *Manager) PathToRoot(ctx context.Context, ref string) ([]model.Item, error) {
	item, err := m.itemByRef(ctx, m.db, ref)
	if err != nil {
		return nil, storeError(err)
	}
	ancestors, err := m.chain(ctx, m.db, item)
	return ancestors, storeError(err)
}

// Location renders ancestors, as returned by PathToRoot, root first:
// "Shed > Shelf 2 > Red box".
func Location(ancestors []model.Item) string {
	if len(ancestors) == 0 {
		return Unfiled
	}
	names := make([]string, len(ancestors))
	for i, a := range ancestors {
		names[len(ancestors)-1-i] = a.Name
	}
	return strings.Join(names, " > ")
}

// Children returns the items stored directly inside ref.
func (m *Manager) Children(ctx context.Context, ref string, includeDeleted bool) ([]model.Item, error) {
	item, err := m.itemByRef(ctx, m.db, ref)
	if err != nil {
		return nil, storeError(err)
	}
	children, err := store.ListChildren(ctx, m.db, item.ID, includeDeleted)
	return children, storeError(err)
}

// Descendants returns every live item below ref.
func (m *Manager) Descendants(ctx context.Context, ref string) ([]model.Item, error) {
	item, err := m.itemByRef(ctx, m.db, ref)
	if err != nil {
		return nil, storeError(err)
	}
	ids, err := store.ListLiveDescendantIDs(ctx, m.db, item.ID)
	if err != nil {
		return nil, storeError(err)
	}

	items := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		d, err := store.GetItem(ctx, m.db, id)
		if err != nil {
			return nil, storeError(err)
		}
		if d != nil {
			items = append(items, *d)
		}
	}
	return items, nil
}

// Candidate is a possible move destination with its full path.
type Candidate struct {
	Item model.Item `json:"item"`
	Path string     `json:"path"`
}

// MoveCandidates lists the live items ref could be moved into: everything
// except the item itself and what it contains, sorted by path. With
// containersOnly, only items that already hold something are listed.
func (m *Manager) MoveCandidates(ctx context.Context, ref string, containersOnly bool) ([]Candidate, error) {
	item, err := m.itemByRef(ctx, m.db, ref)
	if err != nil {
		return nil, storeError(err)
	}
	excluded, err := store.ListLiveDescendantIDs(ctx, m.db, item.ID)
	if err != nil {
		return nil, storeError(err)
	}
	items, err := store.ListItems(ctx, m.db, false)
	if err != nil {
		return nil, storeError(err)
	}

	skip := map[int64]bool{item.ID: true}
	for _, id := range excluded {
		skip[id] = true
	}
	byID := make(map[int64]*model.Item, len(items))
	holds := map[int64]bool{}
	for i := range items {
		byID[items[i].ID] = &items[i]
		if p := items[i].ParentID; p != nil {
			holds[*p] = true
		}
	}

	var candidates []Candidate
	for _, it := range items {
		if skip[it.ID] || (containersOnly && !holds[it.ID]) {
			continue
		}
		candidates = append(candidates, Candidate{Item: it, Path: pathOf(byID, &it)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Path < candidates[j].Path
	})
	return candidates, nil
}

// pathOf renders the root-first path of it including its own name, using
// only the given live items.
func pathOf(byID map[int64]*model.Item, it *model.Item) string {
	names := []string{it.Name}
	cur := it
	for depth := 0; cur.ParentID != nil && depth < MaxDepth; depth++ {
		parent, ok := byID[*cur.ParentID]
		if !ok {
			break
		}
		names = append(names, parent.Name)
		cur = parent
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, " > ")
}

// History returns the history of an item, newest first. Deleted items keep
// their history.
func (m *Manager) History(ctx context.Context, ref string) ([]model.HistoryEntry, error) {
	item, err := m.itemByRef(ctx, m.db, ref)
	if err != nil {
		return nil, storeError(err)
	}
	entries, err := store.ListItemHistory(ctx, m.db, item.ID)
	return entries, storeError(err)
}

// RecentHistory returns the newest history entries across all items.
func (m *Manager) RecentHistory(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidItem)
	}
	entries, err := store.ListRecentHistory(ctx, m.db, limit)
	return entries, storeError(err)
}
