package tree

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/store"
)

// NewItem describes an item to create. An empty Reference allocates the
// next free one; an empty Parent creates a root item.
type NewItem struct {
	Reference   string
	Name        string
	Description string
	Parent      string
}

// RestoreOptions chooses where a restored item goes. The zero value puts it
// back into its former container.
type RestoreOptions struct {
	Parent string
	ToRoot bool
}

// cascadeReasonPrefix is prepended to the reason recorded on contents of a
// deleted container.
const cascadeReasonPrefix = "Parent container deleted: "

// Create adds a new item.
func (m *Manager) Create(ctx context.Context, actor model.Actor, n NewItem) (*model.Item, error) {
	name := strings.TrimSpace(n.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	ref := strings.TrimSpace(n.Reference)

	var created *model.Item
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		now := m.clock.Now()

		var parentID *int64
		if n.Parent != "" {
			parent, err := m.liveItemByRef(ctx, tx, n.Parent)
			if err != nil {
				return err
			}
			parentID = &parent.ID
		}

		if ref == "" {
			allocated, err := m.allocateReference(ctx, tx)
			if err != nil {
				return err
			}
			ref = allocated
		} else {
			existing, err := store.GetItemByReference(ctx, tx, ref)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("%w: %s", ErrDuplicateReference, ref)
			}
		}

		id, err := store.InsertItem(ctx, tx, ref, name, n.Description, parentID, now)
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, ref)
		}
		if err != nil {
			return err
		}

		if _, err := store.InsertHistory(ctx, tx, &model.HistoryEntry{
			ItemID:      id,
			Event:       model.EventCreate,
			NewParentID: parentID,
			Note:        name,
			UserID:      actor.UserID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		created, err = store.GetItem(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("item created", "item", created.Reference, "parent", n.Parent, "user", actor.Username)
	return created, nil
}

// allocateReference returns prefix + (highest id + 1), skipping references
// that were taken explicitly.
func (m *Manager) allocateReference(ctx context.Context, q store.Querier) (string, error) {
	maxID, err := store.MaxItemID(ctx, q)
	if err != nil {
		return "", err
	}
	for n := maxID + 1; ; n++ {
		ref := m.internalPrefix + strconv.FormatInt(n, 10)
		existing, err := store.GetItemByReference(ctx, q, ref)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return ref, nil
		}
	}
}

// Update changes an item's name and description.
func (m *Manager) Update(ctx context.Context, actor model.Actor, ref, name, description string) (*model.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidItem)
	}

	var updated *model.Item
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		item, err := m.liveItemByRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		if item.Name == name && item.Description == description {
			updated = item
			return nil
		}

		now := m.clock.Now()
		if err := store.UpdateItemDetails(ctx, tx, item.ID, name, description, now); err != nil {
			return err
		}
		note := "details updated"
		if item.Name != name {
			note = fmt.Sprintf("renamed from %q", item.Name)
		}
		if _, err := store.InsertHistory(ctx, tx, &model.HistoryEntry{
			ItemID:    item.ID,
			Event:     model.EventUpdate,
			Note:      note,
			UserID:    actor.UserID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		updated, err = store.GetItem(ctx, tx, item.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Move puts the item identified by ref into parentRef, or makes it a root
// item when parentRef is empty. The destination's ancestor chain is walked
// inside the transaction, so two racing moves cannot jointly form a cycle.
// Moving an item to where it already is changes nothing.
func (m *Manager) Move(ctx context.Context, actor model.Actor, ref, parentRef string) (*model.Item, error) {
	var moved *model.Item
	var changed bool
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		item, err := m.liveItemByRef(ctx, tx, ref)
		if err != nil {
			return err
		}

		var newParentID *int64
		if parentRef != "" {
			parent, err := m.liveItemByRef(ctx, tx, parentRef)
			if err != nil {
				return err
			}
			if err := m.checkNoCycle(ctx, tx, item, parent); err != nil {
				return err
			}
			newParentID = &parent.ID
		}

		if sameParent(item.ParentID, newParentID) {
			moved = item
			return nil
		}

		now := m.clock.Now()
		if err := store.SetItemParent(ctx, tx, item.ID, newParentID, now); err != nil {
			return err
		}
		if _, err := store.InsertHistory(ctx, tx, &model.HistoryEntry{
			ItemID:      item.ID,
			Event:       model.EventMove,
			OldParentID: item.ParentID,
			NewParentID: newParentID,
			UserID:      actor.UserID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		changed = true
		moved, err = store.GetItem(ctx, tx, item.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		m.logger.Info("item moved", "item", ref, "to", parentRef, "user", actor.Username)
	}
	return moved, nil
}

// checkNoCycle fails if parent is item or lies below it.
func (m *Manager) checkNoCycle(ctx context.Context, q store.Querier, item, parent *model.Item) error {
	if parent.ID == item.ID {
		return fmt.Errorf("%w: %s into itself", ErrCycleDetected, item.Reference)
	}
	ancestors, err := m.chain(ctx, q, parent)
	if err != nil {
		return err
	}
	for _, a := range ancestors {
		if a.ID == item.ID {
			return fmt.Errorf("%w: %s is inside %s", ErrCycleDetected, parent.Reference, item.Reference)
		}
	}
	return nil
}

// SoftDelete marks an item deleted. Under PolicyCascade every live item
// below it is deleted too, each with its own history entry; under
// PolicyBlock the delete fails while the item holds live items.
func (m *Manager) SoftDelete(ctx context.Context, actor model.Actor, ref, reason string) (*model.Item, error) {
	var deleted *model.Item
	var cascaded int
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		item, err := m.liveItemByRef(ctx, tx, ref)
		if err != nil {
			return err
		}

		descendants, err := store.ListLiveDescendantIDs(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		if len(descendants) > 0 && m.policy == PolicyBlock {
			return fmt.Errorf("%w: %s holds %d items", ErrHasChildren, ref, len(descendants))
		}

		for _, id := range descendants {
			if err := m.markDeleted(ctx, tx, actor, id, cascadeReasonPrefix+reason); err != nil {
				return err
			}
		}
		cascaded = len(descendants)

		if err := m.markDeleted(ctx, tx, actor, item.ID, reason); err != nil {
			return err
		}

		deleted, err = store.GetItem(ctx, tx, item.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("item deleted", "item", ref, "reason", reason, "cascaded", cascaded, "user", actor.Username)
	return deleted, nil
}

func (m *Manager) markDeleted(ctx context.Context, tx *sql.Tx, actor model.Actor, id int64, reason string) error {
	now := m.clock.Now()
	if err := store.MarkItemDeleted(ctx, tx, id, reason, now); err != nil {
		return err
	}
	_, err := store.InsertHistory(ctx, tx, &model.HistoryEntry{
		ItemID:    id,
		Event:     model.EventDelete,
		Note:      reason,
		UserID:    actor.UserID,
		CreatedAt: now,
	})
	return err
}

// Restore clears the deleted flag of an item. Without options it goes back
// into its former container, which must be live. Items deleted along with
// it stay deleted.
func (m *Manager) Restore(ctx context.Context, actor model.Actor, ref string, opts RestoreOptions) (*model.Item, error) {
	var restored *model.Item
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		item, err := m.itemByRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		if !item.Deleted {
			return fmt.Errorf("%w: %s", ErrNotDeleted, ref)
		}

		var parentID *int64
		switch {
		case opts.ToRoot:
		case opts.Parent != "":
			parent, err := m.itemByRef(ctx, tx, opts.Parent)
			if err != nil {
				return err
			}
			if parent.Deleted {
				return fmt.Errorf("%w: %s", ErrParentDeleted, parent.Reference)
			}
			if err := m.checkNoCycle(ctx, tx, item, parent); err != nil {
				return err
			}
			parentID = &parent.ID
		case item.ParentID != nil:
			parent, err := store.GetItem(ctx, tx, *item.ParentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return fmt.Errorf("%w: former container of %s is missing", ErrInconsistent, ref)
			}
			if parent.Deleted {
				return fmt.Errorf("%w: %s", ErrParentDeleted, parent.Reference)
			}
			parentID = item.ParentID
		}

		now := m.clock.Now()
		if err := store.ClearItemDeleted(ctx, tx, item.ID, parentID, now); err != nil {
			return err
		}
		if _, err := store.InsertHistory(ctx, tx, &model.HistoryEntry{
			ItemID:      item.ID,
			Event:       model.EventRestore,
			OldParentID: item.ParentID,
			NewParentID: parentID,
			UserID:      actor.UserID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		restored, err = store.GetItem(ctx, tx, item.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("item restored", "item", ref, "user", actor.Username)
	return restored, nil
}

// Audit records that an item was physically verified where the tree says it is.
func (m *Manager) Audit(ctx context.Context, actor model.Actor, ref, note string) (*model.Item, error) {
	var audited *model.Item
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		item, err := m.liveItemByRef(ctx, tx, ref)
		if err != nil {
			return err
		}

		now := m.clock.Now()
		if err := store.SetItemAudited(ctx, tx, item.ID, now); err != nil {
			return err
		}
		if _, err := store.InsertHistory(ctx, tx, &model.HistoryEntry{
			ItemID:      item.ID,
			Event:       model.EventAudit,
			NewParentID: item.ParentID,
			Note:        note,
			UserID:      actor.UserID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		audited, err = store.GetItem(ctx, tx, item.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("item audited", "item", ref, "user", actor.Username)
	return audited, nil
}
