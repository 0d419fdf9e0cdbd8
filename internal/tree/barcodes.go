package tree

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/store"
)

// AddExternalBarcode assigns an external code to an item. A code identifies
// at most one item, so assigning one that is already taken fails with
// ErrDuplicateBarcode.
func (m *Manager) AddExternalBarcode(ctx context.Context, actor model.Actor, ref, code, kind, notes string) (*model.ExternalBarcode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: barcode is required", ErrInvalidItem)
	}
	if kind == "" {
		kind = model.BarcodeKindUPC
	}
	kind = strings.ToUpper(kind)
	if !model.ValidBarcodeKind(kind) {
		return nil, fmt.Errorf("%w: unknown barcode kind %q", ErrInvalidItem, kind)
	}

	var added *model.ExternalBarcode
	err := m.withTx(ctx, func(tx *sql.Tx) error {
		item, err := m.liveItemByRef(ctx, tx, ref)
		if err != nil {
			return err
		}

		owners, err := store.ItemIDsByExternalCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if len(owners) > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateBarcode, code)
		}

		now := m.clock.Now()
		added, err = store.InsertExternalBarcode(ctx, tx, code, item.ID, kind, notes, now)
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateBarcode, code)
		}
		if err != nil {
			return err
		}

		_, err = store.InsertHistory(ctx, tx, &model.HistoryEntry{
			ItemID:    item.ID,
			Event:     model.EventUpdate,
			Note:      fmt.Sprintf("added %s barcode %s", kind, code),
			UserID:    actor.UserID,
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveExternalBarcode detaches an external code from an item.
func (m *Manager) RemoveExternalBarcode(ctx context.Context, actor model.Actor, ref, code string) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		item, err := m.itemByRef(ctx, tx, ref)
		if err != nil {
			return err
		}

		removed, err := store.DeleteExternalBarcode(ctx, tx, item.ID, code)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: barcode %s on %s", ErrNotFound, code, ref)
		}

		_, err = store.InsertHistory(ctx, tx, &model.HistoryEntry{
			ItemID:    item.ID,
			Event:     model.EventUpdate,
			Note:      fmt.Sprintf("removed barcode %s", code),
			UserID:    actor.UserID,
			CreatedAt: m.clock.Now(),
		})
		return err
	})
}

// ExternalBarcodes lists the external codes of an item.
func (m *Manager) ExternalBarcodes(ctx context.Context, ref string) ([]model.ExternalBarcode, error) {
	item, err := m.itemByRef(ctx, m.db, ref)
	if err != nil {
		return nil, storeError(err)
	}
	barcodes, err := store.ListExternalBarcodes(ctx, m.db, item.ID)
	return barcodes, storeError(err)
}

// SetPhoto stores an already normalized photo of an item.
func (m *Manager) SetPhoto(ctx context.Context, actor model.Actor, ref string, data []byte, mime string) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		item, err := m.liveItemByRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		now := m.clock.Now()
		if err := store.SetItemImage(ctx, tx, item.ID, data, mime, now); err != nil {
			return err
		}
		_, err = store.InsertHistory(ctx, tx, &model.HistoryEntry{
			ItemID:    item.ID,
			Event:     model.EventUpdate,
			Note:      "photo updated",
			UserID:    actor.UserID,
			CreatedAt: now,
		})
		return err
	})
}

// Photo returns the photo of an item, or ErrNotFound if it has none.
func (m *Manager) Photo(ctx context.Context, ref string) ([]byte, string, error) {
	item, err := m.itemByRef(ctx, m.db, ref)
	if err != nil {
		return nil, "", storeError(err)
	}
	data, mime, err := store.GetItemImage(ctx, m.db, item.ID)
	if err != nil {
		return nil, "", storeError(err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: no photo for %s", ErrNotFound, ref)
	}
	return data, mime, nil
}
