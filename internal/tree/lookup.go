package tree

import (
	"context"
	"fmt"

	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/store"
)

// LookupReference finds an item by its internal reference. Deleted items are
// returned with Deleted set.
func (m *Manager) LookupReference(ctx context.Context, ref string) (*model.Item, error) {
	item, err := m.itemByRef(ctx, m.db, ref)
	return item, storeError(err)
}

// LookupExternal finds the item that owns an external barcode.
func (m *Manager) LookupExternal(ctx context.Context, code string) (*model.Item, error) {
	ids, err := store.ItemIDsByExternalCode(ctx, m.db, code)
	if err != nil {
		return nil, storeError(err)
	}
	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousExternalBarcode, code)
	}

	item, err := store.GetItem(ctx, m.db, ids[0])
	if err != nil {
		return nil, storeError(err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return item, nil
}

// Lookup finds an item by internal reference, then by external barcode.
func (m *Manager) Lookup(ctx context.Context, code string) (*model.Item, error) {
	item, err := store.GetItemByReference(ctx, m.db, code)
	if err != nil {
		return nil, storeError(err)
	}
	if item != nil {
		return item, nil
	}
	return m.LookupExternal(ctx, code)
}
