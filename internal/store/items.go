package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/scanbin/internal/model"
)

const itemColumns = `id, reference, name, description, parent_id, image_mime,
	last_audited_at, deleted_at, deletion_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var description, imageMime, reason sql.NullString
	err := row.Scan(&item.ID, &item.Reference, &item.Name, &description, &item.ParentID, &imageMime,
		&item.LastAuditedAt, &item.DeletedAt, &reason, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Description = description.String
	item.ImageMime = imageMime.String
	item.DeletionReason = reason.String
	item.Deleted = item.DeletedAt != nil
	return item, nil
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// InsertItem inserts a new item and returns its ID.
func InsertItem(ctx context.Context, q Querier, reference, name, description string, parentID *int64, now time.Time) (int64, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO items (reference, name, description, parent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		reference, name, description, parentID, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting item id: %w", err)
	}
	return id, nil
}

// GetItem returns an item by ID, including soft-deleted items.
func GetItem(ctx context.Context, q Querier, id int64) (*model.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// GetItemByReference returns an item by its internal reference, including
// soft-deleted items.
func GetItemByReference(ctx context.Context, q Querier, reference string) (*model.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE reference = ?`, reference,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item by reference: %w", err)
	}
	return item, nil
}

// MaxItemID returns the highest item ID in use, or 0 for an empty table.
func MaxItemID(ctx context.Context, q Querier) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM items`).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max item id: %w", err)
	}
	return id, nil
}

// ListItems returns items ordered by name. Soft-deleted items are only
// included when includeDeleted is set.
func ListItems(ctx context.Context, q Querier, includeDeleted bool) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY name, id`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ListChildren returns the items stored directly inside parentID.
func ListChildren(ctx context.Context, q Querier, parentID int64, includeDeleted bool) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE parent_id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY name, id`

	rows, err := q.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing children: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ListAncestors returns the chain of parents of id, nearest first, following
// parent_id regardless of deletion. At most limit rows are returned, so a
// corrupted chain that loops still terminates.
func ListAncestors(ctx context.Context, q Querier, id int64, limit int) ([]model.Item, error) {
	rows, err := q.QueryContext(ctx,
		`WITH RECURSIVE chain(id, parent_id, depth) AS (
		     SELECT id, parent_id, 0 FROM items WHERE id = ?
		     UNION ALL
		     SELECT i.id, i.parent_id, c.depth + 1
		     FROM items i JOIN chain c ON i.id = c.parent_id
		     WHERE c.depth < ?
		 )
		 SELECT i.id, i.reference, i.name, i.description, i.parent_id, i.image_mime,
		        i.last_audited_at, i.deleted_at, i.deletion_reason, i.created_at, i.updated_at
		 FROM chain c JOIN items i ON i.id = c.id
		 WHERE c.depth > 0
		 ORDER BY c.depth`, id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing ancestors: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ListLiveDescendantIDs returns the IDs of all non-deleted items below id.
// Descent stops at deleted items.
func ListLiveDescendantIDs(ctx context.Context, q Querier, id int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`WITH RECURSIVE sub(id) AS (
		     SELECT id FROM items WHERE parent_id = ? AND deleted_at IS NULL
		     UNION
		     SELECT i.id FROM items i JOIN sub s ON i.parent_id = s.id
		     WHERE i.deleted_at IS NULL
		 )
		 SELECT id FROM sub`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("listing descendants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning descendant: %w", err)
		}
		ids = append(ids, d)
	}
	return ids, rows.Err()
}

// UpdateItemDetails updates an item's name and description.
func UpdateItemDetails(ctx context.Context, q Querier, id int64, name, description string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE items SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		name, description, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// SetItemParent changes the container of an item. A nil parentID makes it a root.
func SetItemParent(ctx context.Context, q Querier, id int64, parentID *int64, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE items SET parent_id = ?, updated_at = ? WHERE id = ?`,
		parentID, now, id,
	)
	if err != nil {
		return fmt.Errorf("setting item parent: %w", err)
	}
	return nil
}

// MarkItemDeleted soft-deletes an item.
func MarkItemDeleted(ctx context.Context, q Querier, id int64, reason string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE items SET deleted_at = ?, deletion_reason = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		now, reason, now, id,
	)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// ClearItemDeleted restores a soft-deleted item into parentID.
func ClearItemDeleted(ctx context.Context, q Querier, id int64, parentID *int64, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE items SET deleted_at = NULL, deletion_reason = NULL, parent_id = ?, updated_at = ?
		 WHERE id = ?`,
		parentID, now, id,
	)
	if err != nil {
		return fmt.Errorf("restoring item: %w", err)
	}
	return nil
}

// SetItemAudited stamps the time an item was last physically verified.
func SetItemAudited(ctx context.Context, q Querier, id int64, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE items SET last_audited_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("auditing item: %w", err)
	}
	return nil
}

// SetItemImage sets an item's image data.
func SetItemImage(ctx context.Context, q Querier, id int64, image []byte, mime string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE items SET image = ?, image_mime = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		image, mime, now, id,
	)
	if err != nil {
		return fmt.Errorf("setting item image: %w", err)
	}
	return nil
}

// GetItemImage returns an item's image data and MIME type.
func GetItemImage(ctx context.Context, q Querier, id int64) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT image, image_mime FROM items WHERE id = ?`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return image, mime.String, nil
}
