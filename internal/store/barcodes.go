package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/scanbin/internal/model"
)

// InsertExternalBarcode associates an external code with an item.
// The code column is UNIQUE; callers check IsUniqueViolation on error.
func InsertExternalBarcode(ctx context.Context, q Querier, code string, itemID int64, kind, notes string, now time.Time) (*model.ExternalBarcode, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO external_barcodes (code, item_id, kind, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
		code, itemID, kind, notes, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating external barcode: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting external barcode id: %w", err)
	}

	return &model.ExternalBarcode{
		ID:        id,
		Code:      code,
		ItemID:    itemID,
		Kind:      kind,
		Notes:     notes,
		CreatedAt: now,
	}, nil
}

// ItemIDsByExternalCode returns the items that own code. The unique index
// means at most one is expected; up to two are returned so callers can
// detect a violated invariant.
func ItemIDsByExternalCode(ctx context.Context, q Querier, code string) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT item_id FROM external_barcodes WHERE code = ? LIMIT 2`, code,
	)
	if err != nil {
		return nil, fmt.Errorf("finding external barcode: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning external barcode: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListExternalBarcodes returns the external barcodes of an item.
func ListExternalBarcodes(ctx context.Context, q Querier, itemID int64) ([]model.ExternalBarcode, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, code, item_id, kind, notes, created_at
		 FROM external_barcodes WHERE item_id = ? ORDER BY kind, code`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing external barcodes: %w", err)
	}
	defer rows.Close()

	var barcodes []model.ExternalBarcode
	for rows.Next() {
		var b model.ExternalBarcode
		var notes sql.NullString
		if err := rows.Scan(&b.ID, &b.Code, &b.ItemID, &b.Kind, &notes, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning external barcode: %w", err)
		}
		b.Notes = notes.String
		barcodes = append(barcodes, b)
	}
	return barcodes, rows.Err()
}

// DeleteExternalBarcode removes code from an item. It reports whether a row
// was removed.
func DeleteExternalBarcode(ctx context.Context, q Querier, itemID int64, code string) (bool, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM external_barcodes WHERE item_id = ? AND code = ?`, itemID, code,
	)
	if err != nil {
		return false, fmt.Errorf("deleting external barcode: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting external barcode: %w", err)
	}
	return n > 0, nil
}
