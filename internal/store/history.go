package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/scanbin/internal/model"
)

// InsertHistory appends an entry to the item history log.
func InsertHistory(ctx context.Context, q Querier, e *model.HistoryEntry) (int64, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO item_history (item_id, event, old_parent_id, new_parent_id, note, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ItemID, e.Event, e.OldParentID, e.NewParentID, e.Note, e.UserID, e.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("recording history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting history id: %w", err)
	}
	return id, nil
}

const historySelect = `SELECT h.id, h.item_id, h.event, h.old_parent_id, h.new_parent_id, h.note,
	        h.user_id, h.created_at,
	        i.reference, op.reference, np.reference, u.username
	 FROM item_history h
	 JOIN items i ON i.id = h.item_id
	 LEFT JOIN items op ON op.id = h.old_parent_id
	 LEFT JOIN items np ON np.id = h.new_parent_id
	 LEFT JOIN users u ON u.id = h.user_id`

// ListItemHistory returns the history of one item, newest first.
func ListItemHistory(ctx context.Context, q Querier, itemID int64) ([]model.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx,
		historySelect+` WHERE h.item_id = ? ORDER BY h.created_at DESC, h.id DESC`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting item history: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows)
}

// ListRecentHistory returns the newest history entries across all items.
func ListRecentHistory(ctx context.Context, q Querier, limit int) ([]model.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx,
		historySelect+` ORDER BY h.created_at DESC, h.id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows)
}

// ListUserHistory returns the newest changes made by one user.
func ListUserHistory(ctx context.Context, q Querier, userID int64, limit int) ([]model.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx,
		historySelect+` WHERE h.user_id = ? ORDER BY h.created_at DESC, h.id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing user history: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows)
}

func scanHistory(rows *sql.Rows) ([]model.HistoryEntry, error) {
	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var note, oldRef, newRef, username sql.NullString
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Event, &e.OldParentID, &e.NewParentID, &note,
			&e.UserID, &e.CreatedAt,
			&e.ItemReference, &oldRef, &newRef, &username); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		e.Note = note.String
		e.OldParentReference = oldRef.String
		e.NewParentReference = newRef.String
		e.Username = username.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
