package model

import "time"

// HistoryEntry is one append-only record of a change to an item.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	ItemID      int64     `json:"item_id"`
	Event       string    `json:"event"`
	OldParentID *int64    `json:"old_parent_id,omitempty"`
	NewParentID *int64    `json:"new_parent_id,omitempty"`
	Note        string    `json:"note,omitempty"`
	UserID      *int64    `json:"user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Joined fields (not always populated).
	ItemReference      string `json:"item_reference,omitempty"`
	OldParentReference string `json:"old_parent_reference,omitempty"`
	NewParentReference string `json:"new_parent_reference,omitempty"`
	Username           string `json:"username,omitempty"`
}

// History events.
const (
	EventCreate  = "create"
	EventMove    = "move"
	EventAudit   = "audit"
	EventDelete  = "delete"
	EventRestore = "restore"
	EventUpdate  = "update"
)
