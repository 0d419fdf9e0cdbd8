package model

import "time"

// Item is anything that can be tracked: a tool, a part, a box, a shelf, a
// room. Items are stored inside other items through ParentID.
type Item struct {
	ID             int64      `json:"id"`
	Reference      string     `json:"reference"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	ParentID       *int64     `json:"parent_id,omitempty"`
	ImageMime      string     `json:"image_mime,omitempty"`
	LastAuditedAt  *time.Time `json:"last_audited_at,omitempty"`
	Deleted        bool       `json:"deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletionReason string     `json:"deletion_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsRoot reports whether the item is not stored inside anything.
func (i *Item) IsRoot() bool {
	return i.ParentID == nil
}

// ExternalBarcode is a third-party code (UPC, serial, ...) that identifies
// exactly one item.
type ExternalBarcode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	ItemID    int64     `json:"item_id"`
	Kind      string    `json:"kind"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// External barcode kinds.
const (
	BarcodeKindUPC         = "UPC"
	BarcodeKindOrder       = "ORDER"
	BarcodeKindSerial      = "SERIAL"
	BarcodeKindDistributor = "DISTRIBUTOR"
	BarcodeKindShipping    = "SHIPPING"
	BarcodeKindOther       = "OTHER"
)

// ValidBarcodeKind reports whether kind is one of the known external barcode kinds.
func ValidBarcodeKind(kind string) bool {
	switch kind {
	case BarcodeKindUPC, BarcodeKindOrder, BarcodeKindSerial,
		BarcodeKindDistributor, BarcodeKindShipping, BarcodeKindOther:
		return true
	}
	return false
}
