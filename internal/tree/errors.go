package tree

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by Manager. They are matched with errors.Is; most are
// wrapped with the offending reference.
var (
	ErrNotFound                 = errors.New("item not found")
	ErrAmbiguousExternalBarcode = errors.New("external barcode matches more than one item")
	ErrDuplicateReference       = errors.New("reference already in use")
	ErrDuplicateBarcode         = errors.New("external barcode already assigned")
	ErrCycleDetected            = errors.New("move would place item inside itself")
	ErrItemDeleted              = errors.New("item is deleted")
	ErrHasChildren              = errors.New("item still contains items")
	ErrParentDeleted            = errors.New("container is deleted")
	ErrNotDeleted               = errors.New("item is not deleted")
	ErrInvalidItem              = errors.New("invalid item")
	ErrInconsistent             = errors.New("containment tree is inconsistent")
	ErrStoreUnavailable         = errors.New("store unavailable")
)

var domainErrors = []error{
	ErrNotFound, ErrAmbiguousExternalBarcode, ErrDuplicateReference, ErrDuplicateBarcode,
	ErrCycleDetected, ErrItemDeleted, ErrHasChildren, ErrParentDeleted, ErrNotDeleted,
	ErrInvalidItem, ErrInconsistent, ErrStoreUnavailable,
}

// Retryable reports whether the operation that returned err may succeed if
// tried again unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// storeError turns anything that is not already a domain error into
// ErrStoreUnavailable, keeping the cause in the chain.
func storeError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
