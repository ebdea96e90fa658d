package ledger

import "errors"

var (
	// ErrUnknownItem is returned when a sale names an item outside the catalog.
	ErrUnknownItem = errors.New("ledger: unknown catalog item")
	// ErrIO marks create/open/read/write failures at the persistence boundary.
	ErrIO = errors.New("ledger: persistence io failure")
	// ErrDecode marks persisted content that cannot be decoded.
	ErrDecode = errors.New("ledger: malformed persisted state")
)
