package contact

import "errors"

// Sentinel errors for contact list management.
var (
	ErrNotFound     = errors.New("contact list not found")
	ErrForbidden    = errors.New("contact list belongs to another user")
	ErrInvalidInput = errors.New("invalid input")
)
