package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrForbidden         = errors.New("campaign belongs to another user")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotEditable       = errors.New("campaign can no longer be edited")
	ErrMissingList       = errors.New("campaign has no contact list")
	ErrInvalidInput      = errors.New("invalid input")
	ErrScheduleInPast    = errors.New("scheduled time must be in the future")
	ErrUnknownReference  = errors.New("referenced list or template does not exist")
)
