package template

import "errors"

// Sentinel errors for template management.
var (
	ErrNotFound     = errors.New("template not found")
	ErrForbidden    = errors.New("template belongs to another user")
	ErrInvalidInput = errors.New("invalid input")
)
