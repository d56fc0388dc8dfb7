package schema

import "errors"

// Sentinel errors for schema operations.
var (
	// ErrInitialization wraps failures while creating the template or database.
	ErrInitialization = errors.New("schema: initialisation failed")

	// ErrValidation wraps failures while binding devices to the template.
	ErrValidation = errors.New("schema: device validation failed")
)
