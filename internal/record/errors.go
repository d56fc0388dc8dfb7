package record

import "errors"

// Sentinel errors for record construction.
var (
	// ErrInvalidRecord indicates an upstream object could not be turned into a Record.
	ErrInvalidRecord = errors.New("record: invalid source object")

	// ErrEmptyGroup indicates an audit entry was requested for zero records.
	ErrEmptyGroup = errors.New("record: no records in group")
)
