package invest

import "errors"

var (
	// ErrPositionNotFound is returned when the referenced position does not exist.
	ErrPositionNotFound = errors.New("position not found")
)
