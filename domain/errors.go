package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an entity id is not part of the collection.
	ErrNotFound = errors.New("entity not found")
	// ErrUnknownStatus is returned for status values outside the board layout.
	ErrUnknownStatus = errors.New("unknown status")
)

// UnknownStatusError reports entities whose status has no column.
type UnknownStatusError struct {
	IDs      []string
	Statuses []Status
}

func (e *UnknownStatusError) Error() string {
	parts := make([]string, len(e.IDs))
	for i := range e.IDs {
		parts[i] = fmt.Sprintf("%s=%q", e.IDs[i], e.Statuses[i])
	}
	return fmt.Sprintf("%d entities reference unknown status: %s", len(e.IDs), strings.Join(parts, ", "))
}

func (e *UnknownStatusError) Unwrap() error { return ErrUnknownStatus }
