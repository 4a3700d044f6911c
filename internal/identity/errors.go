package identity

import (
	"errors"
	"fmt"
)

// ErrMissingRequiredField is returned when an event lacks data needed to create a record.
var ErrMissingRequiredField = errors.New("missing required field")

// ErrRecordNotFound is returned when an update targets a subject with no local record.
var ErrRecordNotFound = errors.New("record not found")

// FieldError names the field that was missing.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingRequiredField, e.Field)
}

func (e *FieldError) Unwrap() error {
	return ErrMissingRequiredField
}
