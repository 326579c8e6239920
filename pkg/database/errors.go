package database

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence wraps every failure to read or write the backing data.
	ErrPersistence = errors.New("persistence failure")
	// ErrConflict is returned by InsertUnique and UpdateUnique when a unique
	// field is taken.
	ErrConflict = errors.New("unique field conflict")
)

// ConflictError names the field found already in use.
type ConflictError struct {
	Collection string
	Field      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s.%s already exists", ErrConflict, e.Collection, e.Field)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}
