package storage

import (
	"errors"
	"fmt"

	"github.com/engramhq/engram/pkg/record"
)

// NotFoundError is returned for operations on an unknown record ID.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "record not found"
	}
	return "record not found: " + e.ID
}

// ValidationError is returned for invalid input (bad context value,
// importance out of range). Never retried, always surfaced to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError is returned by SetTier when a record's tier changed
// underneath the caller since it was read. Migration treats it as a
// per-item no-op.
type ConflictError struct {
	ID       string
	Expected record.Tier
	Actual   record.Tier
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("record %s: tier is %s, expected %s", e.ID, e.Actual, e.Expected)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c ConflictError
	return errors.As(err, &c)
}
