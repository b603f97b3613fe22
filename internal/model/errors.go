package model

import (
	"errors"
	"fmt"
)

// ValidationError means a record is missing a required identity field or is
// otherwise unusable. The record is skipped and counted.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s: %s", e.Kind, e.Field, e.Reason)
}

// OrphanRecordError means a contact references an organization that cannot
// be resolved. The record is skipped and counted.
type OrphanRecordError struct {
	CompanyName    string
	CompanyAddress string
}

func (e *OrphanRecordError) Error() string {
	if e.CompanyAddress != "" {
		return fmt.Sprintf("orphan contact: no organization %q at %q", e.CompanyName, e.CompanyAddress)
	}
	return fmt.Sprintf("orphan contact: no organization %q", e.CompanyName)
}

// TransientStoreError wraps a store failure that is safe to retry (lock
// contention, serialization failure, dropped connection).
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error: %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// RunStateError aborts a whole run: a concurrent run holds the lock, or a
// run-wide step (deactivation, retention) failed.
type RunStateError struct {
	Op  string
	Err error
}

func (e *RunStateError) Error() string {
	return fmt.Sprintf("run state: %s: %v", e.Op, e.Err)
}

func (e *RunStateError) Unwrap() error { return e.Err }

// ErrRunActive is wrapped in a RunStateError when another run holds the lock.
var ErrRunActive = errors.New("another ingestion run is active")

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsOrphan reports whether err is or wraps an OrphanRecordError.
func IsOrphan(err error) bool {
	var target *OrphanRecordError
	return errors.As(err, &target)
}

// IsTransient reports whether err is or wraps a TransientStoreError.
func IsTransient(err error) bool {
	var target *TransientStoreError
	return errors.As(err, &target)
}

// IsRunState reports whether err is or wraps a RunStateError.
func IsRunState(err error) bool {
	var target *RunStateError
	return errors.As(err, &target)
}
