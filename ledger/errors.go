/*
errors.go - Centralized error types for the cession engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error a core operation returns falls into exactly one Kind, which
  the transport maps to a status code and callers can switch on.

ERROR KINDS:
  VALIDATION              Bad input; nothing was written
  NOT_FOUND               Referenced entity does not exist
  INVALID_STATE           Entity is not in the state the operation requires
  FORBIDDEN               Principal's role may not perform the operation
  IMMUTABILITY_VIOLATION  Attempt to change or remove an audit entry
  STORAGE                 Persistence failed or timed out; retryable

USAGE:
  var stateErr *ledger.InvalidStateError
  if errors.As(err, &stateErr) {
      log.Printf("expected %v, got %s", stateErr.Expected, stateErr.Actual)
  }

  switch ledger.KindOf(err) {
  case ledger.KindNotFound: ...
  }

SEE ALSO:
  - unit.go: Converts infrastructure failures into StorageError
  - api/errors.go: Maps kinds to HTTP status codes
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a transition's precondition fails.
	ErrInvalidState = errors.New("invalid state")

	// ErrForbidden is returned when the principal's role is not allowed.
	ErrForbidden = errors.New("forbidden")

	// ErrImmutable is returned for any attempt to change an audit entry.
	ErrImmutable = errors.New("audit entries are immutable")

	// ErrStorage is returned when persistence fails.
	ErrStorage = errors.New("storage failure")

	// ErrDuplicate is returned by stores when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate key")
)

// =============================================================================
// KINDS
// =============================================================================

type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindNotFound     Kind = "NOT_FOUND"
	KindInvalidState Kind = "INVALID_STATE"
	KindForbidden    Kind = "FORBIDDEN"
	KindImmutability Kind = "IMMUTABILITY_VIOLATION"
	KindStorage      Kind = "STORAGE"
	KindUnknown      Kind = "UNKNOWN"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
func (e *ValidationError) Kind() Kind    { return KindValidation }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
func (e *NotFoundError) Kind() Kind    { return KindNotFound }

// InvalidStateError carries the expected and actual status of the entity.
type InvalidStateError struct {
	Entity    string
	ID        string
	Operation string
	Expected  []string
	Actual    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: expected status %s, got %s",
		e.Operation, e.Entity, e.ID, strings.Join(e.Expected, " or "), e.Actual)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
func (e *InvalidStateError) Kind() Kind    { return KindInvalidState }

// ForbiddenError is returned by Principal.Authorize.
type ForbiddenError struct {
	Operation string
	Role      Role
	Allowed   []Role
}

func (e *ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("%s requires an authenticated principal", e.Operation)
	}
	allowed := make([]string, len(e.Allowed))
	for i, r := range e.Allowed {
		allowed[i] = string(r)
	}
	return fmt.Sprintf("role %s may not %s (allowed: %s)", e.Role, e.Operation, strings.Join(allowed, ", "))
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }
func (e *ForbiddenError) Kind() Kind    { return KindForbidden }

// ImmutabilityViolation is returned for every update or delete of an audit
// entry, regardless of who asks.
type ImmutabilityViolation struct {
	EntryID   AuditID
	Operation string
	Actor     UserID
	Role      Role
}

func (e *ImmutabilityViolation) Error() string {
	return fmt.Sprintf("audit entry %s cannot be %s (requested by %s)", e.EntryID, e.Operation, e.Actor)
}

func (e *ImmutabilityViolation) Unwrap() error { return ErrImmutable }
func (e *ImmutabilityViolation) Kind() Kind    { return KindImmutability }

// StorageError wraps a persistence failure. The underlying cause stays
// reachable through errors.Is / errors.As.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }
func (e *StorageError) Kind() Kind      { return KindStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

type kinded interface {
	Kind() Kind
}

// KindOf classifies err. Plain context errors count as storage failures
// because they only arise from deadlines on persistence.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrImmutable):
		return KindImmutability
	case errors.Is(err, ErrStorage),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindStorage
	}
	return KindUnknown
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindStorage
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindInvalidState, KindForbidden, KindImmutability:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// AsStorageError passes domain errors through unchanged and wraps anything
// else, including deadline expiry, in a StorageError for op.
func AsStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindInvalidState, KindForbidden, KindImmutability:
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
