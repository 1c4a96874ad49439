// Package errs defines the error taxonomy shared by every subsystem. Errors
// carry a Kind so transport layers can map them to status codes without
// inspecting message text.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to branch on failure class
// rather than on concrete sentinel values.
type Kind string

const (
	// KindValidation indicates malformed or out-of-range input.
	KindValidation Kind = "validation"

	// KindNotFound indicates a referenced entity is absent.
	KindNotFound Kind = "not_found"

	// KindConflict indicates the request collides with existing state.
	KindConflict Kind = "conflict"

	// KindPrecondition indicates a state-machine violation, such as
	// cancelling a terminal job or deleting a production model without force.
	KindPrecondition Kind = "precondition"

	// KindUnavailable indicates a transient dependency failure.
	KindUnavailable Kind = "unavailable"

	// KindTimeout indicates an operation exceeded its budget.
	KindTimeout Kind = "timeout"

	// KindConfig indicates invalid or missing configuration.
	KindConfig Kind = "config"

	// KindInternal indicates an unanticipated failure.
	KindInternal Kind = "internal"
)

// Common sentinel errors
var (
	// ErrNotFound indicates the requested entity was not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists indicates the entity already exists
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput indicates the input failed validation
	ErrInvalidInput = errors.New("invalid input")

	// ErrPrecondition indicates a state precondition was not met
	ErrPrecondition = errors.New("precondition failed")

	// ErrUnavailable indicates a dependency is temporarily unavailable
	ErrUnavailable = errors.New("dependency unavailable")

	// ErrTimeout indicates the operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error represents a classified error with operation context.
type Error struct {
	Op   string // Operation that failed, e.g. "orchestrator.CancelJob"
	Kind Kind   // Failure class
	Err  error  // Underlying error
}

// Error returns the string representation of the error
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// E creates a classified error. A nil err is replaced with an error carrying
// the kind's name so E never produces a nil-wrapped Error.
func E(op string, kind Kind, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Validation creates a validation error from a format string.
func Validation(op, format string, args ...any) error {
	return E(op, KindValidation, fmt.Errorf(format, args...))
}

// NotFound creates a not-found error from a format string.
func NotFound(op, format string, args ...any) error {
	return E(op, KindNotFound, fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...)))
}

// Conflict creates a conflict error from a format string.
func Conflict(op, format string, args ...any) error {
	return E(op, KindConflict, fmt.Errorf(format, args...))
}

// Precondition creates a precondition error from a format string.
func Precondition(op, format string, args ...any) error {
	return E(op, KindPrecondition, fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...)))
}

// Config creates a configuration error from a format string.
func Config(op, format string, args ...any) error {
	return E(op, KindConfig, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
}

// Unavailable wraps a transient dependency failure.
func Unavailable(op string, err error) error {
	return E(op, KindUnavailable, err)
}

// Timeout wraps a deadline failure.
func Timeout(op string, err error) error {
	return E(op, KindTimeout, err)
}

// Internal wraps an unanticipated failure.
func Internal(op string, err error) error {
	return E(op, KindInternal, err)
}

// KindOf returns the kind of err, walking the wrap chain. Unclassified errors
// report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrPrecondition):
		return KindPrecondition
	case errors.Is(err, ErrAlreadyExists):
		return KindConflict
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrInvalidConfig):
		return KindConfig
	}
	return KindInternal
}

// IsKind checks whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsKind(err, KindValidation)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsKind(err, KindConflict)
}

// IsPrecondition checks if an error is a precondition error
func IsPrecondition(err error) bool {
	return IsKind(err, KindPrecondition)
}

// IsUnavailable checks if an error is an unavailable error
func IsUnavailable(err error) bool {
	return IsKind(err, KindUnavailable)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return IsKind(err, KindTimeout)
}

// IsConfig checks if an error is a configuration error
func IsConfig(err error) bool {
	return IsKind(err, KindConfig)
}
