package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates an adjustment would drive quantity below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition indicates the state machine rejects the requested move.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrConflict indicates concurrent modification could not be resolved by retrying.
	ErrConflict = errors.New("concurrent modification conflict")
	// ErrStore indicates an underlying persistence failure.
	ErrStore = errors.New("store failure")
)

// Kind is the machine-checkable category of an error.
type Kind string

const (
	KindUnknown           Kind = ""
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindInvalidTransition Kind = "invalid_state_transition"
	KindConflict          Kind = "conflict"
	KindStore             Kind = "store"
)

// KindOf classifies err against the taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrStore):
		return KindStore
	}
	return KindUnknown
}

// InsufficientStockError details a rejected decrement.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Is lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds a not-found error with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidTransition reports a rejected status move.
func InvalidTransition(entity string, from, to any) error {
	return fmt.Errorf("%w: %s cannot move from %v to %v", ErrInvalidTransition, entity, from, to)
}

// UserSafeMessage returns the message that can be shown to API callers.
// Store failures and unknown errors never leak their internals.
func UserSafeMessage(err error) string {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindInsufficientStock, KindInvalidTransition:
		return err.Error()
	case KindConflict:
		return "the resource is being modified concurrently, retry the request"
	}
	return "internal error"
}
