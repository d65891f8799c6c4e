package workorder

import (
	"errors"
	"fmt"

	"github.com/ukydev/fleet-workorders/internal/db"
)

// Error kinds returned by the service. Callers match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// translate maps a store error onto the service error kinds. Errors the store
// does not classify are wrapped as internal failures.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, db.ErrStatusMismatch):
		return fmt.Errorf("%w: %s was modified concurrently", ErrConflict, what)
	case errors.Is(err, db.ErrInsufficientStock):
		return fmt.Errorf("%w: %s", ErrInsufficientStock, what)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

// resultLabel classifies err for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	default:
		return "error"
	}
}
