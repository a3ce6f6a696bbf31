package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidQuantity     = errors.New("quantity must be greater than zero")

	// ErrInvariantViolation means available + reserved stopped matching total.
	// It signals a caller or data bug and always aborts the write.
	ErrInvariantViolation = errors.New("stock invariant violation")
)

// InvalidTransitionError rejects a status change not allowed by the
// transition table. The message names both ends, callers rely on that.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}
