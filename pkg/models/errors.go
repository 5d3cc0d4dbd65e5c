package models

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationRequired   = errors.New("authentication required")
	ErrCartLimitExceeded        = errors.New("cart quantity limit exceeded")
	ErrEmptyOrder               = errors.New("order has no items")
	ErrSellerUnresolved         = errors.New("seller could not be resolved")
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	ErrResolutionTimeout        = errors.New("product resolution timed out")
	ErrPersistenceFailure       = errors.New("persistence failure")
	ErrIllegalStateTransition   = errors.New("illegal state transition")

	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrOrderNotFound    = errors.New("order not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrCartLineNotFound = errors.New("cart line not found")
	ErrForbidden        = errors.New("action not permitted for this user")
	ErrStaleOrder       = errors.New("order changed concurrently")
	ErrCartChanged      = errors.New("cart changed during checkout")
)

// Persistence wraps a storage error so that both ErrPersistenceFailure and
// the underlying cause match errors.Is.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistenceFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistenceFailure, op, err)
}

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistenceFailure) || errors.Is(err, ErrResolutionTimeout)
}
