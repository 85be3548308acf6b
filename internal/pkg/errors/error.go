package xerrors

import (
	"errors"
	"fmt"
)

// Sentinels shared by services; internal/pkg/response maps them to HTTP statuses.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrUnauthorized    = errors.New("unauthorized access")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("conflict: resource already exists")
	ErrInvalidState    = errors.New("invalid state")
	ErrPaymentRequired = errors.New("payment required")
	ErrPaymentProvider = errors.New("payment provider error")
)

// InvalidState returns an ErrInvalidState carrying a human readable reason.
func InvalidState(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, reason)
}

// Provider wraps a payment provider failure so callers can match ErrPaymentProvider
// while keeping the provider's own message.
func Provider(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrPaymentProvider, op, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
