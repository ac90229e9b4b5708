package service

import "errors"

var (
	ErrInvalidPlan                 = errors.New("invalid plan")
	ErrNotFound                    = errors.New("subscription not found")
	ErrSessionNotFound             = errors.New("checkout session not found")
	ErrSessionIncomplete           = errors.New("checkout session is not complete")
	ErrSessionOwnerMismatch        = errors.New("checkout session belongs to another user")
	ErrMissingProviderSubscription = errors.New("subscription has no provider subscription")
	// ErrProvider matches every ProviderError.
	ErrProvider = errors.New("payment provider error")
)

// ProviderError is a failed payment provider call. Message is safe to show to
// users; Err keeps the provider's own message for diagnostics.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	return e.Message + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

func providerError(message string, err error) error {
	return &ProviderError{Message: message, Err: err}
}
