package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when webhook signature verification fails.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")

	// ErrSubscriptionNotFound is returned when the provider does not know
	// the subscription id.
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")

	// ErrMandateUnusable is returned when the provider rejects the mandate
	// backing a subscription create.
	ErrMandateUnusable = errors.New("billing: mandate not usable")
)

// ProviderError wraps a provider API error with enough context to log and
// classify it without leaking provider internals upward.
type ProviderError struct {
	Provider      string // "stripe" or "gocardless"
	Code          string // provider error code, if any
	StatusCode    int    // HTTP status from the provider API
	Message       string // human-readable message
	OriginalError error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// IsTemporary returns true if the error is likely transient and retryable.
func (e *ProviderError) IsTemporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
