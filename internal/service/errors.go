package service

import (
	"errors"

	"github.com/pitchside/pitchside/internal/domain"
	"github.com/pitchside/pitchside/internal/store"
)

// Shared service-level errors.
var (
	ErrInvoiceNotFound      = domain.Errorf(domain.ENOTFOUND, "", "Invoice not found")
	ErrSubscriptionNotFound = domain.Errorf(domain.ENOTFOUND, "", "Subscription not found")
	ErrTierNotFound         = domain.Errorf(domain.ENOTFOUND, "", "Membership tier not found")
	ErrMandateNotFound      = domain.Errorf(domain.ENOTFOUND, "", "Payment mandate not found")
	ErrNotGuardian          = domain.Errorf(domain.EFORBIDDEN, "", "Payer is not a guardian of the beneficiary")
	ErrWorkerRunning        = domain.Errorf(domain.ECONFLICT, "", "Worker is already running")
)

// storeError translates store sentinels into domain errors at the service
// boundary. Transition rejections carry the current status so callers see
// why the state machine said no.
func storeError(err error, op, resource, id string) error {
	var transition *store.InvalidTransitionError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.NotFound(op, resource, id)
	case errors.As(err, &transition):
		return domain.Conflict(op, resource+" in status '"+transition.Current+"' does not allow this operation")
	default:
		return domain.Internal(err, op, "storage error")
	}
}
