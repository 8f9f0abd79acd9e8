package rebill

import "errors"

var (
	// ErrSubscriptionNotFound is returned when a user has no subscription
	// record.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrNotBillable is returned when an immediate charge is requested for
	// a subscription that is not active and recurring.
	ErrNotBillable = errors.New("subscription is not active and recurring")

	// ErrMissingBillingFields is returned when a subscription selected for
	// billing is missing billingKey, customerKey or amount.
	ErrMissingBillingFields = errors.New("subscription is missing required billing fields")

	// ErrStorageUnavailable is returned when the persistence layer is
	// unreachable. Retryable infrastructure error, never swallowed.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidCycle is returned for an unknown billing cycle.
	ErrInvalidCycle = errors.New("invalid billing cycle")

	// ErrInvalidPlan is returned for an unknown plan tier.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrEmptyPatch is returned when Save is called with a patch that sets
	// no fields.
	ErrEmptyPatch = errors.New("empty subscription patch")
)
