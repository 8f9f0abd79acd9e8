package rebill

import (
	"context"
	"time"
)

// SubscriptionStore defines the interface for subscription persistence.
// All methods use concrete types from this package to avoid import cycles.
type SubscriptionStore interface {
	// Get retrieves a user's subscription.
	// Returns ErrSubscriptionNotFound when the user has no record.
	Get(ctx context.Context, userID string) (*Subscription, error)

	// Save merges the set fields of the patch into the stored subscription
	// (shallow merge over top-level fields, see SubscriptionPatch). Fields
	// not set in the patch are preserved. Creates the record if absent.
	// Unreachable storage propagates as a wrapped ErrStorageUnavailable.
	Save(ctx context.Context, userID string, patch *SubscriptionPatch) error

	// UpdatePlan is a path-scoped update touching only the plan field plus
	// the updatedAt marker, leaving every other subscription field alone.
	// Distinct from Save, which replaces each top-level key present in the
	// patch.
	UpdatePlan(ctx context.Context, userID string, plan Plan) error

	// ListDue returns every subscription with status=active,
	// isRecurring=true and nextBillingDate <= now, in arbitrary order.
	ListDue(ctx context.Context, now time.Time) ([]*Subscription, error)

	// ListRecurring returns every subscription with isRecurring=true
	// regardless of due date. Used by the offline reconciliation tool.
	ListRecurring(ctx context.Context) ([]*Subscription, error)
}

// PaymentLedger defines the interface over the append-only payment ledger.
// Records are never mutated after creation; the billing core only appends
// and reads.
type PaymentLedger interface {
	// ListPayments returns every payment record for the user, in arbitrary
	// order.
	ListPayments(ctx context.Context, userID string) ([]*PaymentRecord, error)

	// AppendPayment appends a payment record under the user, keyed by
	// OrderID.
	AppendPayment(ctx context.Context, userID string, rec *PaymentRecord) error
}

// Charger invokes the external payment gateway with a stored billing key.
// Implementations never retry and never touch persistence; retries happen
// at the orchestrator's subscription-attempt granularity.
type Charger interface {
	// Charge executes one charge attempt. A gateway rejection is reported
	// through ChargeResult, not through the error return; the error return
	// is for transport failures, which the state machine treats the same
	// way.
	//
	// Implementations own order ID generation: a successful result should
	// carry the order ID the charge was placed under (generated fresh when
	// the request leaves OrderID empty). The applier synthesizes an ID if
	// one is missing, so the ledger entry is never lost.
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
}

// ChargeRequest carries one charge attempt to the gateway.
type ChargeRequest struct {
	BillingKey  string
	CustomerKey string
	Amount      int64
	OrderID     string
	OrderName   string
}

// ChargeResult is the normalized gateway response.
type ChargeResult struct {
	Success bool
	OrderID string
	// Message is the gateway's human-readable failure reason, empty on
	// success.
	Message string
}
