// Package rebill implements the recurring-billing subscription state machine:
// plan/amount resolution, billing-cycle math, the payment-ledger reconciler
// and the scheduled billing orchestrator. Persistence and the payment gateway
// are collaborators supplied through the SubscriptionStore, PaymentLedger and
// Charger interfaces.
package rebill

import (
	"time"
)

// Plan is the canonical subscription tier.
type Plan string

const (
	// PlanFree implies no billing.
	PlanFree  Plan = "free"
	PlanBasic Plan = "basic"
	PlanPlus  Plan = "plus"
	PlanPro   Plan = "pro"
)

// planRanks orders tiers for access checks. Plans missing from the map
// rank below PlanFree.
var planRanks = map[Plan]int{
	PlanFree:  1,
	PlanBasic: 2,
	PlanPlus:  3,
	PlanPro:   4,
}

// AtLeast reports whether the plan grants at least the access level of
// other. Unknown plans never satisfy any requirement.
func (p Plan) AtLeast(other Plan) bool {
	return planRanks[p] >= planRanks[other] && planRanks[p] > 0
}

// Status is the subscription lifecycle state.
type Status string

const (
	// StatusNone is the implicit state of a freshly created user record.
	StatusNone Status = "none"
	// StatusActive means billing (recurring or one-time) is in effect.
	StatusActive Status = "active"
	// StatusCancelled is set by an explicit user cancellation or a gateway
	// cancellation event. Terminal but re-activatable by a new registration.
	StatusCancelled Status = "cancelled"
	// StatusSuspended means the orchestrator's retry budget was exhausted:
	// FailureThreshold consecutive scheduled charges failed.
	StatusSuspended Status = "suspended"
	// StatusExpired means the gateway itself reported a terminal recurring
	// payment failure via webhook. Kept distinct from StatusSuspended on
	// purpose: suspended is our own retry policy, expired is the gateway's
	// verdict.
	StatusExpired Status = "expired"
)

// Cycle is the billing interval type governing next-date computation.
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleYearly  Cycle = "yearly"
	// CycleTest advances by one minute. It exists so the full charge loop
	// can be exercised quickly in staging and in tests.
	CycleTest Cycle = "test"
)

// PaymentStatusDone is the settlement status of a completed payment record.
// Only DONE records count for ledger reconciliation.
const PaymentStatusDone = "DONE"

// PaymentStatusCanceled marks a cancelled payment record.
const PaymentStatusCanceled = "CANCELED"

// Subscription is the per-user subscription document. One per user, embedded
// in the user record. Never hard-deleted; cancellation and expiry are states.
type Subscription struct {
	UserID string

	Plan   Plan
	Status Status

	// BillingKey is the opaque gateway token for the stored payment method.
	// Present only when a recurring method is registered.
	BillingKey string
	// CustomerKey is the gateway-side payer identifier, stable for the life
	// of the registration.
	CustomerKey string

	// IsRecurring is true only when BillingKey is present and billing is
	// automatic.
	IsRecurring bool

	BillingCycle Cycle

	// Amount is in the smallest currency unit and matches the canonical
	// price for Plan under normal operation.
	Amount int64

	// StartDate is when this subscription first became active in its
	// current plan.
	StartDate time.Time

	// NextBillingDate is the next time a charge should be attempted.
	// Nil for free or non-recurring subscriptions.
	NextBillingDate *time.Time

	LastPaymentDate *time.Time
	LastOrderID     string

	// FailureCount is the number of consecutive charge failures since the
	// last success.
	FailureCount      int
	LastFailureDate   *time.Time
	LastFailureReason string

	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// DueForBilling reports whether the scheduled sweep should pick up this
// subscription at the given instant.
func (s *Subscription) DueForBilling(now time.Time) bool {
	if s.Status != StatusActive || !s.IsRecurring {
		return false
	}
	if s.NextBillingDate == nil {
		return false
	}
	return !s.NextBillingDate.After(now)
}

// SubscriptionPatch is a partial update over the top-level subscription
// fields. Nil fields are left untouched by Save; set fields replace the
// stored value wholesale. This is a shallow merge: there is no deep-merging
// of anything, which keeps the write semantics identical across every call
// site instead of ad hoc object spreading.
type SubscriptionPatch struct {
	Plan   *Plan
	Status *Status

	BillingKey  *string
	CustomerKey *string
	IsRecurring *bool

	BillingCycle *Cycle
	Amount       *int64

	StartDate       *time.Time
	NextBillingDate *time.Time

	LastPaymentDate *time.Time
	LastOrderID     *string

	FailureCount      *int
	LastFailureDate   *time.Time
	LastFailureReason *string

	CancelledAt *time.Time
}

// Apply merges the set fields of the patch into sub. Shared by every
// in-memory backend so patch semantics are defined exactly once.
func (p *SubscriptionPatch) Apply(sub *Subscription) {
	if p.Plan != nil {
		sub.Plan = *p.Plan
	}
	if p.Status != nil {
		sub.Status = *p.Status
	}
	if p.BillingKey != nil {
		sub.BillingKey = *p.BillingKey
	}
	if p.CustomerKey != nil {
		sub.CustomerKey = *p.CustomerKey
	}
	if p.IsRecurring != nil {
		sub.IsRecurring = *p.IsRecurring
	}
	if p.BillingCycle != nil {
		sub.BillingCycle = *p.BillingCycle
	}
	if p.Amount != nil {
		sub.Amount = *p.Amount
	}
	if p.StartDate != nil {
		sub.StartDate = *p.StartDate
	}
	if p.NextBillingDate != nil {
		t := *p.NextBillingDate
		sub.NextBillingDate = &t
	}
	if p.LastPaymentDate != nil {
		t := *p.LastPaymentDate
		sub.LastPaymentDate = &t
	}
	if p.LastOrderID != nil {
		sub.LastOrderID = *p.LastOrderID
	}
	if p.FailureCount != nil {
		sub.FailureCount = *p.FailureCount
	}
	if p.LastFailureDate != nil {
		t := *p.LastFailureDate
		sub.LastFailureDate = &t
	}
	if p.LastFailureReason != nil {
		sub.LastFailureReason = *p.LastFailureReason
	}
	if p.CancelledAt != nil {
		t := *p.CancelledAt
		sub.CancelledAt = &t
	}
}

// Fields returns the set fields of the patch as a flat map keyed by the
// persisted field names. Unset (nil) fields are absent from the map, which
// is the sanitize step: a backend writing the map can never store a
// sentinel for a field the caller did not touch.
func (p *SubscriptionPatch) Fields() map[string]interface{} {
	m := make(map[string]interface{})
	if p.Plan != nil {
		m["plan"] = string(*p.Plan)
	}
	if p.Status != nil {
		m["status"] = string(*p.Status)
	}
	if p.BillingKey != nil {
		m["billingKey"] = *p.BillingKey
	}
	if p.CustomerKey != nil {
		m["customerKey"] = *p.CustomerKey
	}
	if p.IsRecurring != nil {
		m["isRecurring"] = *p.IsRecurring
	}
	if p.BillingCycle != nil {
		m["billingCycle"] = string(*p.BillingCycle)
	}
	if p.Amount != nil {
		m["amount"] = *p.Amount
	}
	if p.StartDate != nil {
		m["startDate"] = *p.StartDate
	}
	if p.NextBillingDate != nil {
		m["nextBillingDate"] = *p.NextBillingDate
	}
	if p.LastPaymentDate != nil {
		m["lastPaymentDate"] = *p.LastPaymentDate
	}
	if p.LastOrderID != nil {
		m["lastOrderId"] = *p.LastOrderID
	}
	if p.FailureCount != nil {
		m["failureCount"] = *p.FailureCount
	}
	if p.LastFailureDate != nil {
		m["lastFailureDate"] = *p.LastFailureDate
	}
	if p.LastFailureReason != nil {
		m["lastFailureReason"] = *p.LastFailureReason
	}
	if p.CancelledAt != nil {
		m["cancelledAt"] = *p.CancelledAt
	}
	return m
}

// IsEmpty reports whether no field of the patch is set.
func (p *SubscriptionPatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// PaymentRecord is one entry in the append-only payment ledger, keyed by
// order ID and scoped under the user. Never mutated after creation.
type PaymentRecord struct {
	OrderID    string
	Status     string
	Amount     int64
	ApprovedAt time.Time
	OrderName  string

	// BillingCycle is set when the charge path knows the cycle; historical
	// records may leave it empty, in which case the reconciler infers it.
	BillingCycle Cycle
}

// FailureKind classifies a failed charge attempt in the run summary.
type FailureKind string

const (
	// FailureKindGateway is an explicit rejection, transport error or
	// timeout from the charge gateway. Retryable on the next cycle and
	// counted against the failure threshold.
	FailureKindGateway FailureKind = "gateway"
	// FailureKindIntegrity means the subscription was selected but is
	// missing billingKey, customerKey or amount. No charge was attempted
	// and the subscription was left untouched.
	FailureKindIntegrity FailureKind = "data_integrity"
	// FailureKindPersistence means the gateway approved the charge but
	// recording the outcome failed. Money was collected; the record needs
	// manual reconciliation, so it must never be read as a decline.
	FailureKindPersistence FailureKind = "persistence"
)

// BillingResult is the transient outcome of one charge attempt. It drives
// the subscription transition and is aggregated into the run summary; it is
// never persisted as its own entity.
type BillingResult struct {
	UserID  string
	Success bool
	Amount  int64
	OrderID string
	Error   string
	Kind    FailureKind
}

// RunSummary aggregates one orchestrator sweep. This is the contract
// surface for external reporting; the orchestrator itself never sends
// notifications.
type RunSummary struct {
	StartedAt  time.Time
	FinishedAt time.Time

	Processed    int
	Succeeded    int
	Failed       int
	TotalCharged int64

	// Reconciled counts subscriptions whose stored nextBillingDate lagged
	// behind the payment ledger: the sweep repaired the date from the
	// ledger anchor instead of charging again.
	Reconciled int

	// Failures lists every non-successful result, including data-integrity
	// skips, with reasons.
	Failures []BillingResult
}
