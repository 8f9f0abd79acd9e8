package rebill

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Anchor is the authoritative billing anchor derived from the payment
// ledger: the most recent successful payment and the cycle it paid for.
type Anchor struct {
	ApprovedAt time.Time
	Cycle      Cycle
	Amount     int64
	OrderID    string
}

// NextBilling returns the next billing date implied by the anchor.
func (a *Anchor) NextBilling() time.Time {
	return NextBillingDate(a.ApprovedAt, a.Cycle)
}

// Reconciler derives the authoritative billing anchor for a user from the
// payment ledger. A subscription's own billingCycle and nextBillingDate can
// drift from reality (manual edits, partial writes, historical bugs); the
// ledger is the source of truth for when we last actually got paid and on
// what cadence. Used both live by the orchestrator and by the offline
// repair tool.
type Reconciler struct {
	ledger PaymentLedger
	plans  *PlanTable
	logger Logger
}

// NewReconciler creates a reconciler over the given ledger. A nil plans
// table defaults to DefaultPlanTable; a nil logger is a no-op.
func NewReconciler(ledger PaymentLedger, plans *PlanTable, logger Logger) *Reconciler {
	if plans == nil {
		plans = DefaultPlanTable()
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Reconciler{ledger: ledger, plans: plans, logger: logger}
}

// LatestAnchor scans the user's payment records, keeps only DONE ones and
// returns the one with the maximum approvedAt together with its inferred
// cycle. Returns (nil, nil) when the user has no successful payment.
func (r *Reconciler) LatestAnchor(ctx context.Context, userID string) (*Anchor, error) {
	records, err := r.ledger.ListPayments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	var latest *PaymentRecord
	for _, rec := range records {
		if rec.Status != PaymentStatusDone {
			continue
		}
		if latest == nil || rec.ApprovedAt.After(latest.ApprovedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}

	cycle := r.InferCycle(latest)
	r.logger.Debug("ledger anchor resolved",
		Field{Key: "user_id", Value: userID},
		Field{Key: "order_id", Value: latest.OrderID},
		Field{Key: "approved_at", Value: latest.ApprovedAt},
		Field{Key: "cycle", Value: cycle},
	)

	return &Anchor{
		ApprovedAt: latest.ApprovedAt,
		Cycle:      cycle,
		Amount:     latest.Amount,
		OrderID:    latest.OrderID,
	}, nil
}

// Yearly/monthly tokens recognized in order names. The production order
// names are Korean; the English tokens cover records written by this
// module's own charge path.
var (
	yearlyTokens  = []string{"연간", "연 결제", "1년", "yearly", "annual"}
	monthlyTokens = []string{"월간", "월 결제", "1개월", "monthly"}
)

// InferCycle determines the billing cycle a payment record paid for, in
// priority order: the record's explicit billingCycle, order-name keywords,
// the known yearly price points, then monthly as the default.
func (r *Reconciler) InferCycle(rec *PaymentRecord) Cycle {
	switch rec.BillingCycle {
	case CycleMonthly, CycleYearly, CycleTest:
		return rec.BillingCycle
	}

	name := strings.ToLower(rec.OrderName)
	for _, tok := range yearlyTokens {
		if strings.Contains(name, tok) {
			return CycleYearly
		}
	}
	for _, tok := range monthlyTokens {
		if strings.Contains(name, tok) {
			return CycleMonthly
		}
	}

	if _, ok := r.plans.KnownYearlyAmounts()[rec.Amount]; ok {
		return CycleYearly
	}

	return CycleMonthly
}
