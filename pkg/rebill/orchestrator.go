package rebill

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterAttemptDelay is the pause between consecutive charge attempts
// within one sweep. A rate-limiting courtesy to the gateway, not a
// correctness requirement.
const DefaultInterAttemptDelay = 200 * time.Millisecond

// OrchestratorConfig holds orchestrator configuration.
type OrchestratorConfig struct {
	// FailureThreshold suspends a subscription after this many consecutive
	// failed charges (default: DefaultFailureThreshold).
	FailureThreshold int

	// InterAttemptDelay is the pause between charge attempts
	// (default: DefaultInterAttemptDelay; negative disables).
	InterAttemptDelay time.Duration

	// Plans is the plan table (default: DefaultPlanTable).
	Plans *PlanTable

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking sweep operations (default: NoopMetrics).
	Metrics Metrics

	// Now returns the current time. Overridable for tests
	// (default: time.Now in UTC).
	Now func() time.Time
}

// Orchestrator drives the scheduled billing sweep: selects every
// subscription due for charge, executes charges one at a time and applies
// the resulting transitions. It is invoked by an external time-based
// trigger and is deliberately sequential, trading throughput for
// gateway-friendliness and simple failure attribution.
type Orchestrator struct {
	subs       SubscriptionStore
	charger    Charger
	applier    *Applier
	reconciler *Reconciler
	logger     Logger
	metrics    Metrics

	interAttemptDelay time.Duration
	now               func() time.Time
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(subs SubscriptionStore, ledger PaymentLedger, charger Charger, config OrchestratorConfig) *Orchestrator {
	if config.Plans == nil {
		config.Plans = DefaultPlanTable()
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}

	delay := config.InterAttemptDelay
	if delay == 0 {
		delay = DefaultInterAttemptDelay
	}
	if delay < 0 {
		delay = 0
	}

	applier := NewApplier(subs, ledger, ApplierConfig{
		FailureThreshold: config.FailureThreshold,
		Plans:            config.Plans,
		Logger:           config.Logger,
		Metrics:          config.Metrics,
	})

	return &Orchestrator{
		subs:              subs,
		charger:           charger,
		applier:           applier,
		reconciler:        NewReconciler(ledger, config.Plans, config.Logger),
		logger:            config.Logger,
		metrics:           config.Metrics,
		interAttemptDelay: delay,
		now:               config.Now,
	}
}

// Applier returns the transition applier the orchestrator drives. The
// webhook normalizer shares it so both paths converge on one state machine.
func (o *Orchestrator) Applier() *Applier {
	return o.applier
}

// Reconciler returns the ledger reconciler.
func (o *Orchestrator) Reconciler() *Reconciler {
	return o.reconciler
}

// Run executes one full billing sweep and returns the aggregated summary.
// One subscription's failure never aborts the run; each outcome is
// collected independently. The returned error is reserved for failures of
// the sweep itself (selection query, cancelled context).
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	started := o.now()
	summary := &RunSummary{StartedAt: started}

	due, err := o.subs.ListDue(ctx, started)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}

	o.logger.Info("billing sweep started",
		Field{Key: "due", Value: len(due)},
		Field{Key: "started_at", Value: started},
	)

	for i, sub := range due {
		if i > 0 && o.interAttemptDelay > 0 {
			select {
			case <-ctx.Done():
				summary.FinishedAt = o.now()
				return summary, ctx.Err()
			case <-time.After(o.interAttemptDelay):
			}
		}

		now := o.now()

		// The ledger is authoritative: when the most recent successful
		// payment already covers this instant, the stored nextBillingDate
		// lagged behind and is repaired instead of charging again.
		if anchor, err := o.reconciler.LatestAnchor(ctx, sub.UserID); err == nil && anchor != nil {
			if authoritative := anchor.NextBilling(); authoritative.After(now) {
				o.repairNextBillingDate(ctx, sub, authoritative)
				summary.Reconciled++
				continue
			}
		}

		res := o.billOne(ctx, sub, now)
		summary.Processed++
		if res.Success {
			summary.Succeeded++
			summary.TotalCharged += res.Amount
		} else {
			summary.Failed++
			summary.Failures = append(summary.Failures, res)
		}
	}

	summary.FinishedAt = o.now()
	o.metrics.RecordRunDuration(summary.FinishedAt.Sub(started))
	o.metrics.RecordRunOutcome(summary.Processed, summary.Succeeded, summary.Failed, summary.TotalCharged)
	o.logger.Info("billing sweep finished",
		Field{Key: "processed", Value: summary.Processed},
		Field{Key: "succeeded", Value: summary.Succeeded},
		Field{Key: "failed", Value: summary.Failed},
		Field{Key: "reconciled", Value: summary.Reconciled},
		Field{Key: "total_charged", Value: summary.TotalCharged},
	)
	return summary, nil
}

// BillUser charges exactly one subscription immediately, outside the
// scheduled sweep. Used for manual or administrative charges. Rejects
// subscriptions that are not active and recurring before any gateway call.
func (o *Orchestrator) BillUser(ctx context.Context, userID string) (*BillingResult, error) {
	sub, err := o.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive || !sub.IsRecurring {
		return nil, fmt.Errorf("%w: user %s has status=%s isRecurring=%t",
			ErrNotBillable, userID, sub.Status, sub.IsRecurring)
	}

	res := o.billOne(ctx, sub, o.now())
	return &res, nil
}

// billOne runs the integrity pre-check, the charge attempt and the
// resulting transition for a single subscription.
func (o *Orchestrator) billOne(ctx context.Context, sub *Subscription, now time.Time) BillingResult {
	// Missing billing fields are a data-integrity issue, not a billing
	// failure: no charge, no state mutation, distinguishable in the
	// summary.
	if sub.BillingKey == "" || sub.CustomerKey == "" || sub.Amount <= 0 {
		o.metrics.RecordIntegritySkip(sub.UserID)
		o.logger.Warn("subscription missing billing fields, skipped",
			Field{Key: "user_id", Value: sub.UserID},
			Field{Key: "has_billing_key", Value: sub.BillingKey != ""},
			Field{Key: "has_customer_key", Value: sub.CustomerKey != ""},
			Field{Key: "amount", Value: sub.Amount},
		)
		return BillingResult{
			UserID: sub.UserID,
			Error:  ErrMissingBillingFields.Error(),
			Kind:   FailureKindIntegrity,
		}
	}

	cycle := sub.BillingCycle
	if cycle == "" {
		cycle = CycleMonthly
	}

	result, err := o.charger.Charge(ctx, &ChargeRequest{
		BillingKey:  sub.BillingKey,
		CustomerKey: sub.CustomerKey,
		Amount:      sub.Amount,
		OrderName:   OrderName(sub.Plan, cycle),
	})
	if err != nil {
		// Transport errors and timeouts count against the failure
		// threshold exactly like explicit gateway rejections.
		return o.applyFailure(ctx, sub, err.Error(), now)
	}
	if !result.Success {
		reason := result.Message
		if reason == "" {
			reason = "payment rejected by gateway"
		}
		return o.applyFailure(ctx, sub, reason, now)
	}

	if err := o.applier.ChargeSucceeded(ctx, sub, result.OrderID, sub.Amount, now); err != nil {
		// Money was collected; the summary must still carry the failure
		// so the run report demands attention.
		return BillingResult{
			UserID:  sub.UserID,
			OrderID: result.OrderID,
			Amount:  sub.Amount,
			Error:   err.Error(),
			Kind:    FailureKindPersistence,
		}
	}

	return BillingResult{
		UserID:  sub.UserID,
		Success: true,
		Amount:  sub.Amount,
		OrderID: result.OrderID,
	}
}

func (o *Orchestrator) applyFailure(ctx context.Context, sub *Subscription, reason string, now time.Time) BillingResult {
	if _, err := o.applier.ChargeFailed(ctx, sub, reason, now); err != nil {
		reason = reason + "; " + err.Error()
	}
	return BillingResult{
		UserID: sub.UserID,
		Error:  reason,
		Kind:   FailureKindGateway,
	}
}

func (o *Orchestrator) repairNextBillingDate(ctx context.Context, sub *Subscription, next time.Time) {
	prev := "unset"
	if sub.NextBillingDate != nil {
		prev = sub.NextBillingDate.Format(time.RFC3339)
	}
	patch := &SubscriptionPatch{NextBillingDate: &next}
	if err := o.subs.Save(ctx, sub.UserID, patch); err != nil {
		o.logger.Error("failed to repair next billing date from ledger",
			Field{Key: "user_id", Value: sub.UserID},
			Field{Key: "error", Value: err.Error()},
		)
		return
	}
	o.logger.Info("next billing date repaired from ledger",
		Field{Key: "user_id", Value: sub.UserID},
		Field{Key: "before", Value: prev},
		Field{Key: "after", Value: next},
	)
}

// IsNotBillable reports whether the error is an ErrNotBillable rejection
// from BillUser.
func IsNotBillable(err error) bool {
	return errors.Is(err, ErrNotBillable)
}
