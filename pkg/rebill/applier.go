package rebill

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultFailureThreshold is the number of consecutive failed charges after
// which a subscription is suspended.
const DefaultFailureThreshold = 3

// ApplierConfig holds Applier configuration.
type ApplierConfig struct {
	// FailureThreshold is the consecutive-failure count that suspends a
	// subscription (default: DefaultFailureThreshold).
	FailureThreshold int

	// Plans is the plan table used to resolve tiers from amounts
	// (default: DefaultPlanTable).
	Plans *PlanTable

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking transitions (default: NoopMetrics).
	Metrics Metrics
}

// Applier applies subscription state transitions. It is the single
// convergence point for the state machine: both the scheduled orchestrator
// and the webhook normalizer route their transitions through it, so the
// pull and push paths cannot disagree on semantics.
type Applier struct {
	subs    SubscriptionStore
	ledger  PaymentLedger
	plans   *PlanTable
	logger  Logger
	metrics Metrics

	failureThreshold int
}

// NewApplier creates an Applier over the given store and ledger.
func NewApplier(subs SubscriptionStore, ledger PaymentLedger, config ApplierConfig) *Applier {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.Plans == nil {
		config.Plans = DefaultPlanTable()
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &Applier{
		subs:             subs,
		ledger:           ledger,
		plans:            config.Plans,
		logger:           config.Logger,
		metrics:          config.Metrics,
		failureThreshold: config.FailureThreshold,
	}
}

// FailureThreshold returns the configured suspension threshold.
func (a *Applier) FailureThreshold() int {
	return a.failureThreshold
}

// Plans returns the plan table transitions resolve against.
func (a *Applier) Plans() *PlanTable {
	return a.plans
}

// ChargeSucceeded applies the success transition after a charge: advances
// nextBillingDate by one cycle from now, stamps lastPaymentDate and
// lastOrderID, resets failureCount and appends a DONE record to the
// payment ledger so the reconciler's anchor converges with the new date.
//
// A persistence failure here is the worst case (money collected, state not
// recorded); it is logged at error level with a manual-reconciliation
// marker and propagated.
func (a *Applier) ChargeSucceeded(ctx context.Context, sub *Subscription, orderID string, amount int64, now time.Time) error {
	// Chargers own order ID generation, but an approved charge must be
	// recorded even when one comes back empty: synthesize an ID rather
	// than reject the ledger append after money changed hands.
	if orderID == "" {
		orderID = fmt.Sprintf("order_%d", now.UnixNano())
		a.logger.Warn("charger returned empty order id, synthesized one",
			Field{Key: "user_id", Value: sub.UserID},
			Field{Key: "order_id", Value: orderID},
		)
	}

	cycle := sub.BillingCycle
	if cycle == "" {
		cycle = CycleMonthly
	}
	next := NextBillingDate(now, cycle)

	active := StatusActive
	zero := 0
	patch := &SubscriptionPatch{
		Status:          &active,
		NextBillingDate: &next,
		LastPaymentDate: &now,
		LastOrderID:     &orderID,
		FailureCount:    &zero,
	}
	if err := a.subs.Save(ctx, sub.UserID, patch); err != nil {
		a.logger.Error("charge succeeded but subscription write failed",
			Field{Key: "user_id", Value: sub.UserID},
			Field{Key: "order_id", Value: orderID},
			Field{Key: "amount", Value: amount},
			Field{Key: "manual_reconciliation", Value: true},
			Field{Key: "error", Value: err.Error()},
		)
		return fmt.Errorf("record charge success for %s: %w", sub.UserID, err)
	}

	rec := &PaymentRecord{
		OrderID:      orderID,
		Status:       PaymentStatusDone,
		Amount:       amount,
		ApprovedAt:   now,
		OrderName:    OrderName(sub.Plan, cycle),
		BillingCycle: cycle,
	}
	if err := a.ledger.AppendPayment(ctx, sub.UserID, rec); err != nil {
		// Subscription state is already correct; the missing ledger entry
		// only weakens future reconciliation.
		a.logger.Error("charge succeeded but ledger append failed",
			Field{Key: "user_id", Value: sub.UserID},
			Field{Key: "order_id", Value: orderID},
			Field{Key: "manual_reconciliation", Value: true},
			Field{Key: "error", Value: err.Error()},
		)
		return fmt.Errorf("append payment record for %s: %w", sub.UserID, err)
	}

	a.metrics.RecordChargeAttempt(sub.UserID, sub.Plan, cycle, amount, true)
	a.logger.Info("charge succeeded",
		Field{Key: "user_id", Value: sub.UserID},
		Field{Key: "order_id", Value: orderID},
		Field{Key: "amount", Value: amount},
		Field{Key: "next_billing_date", Value: next},
	)
	return nil
}

// ChargeFailed applies the failure transition: increments failureCount and
// stamps the failure fields. When the count reaches the threshold the
// subscription is suspended; otherwise it stays active and the next sweep
// retries at the same nextBillingDate (failures never advance the billing
// date, only successes do). Returns whether the subscription was suspended.
func (a *Applier) ChargeFailed(ctx context.Context, sub *Subscription, reason string, now time.Time) (bool, error) {
	count := sub.FailureCount + 1
	patch := &SubscriptionPatch{
		FailureCount:      &count,
		LastFailureDate:   &now,
		LastFailureReason: &reason,
	}

	suspended := count >= a.failureThreshold
	if suspended {
		status := StatusSuspended
		patch.Status = &status
	}

	if err := a.subs.Save(ctx, sub.UserID, patch); err != nil {
		return false, fmt.Errorf("record charge failure for %s: %w", sub.UserID, err)
	}

	a.metrics.RecordChargeAttempt(sub.UserID, sub.Plan, sub.BillingCycle, sub.Amount, false)
	if suspended {
		a.logger.Warn("subscription suspended after repeated charge failures",
			Field{Key: "user_id", Value: sub.UserID},
			Field{Key: "failure_count", Value: count},
			Field{Key: "reason", Value: reason},
		)
	} else {
		a.logger.Info("charge failed",
			Field{Key: "user_id", Value: sub.UserID},
			Field{Key: "failure_count", Value: count},
			Field{Key: "reason", Value: reason},
		)
	}
	return suspended, nil
}

// RecurringPaymentCompleted is the webhook entry point for a completed
// recurring charge: loads the subscription and applies the same success
// transition as the scheduled sweep.
func (a *Applier) RecurringPaymentCompleted(ctx context.Context, userID, orderID string, amount int64, now time.Time) error {
	sub, err := a.subs.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load subscription for %s: %w", userID, err)
	}
	return a.ChargeSucceeded(ctx, sub, orderID, amount, now)
}

// GatewayTerminalFailure applies the webhook-reported terminal recurring
// failure: the gateway has given up on the billing key, so the subscription
// expires. Distinct from suspension, which is our own retry budget.
func (a *Applier) GatewayTerminalFailure(ctx context.Context, userID, reason string, now time.Time) error {
	status := StatusExpired
	patch := &SubscriptionPatch{
		Status:            &status,
		LastFailureDate:   &now,
		LastFailureReason: &reason,
	}
	if err := a.subs.Save(ctx, userID, patch); err != nil {
		return fmt.Errorf("record gateway terminal failure for %s: %w", userID, err)
	}
	a.logger.Warn("subscription expired on gateway-reported recurring failure",
		Field{Key: "user_id", Value: userID},
		Field{Key: "reason", Value: reason},
	)
	return nil
}

// Cancelled transitions the subscription to cancelled and stamps
// cancelledAt.
func (a *Applier) Cancelled(ctx context.Context, userID string, now time.Time) error {
	status := StatusCancelled
	patch := &SubscriptionPatch{
		Status:      &status,
		CancelledAt: &now,
	}
	if err := a.subs.Save(ctx, userID, patch); err != nil {
		return fmt.Errorf("record cancellation for %s: %w", userID, err)
	}
	a.logger.Info("subscription cancelled", Field{Key: "user_id", Value: userID})
	return nil
}

// BillingKeyIssued creates or updates the subscription as active and
// recurring after the gateway issued a billing key: the plan is resolved
// from the charged amount, nextBillingDate is one cycle from now and the
// failure count resets, so a re-registration after suspension starts with
// a full retry budget.
func (a *Applier) BillingKeyIssued(ctx context.Context, userID, billingKey, customerKey string, amount int64, cycle Cycle, now time.Time) error {
	if cycle == "" {
		cycle = CycleMonthly
	}

	plan := a.resolvePlan(amount, cycle)
	next := NextBillingDate(now, cycle)

	status := StatusActive
	recurring := true
	zero := 0
	patch := &SubscriptionPatch{
		Plan:            &plan,
		Status:          &status,
		BillingKey:      &billingKey,
		CustomerKey:     &customerKey,
		IsRecurring:     &recurring,
		BillingCycle:    &cycle,
		Amount:          &amount,
		NextBillingDate: &next,
		FailureCount:    &zero,
	}

	// StartDate marks the first activation in the current plan; keep the
	// original one when an active subscription is being re-registered.
	existing, err := a.subs.Get(ctx, userID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return fmt.Errorf("load subscription for %s: %w", userID, err)
	}
	if existing == nil || existing.Status != StatusActive || existing.Plan != plan {
		patch.StartDate = &now
	}

	if err := a.subs.Save(ctx, userID, patch); err != nil {
		return fmt.Errorf("record billing key for %s: %w", userID, err)
	}
	a.logger.Info("billing key registered",
		Field{Key: "user_id", Value: userID},
		Field{Key: "plan", Value: plan},
		Field{Key: "cycle", Value: cycle},
		Field{Key: "next_billing_date", Value: next},
	)
	return nil
}

// OneTimePaymentCompleted creates or updates the subscription as active and
// non-recurring after a completed one-time payment, and appends the payment
// to the ledger.
func (a *Applier) OneTimePaymentCompleted(ctx context.Context, userID string, amount int64, orderID, orderName string, now time.Time) error {
	plan := a.plans.PlanForAmount(amount)

	status := StatusActive
	recurring := false
	patch := &SubscriptionPatch{
		Plan:            &plan,
		Status:          &status,
		IsRecurring:     &recurring,
		Amount:          &amount,
		LastPaymentDate: &now,
		LastOrderID:     &orderID,
	}

	existing, err := a.subs.Get(ctx, userID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return fmt.Errorf("load subscription for %s: %w", userID, err)
	}
	if existing == nil || existing.Status != StatusActive || existing.Plan != plan {
		patch.StartDate = &now
	}

	if err := a.subs.Save(ctx, userID, patch); err != nil {
		return fmt.Errorf("record one-time payment for %s: %w", userID, err)
	}

	rec := &PaymentRecord{
		OrderID:    orderID,
		Status:     PaymentStatusDone,
		Amount:     amount,
		ApprovedAt: now,
		OrderName:  orderName,
	}
	if err := a.ledger.AppendPayment(ctx, userID, rec); err != nil {
		a.logger.Error("payment recorded but ledger append failed",
			Field{Key: "user_id", Value: userID},
			Field{Key: "order_id", Value: orderID},
			Field{Key: "manual_reconciliation", Value: true},
			Field{Key: "error", Value: err.Error()},
		)
		return fmt.Errorf("append payment record for %s: %w", userID, err)
	}
	return nil
}

func (a *Applier) resolvePlan(amount int64, cycle Cycle) Plan {
	if cycle == CycleYearly {
		return a.plans.PlanForYearlyAmount(amount)
	}
	return a.plans.PlanForAmount(amount)
}

// OrderName builds the order name for a generated charge. The cycle token
// is deliberately one the reconciler's keyword matching recognizes.
func OrderName(plan Plan, cycle Cycle) string {
	c := string(cycle)
	if c == "" {
		c = string(CycleMonthly)
	}
	p := string(plan)
	if p == "" {
		p = string(PlanFree)
	}
	return p + " " + c + " subscription"
}
