package rebill

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChargeSucceeded(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	sub := activeSub("u1", now)
	sub.FailureCount = 2
	store.put(sub)

	applier := NewApplier(store, store, ApplierConfig{})
	if err := applier.ChargeSucceeded(ctx, sub, "order_1", 29900, now); err != nil {
		t.Fatalf("ChargeSucceeded: %v", err)
	}

	got := store.mustGet("u1")
	if got.Status != StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.FailureCount != 0 {
		t.Errorf("failureCount = %d, want 0 after success", got.FailureCount)
	}
	if got.LastOrderID != "order_1" {
		t.Errorf("lastOrderId = %s, want order_1", got.LastOrderID)
	}
	if got.LastPaymentDate == nil || !got.LastPaymentDate.Equal(now) {
		t.Errorf("lastPaymentDate = %v, want %v", got.LastPaymentDate, now)
	}
	if want := date(2026, time.April, 15); got.NextBillingDate == nil || !got.NextBillingDate.Equal(want) {
		t.Errorf("nextBillingDate = %v, want %v", got.NextBillingDate, want)
	}

	payments, _ := store.ListPayments(ctx, "u1")
	if len(payments) != 1 {
		t.Fatalf("ledger has %d records, want 1", len(payments))
	}
	rec := payments[0]
	if rec.Status != PaymentStatusDone || rec.OrderID != "order_1" || rec.Amount != 29900 {
		t.Errorf("unexpected ledger record: %+v", rec)
	}
	if rec.BillingCycle != CycleMonthly {
		t.Errorf("ledger cycle = %s, want monthly", rec.BillingCycle)
	}
}

func TestChargeSucceeded_YearlyAdvancesOneYear(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	sub := activeSub("u1", now)
	sub.BillingCycle = CycleYearly
	sub.Amount = 251160
	store.put(sub)

	applier := NewApplier(store, store, ApplierConfig{})
	if err := applier.ChargeSucceeded(ctx, sub, "order_1", 251160, now); err != nil {
		t.Fatalf("ChargeSucceeded: %v", err)
	}

	got := store.mustGet("u1")
	if want := date(2027, time.March, 15); got.NextBillingDate == nil || !got.NextBillingDate.Equal(want) {
		t.Errorf("nextBillingDate = %v, want %v", got.NextBillingDate, want)
	}
}

// Chargers own order ID generation, but an approved charge with an empty
// ID must still be recorded under a synthesized one.
func TestChargeSucceeded_SynthesizesEmptyOrderID(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	sub := activeSub("u1", now)
	store.put(sub)

	applier := NewApplier(store, store, ApplierConfig{})
	if err := applier.ChargeSucceeded(ctx, sub, "", 29900, now); err != nil {
		t.Fatalf("ChargeSucceeded: %v", err)
	}

	got := store.mustGet("u1")
	if got.LastOrderID == "" {
		t.Error("lastOrderId empty, want synthesized id")
	}

	payments, _ := store.ListPayments(ctx, "u1")
	if len(payments) != 1 {
		t.Fatalf("ledger has %d records, want 1", len(payments))
	}
	if payments[0].OrderID == "" {
		t.Error("ledger record has empty order id")
	}
	if payments[0].OrderID != got.LastOrderID {
		t.Errorf("ledger order id %q != subscription lastOrderId %q",
			payments[0].OrderID, got.LastOrderID)
	}
}

func TestChargeSucceeded_PersistFailurePropagates(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errStorageDown
	now := date(2026, time.March, 15)
	sub := activeSub("u1", now)

	applier := NewApplier(store, store, ApplierConfig{})
	err := applier.ChargeSucceeded(context.Background(), sub, "order_1", 29900, now)
	if !errors.Is(err, errStorageDown) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}
}

func TestChargeFailed_IncrementsBelowThreshold(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	sub := activeSub("u1", now)
	store.put(sub)

	applier := NewApplier(store, store, ApplierConfig{})
	suspended, err := applier.ChargeFailed(ctx, sub, "card declined", now)
	if err != nil {
		t.Fatalf("ChargeFailed: %v", err)
	}
	if suspended {
		t.Error("suspended on first failure")
	}

	got := store.mustGet("u1")
	if got.Status != StatusActive {
		t.Errorf("status = %s, want active below threshold", got.Status)
	}
	if got.FailureCount != 1 {
		t.Errorf("failureCount = %d, want 1", got.FailureCount)
	}
	if got.LastFailureReason != "card declined" {
		t.Errorf("lastFailureReason = %q", got.LastFailureReason)
	}
	// Failures never advance the billing date.
	if got.NextBillingDate == nil || !got.NextBillingDate.Equal(now) {
		t.Errorf("nextBillingDate moved to %v on failure", got.NextBillingDate)
	}
}

func TestChargeFailed_SuspendsAtThreshold(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	sub := activeSub("u1", now)
	sub.FailureCount = 2
	store.put(sub)

	applier := NewApplier(store, store, ApplierConfig{})
	suspended, err := applier.ChargeFailed(ctx, sub, "card declined", now)
	if err != nil {
		t.Fatalf("ChargeFailed: %v", err)
	}
	if !suspended {
		t.Fatal("expected suspension at threshold")
	}

	got := store.mustGet("u1")
	if got.Status != StatusSuspended {
		t.Errorf("status = %s, want suspended", got.Status)
	}
	if got.FailureCount != 3 {
		t.Errorf("failureCount = %d, want 3", got.FailureCount)
	}
}

func TestChargeFailed_CustomThreshold(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	sub := activeSub("u1", now)
	store.put(sub)

	applier := NewApplier(store, store, ApplierConfig{FailureThreshold: 1})
	suspended, err := applier.ChargeFailed(ctx, sub, "card declined", now)
	if err != nil {
		t.Fatalf("ChargeFailed: %v", err)
	}
	if !suspended {
		t.Error("threshold 1 must suspend on first failure")
	}
}

func TestGatewayTerminalFailure(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	store.put(activeSub("u1", now))

	applier := NewApplier(store, store, ApplierConfig{})
	if err := applier.GatewayTerminalFailure(ctx, "u1", "billing key revoked", now); err != nil {
		t.Fatalf("GatewayTerminalFailure: %v", err)
	}

	got := store.mustGet("u1")
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
	if got.LastFailureReason != "billing key revoked" {
		t.Errorf("lastFailureReason = %q", got.LastFailureReason)
	}
}

func TestCancelled(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	store.put(activeSub("u1", now))

	applier := NewApplier(store, store, ApplierConfig{})
	if err := applier.Cancelled(ctx, "u1", now); err != nil {
		t.Fatalf("Cancelled: %v", err)
	}

	got := store.mustGet("u1")
	if got.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.CancelledAt == nil || !got.CancelledAt.Equal(now) {
		t.Errorf("cancelledAt = %v, want %v", got.CancelledAt, now)
	}
	// The billing key survives cancellation; only the status stops billing.
	if got.BillingKey == "" {
		t.Error("billingKey cleared on cancellation")
	}
}

func TestBillingKeyIssued_NewSubscription(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	applier := NewApplier(store, store, ApplierConfig{})
	if err := applier.BillingKeyIssued(ctx, "u1", "bkey_1", "cust_1", 19900, CycleMonthly, now); err != nil {
		t.Fatalf("BillingKeyIssued: %v", err)
	}

	got := store.mustGet("u1")
	if got.Plan != PlanPlus {
		t.Errorf("plan = %s, want plus for 19900", got.Plan)
	}
	if got.Status != StatusActive || !got.IsRecurring {
		t.Errorf("status = %s isRecurring = %t, want active recurring", got.Status, got.IsRecurring)
	}
	if !got.StartDate.Equal(now) {
		t.Errorf("startDate = %v, want %v", got.StartDate, now)
	}
	if want := date(2026, time.April, 15); got.NextBillingDate == nil || !got.NextBillingDate.Equal(want) {
		t.Errorf("nextBillingDate = %v, want %v", got.NextBillingDate, want)
	}
}

func TestBillingKeyIssued_YearlyAmountResolvesPlan(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	applier := NewApplier(store, store, ApplierConfig{})
	if err := applier.BillingKeyIssued(ctx, "u1", "bkey_1", "cust_1", 251160, CycleYearly, now); err != nil {
		t.Fatalf("BillingKeyIssued: %v", err)
	}

	got := store.mustGet("u1")
	if got.Plan != PlanPro {
		t.Errorf("plan = %s, want pro for yearly 251160", got.Plan)
	}
	if want := date(2027, time.March, 15); got.NextBillingDate == nil || !got.NextBillingDate.Equal(want) {
		t.Errorf("nextBillingDate = %v, want %v", got.NextBillingDate, want)
	}
}

func TestBillingKeyIssued_ReRegistrationKeepsStartDate(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	started := date(2026, time.January, 1)
	now := date(2026, time.March, 15)

	sub := activeSub("u1", now)
	sub.StartDate = started
	store.put(sub)

	applier := NewApplier(store, store, ApplierConfig{})
	// Same plan, new card: the original start date survives.
	if err := applier.BillingKeyIssued(ctx, "u1", "bkey_new", "cust_1", 29900, CycleMonthly, now); err != nil {
		t.Fatalf("BillingKeyIssued: %v", err)
	}

	got := store.mustGet("u1")
	if got.BillingKey != "bkey_new" {
		t.Errorf("billingKey = %s, want bkey_new", got.BillingKey)
	}
	if !got.StartDate.Equal(started) {
		t.Errorf("startDate = %v, want original %v", got.StartDate, started)
	}

	// Plan change resets the start date.
	if err := applier.BillingKeyIssued(ctx, "u1", "bkey_new", "cust_1", 9900, CycleMonthly, now); err != nil {
		t.Fatalf("BillingKeyIssued: %v", err)
	}
	got = store.mustGet("u1")
	if got.Plan != PlanBasic {
		t.Errorf("plan = %s, want basic", got.Plan)
	}
	if !got.StartDate.Equal(now) {
		t.Errorf("startDate = %v, want reset to %v on plan change", got.StartDate, now)
	}
}

// A fresh billing key starts with a clean retry budget: stale failures
// from before suspension must not count against the new card.
func TestBillingKeyIssued_ResetsFailureCountAfterSuspension(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	sub := activeSub("u1", now)
	sub.Status = StatusSuspended
	sub.FailureCount = 3
	store.put(sub)

	applier := NewApplier(store, store, ApplierConfig{})
	if err := applier.BillingKeyIssued(ctx, "u1", "bkey_new", "cust_1", 29900, CycleMonthly, now); err != nil {
		t.Fatalf("BillingKeyIssued: %v", err)
	}

	got := store.mustGet("u1")
	if got.Status != StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.FailureCount != 0 {
		t.Errorf("failureCount = %d, want 0 after re-registration", got.FailureCount)
	}
}

func TestOneTimePaymentCompleted(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	applier := NewApplier(store, store, ApplierConfig{})
	if err := applier.OneTimePaymentCompleted(ctx, "u1", 9900, "order_1", "베이직 구독", now); err != nil {
		t.Fatalf("OneTimePaymentCompleted: %v", err)
	}

	got := store.mustGet("u1")
	if got.Plan != PlanBasic {
		t.Errorf("plan = %s, want basic", got.Plan)
	}
	if got.Status != StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.IsRecurring {
		t.Error("one-time payment must not set isRecurring")
	}
	if got.NextBillingDate != nil {
		t.Errorf("nextBillingDate = %v, want nil for one-time", got.NextBillingDate)
	}

	payments, _ := store.ListPayments(ctx, "u1")
	if len(payments) != 1 || payments[0].OrderID != "order_1" {
		t.Fatalf("unexpected ledger state: %+v", payments)
	}
}

func TestRecurringPaymentCompleted(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := date(2026, time.March, 15)

	store.put(activeSub("u1", now))

	applier := NewApplier(store, store, ApplierConfig{})
	if err := applier.RecurringPaymentCompleted(ctx, "u1", "order_wh", 29900, now); err != nil {
		t.Fatalf("RecurringPaymentCompleted: %v", err)
	}

	got := store.mustGet("u1")
	if got.LastOrderID != "order_wh" {
		t.Errorf("lastOrderId = %s, want order_wh", got.LastOrderID)
	}
	if want := date(2026, time.April, 15); got.NextBillingDate == nil || !got.NextBillingDate.Equal(want) {
		t.Errorf("nextBillingDate = %v, want %v", got.NextBillingDate, want)
	}

	if err := applier.RecurringPaymentCompleted(ctx, "ghost", "order_x", 29900, now); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("unknown user: got %v, want ErrSubscriptionNotFound", err)
	}
}

func TestOrderName(t *testing.T) {
	if got := OrderName(PlanPro, CycleMonthly); got != "pro monthly subscription" {
		t.Errorf("OrderName = %q", got)
	}
	if got := OrderName(PlanBasic, CycleYearly); got != "basic yearly subscription" {
		t.Errorf("OrderName = %q", got)
	}
	if got := OrderName("", ""); got != "free monthly subscription" {
		t.Errorf("OrderName empty = %q", got)
	}

	// The generated name must round-trip through the reconciler's keyword
	// inference.
	r := NewReconciler(newFakeStore(), nil, nil)
	rec := &PaymentRecord{OrderName: OrderName(PlanPro, CycleYearly)}
	if got := r.InferCycle(rec); got != CycleYearly {
		t.Errorf("InferCycle(generated yearly name) = %s", got)
	}
}
