// Package memory provides an in-memory implementation of the
// rebill.SubscriptionStore and rebill.PaymentLedger interfaces.
// Primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/gorebill/pkg/rebill"
)

// Storage implements rebill.SubscriptionStore and rebill.PaymentLedger
// using in-memory maps.
type Storage struct {
	mu            sync.RWMutex
	subscriptions map[string]*rebill.Subscription
	payments      map[string][]*rebill.PaymentRecord
}

// New creates a new in-memory storage adapter.
func New() *Storage {
	return &Storage{
		subscriptions: make(map[string]*rebill.Subscription),
		payments:      make(map[string][]*rebill.PaymentRecord),
	}
}

// Get implements rebill.SubscriptionStore.
func (s *Storage) Get(ctx context.Context, userID string) (*rebill.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, rebill.ErrSubscriptionNotFound
	}

	// Return a copy to prevent external mutations.
	return copySubscription(sub), nil
}

// Save implements rebill.SubscriptionStore. Creates the record as a fresh
// free/none subscription before applying the patch if absent.
func (s *Storage) Save(ctx context.Context, userID string, patch *rebill.SubscriptionPatch) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if patch == nil || patch.IsEmpty() {
		return rebill.ErrEmptyPatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		sub = &rebill.Subscription{
			UserID: userID,
			Plan:   rebill.PlanFree,
			Status: rebill.StatusNone,
		}
		s.subscriptions[userID] = sub
	}
	patch.Apply(sub)
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdatePlan implements rebill.SubscriptionStore.
func (s *Storage) UpdatePlan(ctx context.Context, userID string, plan rebill.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return rebill.ErrSubscriptionNotFound
	}
	sub.Plan = plan
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// ListDue implements rebill.SubscriptionStore.
func (s *Storage) ListDue(ctx context.Context, now time.Time) ([]*rebill.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*rebill.Subscription
	for _, sub := range s.subscriptions {
		if sub.DueForBilling(now) {
			due = append(due, copySubscription(sub))
		}
	}
	return due, nil
}

// ListRecurring implements rebill.SubscriptionStore.
func (s *Storage) ListRecurring(ctx context.Context) ([]*rebill.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*rebill.Subscription
	for _, sub := range s.subscriptions {
		if sub.IsRecurring {
			out = append(out, copySubscription(sub))
		}
	}
	return out, nil
}

// ListPayments implements rebill.PaymentLedger.
func (s *Storage) ListPayments(ctx context.Context, userID string) ([]*rebill.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.payments[userID]
	out := make([]*rebill.PaymentRecord, len(records))
	for i, rec := range records {
		recCopy := *rec
		out[i] = &recCopy
	}
	return out, nil
}

// AppendPayment implements rebill.PaymentLedger.
func (s *Storage) AppendPayment(ctx context.Context, userID string, rec *rebill.PaymentRecord) error {
	if rec == nil || rec.OrderID == "" {
		return fmt.Errorf("payment record with order id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	s.payments[userID] = append(s.payments[userID], &recCopy)
	return nil
}

func copySubscription(sub *rebill.Subscription) *rebill.Subscription {
	out := *sub
	out.NextBillingDate = copyTime(sub.NextBillingDate)
	out.LastPaymentDate = copyTime(sub.LastPaymentDate)
	out.LastFailureDate = copyTime(sub.LastFailureDate)
	out.CancelledAt = copyTime(sub.CancelledAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
