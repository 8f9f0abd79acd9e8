package rebill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeStore is an in-package store and ledger for state machine tests.
type fakeStore struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	payments map[string][]*PaymentRecord

	saveErr   error
	appendErr error
	saveCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs:     make(map[string]*Subscription),
		payments: make(map[string][]*PaymentRecord),
	}
}

func (s *fakeStore) Get(_ context.Context, userID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *fakeStore) Save(_ context.Context, userID string, patch *SubscriptionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	sub, ok := s.subs[userID]
	if !ok {
		sub = &Subscription{UserID: userID, Plan: PlanFree, Status: StatusNone}
		s.subs[userID] = sub
	}
	patch.Apply(sub)
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) UpdatePlan(ctx context.Context, userID string, plan Plan) error {
	p := plan
	return s.Save(ctx, userID, &SubscriptionPatch{Plan: &p})
}

func (s *fakeStore) ListDue(_ context.Context, now time.Time) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.DueForBilling(now) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListRecurring(_ context.Context) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.IsRecurring {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListPayments(_ context.Context, userID string) ([]*PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*PaymentRecord(nil), s.payments[userID]...), nil
}

func (s *fakeStore) AppendPayment(_ context.Context, userID string, rec *PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	cp := *rec
	s.payments[userID] = append(s.payments[userID], &cp)
	return nil
}

func (s *fakeStore) put(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.UserID] = &cp
}

func (s *fakeStore) mustGet(userID string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		panic(fmt.Sprintf("no subscription for %s", userID))
	}
	cp := *sub
	return &cp
}

// fakeCharger returns scripted outcomes per user.
type fakeCharger struct {
	mu      sync.Mutex
	results map[string]*ChargeResult
	errs    map[string]error
	calls   []string
}

func newFakeCharger() *fakeCharger {
	return &fakeCharger{
		results: make(map[string]*ChargeResult),
		errs:    make(map[string]error),
	}
}

func (c *fakeCharger) Charge(_ context.Context, req *ChargeRequest) (*ChargeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req.BillingKey)
	if err, ok := c.errs[req.BillingKey]; ok {
		return nil, err
	}
	if res, ok := c.results[req.BillingKey]; ok {
		return res, nil
	}
	return &ChargeResult{Success: true, OrderID: "order_" + req.BillingKey}, nil
}

var errStorageDown = errors.New("storage down")

func activeSub(userID string, next time.Time) *Subscription {
	return &Subscription{
		UserID:          userID,
		Plan:            PlanPro,
		Status:          StatusActive,
		BillingKey:      "bkey_" + userID,
		CustomerKey:     "cust_" + userID,
		IsRecurring:     true,
		BillingCycle:    CycleMonthly,
		Amount:          29900,
		StartDate:       next.AddDate(0, -1, 0),
		NextBillingDate: &next,
	}
}
