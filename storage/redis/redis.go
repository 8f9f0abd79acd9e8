// Package redis provides a Redis implementation of the
// rebill.SubscriptionStore and rebill.PaymentLedger interfaces.
// Subscriptions are JSON documents; the payment ledger is an append-only
// list per user. Patch merges run inside optimistic WATCH transactions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gorebill/pkg/rebill"
)

// Storage implements rebill.SubscriptionStore and rebill.PaymentLedger
// using Redis.
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "rebill:").
	KeyPrefix string

	// MaxRetries is the number of attempts for an optimistic merge that
	// lost a WATCH race (default: 3).
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "rebill:",
		MaxRetries: 3,
	}
}

// New creates a new Redis storage adapter. The client can be
// *redis.Client, *redis.ClusterClient or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rebill:"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	return &Storage{client: client, config: config}, nil
}

// subscriptionDoc is the persisted JSON shape, matching the conceptual
// users/{userId}.subscription layout.
type subscriptionDoc struct {
	Plan              string     `json:"plan"`
	Status            string     `json:"status"`
	BillingKey        string     `json:"billingKey,omitempty"`
	CustomerKey       string     `json:"customerKey,omitempty"`
	IsRecurring       bool       `json:"isRecurring,omitempty"`
	BillingCycle      string     `json:"billingCycle,omitempty"`
	Amount            int64      `json:"amount,omitempty"`
	StartDate         time.Time  `json:"startDate"`
	NextBillingDate   *time.Time `json:"nextBillingDate,omitempty"`
	LastPaymentDate   *time.Time `json:"lastPaymentDate,omitempty"`
	LastOrderID       string     `json:"lastOrderId,omitempty"`
	FailureCount      int        `json:"failureCount,omitempty"`
	LastFailureDate   *time.Time `json:"lastFailureDate,omitempty"`
	LastFailureReason string     `json:"lastFailureReason,omitempty"`
	CancelledAt       *time.Time `json:"cancelledAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type paymentDoc struct {
	OrderID      string    `json:"orderId"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	ApprovedAt   time.Time `json:"approvedAt"`
	OrderName    string    `json:"orderName,omitempty"`
	BillingCycle string    `json:"billingCycle,omitempty"`
}

// Get implements rebill.SubscriptionStore.
func (s *Storage) Get(ctx context.Context, userID string) (*rebill.Subscription, error) {
	raw, err := s.client.Get(ctx, s.subKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, rebill.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w: %v", rebill.ErrStorageUnavailable, err)
	}
	return decodeSubscription(userID, raw)
}

// Save implements rebill.SubscriptionStore. The read-merge-write runs
// under WATCH so a concurrent writer restarts the merge instead of being
// overwritten wholesale.
func (s *Storage) Save(ctx context.Context, userID string, patch *rebill.SubscriptionPatch) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if patch == nil || patch.IsEmpty() {
		return rebill.ErrEmptyPatch
	}

	key := s.subKey(userID)
	merge := func(tx *redis.Tx) error {
		sub := &rebill.Subscription{
			UserID: userID,
			Plan:   rebill.PlanFree,
			Status: rebill.StatusNone,
		}
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			sub, err = decodeSubscription(userID, raw)
			if err != nil {
				return err
			}
		}

		patch.Apply(sub)
		sub.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(docFromSubscription(sub))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < s.config.MaxRetries; i++ {
		err = s.client.Watch(ctx, merge, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("save subscription: %w: %v", rebill.ErrStorageUnavailable, err)
	}
	return nil
}

// UpdatePlan implements rebill.SubscriptionStore. Path-scoped in effect:
// the merge only touches plan and updatedAt.
func (s *Storage) UpdatePlan(ctx context.Context, userID string, plan rebill.Plan) error {
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}
	p := plan
	return s.Save(ctx, userID, &rebill.SubscriptionPatch{Plan: &p})
}

// ListDue implements rebill.SubscriptionStore by scanning the
// subscription keyspace and filtering client-side. Acceptable for the
// sweep's once-a-day cadence; a sorted-set index would be the next step if
// the keyspace grows.
func (s *Storage) ListDue(ctx context.Context, now time.Time) ([]*rebill.Subscription, error) {
	return s.scanSubscriptions(ctx, func(sub *rebill.Subscription) bool {
		return sub.DueForBilling(now)
	})
}

// ListRecurring implements rebill.SubscriptionStore.
func (s *Storage) ListRecurring(ctx context.Context) ([]*rebill.Subscription, error) {
	return s.scanSubscriptions(ctx, func(sub *rebill.Subscription) bool {
		return sub.IsRecurring
	})
}

func (s *Storage) scanSubscriptions(ctx context.Context, keep func(*rebill.Subscription) bool) ([]*rebill.Subscription, error) {
	var out []*rebill.Subscription
	iter := s.client.Scan(ctx, 0, s.config.KeyPrefix+"sub:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("scan subscriptions: %w: %v", rebill.ErrStorageUnavailable, err)
		}
		userID := strings.TrimPrefix(key, s.config.KeyPrefix+"sub:")
		sub, err := decodeSubscription(userID, raw)
		if err != nil {
			return nil, err
		}
		if keep(sub) {
			out = append(out, sub)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan subscriptions: %w: %v", rebill.ErrStorageUnavailable, err)
	}
	return out, nil
}

// ListPayments implements rebill.PaymentLedger.
func (s *Storage) ListPayments(ctx context.Context, userID string) ([]*rebill.PaymentRecord, error) {
	raws, err := s.client.LRange(ctx, s.paymentsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list payments: %w: %v", rebill.ErrStorageUnavailable, err)
	}

	out := make([]*rebill.PaymentRecord, 0, len(raws))
	for _, raw := range raws {
		var doc paymentDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode payment record: %w", err)
		}
		out = append(out, &rebill.PaymentRecord{
			OrderID:      doc.OrderID,
			Status:       doc.Status,
			Amount:       doc.Amount,
			ApprovedAt:   doc.ApprovedAt,
			OrderName:    doc.OrderName,
			BillingCycle: rebill.Cycle(doc.BillingCycle),
		})
	}
	return out, nil
}

// AppendPayment implements rebill.PaymentLedger.
func (s *Storage) AppendPayment(ctx context.Context, userID string, rec *rebill.PaymentRecord) error {
	if rec == nil || rec.OrderID == "" {
		return fmt.Errorf("payment record with order id is required")
	}

	encoded, err := json.Marshal(paymentDoc{
		OrderID:      rec.OrderID,
		Status:       rec.Status,
		Amount:       rec.Amount,
		ApprovedAt:   rec.ApprovedAt,
		OrderName:    rec.OrderName,
		BillingCycle: string(rec.BillingCycle),
	})
	if err != nil {
		return fmt.Errorf("encode payment record: %w", err)
	}

	if err := s.client.RPush(ctx, s.paymentsKey(userID), encoded).Err(); err != nil {
		return fmt.Errorf("append payment: %w: %v", rebill.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Storage) subKey(userID string) string {
	return s.config.KeyPrefix + "sub:" + userID
}

func (s *Storage) paymentsKey(userID string) string {
	return s.config.KeyPrefix + "payments:" + userID
}

func decodeSubscription(userID, raw string) (*rebill.Subscription, error) {
	var doc subscriptionDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}

	sub := &rebill.Subscription{
		UserID:            userID,
		Plan:              rebill.Plan(doc.Plan),
		Status:            rebill.Status(doc.Status),
		BillingKey:        doc.BillingKey,
		CustomerKey:       doc.CustomerKey,
		IsRecurring:       doc.IsRecurring,
		BillingCycle:      rebill.Cycle(doc.BillingCycle),
		Amount:            doc.Amount,
		StartDate:         doc.StartDate,
		NextBillingDate:   doc.NextBillingDate,
		LastPaymentDate:   doc.LastPaymentDate,
		LastOrderID:       doc.LastOrderID,
		FailureCount:      doc.FailureCount,
		LastFailureDate:   doc.LastFailureDate,
		LastFailureReason: doc.LastFailureReason,
		CancelledAt:       doc.CancelledAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	if sub.Plan == "" {
		sub.Plan = rebill.PlanFree
	}
	if sub.Status == "" {
		sub.Status = rebill.StatusNone
	}
	return sub, nil
}

func docFromSubscription(sub *rebill.Subscription) subscriptionDoc {
	return subscriptionDoc{
		Plan:              string(sub.Plan),
		Status:            string(sub.Status),
		BillingKey:        sub.BillingKey,
		CustomerKey:       sub.CustomerKey,
		IsRecurring:       sub.IsRecurring,
		BillingCycle:      string(sub.BillingCycle),
		Amount:            sub.Amount,
		StartDate:         sub.StartDate,
		NextBillingDate:   sub.NextBillingDate,
		LastPaymentDate:   sub.LastPaymentDate,
		LastOrderID:       sub.LastOrderID,
		FailureCount:      sub.FailureCount,
		LastFailureDate:   sub.LastFailureDate,
		LastFailureReason: sub.LastFailureReason,
		CancelledAt:       sub.CancelledAt,
		UpdatedAt:         sub.UpdatedAt,
	}
}
