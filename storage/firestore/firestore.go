// Package firestore provides a Firestore implementation of the
// rebill.SubscriptionStore and rebill.PaymentLedger interfaces. The
// subscription lives as a nested object on the user document; payments are
// an append-only subcollection under the user.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/gorebill/pkg/rebill"
)

// Storage implements rebill.SubscriptionStore and rebill.PaymentLedger
// using Google Cloud Firestore.
type Storage struct {
	client             *firestore.Client
	usersCollection    string
	paymentsCollection string
}

// Config holds Firestore storage configuration.
type Config struct {
	// UsersCollection is the collection holding user documents with the
	// embedded subscription object. Default: "users".
	UsersCollection string

	// PaymentsCollection is the per-user subcollection holding the
	// append-only payment ledger. Default: "payments".
	PaymentsCollection string
}

// New creates a new Firestore storage adapter. The client is constructed
// once at process startup and passed in; this package never initializes
// SDK state of its own.
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.UsersCollection == "" {
		config.UsersCollection = "users"
	}
	if config.PaymentsCollection == "" {
		config.PaymentsCollection = "payments"
	}

	return &Storage{
		client:             client,
		usersCollection:    config.UsersCollection,
		paymentsCollection: config.PaymentsCollection,
	}, nil
}

// Get implements rebill.SubscriptionStore.
func (s *Storage) Get(ctx context.Context, userID string) (*rebill.Subscription, error) {
	snap, err := s.userDoc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, rebill.ErrSubscriptionNotFound
		}
		return nil, wrapInfraError("get subscription", err)
	}
	if !snap.Exists() {
		return nil, rebill.ErrSubscriptionNotFound
	}

	data, ok := snap.Data()["subscription"].(map[string]interface{})
	if !ok {
		return nil, rebill.ErrSubscriptionNotFound
	}
	return subscriptionFromData(userID, data), nil
}

// Save implements rebill.SubscriptionStore. Only the fields set in the
// patch are written; MergeAll leaves every other subscription field
// untouched, which gives the documented shallow top-level merge.
func (s *Storage) Save(ctx context.Context, userID string, patch *rebill.SubscriptionPatch) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if patch == nil || patch.IsEmpty() {
		return rebill.ErrEmptyPatch
	}

	fields := patch.Fields()
	fields["updatedAt"] = time.Now().UTC()

	_, err := s.userDoc(userID).Set(ctx, map[string]interface{}{
		"subscription": fields,
	}, firestore.MergeAll)
	if err != nil {
		return wrapInfraError("save subscription", err)
	}
	return nil
}

// UpdatePlan implements rebill.SubscriptionStore with a path-scoped update
// touching only the plan and the updatedAt marker.
func (s *Storage) UpdatePlan(ctx context.Context, userID string, plan rebill.Plan) error {
	_, err := s.userDoc(userID).Update(ctx, []firestore.Update{
		{Path: "subscription.plan", Value: string(plan)},
		{Path: "subscription.updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return rebill.ErrSubscriptionNotFound
		}
		return wrapInfraError("update plan", err)
	}
	return nil
}

// ListDue implements rebill.SubscriptionStore.
func (s *Storage) ListDue(ctx context.Context, now time.Time) ([]*rebill.Subscription, error) {
	q := s.client.Collection(s.usersCollection).
		Where("subscription.status", "==", string(rebill.StatusActive)).
		Where("subscription.isRecurring", "==", true).
		Where("subscription.nextBillingDate", "<=", now)
	return s.querySubscriptions(ctx, q)
}

// ListRecurring implements rebill.SubscriptionStore.
func (s *Storage) ListRecurring(ctx context.Context) ([]*rebill.Subscription, error) {
	q := s.client.Collection(s.usersCollection).
		Where("subscription.isRecurring", "==", true)
	return s.querySubscriptions(ctx, q)
}

func (s *Storage) querySubscriptions(ctx context.Context, q firestore.Query) ([]*rebill.Subscription, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*rebill.Subscription
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapInfraError("query subscriptions", err)
		}
		data, ok := snap.Data()["subscription"].(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, subscriptionFromData(snap.Ref.ID, data))
	}
	return out, nil
}

// ListPayments implements rebill.PaymentLedger.
func (s *Storage) ListPayments(ctx context.Context, userID string) ([]*rebill.PaymentRecord, error) {
	iter := s.userDoc(userID).Collection(s.paymentsCollection).Documents(ctx)
	defer iter.Stop()

	var out []*rebill.PaymentRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapInfraError("list payments", err)
		}
		data := snap.Data()
		out = append(out, &rebill.PaymentRecord{
			OrderID:      snap.Ref.ID,
			Status:       getString(data, "status"),
			Amount:       getInt64(data, "amount"),
			ApprovedAt:   getTime(data, "approvedAt"),
			OrderName:    getString(data, "orderName"),
			BillingCycle: rebill.Cycle(getString(data, "billingCycle")),
		})
	}
	return out, nil
}

// AppendPayment implements rebill.PaymentLedger. Create (not Set) keyed by
// order ID keeps the ledger append-only: a duplicate order ID fails
// instead of silently overwriting history.
func (s *Storage) AppendPayment(ctx context.Context, userID string, rec *rebill.PaymentRecord) error {
	if rec == nil || rec.OrderID == "" {
		return fmt.Errorf("payment record with order id is required")
	}

	data := map[string]interface{}{
		"status":     rec.Status,
		"amount":     rec.Amount,
		"approvedAt": rec.ApprovedAt,
		"orderName":  rec.OrderName,
	}
	if rec.BillingCycle != "" {
		data["billingCycle"] = string(rec.BillingCycle)
	}

	_, err := s.userDoc(userID).Collection(s.paymentsCollection).Doc(rec.OrderID).Create(ctx, data)
	if err != nil {
		return wrapInfraError("append payment", err)
	}
	return nil
}

func (s *Storage) userDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.usersCollection).Doc(userID)
}

func subscriptionFromData(userID string, data map[string]interface{}) *rebill.Subscription {
	sub := &rebill.Subscription{
		UserID:            userID,
		Plan:              rebill.Plan(getString(data, "plan")),
		Status:            rebill.Status(getString(data, "status")),
		BillingKey:        getString(data, "billingKey"),
		CustomerKey:       getString(data, "customerKey"),
		IsRecurring:       getBool(data, "isRecurring"),
		BillingCycle:      rebill.Cycle(getString(data, "billingCycle")),
		Amount:            getInt64(data, "amount"),
		StartDate:         getTime(data, "startDate"),
		LastOrderID:       getString(data, "lastOrderId"),
		FailureCount:      int(getInt64(data, "failureCount")),
		LastFailureReason: getString(data, "lastFailureReason"),
		UpdatedAt:         getTime(data, "updatedAt"),
	}
	sub.NextBillingDate = getTimePtr(data, "nextBillingDate")
	sub.LastPaymentDate = getTimePtr(data, "lastPaymentDate")
	sub.LastFailureDate = getTimePtr(data, "lastFailureDate")
	sub.CancelledAt = getTimePtr(data, "cancelledAt")
	if sub.Plan == "" {
		sub.Plan = rebill.PlanFree
	}
	if sub.Status == "" {
		sub.Status = rebill.StatusNone
	}
	return sub
}

// wrapInfraError tags retryable infrastructure failures with the
// ErrStorageUnavailable sentinel so callers never mistake an outage for a
// business outcome.
func wrapInfraError(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%s: %w: %v", op, rebill.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// Helper functions for type conversion from Firestore data.

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok && !v.IsZero() {
		t := v
		return &t
	}
	return nil
}
