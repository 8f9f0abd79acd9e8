// Package http provides HTTP middleware that gates handlers behind an
// active subscription tier.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mihaimyh/gorebill/pkg/rebill"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration.
type Config struct {
	// Subscriptions is the subscription store (required).
	Subscriptions rebill.SubscriptionStore

	// GetUserID extracts user ID from request (required).
	GetUserID UserIDExtractor

	// MinPlan is the lowest tier allowed through.
	// Default: rebill.PlanBasic.
	MinPlan rebill.Plan

	// OnDenied is called when the subscription does not satisfy MinPlan
	// or is not active. If nil, returns 402 Payment Required.
	OnDenied func(w http.ResponseWriter, r *http.Request, sub *rebill.Subscription)

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that admits only users whose
// subscription is active at MinPlan or above. Users without a stored
// subscription are treated as free/none and denied. The loaded
// subscription is placed on the request context for downstream handlers.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.MinPlan == "" {
		config.MinPlan = rebill.PlanBasic
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			ctx := r.Context()
			sub, err := config.Subscriptions.Get(ctx, userID)
			if err != nil {
				if !errors.Is(err, rebill.ErrSubscriptionNotFound) {
					if config.OnError != nil {
						config.OnError(w, r, err)
					} else {
						http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					}
					return
				}
				// Never-subscribed users carry an implicit free/none record.
				sub = &rebill.Subscription{
					UserID: userID,
					Plan:   rebill.PlanFree,
					Status: rebill.StatusNone,
				}
			}

			if sub.Status != rebill.StatusActive || !sub.Plan.AtLeast(config.MinPlan) {
				if config.OnDenied != nil {
					config.OnDenied(w, r, sub)
				} else {
					msg := fmt.Sprintf("Subscription required: plan %s or above", config.MinPlan)
					http.Error(w, msg, http.StatusPaymentRequired)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubscription(ctx, sub)))
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates handlers behind a
// subscription tier (HandlerFunc version).
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for user ID.
	UserIDKey ContextKey = "rebill:userID"

	// SubscriptionKey is the context key for the loaded subscription.
	SubscriptionKey ContextKey = "rebill:subscription"
)

// FromContext returns an UserIDExtractor that gets user ID from request context.
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds user ID to request context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithSubscription adds the loaded subscription to the context.
func WithSubscription(ctx context.Context, sub *rebill.Subscription) context.Context {
	return context.WithValue(ctx, SubscriptionKey, sub)
}

// SubscriptionFromContext returns the subscription the middleware loaded
// for this request, if any.
func SubscriptionFromContext(ctx context.Context) (*rebill.Subscription, bool) {
	sub, ok := ctx.Value(SubscriptionKey).(*rebill.Subscription)
	return sub, ok
}
