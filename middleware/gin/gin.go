// Package gin provides Gin middleware that gates handlers behind an
// active subscription tier.
package gin

import (
	"errors"
	"fmt"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/gorebill/pkg/rebill"
)

// UserIDExtractor extracts the user ID from a Gin context.
// Return empty string if user is not authenticated.
type UserIDExtractor func(c *gongin.Context) string

// SubscriptionKey is the Gin context key under which the middleware stores
// the loaded subscription.
const SubscriptionKey = "rebill:subscription"

// Config holds middleware configuration.
type Config struct {
	// Subscriptions is the subscription store (required).
	Subscriptions rebill.SubscriptionStore

	// GetUserID extracts user ID from context (required).
	GetUserID UserIDExtractor

	// MinPlan is the lowest tier allowed through.
	// Default: rebill.PlanBasic.
	MinPlan rebill.Plan

	// DeniedStatusCode is the HTTP status code returned when the
	// subscription does not satisfy MinPlan.
	// Default: 402 (Payment Required).
	DeniedStatusCode int

	// OnDenied is called when the subscription does not satisfy MinPlan
	// or is not active. If nil, uses default JSON response.
	OnDenied func(c *gongin.Context, sub *rebill.Subscription)

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that admits only users whose
// subscription is active at MinPlan or above. The loaded subscription is
// stored on the Gin context under SubscriptionKey.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Subscriptions == nil {
		panic("rebill/gin: Config.Subscriptions is required")
	}
	if cfg.GetUserID == nil {
		panic("rebill/gin: Config.GetUserID is required")
	}

	// Set defaults
	if cfg.MinPlan == "" {
		cfg.MinPlan = rebill.PlanBasic
	}
	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		sub, err := cfg.Subscriptions.Get(c.Request.Context(), userID)
		if err != nil {
			if !errors.Is(err, rebill.ErrSubscriptionNotFound) {
				if cfg.OnError != nil {
					cfg.OnError(c, err)
				} else {
					c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
				}
				c.Abort()
				return
			}
			sub = &rebill.Subscription{
				UserID: userID,
				Plan:   rebill.PlanFree,
				Status: rebill.StatusNone,
			}
		}

		if sub.Status != rebill.StatusActive || !sub.Plan.AtLeast(cfg.MinPlan) {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, sub)
			} else {
				c.JSON(cfg.DeniedStatusCode, gongin.H{
					"error":    fmt.Sprintf("Subscription required: plan %s or above", cfg.MinPlan),
					"plan":     string(sub.Plan),
					"status":   string(sub.Status),
					"min_plan": string(cfg.MinPlan),
				})
			}
			c.Abort()
			return
		}

		c.Set(SubscriptionKey, sub)
		c.Next()
	}
}

// SubscriptionFromContext returns the subscription the middleware loaded
// for this request, if any.
func SubscriptionFromContext(c *gongin.Context) (*rebill.Subscription, bool) {
	if val, exists := c.Get(SubscriptionKey); exists {
		if sub, ok := val.(*rebill.Subscription); ok {
			return sub, true
		}
	}
	return nil, false
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context
// values, for integrating with auth middleware that sets user information
// via c.Set("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter.
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter.
func FromQuery(queryName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}
