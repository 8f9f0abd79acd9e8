// Package api provides HTTP endpoints for subscription inspection and
// on-demand billing runs. Handlers are plain http.HandlerFunc values so
// they mount on any router.
package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/gorebill/pkg/rebill"
)

// Config holds configuration for the billing API handler.
type Config struct {
	// Orchestrator runs billing sweeps and single-user charges (required).
	Orchestrator *rebill.Orchestrator

	// Subscriptions reads subscription records for the view endpoint
	// (required).
	Subscriptions rebill.SubscriptionStore

	// GetUserID extracts the user ID from an HTTP request (required for
	// GetSubscription and BillUser).
	GetUserID func(*http.Request) string

	// TriggerToken protects TriggerRun and BillUser. If set, requests
	// must carry "Authorization: Bearer <token>". If empty, the
	// endpoints are open; only do that behind an authenticating proxy.
	TriggerToken string

	// OnError handles errors. If nil, a JSON error body is written.
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional. If nil, logging is disabled.
	Logger rebill.Logger
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Orchestrator == nil {
		return fmt.Errorf("orchestrator is required")
	}
	if c.Subscriptions == nil {
		return fmt.Errorf("subscription store is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new billing API handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &rebill.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts the user ID from
// a header.
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromQuery returns a GetUserID function that extracts the user ID from
// a query parameter.
func FromQuery(param string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.URL.Query().Get(param)
	}
}

// FromContext returns a GetUserID function that extracts the user ID
// from the request context.
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
