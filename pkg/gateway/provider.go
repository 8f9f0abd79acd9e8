// Package gateway defines the provider-neutral surface of the payment
// gateway integration: the webhook Provider contract, normalized event
// types, configuration and metrics. Concrete gateways live in
// subpackages (currently toss).
package gateway

import (
	"context"
	"net/http"
)

// Provider is the interface a payment gateway integration must implement.
type Provider interface {
	// Name returns the provider name (e.g. "toss").
	Name() string

	// WebhookHandler returns the HTTP handler that processes asynchronous
	// gateway events. The implementation handles validation, parsing and
	// state transitions internally.
	WebhookHandler() http.Handler
}

// UserResolver maps a gateway-side customer key onto the internal user ID.
type UserResolver func(ctx context.Context, customerKey string) (string, error)

// IdentityUserResolver treats the customer key as the user ID. The default:
// the registration path uses the user ID as the gateway customer key.
func IdentityUserResolver(_ context.Context, customerKey string) (string, error) {
	return customerKey, nil
}
