package gateway

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is missing
	// required configuration.
	ErrProviderNotConfigured = errors.New("gateway provider not configured")

	// ErrInvalidWebhookPayload is returned when a webhook payload cannot
	// be parsed.
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrMissingCustomerKey is returned when a webhook event carries no
	// customer key.
	ErrMissingCustomerKey = errors.New("webhook event missing customer key")

	// ErrGatewayAPIError is returned when the gateway API cannot be
	// reached or returns a malformed response.
	ErrGatewayAPIError = errors.New("gateway API error")
)
