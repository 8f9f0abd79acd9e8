package gateway

import "time"

// Metrics defines the interface for tracking gateway operations.
// All methods are optional - providers gracefully handle nil metrics by
// substituting NoopMetrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the
	// gateway. status is "success" or "error".
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long a webhook took to
	// process.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "auth_failed", "invalid_payload", "processing_error".
	RecordWebhookError(provider, errorType string)

	// RecordChargeCall records an outbound charge API call.
	// status is the HTTP status code as a string.
	RecordChargeCall(provider, status string)

	// RecordChargeCallDuration records how long a charge call took.
	RecordChargeCallDuration(provider string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordChargeCall(_, _ string)                                 {}
func (n *NoopMetrics) RecordChargeCallDuration(_ string, _ time.Duration)           {}
