package gateway

import (
	"net/http"

	"github.com/mihaimyh/gorebill/pkg/notify"
	"github.com/mihaimyh/gorebill/pkg/rebill"
)

// Config defines the standard configuration all providers accept.
type Config struct {
	// Applier applies subscription state transitions. Required: it is the
	// same applier the scheduled orchestrator drives, so the webhook and
	// cron paths converge on one state machine.
	Applier *rebill.Applier

	// SecretKey authenticates outbound API calls to the gateway
	// (Basic-auth style credential).
	SecretKey string

	// WebhookSecret, when set, is required as a Bearer token on incoming
	// webhook requests. Empty disables the check (use network-level
	// allowlisting instead).
	WebhookSecret string

	// HTTPClient is an optional HTTP client for API calls. If nil, a
	// default client with a 10s timeout is used. The client timeout bounds
	// every charge attempt; a timeout counts as a charge failure.
	HTTPClient *http.Client

	// ResolveUser maps a gateway customerKey to the internal user ID
	// (default: IdentityUserResolver).
	ResolveUser UserResolver

	// Notifier receives fire-and-forget receipts and failure notices.
	// Notification errors are logged, never propagated to the gateway
	// (default: notify.Noop).
	Notifier notify.Notifier

	// Logger is used for structured logging (default: rebill.NoopLogger).
	Logger rebill.Logger

	// Metrics is an optional collector for webhook and API-call metrics
	// (default: NoopMetrics).
	Metrics Metrics
}
