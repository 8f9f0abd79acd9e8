package toss

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/gorebill/pkg/gateway"
	"github.com/mihaimyh/gorebill/pkg/gateway/internal"
	"github.com/mihaimyh/gorebill/pkg/notify"
	"github.com/mihaimyh/gorebill/pkg/rebill"
)

const (
	maxWebhookBodySize       = 1 << 20 // 1 MiB
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Provider implements gateway.Provider for TossPayments webhooks. It is
// the push half of the state machine: every event maps onto the same
// Applier transitions the scheduled sweep uses.
type Provider struct {
	applier       *rebill.Applier
	notifier      notify.Notifier
	resolveUser   gateway.UserResolver
	webhookSecret string
	logger        rebill.Logger
	metrics       gateway.Metrics
	rateLimiter   *internal.RateLimiter
	now           func() time.Time
}

// NewProvider creates a Toss webhook provider.
func NewProvider(config gateway.Config) (*Provider, error) {
	if config.Applier == nil {
		return nil, gateway.ErrProviderNotConfigured
	}
	if config.ResolveUser == nil {
		config.ResolveUser = gateway.IdentityUserResolver
	}
	if config.Notifier == nil {
		config.Notifier = notify.Noop{}
	}
	if config.Logger == nil {
		config.Logger = &rebill.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &gateway.NoopMetrics{}
	}

	secret := strings.TrimSpace(config.WebhookSecret)
	if strings.HasPrefix(strings.ToLower(secret), "bearer ") {
		secret = strings.TrimSpace(secret[len("bearer "):])
	}

	return &Provider{
		applier:       config.Applier,
		notifier:      config.Notifier,
		resolveUser:   config.ResolveUser,
		webhookSecret: secret,
		logger:        config.Logger,
		metrics:       config.Metrics,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Toss webhooks, wrapped with
// rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.webhookSecret != "" && !p.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodySize)
	if err != nil {
		if strings.Contains(err.Error(), "too large") {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	var event gateway.Event
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	eventType := strings.TrimSpace(event.EventType)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := p.processEvent(r.Context(), eventType, &event.Data); err != nil {
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

func (p *Provider) authorized(r *http.Request) bool {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		auth = strings.TrimSpace(auth[len("bearer "):])
	}
	return auth == p.webhookSecret
}

// processEvent routes one normalized event through the shared state
// machine. Unknown event types are logged and ignored, never an error.
func (p *Provider) processEvent(ctx context.Context, eventType string, data *gateway.EventData) error {
	if data.CustomerKey == "" {
		return gateway.ErrMissingCustomerKey
	}
	userID, err := p.resolveUser(ctx, data.CustomerKey)
	if err != nil {
		return fmt.Errorf("resolve user for customer key: %w", err)
	}

	now := p.now()

	switch eventType {
	case gateway.EventPaymentCompleted:
		amount := data.ChargedAmount()
		if err := p.applier.OneTimePaymentCompleted(ctx, userID, amount, data.OrderID, data.OrderName, now); err != nil {
			return err
		}
		p.notifyReceipt(ctx, userID, amount, data.OrderID)
		return nil

	case gateway.EventPaymentFailed:
		// One-time payment failures mutate nothing; notification only.
		p.notifyFailure(ctx, userID, data.FailReason)
		return nil

	case gateway.EventPaymentCancelled:
		return p.applier.Cancelled(ctx, userID, now)

	case gateway.EventBillingKeyIssued:
		cycle := p.inferCycle(data)
		return p.applier.BillingKeyIssued(ctx, userID, data.BillingKey, data.CustomerKey, data.ChargedAmount(), cycle, now)

	case gateway.EventBillingPaymentCompleted:
		amount := data.ChargedAmount()
		if err := p.applier.RecurringPaymentCompleted(ctx, userID, data.OrderID, amount, now); err != nil {
			return err
		}
		p.notifyReceipt(ctx, userID, amount, data.OrderID)
		return nil

	case gateway.EventBillingPaymentFailed:
		reason := data.FailReason
		if reason == "" {
			reason = "recurring payment failed"
		}
		if err := p.applier.GatewayTerminalFailure(ctx, userID, reason, now); err != nil {
			return err
		}
		p.notifyFailure(ctx, userID, reason)
		return nil

	default:
		// Forward-compatible no-op.
		p.logger.Info("unknown webhook event type ignored",
			rebill.Field{Key: "event_type", Value: eventType},
			rebill.Field{Key: "user_id", Value: userID},
		)
		return nil
	}
}

func (p *Provider) inferCycle(data *gateway.EventData) rebill.Cycle {
	switch rebill.Cycle(data.BillingCycle) {
	case rebill.CycleMonthly, rebill.CycleYearly, rebill.CycleTest:
		return rebill.Cycle(data.BillingCycle)
	}
	if _, ok := p.applier.Plans().KnownYearlyAmounts()[data.ChargedAmount()]; ok {
		return rebill.CycleYearly
	}
	return rebill.CycleMonthly
}

// Notification failures must never bubble up: a non-2xx would make the
// gateway retry the whole webhook and double-process the transition.
func (p *Provider) notifyReceipt(ctx context.Context, userID string, amount int64, orderID string) {
	if err := p.notifier.PaymentReceipt(ctx, userID, amount, orderID); err != nil {
		p.logger.Warn("receipt notification failed",
			rebill.Field{Key: "user_id", Value: userID},
			rebill.Field{Key: "error", Value: err.Error()},
		)
	}
}

func (p *Provider) notifyFailure(ctx context.Context, userID, reason string) {
	if err := p.notifier.PaymentFailure(ctx, userID, reason); err != nil {
		p.logger.Warn("failure notification failed",
			rebill.Field{Key: "user_id", Value: userID},
			rebill.Field{Key: "error", Value: err.Error()},
		)
	}
}
