// Package toss implements the TossPayments gateway: the charge client used
// by the scheduled orchestrator and the webhook normalizer that maps
// asynchronous gateway events onto the subscription state machine.
package toss

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/gorebill/pkg/gateway"
	"github.com/mihaimyh/gorebill/pkg/rebill"
)

const (
	providerName       = "toss"
	defaultBaseURL     = "https://api.tosspayments.com/v1"
	defaultHTTPTimeout = 10 * time.Second

	// settlementDone is the only settlement status treated as success.
	settlementDone = "DONE"
)

// ClientConfig holds charge client configuration.
type ClientConfig struct {
	// SecretKey is the gateway secret used as the Basic-auth username.
	// Required.
	SecretKey string

	// BaseURL overrides the gateway endpoint (default: production API).
	BaseURL string

	// HTTPClient bounds every charge attempt with its timeout
	// (default: 10s). A timeout is a charge failure like any other.
	HTTPClient *http.Client

	// Logger is used for structured logging (default: rebill.NoopLogger).
	Logger rebill.Logger

	// Metrics is an optional collector (default: gateway.NoopMetrics).
	Metrics gateway.Metrics
}

// Client executes charges against the TossPayments billing API. It never
// retries and never touches persistence; a non-2xx response or a
// settlement status other than DONE is a failure carrying the gateway's
// message.
type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     rebill.Logger
	metrics    gateway.Metrics
}

// NewClient creates a charge client.
func NewClient(config ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.SecretKey) == "" {
		return nil, gateway.ErrProviderNotConfigured
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if config.Logger == nil {
		config.Logger = &rebill.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &gateway.NoopMetrics{}
	}
	return &Client{
		secretKey:  strings.TrimSpace(config.SecretKey),
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: config.HTTPClient,
		logger:     config.Logger,
		metrics:    config.Metrics,
	}, nil
}

type chargeBody struct {
	BillingKey  string `json:"billingKey"`
	CustomerKey string `json:"customerKey"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderName   string `json:"orderName"`
}

type chargeResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

// Charge implements rebill.Charger. A fresh order ID is generated per
// attempt when the request does not carry one.
func (c *Client) Charge(ctx context.Context, req *rebill.ChargeRequest) (*rebill.ChargeResult, error) {
	orderID := req.OrderID
	if orderID == "" {
		orderID = NewOrderID()
	}

	payload, err := json.Marshal(chargeBody{
		BillingKey:  req.BillingKey,
		CustomerKey: req.CustomerKey,
		Amount:      req.Amount,
		OrderID:     orderID,
		OrderName:   req.OrderName,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/billing/pay", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+basicCredential(c.secretKey))

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	c.metrics.RecordChargeCallDuration(providerName, time.Since(started))
	if err != nil {
		c.metrics.RecordChargeCall(providerName, "transport_error")
		return nil, fmt.Errorf("%w: %v", gateway.ErrGatewayAPIError, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordChargeCall(providerName, fmt.Sprintf("%d", resp.StatusCode))

	var body chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", gateway.ErrGatewayAPIError, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || body.Status != settlementDone {
		message := body.Message
		if message == "" {
			message = fmt.Sprintf("gateway returned status %d (%s)", resp.StatusCode, body.Status)
		}
		c.logger.Info("charge rejected",
			rebill.Field{Key: "order_id", Value: orderID},
			rebill.Field{Key: "http_status", Value: resp.StatusCode},
			rebill.Field{Key: "settlement_status", Value: body.Status},
		)
		return &rebill.ChargeResult{Success: false, OrderID: orderID, Message: message}, nil
	}

	if body.OrderID != "" {
		orderID = body.OrderID
	}
	return &rebill.ChargeResult{Success: true, OrderID: orderID}, nil
}

// NewOrderID generates a fresh order identifier: millisecond timestamp plus
// a random suffix. Unique enough to dedupe-protect against double
// submission; not cryptographic.
func NewOrderID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("order_%d_%s", time.Now().UnixMilli(), suffix)
}

func basicCredential(secretKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(secretKey + ":"))
}
