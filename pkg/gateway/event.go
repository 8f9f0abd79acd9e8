package gateway

// Normalized webhook event types. Both one-time and recurring payment
// events map onto the same subscription state machine in pkg/rebill.
const (
	// EventPaymentCompleted is a completed one-time payment.
	EventPaymentCompleted = "PAYMENT_COMPLETED"
	// EventPaymentFailed is a failed one-time payment. No subscription
	// mutation; notification only.
	EventPaymentFailed = "PAYMENT_FAILED"
	// EventPaymentCancelled is a cancelled payment; the subscription is
	// cancelled.
	EventPaymentCancelled = "PAYMENT_CANCELLED"
	// EventBillingKeyIssued means the gateway registered a recurring
	// payment method.
	EventBillingKeyIssued = "BILLING_KEY_ISSUED"
	// EventBillingPaymentCompleted is a completed recurring charge; same
	// success transition as the scheduled sweep.
	EventBillingPaymentCompleted = "BILLING_PAYMENT_COMPLETED"
	// EventBillingPaymentFailed is a gateway-reported terminal recurring
	// failure; the subscription expires.
	EventBillingPaymentFailed = "BILLING_PAYMENT_FAILED"
)

// Event is the wire shape of an incoming webhook delivery.
type Event struct {
	EventType string    `json:"eventType"`
	Data      EventData `json:"data"`
}

// EventData carries the gateway-specific fields of an event. Amount and
// TotalAmount are alternative names for the same value depending on the
// event type.
type EventData struct {
	CustomerKey  string `json:"customerKey"`
	BillingKey   string `json:"billingKey,omitempty"`
	TotalAmount  int64  `json:"totalAmount,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	OrderID      string `json:"orderId,omitempty"`
	OrderName    string `json:"orderName,omitempty"`
	BillingCycle string `json:"billingCycle,omitempty"`
	FailReason   string `json:"failReason,omitempty"`
}

// ChargedAmount returns the event's amount, preferring totalAmount.
func (d *EventData) ChargedAmount() int64 {
	if d.TotalAmount > 0 {
		return d.TotalAmount
	}
	return d.Amount
}
