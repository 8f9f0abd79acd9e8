package api

import "time"

// SubscriptionResponse is the user-facing view of a subscription. It
// omits gateway credentials and internal bookkeeping.
type SubscriptionResponse struct {
	UserID          string     `json:"user_id"`
	Plan            string     `json:"plan"`
	Status          string     `json:"status"` // "none", "active", "cancelled", "suspended", "expired"
	IsRecurring     bool       `json:"is_recurring"`
	BillingCycle    string     `json:"billing_cycle,omitempty"`
	Amount          int64      `json:"amount"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`
	LastPaymentDate *time.Time `json:"last_payment_date,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

// RunResponse reports the outcome of a billing sweep.
type RunResponse struct {
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Processed    int          `json:"processed"`
	Succeeded    int          `json:"succeeded"`
	Failed       int          `json:"failed"`
	Reconciled   int          `json:"reconciled"`
	TotalCharged int64        `json:"total_charged"`
	Failures     []RunFailure `json:"failures,omitempty"`
}

// RunFailure is a single failed attempt within a sweep.
type RunFailure struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"` // "gateway", "data_integrity"
	Error  string `json:"error"`
}

// BillResponse reports the outcome of a single on-demand charge.
type BillResponse struct {
	UserID  string `json:"user_id"`
	Success bool   `json:"success"`
	Amount  int64  `json:"amount,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error,omitempty"`
}
