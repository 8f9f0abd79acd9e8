package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mihaimyh/gorebill/pkg/rebill"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for subscription state and billing runs.
type Handler struct {
	config Config
}

// GetSubscription returns the caller's subscription as JSON. Users with
// no record get a synthetic free/none response rather than a 404, so
// clients need no special case for never-subscribed users.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	sub, err := h.config.Subscriptions.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, rebill.ErrSubscriptionNotFound) {
			writeJSON(w, http.StatusOK, SubscriptionResponse{
				UserID: userID,
				Plan:   string(rebill.PlanFree),
				Status: string(rebill.StatusNone),
			})
			return
		}
		h.handleError(w, r, fmt.Errorf("failed to get subscription: %w", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, subscriptionResponse(sub))
}

// TriggerRun executes a billing sweep and returns its summary. The
// response is 200 even when individual charges failed; per-user failures
// live in the body. Non-2xx means the sweep itself could not run.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		h.handleError(w, r, fmt.Errorf("unauthorized"), http.StatusUnauthorized)
		return
	}

	summary, err := h.config.Orchestrator.Run(r.Context())
	if err != nil {
		h.config.Logger.Error("billing run failed", rebill.Field{Key: "error", Value: err.Error()})
		h.handleError(w, r, fmt.Errorf("billing run failed: %w", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, runResponse(summary))
}

// BillUser charges a single subscription immediately. Subscriptions that
// are not active and recurring are rejected with 409 before any gateway
// call.
func (h *Handler) BillUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		h.handleError(w, r, fmt.Errorf("unauthorized"), http.StatusUnauthorized)
		return
	}

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusBadRequest)
		return
	}

	result, err := h.config.Orchestrator.BillUser(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, rebill.ErrSubscriptionNotFound):
			h.handleError(w, r, err, http.StatusNotFound)
		case rebill.IsNotBillable(err):
			h.handleError(w, r, err, http.StatusConflict)
		default:
			h.handleError(w, r, fmt.Errorf("billing failed: %w", err), http.StatusInternalServerError)
		}
		return
	}

	resp := BillResponse{
		UserID:  result.UserID,
		Success: result.Success,
		Amount:  result.Amount,
		OrderID: result.OrderID,
		Error:   result.Error,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.config.TriggerToken == "" {
		return true
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return auth[len(prefix):] == h.config.TriggerToken
}

// handleError handles errors with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	writeJSON(w, statusCode, map[string]string{"error": err.Error()})
}

func subscriptionResponse(sub *rebill.Subscription) SubscriptionResponse {
	resp := SubscriptionResponse{
		UserID:          sub.UserID,
		Plan:            string(sub.Plan),
		Status:          string(sub.Status),
		IsRecurring:     sub.IsRecurring,
		BillingCycle:    string(sub.BillingCycle),
		Amount:          sub.Amount,
		NextBillingDate: sub.NextBillingDate,
		LastPaymentDate: sub.LastPaymentDate,
		CancelledAt:     sub.CancelledAt,
	}
	if !sub.StartDate.IsZero() {
		start := sub.StartDate
		resp.StartDate = &start
	}
	return resp
}

func runResponse(summary *rebill.RunSummary) RunResponse {
	resp := RunResponse{
		StartedAt:    summary.StartedAt,
		FinishedAt:   summary.FinishedAt,
		Processed:    summary.Processed,
		Succeeded:    summary.Succeeded,
		Failed:       summary.Failed,
		Reconciled:   summary.Reconciled,
		TotalCharged: summary.TotalCharged,
	}
	for _, f := range summary.Failures {
		resp.Failures = append(resp.Failures, RunFailure{
			UserID: f.UserID,
			Kind:   string(f.Kind),
			Error:  f.Error,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already sent; nothing useful to do.
		_ = err
	}
}
