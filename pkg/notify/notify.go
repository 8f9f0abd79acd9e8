// Package notify defines the fire-and-forget notification collaborator.
// Implementations deliver receipts, failure notices and run reports;
// callers never let a delivery failure alter billing state.
package notify

import (
	"context"

	"github.com/mihaimyh/gorebill/pkg/rebill"
)

// Notifier delivers billing notifications. Every method is best-effort:
// callers log returned errors and move on.
type Notifier interface {
	// PaymentReceipt notifies the user of a successful charge.
	PaymentReceipt(ctx context.Context, userID string, amount int64, orderID string) error

	// PaymentFailure notifies the user of a failed charge.
	PaymentFailure(ctx context.Context, userID, reason string) error

	// RunReport delivers the summary of a completed billing sweep to the
	// operators.
	RunReport(ctx context.Context, summary *rebill.RunSummary) error
}

// Noop is a no-op implementation of the Notifier interface.
type Noop struct{}

func (Noop) PaymentReceipt(context.Context, string, int64, string) error { return nil }
func (Noop) PaymentFailure(context.Context, string, string) error        { return nil }
func (Noop) RunReport(context.Context, *rebill.RunSummary) error         { return nil }
