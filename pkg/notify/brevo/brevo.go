// Package brevo implements the notify.Notifier interface using the
// Brevo transactional email API.
package brevo

import (
	"context"
	"fmt"
	"time"

	brevo "github.com/getbrevo/brevo-go/lib"

	"github.com/mihaimyh/gorebill/pkg/notify"
	"github.com/mihaimyh/gorebill/pkg/rebill"
)

// EmailResolver maps an internal user ID to a deliverable email address.
// Returning an empty address skips the notification for that user.
type EmailResolver func(ctx context.Context, userID string) (string, error)

// Config holds Brevo notifier configuration.
type Config struct {
	// APIKey is the Brevo API key. Required.
	APIKey string

	// FromEmail is the sender address. Required.
	FromEmail string

	// FromName is the sender display name (default: "Billing").
	FromName string

	// ReportEmail receives run reports. If empty, RunReport is a no-op.
	ReportEmail string

	// ResolveEmail maps user IDs to email addresses. Required for
	// PaymentReceipt and PaymentFailure.
	ResolveEmail EmailResolver
}

// Notifier sends billing emails through Brevo.
type Notifier struct {
	client *brevo.APIClient
	config Config
}

var _ notify.Notifier = (*Notifier)(nil)

// New creates a Brevo notifier.
func New(config Config) (*Notifier, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("brevo API key is required")
	}
	if config.FromEmail == "" {
		return nil, fmt.Errorf("sender email is required")
	}
	if config.FromName == "" {
		config.FromName = "Billing"
	}

	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", config.APIKey)
	return &Notifier{
		client: brevo.NewAPIClient(cfg),
		config: config,
	}, nil
}

// PaymentReceipt implements notify.Notifier.
func (n *Notifier) PaymentReceipt(ctx context.Context, userID string, amount int64, orderID string) error {
	to, err := n.resolve(ctx, userID)
	if err != nil || to == "" {
		return err
	}

	subject := "Payment received"
	text := fmt.Sprintf(
		"Your subscription payment of %d KRW was processed.\n\nOrder: %s\n\nThank you.",
		amount, orderID,
	)
	return n.send(ctx, to, subject, text)
}

// PaymentFailure implements notify.Notifier.
func (n *Notifier) PaymentFailure(ctx context.Context, userID, reason string) error {
	to, err := n.resolve(ctx, userID)
	if err != nil || to == "" {
		return err
	}

	subject := "Payment failed"
	text := fmt.Sprintf(
		"We could not process your subscription payment.\n\nReason: %s\n\nPlease update your payment method to keep your subscription active.",
		reason,
	)
	return n.send(ctx, to, subject, text)
}

// RunReport implements notify.Notifier.
func (n *Notifier) RunReport(ctx context.Context, summary *rebill.RunSummary) error {
	if n.config.ReportEmail == "" || summary == nil {
		return nil
	}

	subject := fmt.Sprintf("Billing run report: %d processed, %d failed", summary.Processed, summary.Failed)
	text := fmt.Sprintf(
		"Billing run finished at %s.\n\nProcessed: %d\nSucceeded: %d\nFailed: %d\nReconciled: %d\nTotal charged: %d KRW\nDuration: %s\n",
		summary.FinishedAt.Format(time.RFC3339),
		summary.Processed,
		summary.Succeeded,
		summary.Failed,
		summary.Reconciled,
		summary.TotalCharged,
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond),
	)
	if summary.Failed > 0 {
		text += "\nFailures:\n"
		for _, f := range summary.Failures {
			text += fmt.Sprintf("  - %s (%s): %s\n", f.UserID, f.Kind, f.Error)
		}
	}
	return n.send(ctx, n.config.ReportEmail, subject, text)
}

func (n *Notifier) resolve(ctx context.Context, userID string) (string, error) {
	if n.config.ResolveEmail == nil {
		return "", nil
	}
	to, err := n.config.ResolveEmail(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve email for %s: %w", userID, err)
	}
	return to, nil
}

func (n *Notifier) send(ctx context.Context, to, subject, text string) error {
	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  n.config.FromName,
			Email: n.config.FromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: to},
		},
		Subject:     subject,
		TextContent: text,
	}

	_, resp, err := n.client.TransactionalEmailsApi.SendTransacEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("brevo send email: %w", err)
	}
	if resp != nil && resp.StatusCode >= 300 {
		return fmt.Errorf("brevo send email: unexpected status %d", resp.StatusCode)
	}
	return nil
}
