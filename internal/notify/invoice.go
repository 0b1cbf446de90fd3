package notify

import (
	"context"
	"fmt"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

// InvoiceNotifier emails a tenant admin the hosted invoice link after an
// operator has admin-assigned them a subscription billed by invoice rather
// than automatic card charge. Adapted from the teacher's
// Service.NotifyPaymentSuccess template-building shape, trimmed to the
// single admin-assign event this system emits.
type InvoiceNotifier struct {
	email  EmailSender
	logger *logging.Logger
}

func NewInvoiceNotifier(email EmailSender, logger *logging.Logger) *InvoiceNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &InvoiceNotifier{email: email, logger: logger}
}

// NotifyInvoiceAssigned sends the hosted invoice URL to the tenant's admin
// email. A nil notifier or sender is a no-op so wiring it is optional.
func (n *InvoiceNotifier) NotifyInvoiceAssigned(ctx context.Context, adminEmail, tenantName, hostedInvoiceURL string) error {
	if n == nil || n.email == nil || adminEmail == "" {
		return nil
	}

	subject := fmt.Sprintf("Your %s subscription invoice is ready", tenantName)
	body := fmt.Sprintf(`Hi,

An administrator assigned your account a subscription billed by invoice.

Pay your invoice here: %s

— Booking AI`, hostedInvoiceURL)
	html := fmt.Sprintf(`<p>Hi,</p><p>An administrator assigned your account a subscription billed by invoice.</p><p><a href="%s">Pay your invoice</a></p><p>— Booking AI</p>`, hostedInvoiceURL)

	err := n.email.Send(ctx, EmailMessage{
		To:      adminEmail,
		Subject: subject,
		Body:    body,
		HTML:    html,
	})
	if err != nil {
		n.logger.Error("notify: failed to send invoice email", "error", err, "to", adminEmail)
	}
	return err
}
