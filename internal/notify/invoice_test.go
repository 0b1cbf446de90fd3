package notify

import (
	"context"
	"errors"
	"testing"
)

type captureSender struct {
	sent EmailMessage
	err  error
}

func (c *captureSender) Send(ctx context.Context, msg EmailMessage) error {
	c.sent = msg
	return c.err
}

func TestNotifyInvoiceAssigned_SendsHostedURL(t *testing.T) {
	sender := &captureSender{}
	n := NewInvoiceNotifier(sender, nil)

	err := n.NotifyInvoiceAssigned(context.Background(), "admin@clinic.test", "Glow Clinic", "https://invoice.stripe.com/i/abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.sent.To != "admin@clinic.test" {
		t.Errorf("expected email to admin, got %q", sender.sent.To)
	}
	if sender.sent.Subject == "" {
		t.Error("expected non-empty subject")
	}
}

func TestNotifyInvoiceAssigned_NoAdminEmailIsNoop(t *testing.T) {
	sender := &captureSender{}
	n := NewInvoiceNotifier(sender, nil)

	if err := n.NotifyInvoiceAssigned(context.Background(), "", "Glow Clinic", "https://invoice.stripe.com/i/abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.sent.To != "" {
		t.Error("expected no email sent when admin email is empty")
	}
}

func TestNotifyInvoiceAssigned_NilNotifierIsNoop(t *testing.T) {
	var n *InvoiceNotifier
	if err := n.NotifyInvoiceAssigned(context.Background(), "admin@clinic.test", "Glow Clinic", "https://invoice.stripe.com/i/abc"); err != nil {
		t.Fatalf("expected nil error from nil notifier, got %v", err)
	}
}

func TestNotifyInvoiceAssigned_PropagatesSendError(t *testing.T) {
	sender := &captureSender{err: errors.New("sendgrid down")}
	n := NewInvoiceNotifier(sender, nil)

	err := n.NotifyInvoiceAssigned(context.Background(), "admin@clinic.test", "Glow Clinic", "https://invoice.stripe.com/i/abc")
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}
