package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

// BookingCheckout creates Stripe Checkout Sessions for booking payments,
// charged directly against the tenant's connected account via the
// Stripe-Account header. Grounded on the teacher's stripe_checkout.go
// CreatePaymentLink, generalized from a fixed "Deposit" line item to spec
// §4.6's booking checkout contract (amount in tenant currency,
// booking/conversation metadata, 30-minute expiry).
type BookingCheckout struct {
	client *stripeClient
}

// NewBookingCheckout builds a BookingCheckout service.
func NewBookingCheckout(secretKey string, logger *logging.Logger) *BookingCheckout {
	return &BookingCheckout{client: newStripeClient(secretKey, logger)}
}

// WithBaseURL overrides the Stripe API base URL, for testing.
func (b *BookingCheckout) WithBaseURL(baseURL string) *BookingCheckout {
	b.client.withBaseURL(baseURL)
	return b
}

// CreateSession creates a checkout session on the tenant's connected
// account for the given booking.
func (b *BookingCheckout) CreateSession(ctx context.Context, params BookingCheckoutParams) (*CheckoutSession, error) {
	if params.ConnectedAccountID == "" {
		return nil, fmt.Errorf("payments: connected account id required")
	}

	currency := strings.ToLower(params.Currency)
	if currency == "" {
		currency = "usd"
	}
	description := "Appointment"
	if params.PatientName != "" {
		description = fmt.Sprintf("Appointment — %s", params.PatientName)
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", params.AmountCents))
	form.Set("line_items[0][price_data][product_data][name]", description)
	form.Set("line_items[0][quantity]", "1")
	if params.SuccessURL != "" {
		form.Set("success_url", params.SuccessURL)
	}
	if params.CancelURL != "" {
		form.Set("cancel_url", params.CancelURL)
	}
	if params.PatientEmail != "" {
		form.Set("customer_email", params.PatientEmail)
	}

	source := params.Source
	if source == "" {
		source = "chat"
	}
	form.Set("metadata[source]", source)
	form.Set("metadata[booking_id]", params.BookingID)
	form.Set("payment_intent_data[metadata][source]", source)
	form.Set("payment_intent_data[metadata][booking_id]", params.BookingID)
	if params.ConversationID != "" {
		form.Set("metadata[conversation_id]", params.ConversationID)
		form.Set("payment_intent_data[metadata][conversation_id]", params.ConversationID)
	}

	var session struct {
		ID     string `json:"id"`
		URL    string `json:"url"`
		Amount int64  `json:"amount_total"`
	}
	if err := b.client.postFormOnAccount(ctx, "/v1/checkout/sessions", form, params.ConnectedAccountID, &session); err != nil {
		return nil, fmt.Errorf("payments: create checkout session: %w", err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("payments: stripe response missing checkout url")
	}

	return &CheckoutSession{
		ProviderID:  session.ID,
		HostedURL:   session.URL,
		AmountCents: params.AmountCents,
		Currency:    currency,
		ExpiresAt:   time.Now().Add(checkoutExpiry),
	}, nil
}
