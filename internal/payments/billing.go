package payments

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Billing creates subscription checkout/portal sessions and handles the
// admin-assign invoice flow against the platform's own Stripe account (not
// a tenant's connected account). Grounded on the teacher's billing.go
// HandleSubscribe/createCheckoutSession, generalized from a single fixed
// price id to per-tier monthly/annual prices created lazily, per spec
// §4.6.
type Billing struct {
	client *stripeClient
}

// NewBilling builds a Billing service.
func NewBilling(secretKey string, logger *logging.Logger) *Billing {
	return &Billing{client: newStripeClient(secretKey, logger)}
}

// WithBaseURL overrides the Stripe API base URL, for testing.
func (b *Billing) WithBaseURL(baseURL string) *Billing {
	b.client.withBaseURL(baseURL)
	return b
}

// EnsureCustomer creates a Stripe customer on demand for a tenant that does
// not yet have a billing customer id.
func (b *Billing) EnsureCustomer(ctx context.Context, email string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	var customer struct {
		ID string `json:"id"`
	}
	if err := b.client.postForm(ctx, "/v1/customers", form, &customer); err != nil {
		return "", fmt.Errorf("payments: create billing customer: %w", err)
	}
	return customer.ID, nil
}

// EnsurePrice returns existingPriceID if already set, otherwise lazily
// creates a recurring Price in Stripe for the tier and returns its id.
func (b *Billing) EnsurePrice(ctx context.Context, existingPriceID, productName string, amountCents int64, currency, interval string) (string, error) {
	if existingPriceID != "" {
		return existingPriceID, nil
	}
	form := url.Values{}
	form.Set("unit_amount", fmt.Sprintf("%d", amountCents))
	form.Set("currency", currency)
	form.Set("recurring[interval]", interval)
	form.Set("product_data[name]", productName)
	var price struct {
		ID string `json:"id"`
	}
	if err := b.client.postForm(ctx, "/v1/prices", form, &price); err != nil {
		return "", fmt.Errorf("payments: create price: %w", err)
	}
	return price.ID, nil
}

// CreateSubscriptionCheckout creates a checkout session for a new
// subscription against the tenant's billing customer.
func (b *Billing) CreateSubscriptionCheckout(ctx context.Context, params SubscriptionCheckoutParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", params.CustomerID)
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("allow_promotion_codes", "true")
	if params.TrialDays > 0 {
		form.Set("subscription_data[trial_period_days]", fmt.Sprintf("%d", params.TrialDays))
	}
	form.Set("metadata[tenant_id]", params.TenantID)

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := b.client.postForm(ctx, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, fmt.Errorf("payments: create subscription checkout: %w", err)
	}
	return &CheckoutSession{ProviderID: session.ID, HostedURL: session.URL}, nil
}

// CreatePortalSession creates a customer-portal session for self-service
// subscription management.
func (b *Billing) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)
	var session struct {
		URL string `json:"url"`
	}
	if err := b.client.postForm(ctx, "/v1/billing_portal/sessions", form, &session); err != nil {
		return "", fmt.Errorf("payments: create portal session: %w", err)
	}
	return session.URL, nil
}

// AssignSubscription creates a subscription billed via invoice ("send
// invoice" collection, net-1 terms) rather than an automatically-charged
// card, then finalizes the draft invoice so a payable hosted URL exists —
// used for admin-assigned/comped subscriptions that still need the tenant
// to pay or the invoice to be emailed.
func (b *Billing) AssignSubscription(ctx context.Context, customerID, priceID string) (subscriptionID, invoiceID, hostedInvoiceURL string, err error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("items[0][price]", priceID)
	form.Set("collection_method", "send_invoice")
	form.Set("days_until_due", "1")

	var sub struct {
		ID            string `json:"id"`
		LatestInvoice string `json:"latest_invoice"`
	}
	if err := b.client.postForm(ctx, "/v1/subscriptions", form, &sub); err != nil {
		return "", "", "", fmt.Errorf("payments: create admin-assigned subscription: %w", err)
	}
	if sub.LatestInvoice == "" {
		return sub.ID, "", "", nil
	}

	var invoice struct {
		ID               string `json:"id"`
		HostedInvoiceURL string `json:"hosted_invoice_url"`
	}
	if err := b.client.postForm(ctx, "/v1/invoices/"+sub.LatestInvoice+"/finalize", url.Values{}, &invoice); err != nil {
		return sub.ID, sub.LatestInvoice, "", fmt.Errorf("payments: finalize invoice: %w", err)
	}
	return sub.ID, invoice.ID, invoice.HostedInvoiceURL, nil
}
