package payments

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Connect manages connected-account onboarding for tenants, grounded on the
// teacher's stripe_connect.go HTTP mechanics, adapted from an OAuth
// authorize/callback redirect flow to Stripe's Express-account creation API
// per spec §4.6: "create connected account linked to tenant email".
type Connect struct {
	client *stripeClient
}

// NewConnect builds a Connect service.
func NewConnect(secretKey string, logger *logging.Logger) *Connect {
	return &Connect{client: newStripeClient(secretKey, logger)}
}

// WithBaseURL overrides the Stripe API base URL, for testing.
func (c *Connect) WithBaseURL(baseURL string) *Connect {
	c.client.withBaseURL(baseURL)
	return c
}

type stripeAccount struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

// CreateConnectedAccount creates an Express connected account for a tenant
// and returns its id immediately — the caller must persist it on the tenant
// record before the hosted onboarding flow completes, so a webhook arriving
// mid-onboarding can still match the tenant.
func (c *Connect) CreateConnectedAccount(ctx context.Context, email string) (string, error) {
	form := url.Values{}
	form.Set("type", "express")
	form.Set("email", email)
	form.Set("capabilities[card_payments][requested]", "true")
	form.Set("capabilities[transfers][requested]", "true")

	var acct stripeAccount
	if err := c.client.postForm(ctx, "/v1/accounts", form, &acct); err != nil {
		return "", fmt.Errorf("payments: create connected account: %w", err)
	}
	return acct.ID, nil
}

// OnboardingLink creates a single-use hosted onboarding link for a connected
// account that has not yet completed Stripe's requirements.
func (c *Connect) OnboardingLink(ctx context.Context, connectedAccountID, refreshURL, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("account", connectedAccountID)
	form.Set("type", "account_onboarding")
	form.Set("refresh_url", refreshURL)
	form.Set("return_url", returnURL)

	var link struct {
		URL string `json:"url"`
	}
	if err := c.client.postForm(ctx, "/v1/account_links", form, &link); err != nil {
		return "", fmt.Errorf("payments: create onboarding link: %w", err)
	}
	return link.URL, nil
}

// AccountStatus probes the current capability flags for a connected
// account. Idempotent — callers may poll it freely, e.g. from the
// account.updated/capability.updated webhook handlers or a status page.
func (c *Connect) AccountStatus(ctx context.Context, connectedAccountID string) (*OnboardingStatus, error) {
	var acct stripeAccount
	if err := c.client.get(ctx, "/v1/accounts/"+connectedAccountID, &acct); err != nil {
		return nil, fmt.Errorf("payments: fetch account status: %w", err)
	}
	return &OnboardingStatus{
		ConnectedAccountID: acct.ID,
		ChargesEnabled:      acct.ChargesEnabled,
		PayoutsEnabled:      acct.PayoutsEnabled,
		DetailsSubmitted:    acct.DetailsSubmitted,
		Email:               acct.Email,
	}, nil
}
