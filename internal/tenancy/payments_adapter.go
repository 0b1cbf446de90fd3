package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalishealth/bookingai/internal/payments"
)

// PaymentsAdapter satisfies payments.AccountMatcher and
// payments.SubscriptionSyncer over a Repository, so the Stripe webhook
// handler can resolve and update tenant records without payments importing
// tenancy directly — the same local-interface decoupling engine.go uses
// for BookingPipeline.
type PaymentsAdapter struct {
	repo *Repository
}

// NewPaymentsAdapter builds a PaymentsAdapter.
func NewPaymentsAdapter(repo *Repository) *PaymentsAdapter {
	return &PaymentsAdapter{repo: repo}
}

var (
	_ payments.AccountMatcher     = (*PaymentsAdapter)(nil)
	_ payments.SubscriptionSyncer = (*PaymentsAdapter)(nil)
)

// MatchByEmail resolves a Stripe account.updated event's account email back
// to a tenant id, used before the connected account id is known.
func (a *PaymentsAdapter) MatchByEmail(ctx context.Context, email string) (string, error) {
	acct, err := a.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return acct.ID, nil
}

// MatchByConnectedAccountID resolves a Stripe connected account id back to
// a tenant id.
func (a *PaymentsAdapter) MatchByConnectedAccountID(ctx context.Context, connectedAccountID string) (string, error) {
	acct, err := a.repo.GetByConnectedAccountID(ctx, connectedAccountID)
	if err != nil {
		return "", err
	}
	return acct.ID, nil
}

// UpdateCapabilities persists the connected account's current
// charges/payouts/details-submitted flags.
func (a *PaymentsAdapter) UpdateCapabilities(ctx context.Context, tenantID string, status payments.OnboardingStatus) error {
	acct, err := a.repo.GetByID(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("tenancy: update capabilities: %w", err)
	}
	cfg := acct.Payments
	cfg.ConnectedAccountID = status.ConnectedAccountID
	cfg.ChargesEnabled = status.ChargesEnabled
	cfg.PayoutsEnabled = status.PayoutsEnabled
	cfg.DetailsSubmitted = status.DetailsSubmitted
	cfg.OnboardingComplete = status.Complete()
	return a.repo.UpdatePaymentsConfig(ctx, tenantID, cfg)
}

// SyncSubscription mirrors a subscription lifecycle event onto the tenant
// record, matching by the Stripe customer id.
func (a *PaymentsAdapter) SyncSubscription(ctx context.Context, customerID, subscriptionID, status string, periodEnd time.Time) error {
	acct, err := a.repo.GetBySubscriptionCustomerID(ctx, customerID)
	if err != nil {
		return fmt.Errorf("tenancy: sync subscription: %w", err)
	}
	cfg := acct.Subscription
	cfg.CustomerID = customerID
	cfg.Status = status
	cfg.PeriodEnd = periodEnd
	return a.repo.UpdateSubscriptionConfig(ctx, acct.ID, cfg)
}

// MarkPastDue flags a tenant's subscription as past_due on a failed
// invoice payment.
func (a *PaymentsAdapter) MarkPastDue(ctx context.Context, customerID string) error {
	acct, err := a.repo.GetBySubscriptionCustomerID(ctx, customerID)
	if err != nil {
		return fmt.Errorf("tenancy: mark past due: %w", err)
	}
	cfg := acct.Subscription
	cfg.Status = "past_due"
	return a.repo.UpdateSubscriptionConfig(ctx, acct.ID, cfg)
}
