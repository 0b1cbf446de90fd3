package payments

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitalishealth/bookingai/internal/notify"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Service wires the connected-account, booking-checkout, subscription, and
// webhook-dispatch pieces of this package into the single object the rest
// of the platform depends on.
type Service struct {
	connect         *Connect
	bookingCheckout *BookingCheckout
	billing         *Billing
	repo            *Repository
	webhook         *WebhookHandler
	invoiceNotifier *notify.InvoiceNotifier
	logger          *logging.Logger
}

// WithInvoiceNotifier attaches the email sender used to notify a tenant
// admin after AssignSubscription creates an invoice-billed subscription.
// Optional — AssignSubscription works without it, it just won't email.
func (s *Service) WithInvoiceNotifier(n *notify.InvoiceNotifier) *Service {
	s.invoiceNotifier = n
	return s
}

// NewService builds a Service. secretKey is the platform's Stripe secret
// key — Connect authenticates as the platform and addresses connected
// accounts via the Stripe-Account header rather than using per-tenant keys.
func NewService(secretKey, platformWebhookSecret, subscriptionWebhookSecret string, repo *Repository, accounts AccountMatcher, bookings BookingFinalizer, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		connect:         NewConnect(secretKey, logger),
		bookingCheckout: NewBookingCheckout(secretKey, logger),
		billing:         NewBilling(secretKey, logger),
		repo:            repo,
		logger:          logger,
	}
	s.webhook = NewWebhookHandler(platformWebhookSecret, subscriptionWebhookSecret, repo, accounts, bookings, s, logger)
	return s
}

// WithBaseURL overrides the Stripe API base URL on every embedded service,
// for testing against an httptest server.
func (s *Service) WithBaseURL(baseURL string) *Service {
	s.connect.WithBaseURL(baseURL)
	s.bookingCheckout.WithBaseURL(baseURL)
	s.billing.WithBaseURL(baseURL)
	return s
}

// OnboardAccount creates a connected account for a tenant and returns both
// the account id (to persist immediately) and a hosted onboarding link.
func (s *Service) OnboardAccount(ctx context.Context, email, refreshURL, returnURL string) (connectedAccountID, onboardingURL string, err error) {
	connectedAccountID, err = s.connect.CreateConnectedAccount(ctx, email)
	if err != nil {
		return "", "", err
	}
	onboardingURL, err = s.connect.OnboardingLink(ctx, connectedAccountID, refreshURL, returnURL)
	if err != nil {
		return connectedAccountID, "", err
	}
	return connectedAccountID, onboardingURL, nil
}

// RefreshOnboardingLink issues a new hosted onboarding link for an account
// whose previous link expired before onboarding completed.
func (s *Service) RefreshOnboardingLink(ctx context.Context, connectedAccountID, refreshURL, returnURL string) (string, error) {
	return s.connect.OnboardingLink(ctx, connectedAccountID, refreshURL, returnURL)
}

// AccountStatus probes the current onboarding/capability status for a
// connected account.
func (s *Service) AccountStatus(ctx context.Context, connectedAccountID string) (*OnboardingStatus, error) {
	return s.connect.AccountStatus(ctx, connectedAccountID)
}

// CreateBookingCheckout creates a Stripe checkout session for a booking
// charged against the tenant's connected account, persists the resulting
// pending payment, and attaches a short redirect code for chat replies.
func (s *Service) CreateBookingCheckout(ctx context.Context, params BookingCheckoutParams) (*CheckoutSession, error) {
	session, err := s.bookingCheckout.CreateSession(ctx, params)
	if err != nil {
		return nil, err
	}
	if s.repo != nil {
		if _, err := s.repo.CreateIntent(ctx, params.TenantID, params.BookingID, session.ProviderID, session.AmountCents, session.Currency); err != nil {
			return nil, fmt.Errorf("payments: persist booking payment: %w", err)
		}
		session.ShortCode = s.repo.SaveCheckoutURL(session.HostedURL)
	}
	return session, nil
}

// ShortCheckoutURL stores a hosted checkout URL under a short redirect code
// and returns the code, for embedding in chat replies.
func (s *Service) ShortCheckoutURL(url string) string {
	if s.repo == nil {
		return ""
	}
	return s.repo.SaveCheckoutURL(url)
}

// ResolveShortCheckoutURL resolves a short redirect code back to the hosted
// checkout URL it was created for.
func (s *Service) ResolveShortCheckoutURL(code string) string {
	if s.repo == nil {
		return ""
	}
	return s.repo.GetCheckoutURLByShortCode(code)
}

// SyncSubscription implements SubscriptionSyncer, persisting the local
// mirror of a Stripe subscription keyed by customer id. The subscription
// webhook dispatcher doesn't know the tenant's price id ahead of time, so
// an empty priceID leaves the previously-stored one in place (see
// Repository.UpsertSubscription's ON CONFLICT clause).
func (s *Service) SyncSubscription(ctx context.Context, customerID, subscriptionID, status string, periodEnd time.Time) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.UpsertSubscription(ctx, customerID, subscriptionID, "", status, periodEnd)
}

// EnsureBillingCustomer returns an existing Stripe customer id or creates
// one for the tenant's billing email.
func (s *Service) EnsureBillingCustomer(ctx context.Context, email string) (string, error) {
	return s.billing.EnsureCustomer(ctx, email)
}

// EnsureTierPrice returns existingPriceID if set, otherwise creates a
// recurring Stripe Price for a pricing tier.
func (s *Service) EnsureTierPrice(ctx context.Context, existingPriceID, tierName string, amountCents int64, currency, interval string) (string, error) {
	return s.billing.EnsurePrice(ctx, existingPriceID, tierName, amountCents, currency, interval)
}

// CreateSubscriptionCheckout creates a self-serve subscription checkout
// session.
func (s *Service) CreateSubscriptionCheckout(ctx context.Context, params SubscriptionCheckoutParams) (*CheckoutSession, error) {
	return s.billing.CreateSubscriptionCheckout(ctx, params)
}

// CreatePortalSession creates a billing-portal session for self-service
// subscription management.
func (s *Service) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return s.billing.CreatePortalSession(ctx, customerID, returnURL)
}

// AssignSubscription admin-assigns a subscription billed by invoice rather
// than automatic card charge, returning a payable hosted invoice URL. When
// adminEmail is set and an invoice notifier is wired, the tenant admin is
// emailed the hosted invoice link; a send failure is logged but does not
// fail the assignment, since the subscription itself was already created.
func (s *Service) AssignSubscription(ctx context.Context, customerID, priceID, adminEmail, tenantName string) (subscriptionID, invoiceID, hostedInvoiceURL string, err error) {
	subscriptionID, invoiceID, hostedInvoiceURL, err = s.billing.AssignSubscription(ctx, customerID, priceID)
	if err != nil {
		return "", "", "", err
	}
	if s.invoiceNotifier != nil {
		_ = s.invoiceNotifier.NotifyInvoiceAssigned(ctx, adminEmail, tenantName, hostedInvoiceURL)
	}
	return subscriptionID, invoiceID, hostedInvoiceURL, nil
}

// MarkPastDue implements SubscriptionSyncer's failed-invoice callback.
func (s *Service) MarkPastDue(ctx context.Context, customerID string) error {
	if s.repo == nil {
		return nil
	}
	sub, err := s.repo.GetSubscriptionByCustomerID(ctx, customerID)
	if err != nil {
		if err == ErrSubscriptionNotFound {
			return nil
		}
		return err
	}
	return s.repo.UpsertSubscription(ctx, customerID, sub.SubscriptionID, sub.PriceID, "past_due", sub.CurrentPeriodEnd)
}

// PlatformWebhookHandler returns the http.HandlerFunc for platform-payments
// webhook events (account onboarding, booking checkout).
func (s *Service) PlatformWebhookHandler() http.HandlerFunc {
	return s.webhook.HandlePlatform
}

// SubscriptionWebhookHandler returns the http.HandlerFunc for
// subscription-billing webhook events.
func (s *Service) SubscriptionWebhookHandler() http.HandlerFunc {
	return s.webhook.HandleSubscription
}

// WebhookHandler exposes the underlying WebhookHandler for callers that
// route HandlePlatform/HandleSubscription directly, such as httpapi.Config.
func (s *Service) WebhookHandler() *WebhookHandler {
	return s.webhook
}
