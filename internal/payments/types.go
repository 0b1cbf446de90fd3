// Package payments implements the payments adapter (C6): connected-account
// onboarding, booking checkout sessions, subscription billing, and webhook
// event handling against Stripe. Directly adapted from the teacher's
// internal/payments package (Stripe Connect checkout, webhook signature
// verification, StripeAccountResolver) away from one-off deposit collection
// and toward the full onboarding/checkout/subscription/webhook contract.
package payments

import "time"

// OnboardingStatus mirrors the subset of a Stripe connected account's fields
// the platform tracks on the tenant record.
type OnboardingStatus struct {
	ConnectedAccountID string
	ChargesEnabled      bool
	PayoutsEnabled      bool
	DetailsSubmitted    bool
	Email               string
}

// Complete reports onboarding completion: charges_enabled AND
// details_submitted, per spec.
func (s OnboardingStatus) Complete() bool {
	return s.ChargesEnabled && s.DetailsSubmitted
}

// CheckoutSession is the result of creating a booking payment session.
type CheckoutSession struct {
	ProviderID  string
	HostedURL   string
	ShortCode   string
	AmountCents int64
	Currency    string
	ExpiresAt   time.Time
}

// BookingCheckoutParams describes a one-time checkout session for a booking.
type BookingCheckoutParams struct {
	TenantID            string
	ConnectedAccountID string
	BookingID           string
	ConversationID      string
	PatientName         string
	PatientEmail        string
	AmountCents         int64
	Currency            string
	SuccessURL          string
	CancelURL           string
	Source              string // "chat" | "directory"
}

// SubscriptionCheckoutParams describes a subscription checkout session
// against the platform's own billing account (not a connected account).
type SubscriptionCheckoutParams struct {
	TenantID     string
	CustomerID   string // existing Stripe customer id, if any
	Email        string
	PriceID      string
	SuccessURL   string
	CancelURL    string
	TrialDays    int
}

// Subscription is the locally-persisted mirror of a Stripe subscription.
type Subscription struct {
	ID             string
	TenantID       string
	CustomerID     string
	SubscriptionID string
	PriceID        string
	Status         string
	CurrentPeriodEnd time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Payment is the locally-persisted record of a booking checkout.
type Payment struct {
	ID            string
	TenantID      string
	BookingID     string
	ProviderID    string
	Status        string // pending | succeeded | failed
	AmountCents   int64
	Currency      string
	AppointmentID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// checkoutExpiry matches Stripe Checkout's own default session lifetime.
const checkoutExpiry = 30 * time.Minute
