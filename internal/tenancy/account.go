package tenancy

import "time"

// Status is the tenant lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// SubscriptionStatus is the billing-provider subscription state mirrored
// locally on the tenant.
type SubscriptionStatus string

const (
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionTrialing          SubscriptionStatus = "trialing"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionCanceled          SubscriptionStatus = "canceled"
	SubscriptionIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionPaused            SubscriptionStatus = "paused"
)

// PaymentsConfig is the tenant's payment-processor connected-account block.
type PaymentsConfig struct {
	ConnectedAccountID string
	OnboardingComplete  bool
	ChargesEnabled      bool
	PayoutsEnabled      bool
	DetailsSubmitted    bool
	PriceCents          int64
	Currency            string
	Description         string
}

// Enabled reports whether payments may be attempted for this tenant, per
// spec §3: connected-account id set AND onboarding complete AND charges
// enabled.
func (p PaymentsConfig) Enabled() bool {
	return p.ConnectedAccountID != "" && p.OnboardingComplete && p.ChargesEnabled
}

// MisconfigurationReason returns the specific sub-state blocking payments,
// or "" when payments are fully configured. Used to surface the distinct
// configuration-error messages required by spec §4.10/§7.
func (p PaymentsConfig) MisconfigurationReason() string {
	switch {
	case p.ConnectedAccountID == "":
		return "no_connected_account"
	case !p.OnboardingComplete:
		return "onboarding_incomplete"
	case !p.ChargesEnabled:
		return "charges_not_enabled"
	default:
		return ""
	}
}

// SubscriptionConfig is the tenant's billing subscription block.
type SubscriptionConfig struct {
	CustomerID            string
	CurrentTierID         string
	Status                SubscriptionStatus
	PeriodEnd             time.Time
	IsFreeAccount         bool
	FreeAccountReason     string
	FreeAccountExpiresAt  *time.Time
	ProductOverrideIDs    []string
}

// hasAccessStatuses are the subscription statuses that grant access on
// their own, independent of the free-account flag.
var hasAccessStatuses = map[SubscriptionStatus]bool{
	SubscriptionActive:   true,
	SubscriptionTrialing: true,
}

// Account is a tenant binding a chat-platform phone id to an external
// CRM calendar and, optionally, a payments connected account.
type Account struct {
	ID                 string
	DisplayName        string
	ChatPlatformPhoneID string
	CRMCalendarID      string
	LocationID         string
	AssignedUserID     string
	Email              string

	Status       Status
	CustomPrompt string

	Payments     PaymentsConfig
	Subscription SubscriptionConfig

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAccess implements spec §3's access rule: free-account (unexpired) OR
// status in {active, trialing}. There is no grace period beyond that —
// subscription_grace_period_days is recorded but never consulted here.
func (a *Account) HasAccess(now time.Time) bool {
	if a == nil {
		return false
	}
	sub := a.Subscription
	if sub.IsFreeAccount {
		if sub.FreeAccountExpiresAt == nil || now.Before(*sub.FreeAccountExpiresAt) {
			return true
		}
		return false
	}
	return hasAccessStatuses[sub.Status]
}
