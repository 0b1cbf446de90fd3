package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vitalishealth/bookingai/internal/apperrors"
)

// ErrAccountNotFound is returned when no account matches the lookup key.
var ErrAccountNotFound = errors.New("tenancy: account not found")

// Repository persists accounts to PostgreSQL, grounded on the teacher's
// internal/conversation.ConversationStore: a thin wrapper over *sql.DB with
// hand-written queries rather than a generated querier.
type Repository struct {
	db *sql.DB
}

// NewRepository builds a Repository backed by db.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		panic("tenancy: db required")
	}
	return &Repository{db: db}
}

// GetByID loads an account by its primary id.
func (r *Repository) GetByID(ctx context.Context, id string) (*Account, error) {
	return r.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// GetByChatPlatformPhoneID loads the account bound to a chat-platform phone
// number id — the lookup used on every inbound webhook, per spec §4.13.
func (r *Repository) GetByChatPlatformPhoneID(ctx context.Context, phoneID string) (*Account, error) {
	return r.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE chat_platform_phone_id = $1`, phoneID)
}

// GetByCRMCalendarID loads the account bound to a CRM calendar id.
func (r *Repository) GetByCRMCalendarID(ctx context.Context, calendarID string) (*Account, error) {
	return r.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE crm_calendar_id = $1`, calendarID)
}

// GetBySubscriptionCustomerID loads the account for a billing-provider
// customer id, used by the subscription webhook handler.
func (r *Repository) GetBySubscriptionCustomerID(ctx context.Context, customerID string) (*Account, error) {
	return r.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE subscription_customer_id = $1`, customerID)
}

// GetByConnectedAccountID loads the account for a payments connected
// account id, used by the payments webhook handler.
func (r *Repository) GetByConnectedAccountID(ctx context.Context, connectedAccountID string) (*Account, error) {
	return r.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE payments_connected_account_id = $1`, connectedAccountID)
}

// GetByEmail loads the account registered under an operator email, used to
// match a Stripe account.updated webhook to a tenant before the connected
// account id has been persisted.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

// GetByDisplayName loads the account with the given display name, used by
// the delete-conversations CLI's --account-name flag as an alternative to
// --account-id.
func (r *Repository) GetByDisplayName(ctx context.Context, name string) (*Account, error) {
	return r.scanOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE display_name = $1`, name)
}

// ListActive returns every account with status=active, used by the reminder
// dispatcher's per-tenant fan-out.
func (r *Repository) ListActive(ctx context.Context) ([]*Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE status = $1 ORDER BY id`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("tenancy: list active accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

// Create inserts a new account.
func (r *Repository) Create(ctx context.Context, acct *Account) error {
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, display_name, chat_platform_phone_id, crm_calendar_id, location_id,
			assigned_user_id, email, status, custom_prompt,
			payments_connected_account_id, payments_onboarding_complete, payments_charges_enabled,
			payments_payouts_enabled, payments_details_submitted, payments_price_cents,
			payments_currency, payments_description,
			subscription_customer_id, subscription_tier_id, subscription_status, subscription_period_end,
			subscription_is_free_account, subscription_free_account_reason, subscription_free_account_expires_at,
			created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26
		)`,
		acct.ID, acct.DisplayName, acct.ChatPlatformPhoneID, acct.CRMCalendarID, acct.LocationID,
		acct.AssignedUserID, acct.Email, acct.Status, acct.CustomPrompt,
		acct.Payments.ConnectedAccountID, acct.Payments.OnboardingComplete, acct.Payments.ChargesEnabled,
		acct.Payments.PayoutsEnabled, acct.Payments.DetailsSubmitted, acct.Payments.PriceCents,
		acct.Payments.Currency, acct.Payments.Description,
		acct.Subscription.CustomerID, acct.Subscription.CurrentTierID, acct.Subscription.Status, acct.Subscription.PeriodEnd,
		acct.Subscription.IsFreeAccount, acct.Subscription.FreeAccountReason, acct.Subscription.FreeAccountExpiresAt,
		acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("tenancy: create account: %w", err)
	}
	return nil
}

// UpdatePaymentsConfig persists a payments onboarding status change, applied
// from the payments webhook's account.updated/capability.updated events.
func (r *Repository) UpdatePaymentsConfig(ctx context.Context, id string, cfg PaymentsConfig) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			payments_connected_account_id = $2, payments_onboarding_complete = $3, payments_charges_enabled = $4,
			payments_payouts_enabled = $5, payments_details_submitted = $6, payments_price_cents = $7,
			payments_currency = $8, payments_description = $9, updated_at = $10
		WHERE id = $1`,
		id, cfg.ConnectedAccountID, cfg.OnboardingComplete, cfg.ChargesEnabled,
		cfg.PayoutsEnabled, cfg.DetailsSubmitted, cfg.PriceCents,
		cfg.Currency, cfg.Description, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("tenancy: update payments config: %w", err)
	}
	return nil
}

// UpdateSubscriptionConfig persists a billing-provider subscription state
// change, applied from the subscription webhook's customer.subscription.*
// and invoice.payment_* events.
func (r *Repository) UpdateSubscriptionConfig(ctx context.Context, id string, cfg SubscriptionConfig) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			subscription_customer_id = $2, subscription_tier_id = $3, subscription_status = $4,
			subscription_period_end = $5, updated_at = $6
		WHERE id = $1`,
		id, cfg.CustomerID, cfg.CurrentTierID, cfg.Status, cfg.PeriodEnd, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("tenancy: update subscription config: %w", err)
	}
	return nil
}

// SetFreeAccount grants or revokes admin-assigned free access, per the
// supplemented admin-assign feature.
func (r *Repository) SetFreeAccount(ctx context.Context, id string, isFree bool, reason string, expiresAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			subscription_is_free_account = $2, subscription_free_account_reason = $3,
			subscription_free_account_expires_at = $4, updated_at = $5
		WHERE id = $1`,
		id, isFree, reason, expiresAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("tenancy: set free account: %w", err)
	}
	return nil
}

const accountColumns = `
	id, display_name, chat_platform_phone_id, crm_calendar_id, location_id,
	assigned_user_id, email, status, custom_prompt,
	payments_connected_account_id, payments_onboarding_complete, payments_charges_enabled,
	payments_payouts_enabled, payments_details_submitted, payments_price_cents,
	payments_currency, payments_description,
	subscription_customer_id, subscription_tier_id, subscription_status, subscription_period_end,
	subscription_is_free_account, subscription_free_account_reason, subscription_free_account_expires_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var acct Account
	if err := row.Scan(
		&acct.ID, &acct.DisplayName, &acct.ChatPlatformPhoneID, &acct.CRMCalendarID, &acct.LocationID,
		&acct.AssignedUserID, &acct.Email, &acct.Status, &acct.CustomPrompt,
		&acct.Payments.ConnectedAccountID, &acct.Payments.OnboardingComplete, &acct.Payments.ChargesEnabled,
		&acct.Payments.PayoutsEnabled, &acct.Payments.DetailsSubmitted, &acct.Payments.PriceCents,
		&acct.Payments.Currency, &acct.Payments.Description,
		&acct.Subscription.CustomerID, &acct.Subscription.CurrentTierID, &acct.Subscription.Status, &acct.Subscription.PeriodEnd,
		&acct.Subscription.IsFreeAccount, &acct.Subscription.FreeAccountReason, &acct.Subscription.FreeAccountExpiresAt,
		&acct.CreatedAt, &acct.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *Repository) scanOne(ctx context.Context, query string, arg any) (*Account, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("tenancy: scan account: %w", err)
	}
	return acct, nil
}

// NotFoundError converts ErrAccountNotFound into the platform's structured
// not-found error, for handlers that need the HTTP-mappable shape.
func NotFoundError(id string) *apperrors.Error {
	return apperrors.NotFound("account", id)
}
