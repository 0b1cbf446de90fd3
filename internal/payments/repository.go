package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrPaymentNotFound is returned when no payment matches the lookup key.
var ErrPaymentNotFound = errors.New("payments: payment not found")

// ErrSubscriptionNotFound is returned when no subscription matches the
// lookup key.
var ErrSubscriptionNotFound = errors.New("payments: subscription not found")

// Repository persists booking payments and subscription rows, grounded on
// the teacher's internal/conversation.ConversationStore idiom: a thin
// wrapper over *sql.DB with hand-written queries rather than a generated
// querier, since this package has no committed sqlc output to build on.
type Repository struct {
	db *sql.DB

	checkoutURLs   map[string]checkoutURLEntry
	checkoutURLsMu sync.RWMutex
}

// NewRepository builds a Repository backed by db.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		panic("payments: db required")
	}
	return &Repository{db: db, checkoutURLs: make(map[string]checkoutURLEntry)}
}

// CreateIntent persists a payment in pending status ahead of redirecting the
// patient to the hosted checkout session.
func (r *Repository) CreateIntent(ctx context.Context, tenantID, bookingID, providerID string, amountCents int64, currency string) (*Payment, error) {
	now := time.Now().UTC()
	p := &Payment{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		BookingID:   bookingID,
		ProviderID:  providerID,
		Status:      PaymentStatusPending,
		AmountCents: amountCents,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, tenant_id, booking_id, provider_id, status, amount_cents, currency, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.TenantID, p.BookingID, p.ProviderID, p.Status, p.AmountCents, p.Currency, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("payments: create intent: %w", err)
	}
	return p, nil
}

// MarkSucceeded transitions a payment to succeeded by its provider checkout
// session or payment-intent id, idempotent on repeated webhook delivery.
func (r *Repository) MarkSucceeded(ctx context.Context, providerID, bookingID string) (*Payment, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $3, updated_at = $4
		WHERE provider_id = $1 AND (booking_id = $2 OR $2 = '')`,
		providerID, bookingID, PaymentStatusSucceeded, now,
	)
	if err != nil {
		return nil, fmt.Errorf("payments: mark succeeded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrPaymentNotFound
	}
	return r.GetByProviderID(ctx, providerID)
}

// MarkFailed transitions a payment to failed.
func (r *Repository) MarkFailed(ctx context.Context, providerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $2, updated_at = $3 WHERE provider_id = $1`,
		providerID, PaymentStatusFailed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("payments: mark failed: %w", err)
	}
	return nil
}

// GetByProviderID fetches a payment by its Stripe checkout session or
// payment-intent id.
func (r *Repository) GetByProviderID(ctx context.Context, providerID string) (*Payment, error) {
	return r.scanOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_id = $1`, providerID)
}

// GetByBookingID fetches the most recent payment for a booking.
func (r *Repository) GetByBookingID(ctx context.Context, bookingID string) (*Payment, error) {
	return r.scanOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1`, bookingID)
}

const paymentColumns = `id, tenant_id, booking_id, provider_id, status, amount_cents, currency, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*Payment, error) {
	var p Payment
	if err := row.Scan(&p.ID, &p.TenantID, &p.BookingID, &p.ProviderID, &p.Status, &p.AmountCents, &p.Currency, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) scanOne(ctx context.Context, query string, arg any) (*Payment, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payments: scan payment: %w", err)
	}
	return p, nil
}

// UpsertSubscription inserts or updates the local mirror of a Stripe
// subscription, keyed on the Stripe customer id — called from the
// subscription webhook handler so the row always reflects Stripe's latest
// event, regardless of delivery order within a short window.
func (r *Repository) UpsertSubscription(ctx context.Context, customerID, subscriptionID, priceID, status string, periodEnd time.Time) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, customer_id, subscription_id, price_id, status, current_period_end, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (customer_id) DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			price_id = CASE WHEN EXCLUDED.price_id = '' THEN subscriptions.price_id ELSE EXCLUDED.price_id END,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = $7`,
		uuid.NewString(), customerID, subscriptionID, priceID, status, periodEnd, now,
	)
	if err != nil {
		return fmt.Errorf("payments: upsert subscription: %w", err)
	}
	return nil
}

// GetSubscriptionByCustomerID loads the local subscription mirror for a
// Stripe customer id.
func (r *Repository) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, subscription_id, price_id, status, current_period_end, created_at, updated_at
		FROM subscriptions WHERE customer_id = $1`, customerID)
	var s Subscription
	if err := row.Scan(&s.ID, &s.CustomerID, &s.SubscriptionID, &s.PriceID, &s.Status, &s.CurrentPeriodEnd, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("payments: scan subscription: %w", err)
	}
	return &s, nil
}

// SaveCheckoutURL and GetCheckoutURLByShortCode support the short-link
// redirect used in chat replies so a patient taps a compact URL instead of
// Stripe's full checkout-session URL. Kept in-memory rather than persisted:
// a code resolves on every lookup until its 24-hour expiry, and all codes
// are lost when the process restarts.
type checkoutURLEntry struct {
	url       string
	expiresAt time.Time
}

// SaveCheckoutURL stores a checkout URL keyed by a short code for redirect
// lookups. The short code is the first 8 hex characters of a fresh UUID.
// URLs expire after 24 hours.
func (r *Repository) SaveCheckoutURL(checkoutURL string) string {
	code := shortCode()
	r.checkoutURLsMu.Lock()
	defer r.checkoutURLsMu.Unlock()
	r.checkoutURLs[code] = checkoutURLEntry{url: checkoutURL, expiresAt: time.Now().Add(24 * time.Hour)}
	return code
}

// GetCheckoutURLByShortCode returns the checkout URL for a short code, or
// empty string if the code is unknown or has expired.
func (r *Repository) GetCheckoutURLByShortCode(code string) string {
	r.checkoutURLsMu.RLock()
	defer r.checkoutURLsMu.RUnlock()
	entry, ok := r.checkoutURLs[code]
	if !ok || time.Now().After(entry.expiresAt) {
		return ""
	}
	return entry.url
}

func shortCode() string {
	id := uuid.New().String()
	return id[:8]
}
