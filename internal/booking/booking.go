// Package booking implements the booking store and pipeline (C8/C11): a
// draft is allocated while a conversation is mid-confirmation, linked to a
// payment if the tenant charges for appointments, then finalized into a CRM
// appointment once confirmed. Grounded on original_source's Booking model
// (app/models/booking.py) and appointment_service.py's confirm/cancel flow,
// rebuilt on the database/sql idiom internal/payments/repository.go
// established rather than the deleted teacher package's sqlc querier.
package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a booking row.
type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusPendingPayment      Status = "pending_payment"
	StatusConfirmed           Status = "confirmed"
	StatusCancelled           Status = "cancelled"
	StatusCompleted           Status = "completed"
	StatusNoShow              Status = "no_show"
)

// ErrBookingNotFound is returned when no booking matches the lookup key.
var ErrBookingNotFound = errors.New("booking: booking not found")

// Booking is the persisted draft-through-appointment record (C8).
type Booking struct {
	ID                 string
	TenantID           string
	ConversationKey    string
	CRMContactID       string
	PatientName        string
	Reason             string
	Slot               time.Time
	Source             string
	Status             Status
	ProviderPaymentID  string
	AppointmentID      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Store persists bookings, grounded on payments.Repository's hand-written
// database/sql idiom.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store backed by db.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("booking: db required")
	}
	return &Store{db: db}
}

const bookingColumns = `id, tenant_id, conversation_key, crm_contact_id, patient_name, reason, slot, source, status, provider_payment_id, appointment_id, created_at, updated_at`

// Create persists a new booking in pending_confirmation status.
func (s *Store) Create(ctx context.Context, b *Booking) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.Status = StatusPendingConfirmation
	b.CreatedAt, b.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		b.ID, b.TenantID, b.ConversationKey, b.CRMContactID, b.PatientName, b.Reason, b.Slot, b.Source,
		b.Status, b.ProviderPaymentID, b.AppointmentID, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("booking: create: %w", err)
	}
	return b.ID, nil
}

// Get fetches a booking by id.
func (s *Store) Get(ctx context.Context, id string) (*Booking, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

// LinkPayment records the provider checkout session id against a booking
// and moves it into pending_payment, called once CreateBookingCheckout
// succeeds.
func (s *Store) LinkPayment(ctx context.Context, id, providerPaymentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET provider_payment_id = $2, status = $3, updated_at = $4 WHERE id = $1`,
		id, providerPaymentID, StatusPendingPayment, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("booking: link payment: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// LinkAppointment records the CRM appointment id and moves the booking to
// confirmed.
func (s *Store) LinkAppointment(ctx context.Context, id, appointmentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET appointment_id = $2, status = $3, updated_at = $4 WHERE id = $1`,
		id, appointmentID, StatusConfirmed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("booking: link appointment: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// Cancel marks a booking cancelled, idempotent on a booking already
// cancelled.
func (s *Store) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1 AND status != $4`,
		id, StatusCancelled, time.Now().UTC(), StatusCancelled,
	)
	if err != nil {
		return fmt.Errorf("booking: cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already cancelled, or the id doesn't exist — the caller treats
		// both the same way, so confirm the row is actually there.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Complete marks a booking as having been attended.
func (s *Store) Complete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1`,
		id, StatusCompleted, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("booking: complete: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// MarkNoShow records that a confirmed appointment's patient never arrived,
// driving the reminder/rebooking dispatcher's no-show follow-up.
func (s *Store) MarkNoShow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1`,
		id, StatusNoShow, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("booking: mark no-show: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

// ListUpcomingByTenant returns confirmed bookings with a slot in
// [from, to), ordered earliest first — the feed the reminder dispatcher
// batches over.
func (s *Store) ListUpcomingByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE tenant_id = $1 AND status = $2 AND slot >= $3 AND slot < $4
		ORDER BY slot ASC`,
		tenantID, StatusConfirmed, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("booking: list upcoming: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

// ListByConversationKey returns every booking a conversation has ever
// produced, most recent first — used to locate the active draft/booking
// when a reminder reply needs to resolve back to its appointment.
func (s *Store) ListByConversationKey(ctx context.Context, conversationKey string) ([]*Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE conversation_key = $1 ORDER BY created_at DESC`,
		conversationKey,
	)
	if err != nil {
		return nil, fmt.Errorf("booking: list by conversation: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("booking: rows affected: %w", err)
	}
	if n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func scanBooking(row interface{ Scan(...any) error }) (*Booking, error) {
	var b Booking
	if err := row.Scan(&b.ID, &b.TenantID, &b.ConversationKey, &b.CRMContactID, &b.PatientName, &b.Reason,
		&b.Slot, &b.Source, &b.Status, &b.ProviderPaymentID, &b.AppointmentID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("booking: scan: %w", err)
	}
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*Booking, error) {
	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking: rows: %w", err)
	}
	return out, nil
}
