package reminders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no reminder matches the lookup key.
var ErrNotFound = errors.New("reminders: reminder not found")

// Store persists dispatched reminders, grounded on internal/booking.Store's
// database/sql idiom.
type Store struct {
	db *sql.DB
}

// NewStore builds a Store backed by db.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("reminders: db required")
	}
	return &Store{db: db}
}

const reminderColumns = `id, tenant_id, booking_id, conversation_key, phone, patient_name, slot, status, replied_at, created_at, updated_at`

// Create records that a reminder was dispatched for a booking.
func (s *Store) Create(ctx context.Context, r *Reminder) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.Status = StatusSent
	r.CreatedAt, r.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.TenantID, r.BookingID, r.ConversationKey, r.Phone, r.PatientName,
		r.Slot, r.Status, r.RepliedAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("reminders: create: %w", err)
	}
	return r.ID, nil
}

// ExistsForBooking reports whether a reminder has already been dispatched
// for a booking, the dispatcher's guard against sending twice for the same
// appointment on a re-run.
func (s *Store) ExistsForBooking(ctx context.Context, bookingID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM reminders WHERE booking_id = $1)`, bookingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("reminders: exists for booking: %w", err)
	}
	return exists, nil
}

// FindActiveByPhone locates the most recent sent-but-unreplied reminder for
// a phone number within a tenant, the reply router's lookup to resolve an
// inbound "C"/"cancel" back to the booking it concerns.
func (s *Store) FindActiveByPhone(ctx context.Context, tenantID, phone string) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reminderColumns+` FROM reminders
		WHERE tenant_id = $1 AND phone = $2 AND status = $3
		ORDER BY created_at DESC LIMIT 1`,
		tenantID, phone, StatusSent,
	)
	r, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reminders: find active by phone: %w", err)
	}
	return r, nil
}

// MarkReplied records the patient's reply outcome against the reminder.
func (s *Store) MarkReplied(ctx context.Context, id string, status Status) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET status = $2, replied_at = $3, updated_at = $4 WHERE id = $1`,
		id, status, now, now,
	)
	if err != nil {
		return fmt.Errorf("reminders: mark replied: %w", err)
	}
	return rowsAffectedOrNotFound(res)
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reminders: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanReminder(row interface{ Scan(dest ...any) error }) (*Reminder, error) {
	var r Reminder
	if err := row.Scan(
		&r.ID, &r.TenantID, &r.BookingID, &r.ConversationKey, &r.Phone, &r.PatientName,
		&r.Slot, &r.Status, &r.RepliedAt, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}
