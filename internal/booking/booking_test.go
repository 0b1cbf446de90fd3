package booking

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO bookings").
		WithArgs(sqlmock.AnyArg(), "tenant-1", "conv-1", "contact-1", "Maria", "consulta general",
			sqlmock.AnyArg(), "chat", StatusPendingConfirmation, "", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewStore(db)
	slot := time.Date(2026, 8, 5, 15, 0, 0, 0, time.UTC)
	id, err := store.Create(context.Background(), &Booking{
		TenantID: "tenant-1", ConversationKey: "conv-1", CRMContactID: "contact-1",
		PatientName: "Maria", Reason: "consulta general", Slot: slot, Source: "chat",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestStore_LinkPayment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE bookings SET provider_payment_id").
		WithArgs("booking-1", "cs_1", StatusPendingPayment, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	err = store.LinkPayment(context.Background(), "booking-1", "cs_1")
	require.NoError(t, err)
}

func TestStore_LinkPayment_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE bookings SET provider_payment_id").
		WithArgs("missing", "cs_1", StatusPendingPayment, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db)
	err = store.LinkPayment(context.Background(), "missing", "cs_1")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	slot := now.Add(48 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "conversation_key", "crm_contact_id", "patient_name", "reason",
		"slot", "source", "status", "provider_payment_id", "appointment_id", "created_at", "updated_at"}).
		AddRow("booking-1", "tenant-1", "conv-1", "contact-1", "Maria", "consulta general", slot, "chat",
			StatusConfirmed, "", "appt-1", now, now)
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id = \\$1").
		WithArgs("booking-1").
		WillReturnRows(rows)

	store := NewStore(db)
	b, err := store.Get(context.Background(), "booking-1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, "appt-1", b.AppointmentID)
}

func TestStore_Cancel_AlreadyCancelledIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE bookings SET status").
		WithArgs("booking-1", StatusCancelled, sqlmock.AnyArg(), StatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "conversation_key", "crm_contact_id", "patient_name", "reason",
		"slot", "source", "status", "provider_payment_id", "appointment_id", "created_at", "updated_at"}).
		AddRow("booking-1", "tenant-1", "conv-1", "contact-1", "Maria", "consulta general", now, "chat",
			StatusCancelled, "", "", now, now)
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id = \\$1").
		WithArgs("booking-1").
		WillReturnRows(rows)

	store := NewStore(db)
	err = store.Cancel(context.Background(), "booking-1")
	require.NoError(t, err)
}
