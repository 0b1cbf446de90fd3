package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalishealth/bookingai/internal/booking"
	"github.com/vitalishealth/bookingai/internal/crm"
	"github.com/vitalishealth/bookingai/internal/tenancy"
)

type fakeCRM struct {
	contact   *crm.Contact
	cancelled []string
}

func (f *fakeCRM) FindOrCreateContact(ctx context.Context, accountID string, req crm.ContactRequest) (*crm.Contact, error) {
	return f.contact, nil
}
func (f *fakeCRM) GetContact(ctx context.Context, accountID, contactID string) (*crm.Contact, error) {
	return f.contact, nil
}
func (f *fakeCRM) FreeSlots(ctx context.Context, accountID string, req crm.FreeSlotsRequest) ([]crm.FreeSlot, error) {
	return nil, nil
}
func (f *fakeCRM) CreateAppointment(ctx context.Context, accountID string, req crm.AppointmentRequest) (*crm.Appointment, error) {
	return nil, nil
}
func (f *fakeCRM) GetAppointment(ctx context.Context, accountID, appointmentID string) (*crm.Appointment, error) {
	return nil, nil
}
func (f *fakeCRM) UpdateAppointment(ctx context.Context, accountID string, req crm.AppointmentUpdate) (*crm.Appointment, error) {
	return nil, nil
}
func (f *fakeCRM) CancelAppointment(ctx context.Context, accountID, appointmentID string) error {
	f.cancelled = append(f.cancelled, appointmentID)
	return nil
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) SendText(ctx context.Context, phoneNumberID, to, text string) (string, error) {
	f.sent = append(f.sent, to)
	return "msg-1", nil
}

func accountRow(id, phoneID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "display_name", "chat_platform_phone_id", "crm_calendar_id", "location_id",
		"assigned_user_id", "email", "status", "custom_prompt",
		"payments_connected_account_id", "payments_onboarding_complete", "payments_charges_enabled",
		"payments_payouts_enabled", "payments_details_submitted", "payments_price_cents",
		"payments_currency", "payments_description",
		"subscription_customer_id", "subscription_tier_id", "subscription_status", "subscription_period_end",
		"subscription_is_free_account", "subscription_free_account_reason", "subscription_free_account_expires_at",
		"created_at", "updated_at",
	}).AddRow(
		id, "Clinica Demo", phoneID, "cal-1", "loc-1",
		"user-1", "demo@example.com", tenancy.StatusActive, "",
		"", false, false,
		false, false, int64(0),
		"usd", "",
		"", "", "", now,
		false, "", now,
		now, now,
	)
}

func bookingRow(id, tenantID, contactID string, slot time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "tenant_id", "conversation_key", "crm_contact_id", "patient_name", "reason",
		"slot", "source", "status", "provider_payment_id", "appointment_id", "created_at", "updated_at"}).
		AddRow(id, tenantID, "conv-1", contactID, "Maria", "consulta general", slot, "chat",
			booking.StatusConfirmed, "", "appt-1", now, now)
}

func TestDispatcher_RunDaily_SendsOncePerBooking(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	slot := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE status = \\$1").
		WillReturnRows(accountRow("tenant-1", "phone-id-1"))

	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE tenant_id = \\$1").
		WithArgs("tenant-1", booking.StatusConfirmed, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(bookingRow("booking-1", "tenant-1", "contact-1", slot))

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("booking-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	mock.ExpectExec("INSERT INTO reminders").WillReturnResult(sqlmock.NewResult(1, 1))

	accounts := tenancy.NewRepository(db)
	bookings := booking.NewStore(db)
	store := NewStore(db)
	fc := &fakeCRM{contact: &crm.Contact{ID: "contact-1", Phone: "5215512345678"}}
	fs := &fakeSender{}

	d := NewDispatcher(accounts, bookings, store, fc, fs, time.UTC, nil)

	result, err := d.RunDaily(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TenantsProcessed)
	assert.Equal(t, 1, result.BookingsSeen)
	assert.Equal(t, 1, result.RemindersSent)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{"5215512345678"}, fs.sent)
}

func TestDispatcher_RunDaily_SkipsAlreadySent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	slot := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE status = \\$1").
		WillReturnRows(accountRow("tenant-1", "phone-id-1"))
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE tenant_id = \\$1").
		WillReturnRows(bookingRow("booking-1", "tenant-1", "contact-1", slot))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("booking-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	accounts := tenancy.NewRepository(db)
	bookings := booking.NewStore(db)
	store := NewStore(db)
	fc := &fakeCRM{contact: &crm.Contact{ID: "contact-1", Phone: "5215512345678"}}
	fs := &fakeSender{}

	d := NewDispatcher(accounts, bookings, store, fc, fs, time.UTC, nil)

	result, err := d.RunDaily(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RemindersSent)
	assert.Empty(t, fs.sent)
}
