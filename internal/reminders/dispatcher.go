package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalishealth/bookingai/internal/booking"
	"github.com/vitalishealth/bookingai/internal/crm"
	"github.com/vitalishealth/bookingai/internal/observability/metrics"
	"github.com/vitalishealth/bookingai/internal/phone"
	"github.com/vitalishealth/bookingai/internal/tenancy"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Sender abstracts the outbound send the dispatcher needs, decoupling this
// package from chatplatform.Client the way internal/booking decouples from
// crm.Client's concrete implementations.
type Sender interface {
	SendText(ctx context.Context, phoneNumberID, to, text string) (string, error)
}

// Dispatcher runs the daily reminder batch across every active tenant,
// grounded on original_source/scheduler/appointment_reminder.py's
// run_daily_reminders/_process_account_reminders split.
type Dispatcher struct {
	accounts *tenancy.Repository
	bookings *booking.Store
	store    *Store
	crm      crm.Client
	sender   Sender
	location *time.Location
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// WithMetrics attaches the shared counter set so sent/failed reminders get
// counted. Returns the dispatcher for chaining at construction time.
func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// NewDispatcher builds a Dispatcher. loc is the timezone appointment days
// are bucketed in, defaulting to UTC when nil, matching
// run_reminder_job.py's --timezone flag.
func NewDispatcher(accounts *tenancy.Repository, bookings *booking.Store, store *Store, crmClient crm.Client, sender Sender, loc *time.Location, logger *logging.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{accounts: accounts, bookings: bookings, store: store, crm: crmClient, sender: sender, location: loc, logger: logger}
}

// RunDaily sends a reminder for every confirmed booking whose slot falls on
// asOf's calendar day, across every active tenant. It never returns early on
// a single booking or tenant failure — every error is collected into the
// Result so one bad contact record can't blank out the rest of the run, per
// run_daily_reminders's try/except-per-account and try/except-per-appointment
// structure.
func (d *Dispatcher) RunDaily(ctx context.Context, asOf time.Time) (*Result, error) {
	result := &Result{}

	accounts, err := d.accounts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("reminders: list active accounts: %w", err)
	}
	result.TenantsProcessed = len(accounts)

	dayStart := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, d.location)
	dayEnd := dayStart.Add(24 * time.Hour)

	for _, account := range accounts {
		bookings, err := d.bookings.ListUpcomingByTenant(ctx, account.ID, dayStart, dayEnd)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("tenant %s: list bookings: %v", account.ID, err))
			continue
		}
		result.BookingsSeen += len(bookings)

		for _, b := range bookings {
			if err := d.remindOne(ctx, account, b); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("booking %s: %v", b.ID, err))
				continue
			}
			result.RemindersSent++
		}
	}

	d.logger.Info("reminders: daily dispatch complete",
		"tenants", result.TenantsProcessed, "bookings_seen", result.BookingsSeen,
		"reminders_sent", result.RemindersSent, "errors", len(result.Errors))
	return result, nil
}

func (d *Dispatcher) remindOne(ctx context.Context, account *tenancy.Account, b *booking.Booking) error {
	already, err := d.store.ExistsForBooking(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("check already sent: %w", err)
	}
	if already {
		return nil
	}

	contact, err := d.crm.GetContact(ctx, account.ID, b.CRMContactID)
	if err != nil {
		return fmt.Errorf("fetch contact: %w", err)
	}
	to := phone.FormatForChat(contact.Phone)
	if to == "" {
		return fmt.Errorf("contact %s has no usable phone on file", b.CRMContactID)
	}

	text := ReminderMessage(b, account.DisplayName)
	if _, err := d.sender.SendText(ctx, account.ChatPlatformPhoneID, to, text); err != nil {
		d.metrics.ObserveReminderSent("failed")
		return fmt.Errorf("send reminder: %w", err)
	}
	d.metrics.ObserveReminderSent("sent")

	if _, err := d.store.Create(ctx, &Reminder{
		TenantID:        account.ID,
		BookingID:       b.ID,
		ConversationKey: b.ConversationKey,
		Phone:           to,
		PatientName:     b.PatientName,
		Slot:            b.Slot,
	}); err != nil {
		return fmt.Errorf("record sent: %w", err)
	}
	return nil
}
