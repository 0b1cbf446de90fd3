// Package reminders implements the day-of appointment reminder batch (C12)
// and the reminder-reply router (C14): a daily job that messages every
// patient with a confirmed booking that day, and a keyword dispatcher that
// turns their reply ("C" or "confirm" to confirm, "cancel" to cancel) into a
// booking action. Grounded on internal/rebooking, which runs the same
// store/worker/reply split for lapsed-patient outreach instead of day-of
// confirmations, and on original_source/scheduler/appointment_reminder.py
// and run_reminder_job.py for the daily-batch shape (per-account fan-out,
// a dedup check before sending, a sent-at marker, and a results summary
// with counts and errors returned to the caller).
package reminders

import "time"

// Status tracks the lifecycle of a dispatched reminder.
type Status string

const (
	StatusSent      Status = "sent"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusNoReply   Status = "no_reply"
)

// Reminder records that a booking's day-of reminder was sent, so the reply
// router can resolve an inbound "C"/"cancel" back to the booking it's about
// and the dispatcher never double-sends for the same booking.
type Reminder struct {
	ID              string
	TenantID        string
	BookingID       string
	ConversationKey string
	Phone           string
	PatientName     string
	Slot            time.Time
	Status          Status
	RepliedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Result summarizes one dispatcher run, mirroring run_reminder_job.py's
// printed summary (total accounts, appointments seen, reminders sent, and
// the list of per-booking errors) so a cron wrapper can log it and set its
// exit code from len(Errors).
type Result struct {
	TenantsProcessed int
	BookingsSeen     int
	RemindersSent    int
	Errors           []string
}
