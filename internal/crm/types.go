// Package crm defines the calendar/CRM adapter contract (C4): contact
// lookup/creation, appointment booking, and free-slot availability,
// generalized from the teacher's internal/emr.Client interface to the
// spec's contacts/appointments/slots vocabulary.
package crm

import (
	"context"
	"time"
)

// Client is implemented by a concrete CRM integration (ghlclient.Client is
// the only one wired in this build; the interface exists so the booking
// pipeline and slot resolver never depend on a specific provider).
type Client interface {
	FindOrCreateContact(ctx context.Context, accountID string, req ContactRequest) (*Contact, error)
	GetContact(ctx context.Context, accountID, contactID string) (*Contact, error)

	FreeSlots(ctx context.Context, accountID string, req FreeSlotsRequest) ([]FreeSlot, error)
	CreateAppointment(ctx context.Context, accountID string, req AppointmentRequest) (*Appointment, error)
	GetAppointment(ctx context.Context, accountID, appointmentID string) (*Appointment, error)
	UpdateAppointment(ctx context.Context, accountID string, req AppointmentUpdate) (*Appointment, error)
	CancelAppointment(ctx context.Context, accountID, appointmentID string) error
}

// ContactRequest is the input to FindOrCreateContact.
type ContactRequest struct {
	Name   string
	Phone  string // already canonicalized by internal/phone
	Email  string
	Reason string
}

// Contact is a CRM contact record.
type Contact struct {
	ID    string
	Name  string
	Phone string
	Email string
}

// FreeSlotsRequest is the input to FreeSlots.
type FreeSlotsRequest struct {
	CalendarID string
	UserID     string
	StartDate  time.Time
	EndDate    time.Time
	Timezone   string
}

// FreeSlot is one bookable start time, normalized from whichever shape the
// CRM returned.
type FreeSlot struct {
	Date string // YYYY-MM-DD, the CRM's grouping key
	Time string // HH:MM local to Timezone
	At   time.Time
}

// AppointmentRequest is the input to CreateAppointment.
type AppointmentRequest struct {
	CalendarID string
	ContactID  string
	UserID     string
	StartTime  time.Time
	EndTime    time.Time
	Title      string
}

// AppointmentUpdate reschedules or otherwise edits an existing appointment.
type AppointmentUpdate struct {
	AppointmentID string
	StartTime     time.Time
	EndTime       time.Time
	Status        string
}

// Appointment is a booked CRM calendar event.
type Appointment struct {
	ID         string
	CalendarID string
	ContactID  string
	StartTime  time.Time
	EndTime    time.Time
	Status     string
}

// AppointmentDurationMinutes is the fixed slot length used when the
// conversation engine books an appointment — not configurable per spec §9.
const AppointmentDurationMinutes = 50
