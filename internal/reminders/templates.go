package reminders

import (
	"fmt"

	"github.com/vitalishealth/bookingai/internal/booking"
)

// ReminderMessage renders the day-of confirmation text, grounded on
// original_source/scheduler/appointment_reminder.py's
// send_appointment_reminder_template call (patient name, local time,
// calendar/service name) but as a freeform text send rather than a
// pre-approved WhatsApp template, matching chatplatform.Client.SendText.
func ReminderMessage(b *booking.Booking, clinicName string) string {
	name := b.PatientName
	if name == "" {
		name = "there"
	}
	localTime := b.Slot.Format("3:04 PM")
	reason := b.Reason
	if reason == "" {
		reason = "your appointment"
	}
	return fmt.Sprintf(
		"Hi %s! Just a reminder that you have %s today at %s with %s. Reply C to confirm or CANCEL to cancel.",
		name, reason, localTime, clinicName,
	)
}

// CancelAck is sent back when a reply cancels the booking.
func CancelAck(clinicName string) string {
	return fmt.Sprintf("Got it, your appointment has been cancelled. Text us anytime to rebook at %s.", clinicName)
}

// ConfirmAck is sent back when a reply confirms the booking.
func ConfirmAck(clinicName string) string {
	return fmt.Sprintf("Perfect, see you then! — %s", clinicName)
}
