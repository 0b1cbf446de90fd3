package reminders

import (
	"context"
	"fmt"
	"strings"

	"github.com/vitalishealth/bookingai/internal/booking"
	"github.com/vitalishealth/bookingai/internal/phone"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Action is the outcome of routing an inbound reply to an active reminder.
type Action string

const (
	ActionNone      Action = ""
	ActionConfirmed Action = "confirmed"
	ActionCancelled Action = "cancelled"
)

var confirmWords = []string{"c", "confirm", "yes", "yeah", "yep", "sure", "ok", "okay"}
var cancelWords = []string{"cancel", "no", "stop", "can't make it", "cant make it"}

// Router resolves an inbound message against the sender's active reminder
// and, on a recognized keyword, applies the booking action and replies,
// grounded on internal/rebooking.Worker.HandleReply's find-by-phone plus
// keyword-match structure, retargeted from opt-out/rebook-interest to
// confirm/cancel of a specific day-of appointment.
type Router struct {
	store    *Store
	pipeline *booking.Pipeline
	sender   Sender
	logger   *logging.Logger
}

// NewRouter builds a Router.
func NewRouter(store *Store, pipeline *booking.Pipeline, sender Sender, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{store: store, pipeline: pipeline, sender: sender, logger: logger}
}

// HandleReply inspects an inbound message for a confirm/cancel keyword
// against the tenant's most recent sent reminder for that phone number.
// Returns ActionNone, nil when the message isn't a recognized reminder
// reply, so the caller can fall through to the conversation engine.
func (r *Router) HandleReply(ctx context.Context, tenantID, phoneNumberID, from, body, clinicName string) (Action, error) {
	to := phone.FormatForChat(from)
	reminder, err := r.store.FindActiveByPhone(ctx, tenantID, to)
	if err != nil {
		return ActionNone, fmt.Errorf("reminders: find active by phone: %w", err)
	}
	if reminder == nil {
		return ActionNone, nil
	}

	normalized := strings.ToLower(strings.TrimSpace(body))

	switch {
	case matchesAny(normalized, cancelWords):
		if err := r.pipeline.Cancel(ctx, reminder.BookingID); err != nil {
			return ActionNone, fmt.Errorf("reminders: cancel booking: %w", err)
		}
		if err := r.store.MarkReplied(ctx, reminder.ID, StatusCancelled); err != nil {
			return ActionNone, fmt.Errorf("reminders: mark cancelled: %w", err)
		}
		if _, err := r.sender.SendText(ctx, phoneNumberID, to, CancelAck(clinicName)); err != nil {
			r.logger.Warn("reminders: failed to send cancel ack", "error", err, "reminder_id", reminder.ID)
		}
		r.logger.Info("reminders: patient cancelled via reply", "reminder_id", reminder.ID, "booking_id", reminder.BookingID)
		return ActionCancelled, nil

	case matchesAny(normalized, confirmWords):
		if err := r.store.MarkReplied(ctx, reminder.ID, StatusConfirmed); err != nil {
			return ActionNone, fmt.Errorf("reminders: mark confirmed: %w", err)
		}
		if _, err := r.sender.SendText(ctx, phoneNumberID, to, ConfirmAck(clinicName)); err != nil {
			r.logger.Warn("reminders: failed to send confirm ack", "error", err, "reminder_id", reminder.ID)
		}
		r.logger.Info("reminders: patient confirmed via reply", "reminder_id", reminder.ID, "booking_id", reminder.BookingID)
		return ActionConfirmed, nil
	}

	return ActionNone, nil
}

func matchesAny(body string, words []string) bool {
	for _, w := range words {
		if body == w {
			return true
		}
	}
	return false
}
