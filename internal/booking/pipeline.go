package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalishealth/bookingai/internal/conversation"
	"github.com/vitalishealth/bookingai/internal/crm"
	"github.com/vitalishealth/bookingai/internal/observability/metrics"
	"github.com/vitalishealth/bookingai/internal/slots"
	"github.com/vitalishealth/bookingai/internal/tenancy"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Pipeline implements the booking half of C11: draft allocation, payment
// linking, and finalization into a CRM appointment. It satisfies both
// conversation.BookingPipeline (the engine's view) and
// payments.BookingFinalizer (the Stripe webhook's view), so a single
// instance is wired into both.
type Pipeline struct {
	store    *Store
	accounts *tenancy.Repository
	crm      crm.Client
	resolver *slots.Resolver
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewPipeline builds a Pipeline.
func NewPipeline(store *Store, accounts *tenancy.Repository, crmClient crm.Client, resolver *slots.Resolver, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{store: store, accounts: accounts, crm: crmClient, resolver: resolver, logger: logger}
}

// WithMetrics attaches the shared counter set so confirmed appointments get
// counted. Returns the pipeline for chaining at construction time.
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

var _ conversation.BookingPipeline = (*Pipeline)(nil)

// Allocate persists a pending_confirmation draft for the slot the engine
// resolved, returning the id the conversation tracks until the patient
// confirms or cancels.
func (p *Pipeline) Allocate(ctx context.Context, draft conversation.BookingDraft) (string, error) {
	id, err := p.store.Create(ctx, &Booking{
		TenantID:        draft.TenantID,
		ConversationKey: draft.ConversationKey,
		CRMContactID:    draft.CRMContactID,
		PatientName:     draft.PatientName,
		Reason:          draft.Reason,
		Slot:            draft.Slot,
		Source:          draft.Source,
	})
	if err != nil {
		return "", fmt.Errorf("booking: allocate: %w", err)
	}
	return id, nil
}

// LinkCheckout records the Stripe checkout session against the booking once
// CreateBookingCheckout succeeds, moving it to pending_payment so a webhook
// replay can find it by provider id.
func (p *Pipeline) LinkCheckout(ctx context.Context, bookingID, providerPaymentID string) error {
	return p.store.LinkPayment(ctx, bookingID, providerPaymentID)
}

// FinalizeDirect creates the CRM appointment for a booking that needs no
// payment — the ✓-button path when the tenant hasn't enabled payments.
func (p *Pipeline) FinalizeDirect(ctx context.Context, bookingID string) (string, error) {
	appointmentID, err := p.finalize(ctx, bookingID)
	if err == nil {
		p.metrics.ObserveBookingConfirmed("direct")
	}
	return appointmentID, err
}

// FinalizeFromPayment is the payments webhook's hook: a checkout session
// completed, so the booking's CRM appointment is created the same way
// FinalizeDirect does it. Satisfies payments.BookingFinalizer.
func (p *Pipeline) FinalizeFromPayment(ctx context.Context, bookingID, providerPaymentID string) error {
	booking, err := p.store.Get(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("booking: finalize from payment: %w", err)
	}
	if booking.ProviderPaymentID != "" && booking.ProviderPaymentID != providerPaymentID {
		return fmt.Errorf("booking: finalize from payment: provider payment id mismatch for booking %s", bookingID)
	}
	_, err = p.finalize(ctx, bookingID)
	if err == nil {
		p.metrics.ObserveBookingConfirmed("payment")
	}
	return err
}

// finalize revalidates the slot is still free, creates the CRM appointment,
// and links it to the booking. Revalidation guards against the gap between
// proposing a slot and the patient tapping confirm — or, for the paid path,
// the much longer gap while a checkout session is open — during which the
// slot could have been taken by another patient or the same one in a
// different conversation.
func (p *Pipeline) finalize(ctx context.Context, bookingID string) (string, error) {
	b, err := p.store.Get(ctx, bookingID)
	if err != nil {
		return "", fmt.Errorf("booking: finalize: %w", err)
	}
	if b.Status == StatusConfirmed && b.AppointmentID != "" {
		// Already finalized — a webhook retry or a duplicate confirm tap.
		return b.AppointmentID, nil
	}
	if b.CRMContactID == "" {
		return "", fmt.Errorf("booking: finalize %s: no CRM contact on file", bookingID)
	}

	account, err := p.accounts.GetByID(ctx, b.TenantID)
	if err != nil {
		return "", fmt.Errorf("booking: finalize %s: load tenant: %w", bookingID, err)
	}

	if p.resolver != nil {
		result, err := p.resolver.Resolve(ctx, account.ID, account.CRMCalendarID, account.AssignedUserID, b.Slot)
		if err != nil {
			return "", fmt.Errorf("booking: finalize %s: revalidate slot: %w", bookingID, err)
		}
		if result.Outcome != slots.OutcomeExact {
			return "", fmt.Errorf("booking: finalize %s: slot %s is no longer available", bookingID, b.Slot.Format(time.RFC3339))
		}
	}

	appt, err := p.crm.CreateAppointment(ctx, account.ID, crm.AppointmentRequest{
		CalendarID: account.CRMCalendarID,
		ContactID:  b.CRMContactID,
		UserID:     account.AssignedUserID,
		StartTime:  b.Slot,
		EndTime:    b.Slot.Add(crm.AppointmentDurationMinutes * time.Minute),
		Title:      b.Reason,
	})
	if err != nil {
		return "", fmt.Errorf("booking: finalize %s: create appointment: %w", bookingID, err)
	}

	if err := p.store.LinkAppointment(ctx, bookingID, appt.ID); err != nil {
		return "", fmt.Errorf("booking: finalize %s: link appointment: %w", bookingID, err)
	}
	p.logger.Info("booking: appointment confirmed", "booking_id", bookingID, "appointment_id", appt.ID, "tenant_id", account.ID)
	return appt.ID, nil
}

// Cancel abandons a booking. If a CRM appointment was already created, it
// is cancelled too rather than left orphaned on the calendar.
func (p *Pipeline) Cancel(ctx context.Context, bookingID string) error {
	b, err := p.store.Get(ctx, bookingID)
	if err != nil {
		if err == ErrBookingNotFound {
			return nil
		}
		return fmt.Errorf("booking: cancel: %w", err)
	}
	if b.AppointmentID != "" {
		if err := p.crm.CancelAppointment(ctx, b.TenantID, b.AppointmentID); err != nil {
			p.logger.Warn("booking: failed to cancel CRM appointment", "error", err, "booking_id", bookingID, "appointment_id", b.AppointmentID)
		}
	}
	return p.store.Cancel(ctx, bookingID)
}
