package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vitalishealth/bookingai/internal/chatplatform"
	"github.com/vitalishealth/bookingai/internal/crm"
	"github.com/vitalishealth/bookingai/internal/payments"
	"github.com/vitalishealth/bookingai/internal/slots"
	"github.com/vitalishealth/bookingai/internal/tenancy"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// cancelKeywords are the text replies that abandon a pending booking draft,
// spoken the way a patient actually types it rather than a button tap.
var cancelKeywords = map[string]bool{
	"no":         true,
	"cancelar":   true,
	"cancel":     true,
	"cancela":    true,
	"no quiero":  true,
	"olvidalo":   true,
	"olvídalo":   true,
	"dejalo":     true,
	"déjalo":     true,
}

func isCancelReply(text string) bool {
	return cancelKeywords[strings.ToLower(strings.TrimSpace(text))]
}

// Intent is the structured output of a full extraction pass over the
// conversation so far.
type Intent struct {
	HasAppointmentInfo bool
	Name               string
	Reason             string
	DateTimeISO        string // tenant-timezone ISO8601
	RawDateTime        string
	Email              string
}

// Extractor performs the two LLM passes the engine needs per turn: an
// independent name pass (run on every turn so a contact can be created as
// soon as a name surfaces) and a structured appointment-intent pass.
type Extractor interface {
	ExtractName(ctx context.Context, history []Message, latest string) (name string, ok bool, err error)
	ExtractIntent(ctx context.Context, history []Message, latest string, now time.Time) (*Intent, error)
	Reply(ctx context.Context, history []Message, systemPrompt string) (string, error)
}

// BookingDraft is what the engine asks the booking pipeline to allocate
// once a complete, available intent has been extracted.
type BookingDraft struct {
	TenantID         string
	ConversationKey  string
	CRMContactID     string
	PatientName      string
	Reason           string
	Slot             time.Time
	Source           string
	PaymentRequired  bool
}

// BookingPipeline is the narrow slice of the booking store/pipeline (C8/C11)
// the engine depends on. Defined here, implemented by internal/booking, to
// keep conversation from importing booking directly.
type BookingPipeline interface {
	Allocate(ctx context.Context, draft BookingDraft) (bookingID string, err error)
	LinkCheckout(ctx context.Context, bookingID, providerPaymentID string) error
	FinalizeDirect(ctx context.Context, bookingID string) (appointmentID string, err error)
	Cancel(ctx context.Context, bookingID string) error
}

// Messenger is the outbound half of the chat-platform adapter (C5) the
// engine needs to deliver replies.
type Messenger interface {
	SendText(ctx context.Context, phoneNumberID, to, text string) (string, error)
	SendInteractive(ctx context.Context, phoneNumberID, to, bodyText string, buttons []chatplatform.Button) (string, error)
}

const (
	buttonConfirm = "confirm_booking"
	buttonReject  = "reject_booking"
)

// Engine implements the conversation engine (C10): per-turn extraction,
// slot resolution, booking allocation, and confirmation handling. Grounded
// on original_source/app/services/appointment_service.py::process_message
// and ::handle_alternative_slot_selection, restructured around this
// package's Store/Context rather than a Firestore document.
type Engine struct {
	store     *Store
	crmClient crm.Client
	resolver  *slots.Resolver
	extractor Extractor
	bookings  BookingPipeline
	payments  *payments.Service
	messenger Messenger
	logger    *logging.Logger
}

// NewEngine builds the conversation engine.
func NewEngine(store *Store, crmClient crm.Client, resolver *slots.Resolver, extractor Extractor, bookings BookingPipeline, paymentsSvc *payments.Service, messenger Messenger, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:     store,
		crmClient: crmClient,
		resolver:  resolver,
		extractor: extractor,
		bookings:  bookings,
		payments:  paymentsSvc,
		messenger: messenger,
		logger:    logger,
	}
}

// Turn is the result of handling one inbound message: the reply to send
// back, and optionally interactive buttons instead of plain text.
type Turn struct {
	Text    string
	Buttons []chatplatform.Button
}

func textTurn(format string, args ...any) *Turn {
	return &Turn{Text: fmt.Sprintf(format, args...)}
}

// History returns the persisted message log for (account, phone), oldest
// first, creating the conversation thread if one doesn't exist yet. Used by
// non-webhook callers (the directory webchat widget) that need to replay a
// transcript without going through Handle.
func (e *Engine) History(ctx context.Context, account *tenancy.Account, phone string) ([]Message, error) {
	conv, err := e.store.GetOrCreate(ctx, account.ID, phone)
	if err != nil {
		return nil, fmt.Errorf("conversation: get or create: %w", err)
	}
	if conv == nil {
		return nil, nil
	}
	return e.store.Messages(ctx, conv.Key)
}

// Handle processes one inbound message for (account, phone) and returns the
// reply to send. It persists the inbound message, any contact/booking side
// effects, and the outbound message before returning.
func (e *Engine) Handle(ctx context.Context, account *tenancy.Account, phone string, in chatplatform.InboundMessage) (*Turn, error) {
	conv, err := e.store.GetOrCreate(ctx, account.ID, phone)
	if err != nil {
		return nil, fmt.Errorf("conversation: get or create: %w", err)
	}
	if conv == nil {
		// Excluded test number: swallow silently, no reply.
		return nil, nil
	}

	text := inboundText(in)
	if err := e.store.AppendMessage(ctx, conv.Key, MessageInput{
		Role:      "user",
		Content:   text,
		FromPhone: phone,
	}); err != nil {
		return nil, fmt.Errorf("conversation: append inbound: %w", err)
	}

	var turn *Turn
	if conv.Status == StatusAwaitingConfirmation {
		turn, err = e.handleAwaitingConfirmation(ctx, account, conv, in, text)
	} else {
		turn, err = e.handleFreeform(ctx, account, conv, in, text)
	}
	if err != nil {
		return nil, err
	}
	if turn == nil {
		return nil, nil
	}

	if err := e.store.AppendMessage(ctx, conv.Key, MessageInput{
		Role:    "assistant",
		Content: turn.Text,
	}); err != nil {
		e.logger.Warn("conversation: failed to persist assistant turn", "error", err, "conversation_key", conv.Key)
	}
	return turn, nil
}

func inboundText(in chatplatform.InboundMessage) string {
	if in.Type == chatplatform.MessageTypeInteractive && in.ButtonID != "" {
		return in.ButtonID
	}
	return in.Text
}

// handleAwaitingConfirmation implements the per-turn dispatch for the
// awaiting_confirmation sub-state: a button tap, a 1-based alternative
// index, a cancel keyword, or — failing all of those — a fresh message that
// re-enters full extraction.
func (e *Engine) handleAwaitingConfirmation(ctx context.Context, account *tenancy.Account, conv *Conversation, in chatplatform.InboundMessage, text string) (*Turn, error) {
	switch text {
	case buttonConfirm:
		return e.confirmDraft(ctx, account, conv)
	case buttonReject:
		return e.rejectDraft(ctx, conv)
	}

	if len(conv.Context.PendingAlternatives) > 0 {
		if isCancelReply(text) {
			return e.rejectDraft(ctx, conv)
		}
		if idx, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
			return e.selectAlternative(ctx, account, conv, idx)
		}
		return textTurn("Por favor selecciona un número entre 1 y %d, o escribe 'no' para cancelar.", len(conv.Context.PendingAlternatives)), nil
	}

	if isCancelReply(text) {
		return e.rejectDraft(ctx, conv)
	}

	// Not a recognized confirmation reply — drop the sub-state and let the
	// user redirect the conversation with a new message.
	conv.Context.AwaitingConfirmation = false
	if err := e.store.UpdateContext(ctx, conv.Key, conv.Context); err != nil {
		return nil, fmt.Errorf("conversation: clear awaiting_confirmation: %w", err)
	}
	if err := e.store.UpdateStatus(ctx, conv.Key, StatusActive); err != nil {
		return nil, fmt.Errorf("conversation: reactivate conversation: %w", err)
	}
	return e.handleFreeform(ctx, account, conv, in, text)
}

func (e *Engine) selectAlternative(ctx context.Context, account *tenancy.Account, conv *Conversation, oneBased int) (*Turn, error) {
	alts := conv.Context.PendingAlternatives
	if oneBased < 1 || oneBased > len(alts) {
		return textTurn("Por favor selecciona un número entre 1 y %d, o escribe 'no' para cancelar.", len(alts)), nil
	}
	selected, err := time.Parse(time.RFC3339, alts[oneBased-1])
	if err != nil {
		return nil, fmt.Errorf("conversation: parse stored alternative: %w", err)
	}
	return e.proposeBooking(ctx, account, conv, selected, &slots.Result{Outcome: slots.OutcomeExact, Requested: selected})
}

func (e *Engine) rejectDraft(ctx context.Context, conv *Conversation) (*Turn, error) {
	if conv.Context.PendingBookingID != "" && e.bookings != nil {
		if err := e.bookings.Cancel(ctx, conv.Context.PendingBookingID); err != nil {
			e.logger.Warn("conversation: failed to cancel draft booking", "error", err, "booking_id", conv.Context.PendingBookingID)
		}
	}
	conv.Context.AwaitingConfirmation = false
	conv.Context.PendingBookingID = ""
	conv.Context.PendingAlternatives = nil
	if err := e.store.UpdateContext(ctx, conv.Key, conv.Context); err != nil {
		return nil, fmt.Errorf("conversation: clear draft: %w", err)
	}
	if err := e.store.UpdateStatus(ctx, conv.Key, StatusActive); err != nil {
		return nil, fmt.Errorf("conversation: reactivate conversation: %w", err)
	}
	return textTurn("Entiendo, he cancelado el proceso de agendamiento. ¿Hay algo más en lo que pueda ayudarte?"), nil
}

// confirmDraft implements the ✓-button path: payments misconfiguration,
// checkout-session creation, or direct appointment creation.
func (e *Engine) confirmDraft(ctx context.Context, account *tenancy.Account, conv *Conversation) (*Turn, error) {
	bookingID := conv.Context.PendingBookingID
	if bookingID == "" || e.bookings == nil {
		return textTurn("No encontré información de cita para confirmar."), nil
	}

	if !account.Payments.Enabled() {
		appointmentID, err := e.bookings.FinalizeDirect(ctx, bookingID)
		if err != nil {
			return nil, fmt.Errorf("conversation: finalize direct booking: %w", err)
		}
		e.logger.Info("conversation: appointment confirmed without payment", "booking_id", bookingID, "appointment_id", appointmentID)
		return e.finishDraft(ctx, conv, "¡Listo! Tu cita ha sido confirmada. Te esperamos.")
	}

	if reason := account.Payments.MisconfigurationReason(); reason != "" {
		return textTurn("Lo siento, el sistema de pagos de este consultorio no está configurado correctamente (%s). Por favor contacta directamente al consultorio.", reason), nil
	}

	session, err := e.payments.CreateBookingCheckout(ctx, payments.BookingCheckoutParams{
		TenantID:            account.ID,
		ConnectedAccountID:  account.Payments.ConnectedAccountID,
		BookingID:           bookingID,
		ConversationID:      conv.Key,
		AmountCents:         account.Payments.PriceCents,
		Currency:            account.Payments.Currency,
		PatientName:         conv.Context.PatientName,
		PatientEmail:        conv.Context.PatientEmail,
		Source:              "chat",
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: create booking checkout: %w", err)
	}
	if err := e.bookings.LinkCheckout(ctx, bookingID, session.ProviderID); err != nil {
		return nil, fmt.Errorf("conversation: link checkout to booking: %w", err)
	}
	return textTurn("Para confirmar tu cita, completa el pago aquí (vence en 30 minutos): %s", session.HostedURL), nil
}

func (e *Engine) finishDraft(ctx context.Context, conv *Conversation, message string) (*Turn, error) {
	conv.Context.AwaitingConfirmation = false
	conv.Context.PendingBookingID = ""
	conv.Context.PendingAlternatives = nil
	if err := e.store.UpdateContext(ctx, conv.Key, conv.Context); err != nil {
		return nil, fmt.Errorf("conversation: clear context after confirmation: %w", err)
	}
	if err := e.store.UpdateStatus(ctx, conv.Key, StatusCompleted); err != nil {
		return nil, fmt.Errorf("conversation: complete conversation: %w", err)
	}
	return textTurn(message), nil
}

// handleFreeform runs the full extraction pipeline on a non-confirmation
// turn: name extraction (with immediate contact creation), then structured
// intent extraction, then — if complete — slot resolution and booking
// allocation.
func (e *Engine) handleFreeform(ctx context.Context, account *tenancy.Account, conv *Conversation, in chatplatform.InboundMessage, text string) (*Turn, error) {
	history, err := e.store.Messages(ctx, conv.Key)
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}

	if conv.Context.CRMContactID == "" {
		if name, ok, err := e.extractor.ExtractName(ctx, history, text); err != nil {
			e.logger.Warn("conversation: name extraction failed", "error", err)
		} else if ok && name != "" {
			if err := e.createContact(ctx, account, conv, name, "", ""); err != nil {
				return nil, err
			}
		}
	}

	intent, err := e.extractor.ExtractIntent(ctx, history, text, time.Now())
	if err != nil {
		return nil, fmt.Errorf("conversation: intent extraction: %w", err)
	}

	if intent == nil || !intent.HasAppointmentInfo {
		reply, err := e.extractor.Reply(ctx, history, account.CustomPrompt)
		if err != nil {
			return nil, fmt.Errorf("conversation: generate reply: %w", err)
		}
		return textTurn(reply), nil
	}

	name := intent.Name
	if name == "" {
		name = conv.Context.PatientName
	}
	if name == "" && in.ContactName != "" {
		name = in.ContactName
	}

	if intent.Email != "" || intent.Reason != "" {
		if err := e.createContact(ctx, account, conv, name, intent.Email, intent.Reason); err != nil {
			return nil, err
		}
	}
	conv.Context.PatientName = name
	conv.Context.Reason = intent.Reason
	if intent.Email != "" {
		conv.Context.PatientEmail = intent.Email
	}

	requested, err := time.Parse(time.RFC3339, intent.DateTimeISO)
	if err != nil {
		return textTurn("No pude entender la fecha y hora de tu cita. ¿Puedes indicarla de nuevo?"), nil
	}

	result, err := e.resolver.Resolve(ctx, account.ID, account.CRMCalendarID, account.AssignedUserID, requested)
	if err != nil {
		return nil, fmt.Errorf("conversation: resolve slot: %w", err)
	}
	return e.proposeBooking(ctx, account, conv, requested, result)
}

func (e *Engine) createContact(ctx context.Context, account *tenancy.Account, conv *Conversation, name, email, reason string) error {
	if e.crmClient == nil {
		return nil
	}
	contact, err := e.crmClient.FindOrCreateContact(ctx, account.ID, crm.ContactRequest{
		Name:   name,
		Phone:  conv.Phone,
		Email:  email,
		Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("conversation: create contact: %w", err)
	}
	conv.Context.CRMContactID = contact.ID
	if name != "" {
		conv.Context.PatientName = name
	}
	if email != "" {
		conv.Context.PatientEmail = email
	}
	if reason != "" {
		conv.Context.Reason = reason
	}
	return e.store.UpdateContext(ctx, conv.Key, conv.Context)
}

// proposeBooking allocates a pending booking for the resolved slot (or the
// exact requested instant when available), moves the conversation into
// awaiting_confirmation, and builds the reply per spec: an interactive
// ✓/✗ confirmation for an exact match, a text-only numbered list otherwise.
func (e *Engine) proposeBooking(ctx context.Context, account *tenancy.Account, conv *Conversation, requested time.Time, result *slots.Result) (*Turn, error) {
	if result.Outcome == slots.OutcomeAuthFailed {
		return textTurn("Lo siento, hay un problema con la conexión al sistema de citas. Por favor, contacta al administrador para resolver este problema."), nil
	}
	if result.Outcome == slots.OutcomeNone {
		return textTurn("Lo siento, no hay horarios disponibles en los próximos días. Por favor contacta directamente al consultorio."), nil
	}

	exact := result.Outcome == slots.OutcomeExact
	slot := requested
	if !exact && len(result.Alternatives) > 0 {
		slot = result.Alternatives[0].At
	}

	if e.bookings == nil {
		return nil, fmt.Errorf("conversation: booking pipeline not configured")
	}
	bookingID, err := e.bookings.Allocate(ctx, BookingDraft{
		TenantID:        account.ID,
		ConversationKey: conv.Key,
		CRMContactID:    conv.Context.CRMContactID,
		PatientName:     conv.Context.PatientName,
		Reason:          conv.Context.Reason,
		Slot:            slot,
		Source:          "chat",
		PaymentRequired: account.Payments.Enabled(),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: allocate booking: %w", err)
	}

	conv.Context.AwaitingConfirmation = true
	conv.Context.PendingBookingID = bookingID
	if exact {
		conv.Context.PendingAlternatives = nil
	} else {
		alts := make([]string, 0, len(result.Alternatives))
		for _, a := range result.Alternatives {
			alts = append(alts, a.At.Format(time.RFC3339))
		}
		conv.Context.PendingAlternatives = alts
	}
	if err := e.store.UpdateContext(ctx, conv.Key, conv.Context); err != nil {
		return nil, fmt.Errorf("conversation: persist draft context: %w", err)
	}
	if err := e.store.UpdateStatus(ctx, conv.Key, StatusAwaitingConfirmation); err != nil {
		return nil, fmt.Errorf("conversation: enter awaiting_confirmation: %w", err)
	}

	if exact {
		return &Turn{
			Text: confirmationMessage(conv.Context.PatientName, conv.Context.Reason, slot),
			Buttons: []chatplatform.Button{
				{ID: buttonConfirm, Title: "Confirmar"},
				{ID: buttonReject, Title: "Cancelar"},
			},
		}, nil
	}
	return textTurn(alternativesMessage(conv.Context.PatientName, conv.Context.Reason, requested, result)), nil
}

func confirmationMessage(name, reason string, slot time.Time) string {
	date, t := formatSpanishDateTime(slot)
	return fmt.Sprintf("Confirma tu cita:\n\nNombre: %s\nMotivo: %s\nFecha: %s\nHora: %s\n\n¿Deseas confirmar esta cita?", name, reason, date, t)
}

func alternativesMessage(name, reason string, requested time.Time, result *slots.Result) string {
	date, t := formatSpanishDateTime(requested)
	header := "No hay horarios disponibles para esa fecha"
	if result.Outcome == slots.OutcomeSameDate {
		header = "La hora exacta solicitada no está disponible"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nNombre: %s\nMotivo: %s\nFecha solicitada: %s\nHora solicitada: %s\n\nHorarios disponibles:\n", header, name, reason, date, t)
	for i, alt := range result.Alternatives {
		fmt.Fprintf(&b, "\n%d. %s - %s", i+1, alt.DisplayDate, alt.DisplayTime)
	}
	b.WriteString("\n\n¿Te gustaría agendar en alguno de estos horarios? Responde con el número de tu preferencia o escribe 'no' para cancelar.")
	return b.String()
}

func formatSpanishDateTime(t time.Time) (date, clock string) {
	months := [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
	date = fmt.Sprintf("%d de %s de %d", t.Day(), months[t.Month()-1], t.Year())
	hour := t.Hour()
	period := "a.m."
	display := hour
	if hour == 0 {
		display = 12
	} else if hour == 12 {
		period = "p.m."
	} else if hour > 12 {
		display = hour - 12
		period = "p.m."
	}
	clock = fmt.Sprintf("%d:%02d %s", display, t.Minute(), period)
	return date, clock
}
