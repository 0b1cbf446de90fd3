package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/vitalishealth/bookingai/internal/chatplatform"
	"github.com/vitalishealth/bookingai/internal/conversation"
	"github.com/vitalishealth/bookingai/internal/dedup"
	"github.com/vitalishealth/bookingai/internal/observability/metrics"
	"github.com/vitalishealth/bookingai/internal/ratewindow"
	"github.com/vitalishealth/bookingai/internal/reminders"
	"github.com/vitalishealth/bookingai/internal/tenancy"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// webhookHandler is the GET verification / POST ingress pair for the chat
// platform's Cloud-API-style webhook, grounded on
// original_source/app/api/routes/whatsapp_webhook.py and the teacher's
// messaging.Handler.TwilioWebhook split of verification vs. delivery.
type webhookHandler struct {
	accounts    *tenancy.Repository
	gate        *tenancy.Gate
	engine      *conversation.Engine
	chatClient  *chatplatform.Client
	dedup       *dedup.Store
	reminders   *reminders.Router
	verifyToken string
	logger      *logging.Logger
	metrics     *metrics.Metrics
	rateWindow  *ratewindow.Limiter
}

// perAccountWebhookLimit caps inbound webhook volume per tenant per minute
// when a Redis-backed rate window is configured, independent of the
// per-IP in-memory limiter chi applies to the whole route.
const perAccountWebhookLimit = 600

func (h *webhookHandler) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := chatplatform.VerifyChallenge(
		q.Get("hub.mode"),
		q.Get("hub.verify_token"),
		q.Get("hub.challenge"),
		h.verifyToken,
	)
	if !ok {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(challenge))
}

func (h *webhookHandler) handleInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveWebhookLatency("whatsapp", time.Since(start).Seconds()) }()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	in, err := chatplatform.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("httpapi: failed to parse inbound webhook", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if in == nil {
		// Delivery-status callback or similarly uninteresting payload.
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	account, err := h.accounts.GetByChatPlatformPhoneID(ctx, in.PhoneNumberID)
	if err != nil {
		h.logger.Error("httpapi: no account for phone number id", "phone_number_id", in.PhoneNumberID, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !h.gate.Allow(ctx, account) {
		h.logger.Info("httpapi: subscription gate denied inbound message", "account_id", account.ID)
		if h.chatClient != nil {
			if _, err := h.chatClient.SendText(ctx, account.ChatPlatformPhoneID, in.From, tenancy.SubscriptionRequiredMessage); err != nil {
				h.logger.Error("httpapi: failed to send subscription-required message", "account_id", account.ID, "error", err)
			}
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.rateWindow != nil {
		key := ratewindow.WebhookKey(account.ID, time.Now())
		if !h.rateWindow.Allow(ctx, key, perAccountWebhookLimit, time.Minute) {
			h.logger.Warn("httpapi: per-account webhook rate window exceeded", "account_id", account.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if h.dedup != nil && in.MessageID != "" {
		claimed, err := h.dedup.Claim(ctx, account.ID, in.MessageID)
		if err != nil {
			h.logger.Error("httpapi: dedup claim failed, processing anyway", "account_id", account.ID, "error", err)
		} else if !claimed {
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if h.reminders != nil && in.Type == chatplatform.MessageTypeText {
		action, err := h.reminders.HandleReply(ctx, account.ID, in.PhoneNumberID, in.From, in.Text, account.DisplayName)
		if err != nil {
			h.logger.Error("httpapi: reminder reply routing failed", "account_id", account.ID, "error", err)
		} else if action != reminders.ActionNone {
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	turn, err := h.engine.Handle(ctx, account, in.From, *in)
	if err != nil {
		h.logger.Error("httpapi: engine handling failed", "account_id", account.ID, "error", err)
		h.metrics.ObserveMessageProcessed("whatsapp", "error")
		w.WriteHeader(http.StatusOK)
		return
	}
	h.metrics.ObserveMessageProcessed("whatsapp", "ok")
	h.deliver(ctx, account, in.From, turn)

	w.WriteHeader(http.StatusOK)
}

// deliver sends the engine's turn back over the chat platform. The engine
// itself only persists and returns the turn; delivery is the webhook
// handler's job so a non-WhatsApp caller (the directory webchat widget) can
// reuse the same engine without routing replies through the platform API.
func (h *webhookHandler) deliver(ctx context.Context, account *tenancy.Account, to string, turn *conversation.Turn) {
	if turn == nil || h.chatClient == nil {
		return
	}
	var err error
	if len(turn.Buttons) > 0 {
		_, err = h.chatClient.SendInteractive(ctx, account.ChatPlatformPhoneID, to, turn.Text, turn.Buttons)
	} else {
		_, err = h.chatClient.SendText(ctx, account.ChatPlatformPhoneID, to, turn.Text)
	}
	if err != nil {
		h.logger.Error("httpapi: failed to deliver reply", "account_id", account.ID, "error", err)
	}
}
