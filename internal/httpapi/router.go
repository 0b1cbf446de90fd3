// Package httpapi assembles the thin HTTP shell in front of the
// conversation engine: chat-platform webhook ingress, payment-provider
// webhook ingress, and the handful of authenticated admin routes a tenant
// operator needs. Grounded on internal/api/router's chi wiring pattern,
// trimmed from its ~35-field admin-dashboard Config down to the surface
// this system actually needs, with CORS/rate-limit/auth middleware adapted
// from internal/http/middleware.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalishealth/bookingai/internal/chatplatform"
	"github.com/vitalishealth/bookingai/internal/conversation"
	"github.com/vitalishealth/bookingai/internal/dedup"
	"github.com/vitalishealth/bookingai/internal/directory"
	httpmiddleware "github.com/vitalishealth/bookingai/internal/http/middleware"
	"github.com/vitalishealth/bookingai/internal/observability/metrics"
	"github.com/vitalishealth/bookingai/internal/payments"
	"github.com/vitalishealth/bookingai/internal/ratewindow"
	"github.com/vitalishealth/bookingai/internal/reminders"
	"github.com/vitalishealth/bookingai/internal/tenancy"
	"github.com/vitalishealth/bookingai/internal/webchat"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Config wires the dependencies the router dispatches into. Unlike the
// teacher's router.Config, every field here backs a route this system
// actually serves — there is no admin dashboard, no Telnyx/Instagram/GitHub
// webhook surface, no Square/Boulevard integration.
type Config struct {
	Logger *logging.Logger

	Accounts *tenancy.Repository
	Gate     *tenancy.Gate
	Engine   *conversation.Engine
	Chat     *chatplatform.Client
	Dedup      *dedup.Store
	Metrics    *metrics.Metrics
	RateWindow *ratewindow.Limiter

	ChatPlatformVerifyToken string

	Payments      *payments.WebhookHandler
	PaymentsAdmin *payments.AdminHandler

	Reminders *reminders.Router

	Directory *directory.Handler
	Webchat   *webchat.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string
	WebhookRatePerSec  float64
	WebhookBurst       int
}

// New builds the full HTTP handler tree.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Org-Id"},
			MaxAge:           600,
			AllowCredentials: false,
		}))
	}

	rate := cfg.WebhookRatePerSec
	if rate <= 0 {
		rate = 20
	}
	burst := cfg.WebhookBurst
	if burst <= 0 {
		burst = 40
	}

	r.Get("/health", healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	wh := &webhookHandler{
		accounts:    cfg.Accounts,
		gate:        cfg.Gate,
		engine:      cfg.Engine,
		chatClient:  cfg.Chat,
		dedup:       cfg.Dedup,
		reminders:   cfg.Reminders,
		verifyToken: cfg.ChatPlatformVerifyToken,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		rateWindow:  cfg.RateWindow,
	}

	r.Route("/webhooks/chat", func(r chi.Router) {
		r.Use(httpmiddleware.RateLimit(rate, burst))
		r.Get("/", wh.handleVerification)
		r.Post("/", wh.handleInbound)
	})

	if cfg.Payments != nil {
		r.Route("/webhooks/payments", func(r chi.Router) {
			r.Use(httpmiddleware.RateLimit(rate, burst))
			r.Post("/platform", cfg.Payments.HandlePlatform)
			r.Post("/subscriptions", cfg.Payments.HandleSubscription)
		})
	}

	if cfg.Directory != nil {
		r.Route("/directory", func(r chi.Router) {
			r.Get("/search", cfg.Directory.Search)
			r.Get("/{slug}", cfg.Directory.GetProfile)
		})
	}

	if cfg.Webchat != nil {
		r.Route("/webchat", func(r chi.Router) {
			r.Get("/ws", cfg.Webchat.HandleWebSocket)
			r.Post("/message", cfg.Webchat.HandleMessage)
			r.Get("/history", cfg.Webchat.HandleHistory)
			r.Get("/widget.js", cfg.Webchat.HandleWidgetJS)
		})
	}

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.Directory != nil {
				r.Put("/directory/{accountID}", cfg.Directory.UpsertProfile)
			}
			if cfg.PaymentsAdmin != nil {
				r.Put("/subscriptions/invoice", cfg.PaymentsAdmin.AssignInvoice)
			}
		})
	}

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","time":"` + time.Now().UTC().Format(time.RFC3339) + `"}`))
}
