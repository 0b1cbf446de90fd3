package payments

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

var adminValidate = validator.New()

// assignInvoiceRequest is the body of PUT /admin/subscriptions/invoice,
// the admin-assign invoice flow from spec §4.6: an operator puts a tenant
// on a subscription billed by invoice instead of automatic card charge.
type assignInvoiceRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	PriceID    string `json:"price_id" validate:"required"`
	AdminEmail string `json:"admin_email" validate:"required,email"`
	TenantName string `json:"tenant_name" validate:"required"`
}

type assignInvoiceResponse struct {
	SubscriptionID   string `json:"subscription_id"`
	InvoiceID        string `json:"invoice_id"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
}

// AdminHandler exposes the subset of Service operations an authenticated
// tenant operator drives directly, mirroring directory.Handler's
// validate-then-delegate shape.
type AdminHandler struct {
	svc    *Service
	logger *logging.Logger
}

func NewAdminHandler(svc *Service, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{svc: svc, logger: logger}
}

// AssignInvoice handles PUT /admin/subscriptions/invoice.
func (h *AdminHandler) AssignInvoice(w http.ResponseWriter, r *http.Request) {
	var req assignInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if err := adminValidate.Struct(req); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	subID, invoiceID, hostedURL, err := h.svc.AssignSubscription(r.Context(), req.CustomerID, req.PriceID, req.AdminEmail, req.TenantName)
	if err != nil {
		h.logger.Error("payments: admin-assign invoice failed", "customer_id", req.CustomerID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(assignInvoiceResponse{
		SubscriptionID:   subID,
		InvoiceID:        invoiceID,
		HostedInvoiceURL: hostedURL,
	})
}
