package payments

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

func TestAdminHandler_AssignInvoice_RejectsInvalidBody(t *testing.T) {
	svc := NewService("sk_test_123", "whsec_platform", "whsec_sub", nil, nil, nil, logging.New("error"))
	h := NewAdminHandler(svc, logging.New("error"))

	req := httptest.NewRequest(http.MethodPut, "/admin/subscriptions/invoice", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.AssignInvoice(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler_AssignInvoice_RejectsMalformedEmail(t *testing.T) {
	svc := NewService("sk_test_123", "whsec_platform", "whsec_sub", nil, nil, nil, logging.New("error"))
	h := NewAdminHandler(svc, logging.New("error"))

	body, _ := json.Marshal(assignInvoiceRequest{
		CustomerID: "cus_1",
		PriceID:    "price_1",
		AdminEmail: "not-an-email",
		TenantName: "Glow Clinic",
	})
	req := httptest.NewRequest(http.MethodPut, "/admin/subscriptions/invoice", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.AssignInvoice(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler_AssignInvoice_Succeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/subscriptions":
			json.NewEncoder(w).Encode(map[string]string{"id": "sub_1", "latest_invoice": "in_1"})
		case "/v1/invoices/in_1/finalize":
			json.NewEncoder(w).Encode(map[string]string{
				"id":                 "in_1",
				"hosted_invoice_url": "https://invoice.stripe.com/i/in_1",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	svc := NewService("sk_test_123", "whsec_platform", "whsec_sub", nil, nil, nil, logging.New("error")).WithBaseURL(srv.URL)
	h := NewAdminHandler(svc, logging.New("error"))

	body, _ := json.Marshal(assignInvoiceRequest{
		CustomerID: "cus_1",
		PriceID:    "price_1",
		AdminEmail: "admin@clinic.test",
		TenantName: "Glow Clinic",
	})
	req := httptest.NewRequest(http.MethodPut, "/admin/subscriptions/invoice", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.AssignInvoice(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp assignInvoiceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "sub_1", resp.SubscriptionID)
	require.Equal(t, "https://invoice.stripe.com/i/in_1", resp.HostedInvoiceURL)
}
