package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

func TestBookingCheckout_CreateSession(t *testing.T) {
	var gotForm map[string][]string
	var gotAccountHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("expected path /v1/checkout/sessions, got %s", r.URL.Path)
		}
		gotAccountHeader = r.Header.Get("Stripe-Account")
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":  "cs_test_abc123",
			"url": "https://checkout.stripe.com/pay/cs_test_abc123",
		})
	}))
	defer srv.Close()

	bc := NewBookingCheckout("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)

	session, err := bc.CreateSession(context.Background(), BookingCheckoutParams{
		ConnectedAccountID: "acct_clinic123",
		BookingID:           "booking-1",
		PatientName:         "Maria Lopez",
		PatientEmail:        "maria@example.com",
		AmountCents:         5000,
		Currency:            "USD",
		SuccessURL:          "https://success.example.com",
		CancelURL:           "https://cancel.example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.HostedURL != "https://checkout.stripe.com/pay/cs_test_abc123" {
		t.Fatalf("unexpected hosted url: %s", session.HostedURL)
	}
	if session.ProviderID != "cs_test_abc123" {
		t.Fatalf("unexpected provider id: %s", session.ProviderID)
	}
	if gotAccountHeader != "acct_clinic123" {
		t.Fatalf("expected Stripe-Account header, got %q", gotAccountHeader)
	}
	if got := gotForm.Get("line_items[0][price_data][currency]"); got != "usd" {
		t.Errorf("expected lowercased currency, got %q", got)
	}
	if got := gotForm.Get("line_items[0][price_data][unit_amount]"); got != "5000" {
		t.Errorf("expected amount 5000, got %q", got)
	}
	if got := gotForm.Get("metadata[booking_id]"); got != "booking-1" {
		t.Errorf("expected booking_id metadata, got %q", got)
	}
	if got := gotForm.Get("customer_email"); got != "maria@example.com" {
		t.Errorf("expected customer_email, got %q", got)
	}
}

func TestBookingCheckout_MissingConnectedAccount(t *testing.T) {
	bc := NewBookingCheckout("sk_test_123", logging.New("error"))
	_, err := bc.CreateSession(context.Background(), BookingCheckoutParams{
		BookingID:   "booking-1",
		AmountCents: 5000,
	})
	if err == nil {
		t.Fatal("expected error for missing connected account id")
	}
}

func TestBookingCheckout_DefaultsCurrencyAndDescription(t *testing.T) {
	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		json.NewEncoder(w).Encode(map[string]any{"id": "cs_1", "url": "https://checkout.stripe.com/pay/cs_1"})
	}))
	defer srv.Close()

	bc := NewBookingCheckout("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)
	_, err := bc.CreateSession(context.Background(), BookingCheckoutParams{
		ConnectedAccountID: "acct_1",
		BookingID:           "booking-2",
		AmountCents:         2500,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := gotForm.Get("line_items[0][price_data][currency]"); got != "usd" {
		t.Errorf("expected default usd currency, got %q", got)
	}
	if got := gotForm.Get("line_items[0][price_data][product_data][name]"); got != "Appointment" {
		t.Errorf("expected default description, got %q", got)
	}
	if got := gotForm.Get("metadata[source]"); got != "chat" {
		t.Errorf("expected default source chat, got %q", got)
	}
}

func TestBookingCheckout_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "no such account"},
		})
	}))
	defer srv.Close()

	bc := NewBookingCheckout("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)
	_, err := bc.CreateSession(context.Background(), BookingCheckoutParams{
		ConnectedAccountID: "acct_missing",
		BookingID:           "booking-3",
		AmountCents:         1000,
	})
	if err == nil {
		t.Fatal("expected error from stripe api failure")
	}
}
