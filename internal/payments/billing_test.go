package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

func TestBilling_EnsurePrice_ReturnsExisting(t *testing.T) {
	b := NewBilling("sk_test_123", logging.New("error"))
	priceID, err := b.EnsurePrice(context.Background(), "price_existing", "Pro", 9900, "usd", "month")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if priceID != "price_existing" {
		t.Fatalf("expected existing price id returned unchanged, got %q", priceID)
	}
}

func TestBilling_EnsurePrice_CreatesWhenMissing(t *testing.T) {
	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/prices" {
			t.Errorf("expected /v1/prices, got %s", r.URL.Path)
		}
		r.ParseForm()
		gotForm = r.PostForm
		json.NewEncoder(w).Encode(map[string]string{"id": "price_new123"})
	}))
	defer srv.Close()

	b := NewBilling("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)
	priceID, err := b.EnsurePrice(context.Background(), "", "Pro Annual", 99900, "usd", "year")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if priceID != "price_new123" {
		t.Fatalf("expected created price id, got %q", priceID)
	}
	if got := gotForm.Get("recurring[interval]"); got != "year" {
		t.Errorf("expected interval year, got %q", got)
	}
	if got := gotForm.Get("unit_amount"); got != "99900" {
		t.Errorf("expected unit_amount 99900, got %q", got)
	}
}

func TestBilling_CreateSubscriptionCheckout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("mode") != "subscription" {
			t.Errorf("expected subscription mode")
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_sub_1",
			"url": "https://checkout.stripe.com/pay/cs_sub_1",
		})
	}))
	defer srv.Close()

	b := NewBilling("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)
	session, err := b.CreateSubscriptionCheckout(context.Background(), SubscriptionCheckoutParams{
		TenantID:   "tenant-1",
		CustomerID: "cus_1",
		PriceID:    "price_1",
		SuccessURL: "https://s.example.com",
		CancelURL:  "https://c.example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.HostedURL != "https://checkout.stripe.com/pay/cs_sub_1" {
		t.Fatalf("unexpected hosted url: %s", session.HostedURL)
	}
}

func TestBilling_AssignSubscription_FinalizesInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/subscriptions":
			r.ParseForm()
			if r.PostForm.Get("collection_method") != "send_invoice" {
				t.Errorf("expected send_invoice collection method")
			}
			if r.PostForm.Get("days_until_due") != "1" {
				t.Errorf("expected days_until_due=1")
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "sub_1", "latest_invoice": "in_1"})
		case r.URL.Path == "/v1/invoices/in_1/finalize":
			json.NewEncoder(w).Encode(map[string]string{
				"id":                 "in_1",
				"hosted_invoice_url": "https://invoice.stripe.com/i/in_1",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	b := NewBilling("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)
	subID, invoiceID, hostedURL, err := b.AssignSubscription(context.Background(), "cus_1", "price_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subID != "sub_1" || invoiceID != "in_1" {
		t.Fatalf("unexpected ids: sub=%s invoice=%s", subID, invoiceID)
	}
	if hostedURL != "https://invoice.stripe.com/i/in_1" {
		t.Fatalf("unexpected hosted invoice url: %s", hostedURL)
	}
}

func TestBilling_CreatePortalSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://billing.stripe.com/p/session_1"})
	}))
	defer srv.Close()

	b := NewBilling("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)
	url, err := b.CreatePortalSession(context.Background(), "cus_1", "https://return.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://billing.stripe.com/p/session_1" {
		t.Fatalf("unexpected portal url: %s", url)
	}
}
