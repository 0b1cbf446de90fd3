package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

func TestConnect_CreateConnectedAccount(t *testing.T) {
	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts" {
			t.Errorf("expected /v1/accounts, got %s", r.URL.Path)
		}
		r.ParseForm()
		gotForm = r.PostForm
		json.NewEncoder(w).Encode(map[string]any{"id": "acct_new1", "email": "clinic@example.com"})
	}))
	defer srv.Close()

	c := NewConnect("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)
	id, err := c.CreateConnectedAccount(context.Background(), "clinic@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "acct_new1" {
		t.Fatalf("unexpected account id: %s", id)
	}
	if got := gotForm.Get("type"); got != "express" {
		t.Errorf("expected express account type, got %q", got)
	}
	if got := gotForm.Get("email"); got != "clinic@example.com" {
		t.Errorf("expected email passed through, got %q", got)
	}
}

func TestConnect_OnboardingLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/account_links" {
			t.Errorf("expected /v1/account_links, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"url": "https://connect.stripe.com/setup/s/abc"})
	}))
	defer srv.Close()

	c := NewConnect("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)
	url, err := c.OnboardingLink(context.Background(), "acct_1", "https://refresh.example.com", "https://return.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://connect.stripe.com/setup/s/abc" {
		t.Fatalf("unexpected onboarding url: %s", url)
	}
}

func TestConnect_AccountStatus_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/acct_1" {
			t.Errorf("expected /v1/accounts/acct_1, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":                "acct_1",
			"email":             "clinic@example.com",
			"charges_enabled":   true,
			"payouts_enabled":   true,
			"details_submitted": true,
		})
	}))
	defer srv.Close()

	c := NewConnect("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)
	status, err := c.AccountStatus(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Complete() {
		t.Fatal("expected onboarding complete when charges_enabled and details_submitted")
	}
}

func TestConnect_AccountStatus_Incomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":                "acct_2",
			"charges_enabled":   false,
			"details_submitted": true,
		})
	}))
	defer srv.Close()

	c := NewConnect("sk_test_123", logging.New("error")).WithBaseURL(srv.URL)
	status, err := c.AccountStatus(context.Background(), "acct_2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Complete() {
		t.Fatal("expected onboarding incomplete without charges_enabled")
	}
}
