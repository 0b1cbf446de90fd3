package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vitalishealth/bookingai/internal/apperrors"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// stripeClient is the shared low-level HTTP wrapper every Stripe-facing
// service in this package embeds, grounded on stripe_checkout.go's
// form-encoded request style.
type stripeClient struct {
	secretKey  string
	baseURL    string
	apiVersion string
	http       *http.Client
	logger     *logging.Logger
}

func newStripeClient(secretKey string, logger *logging.Logger) *stripeClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &stripeClient{
		secretKey:  secretKey,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		http:       &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (c *stripeClient) withBaseURL(baseURL string) *stripeClient {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// postForm issues a form-encoded POST and decodes the JSON response into out.
func (c *stripeClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("payments: build request: %w", err)
	}
	c.setHeaders(req)
	return c.do(req, out)
}

// postFormOnAccount issues a form-encoded POST with a Stripe-Account header,
// so the request executes as a direct charge against the named connected
// account rather than the platform account.
func (c *stripeClient) postFormOnAccount(ctx context.Context, path string, form url.Values, connectedAccountID string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("payments: build request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Stripe-Account", connectedAccountID)
	return c.do(req, out)
}

// get issues a GET against the Stripe API and decodes the JSON response.
func (c *stripeClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("payments: build request: %w", err)
	}
	c.setHeaders(req)
	return c.do(req, out)
}

func (c *stripeClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Stripe-Version", c.apiVersion)
	if req.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
}

func (c *stripeClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.ExternalService("stripe", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("payments: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Error("payments: stripe api error", "status", resp.StatusCode, "body", string(body))
		return apperrors.ExternalService("stripe", fmt.Sprintf("api status %d: %s", resp.StatusCode, stripeErrorMessage(body)), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("payments: decode response: %w", err)
	}
	return nil
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func stripeErrorMessage(body []byte) string {
	var parsed stripeErrorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return string(body)
}
