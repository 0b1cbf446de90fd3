// Package crmauth implements the CRM OAuth token store and refresher (C3):
// exchange, atomic rotation on refresh, and the read path the CRM adapter
// uses before every outbound call.
package crmauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vitalishealth/bookingai/internal/apperrors"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// db is the minimal pgx surface Service needs, so tests can inject pgxmock
// in place of a real *pgxpool.Pool.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Credentials is the persisted OAuth token set for one tenant's CRM
// connection.
type Credentials struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	LocationID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the access token needs a refresh before use,
// with a one-minute safety margin.
func (c *Credentials) Expired() bool {
	return c == nil || time.Now().After(c.ExpiresAt.Add(-time.Minute))
}

// Config holds the CRM OAuth client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	APIBaseURL   string // token endpoint host, e.g. https://services.leadconnectorhq.com
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	LocationID   string `json:"locationId"`
}

// Service manages the OAuth exchange, refresh and storage for CRM
// credentials, grounded on the teacher's internal/payments.SquareOAuthService
// generalized to the CRM's /oauth/token contract, with rotation semantics
// from the GoHighLevel client: replace the refresh token only when the
// token response includes a new one.
type Service struct {
	config Config
	db     db
	logger *logging.Logger
}

// New builds a Service.
func New(config Config, db db, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{config: config, db: db, logger: logger}
}

// AuthorizationURL builds the URL the account owner is redirected to,
// embedding state for CSRF protection and account correlation on callback.
func (s *Service) AuthorizationURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {s.config.ClientID},
		"redirect_uri":  {s.config.RedirectURI},
		"scope":         {"calendars.readonly calendars.write calendars/events.readonly calendars/events.write contacts.readonly contacts.write"},
		"state":         {state},
	}
	return fmt.Sprintf("%s/oauth/chooselocation?%s", s.config.APIBaseURL, params.Encode())
}

// ExchangeCode exchanges an authorization code for the first token set.
func (s *Service) ExchangeCode(ctx context.Context, accountID, code string) (*Credentials, error) {
	form := url.Values{
		"client_id":     {s.config.ClientID},
		"client_secret": {s.config.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {s.config.RedirectURI},
	}
	tr, err := s.postToken(ctx, form)
	if err != nil {
		return nil, err
	}
	creds := &Credentials{
		AccountID:    accountID,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		LocationID:   tr.LocationID,
	}
	if err := s.Save(ctx, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// Refresh exchanges the stored refresh token for a new access token. It
// rotates the refresh token only when the response includes a new one,
// otherwise the access token alone is updated — matching the CRM's actual
// rotation behavior rather than assuming every refresh issues a new one.
func (s *Service) Refresh(ctx context.Context, accountID string) (*Credentials, error) {
	current, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if current.RefreshToken == "" {
		return nil, apperrors.Token("no refresh token available", accountID)
	}

	form := url.Values{
		"client_id":     {s.config.ClientID},
		"client_secret": {s.config.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
	}
	tr, err := s.postToken(ctx, form)
	if err != nil {
		return nil, err
	}

	current.AccessToken = tr.AccessToken
	current.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	if tr.RefreshToken != "" {
		current.RefreshToken = tr.RefreshToken
		s.logger.Info("crmauth: refresh token rotated", "account_id", accountID)
		if err := s.Save(ctx, current); err != nil {
			return nil, err
		}
	} else {
		if err := s.updateAccessToken(ctx, accountID, current.AccessToken, current.ExpiresAt); err != nil {
			return nil, err
		}
	}
	return current, nil
}

// EnsureValid returns a usable access token, refreshing first if expired.
func (s *Service) EnsureValid(ctx context.Context, accountID string) (*Credentials, error) {
	creds, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !creds.Expired() {
		return creds, nil
	}
	return s.Refresh(ctx, accountID)
}

func (s *Service) postToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	tokenURL := fmt.Sprintf("%s/oauth/token", s.config.APIBaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("crmauth: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, apperrors.ExternalService("crm", "token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("crmauth: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("crmauth: token endpoint error", "status", resp.StatusCode, "body", string(body))
		return nil, apperrors.ExternalService("crm", fmt.Sprintf("token exchange failed: status %d", resp.StatusCode), nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("crmauth: parse token response: %w", err)
	}
	if tr.ExpiresIn == 0 {
		tr.ExpiresIn = 3600
	}
	return &tr, nil
}

// Save upserts the full credential row, used on initial exchange and on
// refresh-token rotation.
func (s *Service) Save(ctx context.Context, creds *Credentials) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO crm_oauth_credentials (
			account_id, access_token, refresh_token, expires_at, location_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			location_id = COALESCE(EXCLUDED.location_id, crm_oauth_credentials.location_id),
			updated_at = NOW()`,
		creds.AccountID, creds.AccessToken, creds.RefreshToken, creds.ExpiresAt, creds.LocationID,
	)
	if err != nil {
		return fmt.Errorf("crmauth: save credentials: %w", err)
	}
	return nil
}

func (s *Service) updateAccessToken(ctx context.Context, accountID, accessToken string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE crm_oauth_credentials SET access_token = $2, expires_at = $3, updated_at = NOW()
		WHERE account_id = $1`,
		accountID, accessToken, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("crmauth: update access token: %w", err)
	}
	return nil
}

// Get loads the stored credentials for an account.
func (s *Service) Get(ctx context.Context, accountID string) (*Credentials, error) {
	var c Credentials
	c.AccountID = accountID
	err := s.db.QueryRow(ctx, `
		SELECT access_token, refresh_token, expires_at, COALESCE(location_id, ''), created_at, updated_at
		FROM crm_oauth_credentials WHERE account_id = $1`,
		accountID,
	).Scan(&c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.LocationID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, apperrors.Token(fmt.Sprintf("no crm credentials for account: %v", err), accountID)
	}
	return &c, nil
}

// ErrNoRefreshToken names the condition of stored credentials with no
// refresh token to exchange. Refresh does not return it: it reports that
// case as an apperrors token error (KindToken), which callers such as the
// slot resolver classify as an auth failure.
var ErrNoRefreshToken = errors.New("crmauth: no refresh token available")
