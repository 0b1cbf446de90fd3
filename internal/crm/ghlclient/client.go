// Package ghlclient implements internal/crm.Client against the calendar/CRM
// REST API, grounded on original_source/app/integrations/ghl/client.py.
package ghlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vitalishealth/bookingai/internal/apperrors"
	"github.com/vitalishealth/bookingai/internal/crm"
	"github.com/vitalishealth/bookingai/internal/crmauth"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

var crmTracer = otel.Tracer("bookingai.internal.crm.ghlclient")

// TokenProvider supplies a valid bearer token for an account, refreshing it
// if needed. internal/crmauth.Service satisfies this.
type TokenProvider interface {
	EnsureValid(ctx context.Context, accountID string) (*crmauth.Credentials, error)
}

// Client implements internal/crm.Client against the CRM's REST API.
type Client struct {
	baseURL string
	tokens  TokenProvider
	http    *http.Client
	logger  *logging.Logger
}

// New builds a Client.
func New(baseURL string, tokens TokenProvider, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), tokens: tokens, http: http.DefaultClient, logger: logger}
}

var _ crm.Client = (*Client)(nil)

func (c *Client) headers(ctx context.Context, accountID string) (http.Header, error) {
	creds, err := c.tokens.EnsureValid(ctx, accountID)
	if err != nil {
		return nil, apperrors.Token("crm credentials unavailable", accountID)
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+creds.AccessToken)
	h.Set("Content-Type", "application/json")
	h.Set("Version", "2021-07-28")
	return h, nil
}

func (c *Client) do(ctx context.Context, accountID, method, path string, query map[string]string, body any, out any) (*http.Response, []byte, error) {
	ctx, span := crmTracer.Start(ctx, "crm.ghlclient."+method+" "+path)
	defer span.End()
	span.SetAttributes(
		attribute.String("medspa.account_id", accountID),
		attribute.String("http.method", method),
		attribute.String("url.path", path),
	)

	headers, err := c.headers(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("crm: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crm: build request: %w", err)
	}
	req.Header = headers
	if query != nil {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		err := apperrors.ExternalService("crm", "request failed", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, nil, fmt.Errorf("crm: read response: %w", err)
	}

	if out != nil && len(respBody) > 0 && resp.StatusCode < 300 {
		if err := json.Unmarshal(respBody, out); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return resp, respBody, fmt.Errorf("crm: decode response: %w", err)
		}
	}
	return resp, respBody, nil
}

// FindOrCreateContact searches by phone first, then creates. A 400 response
// naming a duplicate contact is treated as success: the contact id is
// recovered from the error body rather than surfaced as a failure, matching
// the CRM's documented duplicate-contact behavior.
func (c *Client) FindOrCreateContact(ctx context.Context, accountID string, req crm.ContactRequest) (*Contact, error) {
	if existing, err := c.searchContactByPhone(ctx, accountID, req.Phone); err != nil {
		return nil, err
	} else if existing != nil {
		return toCRMContact(existing), nil
	}

	payload := map[string]any{"name": req.Name, "phone": req.Phone, "source": "chat"}
	if req.Email != "" {
		payload["email"] = req.Email
	}
	if req.Reason != "" {
		payload["customFields"] = []map[string]string{{"key": "reason_of_appointment", "value": req.Reason}}
	}

	var out struct {
		Contact ghlContact `json:"contact"`
	}
	resp, body, err := c.do(ctx, accountID, http.MethodPost, "/contacts/", nil, payload, &out)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusBadRequest {
		if id := duplicateContactID(body); id != "" {
			c.logger.Info("crm: recovered contact id from duplicate error", "contact_id", id)
			return &crm.Contact{ID: id, Name: req.Name, Phone: req.Phone, Email: req.Email}, nil
		}
	}
	if resp.StatusCode >= 300 {
		return nil, apperrors.ExternalService("crm", fmt.Sprintf("contact creation failed: status %d", resp.StatusCode), nil)
	}

	return toCRMContact(&out.Contact), nil
}

func (c *Client) searchContactByPhone(ctx context.Context, accountID, phone string) (*ghlContact, error) {
	var out struct {
		Contacts []ghlContact `json:"contacts"`
	}
	resp, _, err := c.do(ctx, accountID, http.MethodGet, "/contacts/", map[string]string{"query": phone}, nil, &out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apperrors.ExternalService("crm", fmt.Sprintf("contact search failed: status %d", resp.StatusCode), nil)
	}
	for _, ct := range out.Contacts {
		if ct.Phone == phone {
			return &ct, nil
		}
	}
	return nil, nil
}

func duplicateContactID(body []byte) string {
	var errResp struct {
		Message string `json:"message"`
		Meta    struct {
			ContactID string `json:"contactId"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ""
	}
	if strings.Contains(errResp.Message, "duplicated contacts") {
		return errResp.Meta.ContactID
	}
	return ""
}

// GetContact fetches a contact by id.
func (c *Client) GetContact(ctx context.Context, accountID, contactID string) (*Contact, error) {
	var out struct {
		Contact ghlContact `json:"contact"`
	}
	resp, _, err := c.do(ctx, accountID, http.MethodGet, "/contacts/"+contactID, nil, nil, &out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NotFound("contact", contactID)
	}
	if resp.StatusCode >= 300 {
		return nil, apperrors.ExternalService("crm", fmt.Sprintf("get contact failed: status %d", resp.StatusCode), nil)
	}
	return toCRMContact(&out.Contact), nil
}

// FreeSlots fetches available appointment start times. The CRM's response
// groups slots by date; each entry may be a bare "HH:MM" or a full ISO
// datetime. Any third, undocumented shape is skipped rather than guessed at,
// per the documented resolution of that ambiguity.
func (c *Client) FreeSlots(ctx context.Context, accountID string, req crm.FreeSlotsRequest) ([]crm.FreeSlot, error) {
	tz := req.Timezone
	if tz == "" {
		tz = "America/Mexico_City"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}

	query := map[string]string{
		"startDate":      strconv.FormatInt(req.StartDate.UnixMilli(), 10),
		"endDate":        strconv.FormatInt(req.EndDate.UnixMilli(), 10),
		"timezone":       tz,
		"enableLookBusy": "false",
	}
	if req.UserID != "" {
		query["userId"] = req.UserID
	}

	var raw map[string]json.RawMessage
	resp, _, err := c.do(ctx, accountID, http.MethodGet, "/calendars/"+req.CalendarID+"/free-slots", query, nil, &raw)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apperrors.ExternalService("crm", fmt.Sprintf("free slots failed: status %d", resp.StatusCode), nil)
	}

	var out []crm.FreeSlot
	for dateKey, rawDate := range raw {
		var day struct {
			Slots []string `json:"slots"`
		}
		if err := json.Unmarshal(rawDate, &day); err != nil {
			c.logger.Warn("crm: skipping undocumented free-slot date shape", "date", dateKey)
			continue
		}
		for _, slot := range day.Slots {
			parsed, timeOfDay, ok := parseSlot(dateKey, slot, loc)
			if !ok {
				c.logger.Warn("crm: skipping unparseable slot", "date", dateKey, "raw", slot)
				continue
			}
			out = append(out, crm.FreeSlot{Date: dateKey, Time: timeOfDay, At: parsed})
		}
	}
	return out, nil
}

// parseSlot normalizes the two documented free-slot shapes: a full
// datetime ("2026-03-05T09:00:00-06:00" or similar) or a bare time
// ("09:00") to be combined with its date key.
func parseSlot(dateKey, raw string, loc *time.Location) (time.Time, string, bool) {
	if strings.Contains(raw, "T") {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, t.In(loc).Format("15:04"), true
		}
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, loc); err == nil {
			return t, t.Format("15:04"), true
		}
		return time.Time{}, "", false
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", dateKey+" "+raw, loc)
	if err != nil {
		return time.Time{}, "", false
	}
	return t, raw, true
}

// CreateAppointment books an appointment, respecting calendar availability
// (ignoreFreeSlotValidation is never set, matching the original client).
func (c *Client) CreateAppointment(ctx context.Context, accountID string, req crm.AppointmentRequest) (*Appointment, error) {
	payload := map[string]any{
		"calendarId":              req.CalendarID,
		"contactId":               req.ContactID,
		"startTime":               req.StartTime.Format(time.RFC3339),
		"endTime":                 req.EndTime.Format(time.RFC3339),
		"appointmentStatus":       "confirmed",
		"ignoreFreeSlotValidation": false,
	}
	if req.UserID != "" {
		payload["assignedUserId"] = req.UserID
	}
	if req.Title != "" {
		payload["title"] = req.Title
	}

	var out ghlAppointment
	resp, _, err := c.do(ctx, accountID, http.MethodPost, "/calendars/events/appointments", nil, payload, &out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apperrors.ExternalService("crm", fmt.Sprintf("appointment creation failed: status %d", resp.StatusCode), nil)
	}
	return toCRMAppointment(&out), nil
}

// GetAppointment fetches an appointment by id.
func (c *Client) GetAppointment(ctx context.Context, accountID, appointmentID string) (*Appointment, error) {
	var out ghlAppointment
	resp, _, err := c.do(ctx, accountID, http.MethodGet, "/calendars/events/appointments/"+appointmentID, nil, nil, &out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NotFound("appointment", appointmentID)
	}
	if resp.StatusCode >= 300 {
		return nil, apperrors.ExternalService("crm", fmt.Sprintf("get appointment failed: status %d", resp.StatusCode), nil)
	}
	return toCRMAppointment(&out), nil
}

// UpdateAppointment reschedules or edits an appointment's status.
func (c *Client) UpdateAppointment(ctx context.Context, accountID string, req crm.AppointmentUpdate) (*Appointment, error) {
	payload := map[string]any{}
	if !req.StartTime.IsZero() {
		payload["startTime"] = req.StartTime.Format(time.RFC3339)
	}
	if !req.EndTime.IsZero() {
		payload["endTime"] = req.EndTime.Format(time.RFC3339)
	}
	if req.Status != "" {
		payload["appointmentStatus"] = req.Status
	}

	var out ghlAppointment
	resp, _, err := c.do(ctx, accountID, http.MethodPut, "/calendars/events/appointments/"+req.AppointmentID, nil, payload, &out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apperrors.ExternalService("crm", fmt.Sprintf("appointment update failed: status %d", resp.StatusCode), nil)
	}
	return toCRMAppointment(&out), nil
}

// CancelAppointment marks an appointment cancelled.
func (c *Client) CancelAppointment(ctx context.Context, accountID, appointmentID string) error {
	_, err := c.UpdateAppointment(ctx, accountID, crm.AppointmentUpdate{AppointmentID: appointmentID, Status: "cancelled"})
	return err
}

type ghlContact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type ghlAppointment struct {
	ID         string `json:"id"`
	CalendarID string `json:"calendarId"`
	ContactID  string `json:"contactId"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
	Status     string `json:"appointmentStatus"`
}

// Contact and Appointment alias the crm package's types so the rest of this
// file reads without a package-qualified name on every line.
type Contact = crm.Contact
type Appointment = crm.Appointment

func toCRMContact(c *ghlContact) *Contact {
	return &Contact{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email}
}

func toCRMAppointment(a *ghlAppointment) *Appointment {
	start, _ := time.Parse(time.RFC3339, a.StartTime)
	end, _ := time.Parse(time.RFC3339, a.EndTime)
	return &Appointment{ID: a.ID, CalendarID: a.CalendarID, ContactID: a.ContactID, StartTime: start, EndTime: end, Status: a.Status}
}
