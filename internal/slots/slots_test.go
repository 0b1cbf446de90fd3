package slots

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalishealth/bookingai/internal/apperrors"
	"github.com/vitalishealth/bookingai/internal/crm"
)

type fakeCRM struct {
	byWindow map[string][]crm.FreeSlot // keyed by "start|end"
	err      error
}

func (f *fakeCRM) FindOrCreateContact(ctx context.Context, accountID string, req crm.ContactRequest) (*crm.Contact, error) {
	return nil, nil
}
func (f *fakeCRM) GetContact(ctx context.Context, accountID, contactID string) (*crm.Contact, error) {
	return nil, nil
}
func (f *fakeCRM) FreeSlots(ctx context.Context, accountID string, req crm.FreeSlotsRequest) ([]crm.FreeSlot, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := req.StartDate.Format(time.RFC3339) + "|" + req.EndDate.Format(time.RFC3339)
	return f.byWindow[key], nil
}
func (f *fakeCRM) CreateAppointment(ctx context.Context, accountID string, req crm.AppointmentRequest) (*crm.Appointment, error) {
	return nil, nil
}
func (f *fakeCRM) GetAppointment(ctx context.Context, accountID, appointmentID string) (*crm.Appointment, error) {
	return nil, nil
}
func (f *fakeCRM) UpdateAppointment(ctx context.Context, accountID string, req crm.AppointmentUpdate) (*crm.Appointment, error) {
	return nil, nil
}
func (f *fakeCRM) CancelAppointment(ctx context.Context, accountID, appointmentID string) error {
	return nil
}

var _ crm.Client = (*fakeCRM)(nil)

func dayWindowKey(loc *time.Location, requested time.Time) string {
	local := requested.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return dayStart.Format(time.RFC3339) + "|" + dayStart.Add(24*time.Hour).Format(time.RFC3339)
}

func TestResolveExactMatch(t *testing.T) {
	loc, _ := time.LoadLocation("America/Mexico_City")
	requested := time.Date(2026, 3, 5, 9, 0, 0, 0, loc)
	slot := crm.FreeSlot{Date: "2026-03-05", Time: "09:00", At: requested}

	fake := &fakeCRM{byWindow: map[string][]crm.FreeSlot{dayWindowKey(loc, requested): {slot}}}
	r := New(fake, "America/Mexico_City", nil)

	res, err := r.Resolve(context.Background(), "acct-1", "cal-1", "", requested)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExact, res.Outcome)
	assert.Len(t, res.Alternatives, 1)
}

func TestResolveSameDateAlternative(t *testing.T) {
	loc, _ := time.LoadLocation("America/Mexico_City")
	requested := time.Date(2026, 3, 5, 9, 0, 0, 0, loc)
	other := time.Date(2026, 3, 5, 14, 0, 0, 0, loc)
	slot := crm.FreeSlot{Date: "2026-03-05", Time: "14:00", At: other}

	fake := &fakeCRM{byWindow: map[string][]crm.FreeSlot{dayWindowKey(loc, requested): {slot}}}
	r := New(fake, "America/Mexico_City", nil)

	res, err := r.Resolve(context.Background(), "acct-1", "cal-1", "", requested)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSameDate, res.Outcome)
}

func TestResolveNoSlotsAnywhereReturnsNone(t *testing.T) {
	requested := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	fake := &fakeCRM{byWindow: map[string][]crm.FreeSlot{}}
	r := New(fake, "America/Mexico_City", nil)

	res, err := r.Resolve(context.Background(), "acct-1", "cal-1", "", requested)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, res.Outcome)
}

func TestResolveAuthFailurePropagates(t *testing.T) {
	requested := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	fake := &fakeCRM{err: apperrors.Token("no refresh token", "acct-1")}
	r := New(fake, "America/Mexico_City", nil)

	res, err := r.Resolve(context.Background(), "acct-1", "cal-1", "", requested)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthFailed, res.Outcome)
}

func TestFormatSpanishDate(t *testing.T) {
	d := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "5 de marzo de 2026", formatSpanishDate(d))
}
