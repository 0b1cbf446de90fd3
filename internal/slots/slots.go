// Package slots implements the slot resolver (C9): given a tenant's
// calendar and a requested appointment time, it asks the CRM for free
// slots and classifies the result into one of a small set of outcomes the
// conversation engine can turn into a reply. Grounded on
// original_source/app/services/appointment_service.py's
// check_slot_availability / _find_alternative_slots /
// _format_slots_as_alternatives / _format_datetime_spanish.
package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalishealth/bookingai/internal/apperrors"
	"github.com/vitalishealth/bookingai/internal/crm"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Outcome classifies an availability check.
type Outcome string

const (
	// OutcomeExact means the exact requested time is bookable.
	OutcomeExact Outcome = "exact"
	// OutcomeSameDate means the exact time is taken but other times on the
	// same date are free.
	OutcomeSameDate Outcome = "same_date"
	// OutcomeOtherDate means nothing is free on the requested date, but
	// alternatives exist within the search window.
	OutcomeOtherDate Outcome = "other_date"
	// OutcomeNone means no slots were found anywhere in the search window.
	OutcomeNone Outcome = "none"
	// OutcomeAuthFailed means the CRM credentials could not be refreshed —
	// distinct from "no slots" because the right reply is an operator
	// escalation message, not an alternatives list.
	OutcomeAuthFailed Outcome = "auth_failed"
)

// Alternative is one bookable time, formatted for display.
type Alternative struct {
	At          time.Time
	Date        string // YYYY-MM-DD
	Time        string // HH:MM
	DisplayDate string // Spanish long-form date
	DisplayTime string // 12-hour local time
}

// Result is the outcome of a single availability check.
type Result struct {
	Outcome      Outcome
	Requested    time.Time
	Alternatives []Alternative
	CalendarID   string
}

const alternativesLimit = 5
const alternativeSearchWindow = 7 * 24 * time.Hour

// Resolver checks CRM availability and classifies the result.
type Resolver struct {
	crm      crm.Client
	timezone string
	logger   *logging.Logger
}

// New builds a Resolver. timezone is the IANA zone every display string and
// same-date comparison is computed in.
func New(crmClient crm.Client, timezone string, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	if timezone == "" {
		timezone = "America/Mexico_City"
	}
	return &Resolver{crm: crmClient, timezone: timezone, logger: logger}
}

func (r *Resolver) location() *time.Location {
	loc, err := time.LoadLocation(r.timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Resolve checks whether requested is bookable on accountID's calendar, and
// if not, searches the next 7 days for alternatives.
func (r *Resolver) Resolve(ctx context.Context, accountID, calendarID, userID string, requested time.Time) (*Result, error) {
	loc := r.location()
	local := requested.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	daySlots, err := r.crm.FreeSlots(ctx, accountID, crm.FreeSlotsRequest{
		CalendarID: calendarID, UserID: userID,
		StartDate: dayStart, EndDate: dayStart.Add(24 * time.Hour), Timezone: r.timezone,
	})
	if err != nil {
		if authErr, ok := apperrors.As(err); ok && authErr.Kind == apperrors.KindToken {
			return &Result{Outcome: OutcomeAuthFailed, Requested: requested, CalendarID: calendarID}, nil
		}
		return r.fallbackToAlternatives(ctx, accountID, calendarID, userID, requested, err)
	}

	if len(daySlots) == 0 {
		return r.fallbackToAlternatives(ctx, accountID, calendarID, userID, requested, nil)
	}

	requestedDateStr := local.Format("2006-01-02")
	var sameDate []Alternative
	for _, s := range daySlots {
		if s.At.In(loc).Format("2006-01-02") == requestedDateStr {
			sameDate = append(sameDate, toAlternative(s, loc))
		}
	}

	if exactMatch(daySlots, local) {
		return &Result{Outcome: OutcomeExact, Requested: requested, Alternatives: limit(toAlternatives(daySlots, loc), alternativesLimit), CalendarID: calendarID}, nil
	}
	if len(sameDate) > 0 {
		return &Result{Outcome: OutcomeSameDate, Requested: requested, Alternatives: limit(sameDate, alternativesLimit), CalendarID: calendarID}, nil
	}
	return r.fallbackToAlternatives(ctx, accountID, calendarID, userID, requested, nil)
}

func (r *Resolver) fallbackToAlternatives(ctx context.Context, accountID, calendarID, userID string, requested time.Time, causeErr error) (*Result, error) {
	if causeErr != nil {
		r.logger.Warn("slots: availability check failed, searching alternatives", "error", causeErr)
	}
	windowSlots, err := r.crm.FreeSlots(ctx, accountID, crm.FreeSlotsRequest{
		CalendarID: calendarID, UserID: userID,
		StartDate: requested, EndDate: requested.Add(alternativeSearchWindow), Timezone: r.timezone,
	})
	if err != nil {
		if authErr, ok := apperrors.As(err); ok && authErr.Kind == apperrors.KindToken {
			return &Result{Outcome: OutcomeAuthFailed, Requested: requested, CalendarID: calendarID}, nil
		}
		r.logger.Warn("slots: alternative search also failed", "error", err)
		return &Result{Outcome: OutcomeNone, Requested: requested, CalendarID: calendarID}, nil
	}

	loc := r.location()
	alts := limit(toAlternatives(windowSlots, loc), alternativesLimit)
	if len(alts) == 0 {
		return &Result{Outcome: OutcomeNone, Requested: requested, CalendarID: calendarID}, nil
	}
	return &Result{Outcome: OutcomeOtherDate, Requested: requested, Alternatives: alts, CalendarID: calendarID}, nil
}

func exactMatch(slots []crm.FreeSlot, requested time.Time) bool {
	wantDate := requested.Format("2006-01-02")
	wantTime := requested.Format("15:04")
	for _, s := range slots {
		if s.Date == wantDate && s.Time == wantTime {
			return true
		}
	}
	return false
}

func toAlternatives(slots []crm.FreeSlot, loc *time.Location) []Alternative {
	out := make([]Alternative, 0, len(slots))
	for _, s := range slots {
		out = append(out, toAlternative(s, loc))
	}
	return out
}

func toAlternative(s crm.FreeSlot, loc *time.Location) Alternative {
	local := s.At.In(loc)
	return Alternative{
		At: s.At, Date: s.Date, Time: s.Time,
		DisplayDate: formatSpanishDate(local),
		DisplayTime: local.Format("3:04 PM"),
	}
}

func limit(alts []Alternative, n int) []Alternative {
	if len(alts) <= n {
		return alts
	}
	return alts[:n]
}

var spanishMonths = map[time.Month]string{
	time.January: "enero", time.February: "febrero", time.March: "marzo",
	time.April: "abril", time.May: "mayo", time.June: "junio",
	time.July: "julio", time.August: "agosto", time.September: "septiembre",
	time.October: "octubre", time.November: "noviembre", time.December: "diciembre",
}

// formatSpanishDate renders "5 de marzo de 2026", matching the original's
// display format exactly.
func formatSpanishDate(t time.Time) string {
	return fmt.Sprintf("%d de %s de %d", t.Day(), spanishMonths[t.Month()], t.Year())
}
