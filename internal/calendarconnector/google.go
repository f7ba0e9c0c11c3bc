// Package calendarconnector implements connector.CalendarConnector
// against the Google Calendar REST API, authenticated via an
// oauth2.TokenSource the caller already acquired. Business
// day math uses standard weekday-skipping helpers.
package calendarconnector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/ignite/caseyos/internal/connector"
)

const apiBase = "https://www.googleapis.com/calendar/v3"

// Google is a connector.CalendarConnector backed by Google Calendar.
type Google struct {
	httpClient *http.Client
	primaryCal string
}

// New creates a Google-backed CalendarConnector. ts supplies a valid
// access token per request; expired tokens surface as
// connector.KindAuthExpired rather than being refreshed here.
func New(ts oauth2.TokenSource, primaryCalendar string) *Google {
	return &Google{
		httpClient: oauth2.NewClient(context.Background(), ts),
		primaryCal: primaryCalendar,
	}
}

type freeBusyRequest struct {
	TimeMin string              `json:"timeMin"`
	TimeMax string              `json:"timeMax"`
	Items   []map[string]string `json:"items"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

// FreeBusy returns busy intervals across the given calendars.
func (g *Google) FreeBusy(ctx context.Context, start, end time.Time, calendars []string) ([]connector.BusyInterval, error) {
	if len(calendars) == 0 {
		calendars = []string{g.primaryCal}
	}
	items := make([]map[string]string, len(calendars))
	for i, c := range calendars {
		items[i] = map[string]string{"id": c}
	}
	body, _ := json.Marshal(freeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   items,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/freeBusy", bytes.NewReader(body))
	if err != nil {
		return nil, &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "google_calendar", Op: "freebusy", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &connector.ConnectorError{Kind: connector.KindTransient, Provider: "google_calendar", Op: "freebusy", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &connector.ConnectorError{Kind: connector.KindAuthExpired, Provider: "google_calendar", Op: "freebusy"}
	}
	if resp.StatusCode >= 500 {
		return nil, &connector.ConnectorError{Kind: connector.KindTransient, Provider: "google_calendar", Op: "freebusy", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "google_calendar", Op: "freebusy", Err: fmt.Errorf("status %d: %s", resp.StatusCode, b)}
	}

	var out freeBusyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "google_calendar", Op: "freebusy", Err: err}
	}

	var busy []connector.BusyInterval
	for _, cal := range out.Calendars {
		for _, b := range cal.Busy {
			s, err1 := time.Parse(time.RFC3339, b.Start)
			e, err2 := time.Parse(time.RFC3339, b.End)
			if err1 != nil || err2 != nil {
				continue
			}
			busy = append(busy, connector.BusyInterval{Start: s, End: e})
		}
	}
	return busy, nil
}

// ProposeSlots finds `count` free slots of the given duration, 1-3
// business days ahead, within businessHours local to tz, skipping
// weekends.
func (g *Google) ProposeSlots(ctx context.Context, duration time.Duration, count int, businessHours connector.BusinessHours, tz string) ([]connector.Slot, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}

	now := time.Now().In(loc)
	firstDay := addBusinessDays(now, 1)
	windowStart := time.Date(firstDay.Year(), firstDay.Month(), firstDay.Day(), 0, 0, 0, 0, loc)
	windowEnd := addBusinessDays(now, 3).Add(24 * time.Hour)

	busy, err := g.FreeBusy(ctx, windowStart, windowEnd, nil)
	if err != nil {
		return nil, err
	}

	var slots []connector.Slot
	for d := 0; d < 3 && len(slots) < count; d++ {
		day := addBusinessDays(now, 1+d)
		if day.After(windowEnd) {
			break
		}
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		for hour := businessHours.StartHour; hour < businessHours.EndHour && len(slots) < count; hour++ {
			start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
			end := start.Add(duration)
			if overlapsAny(start, end, busy) {
				continue
			}
			slots = append(slots, connector.Slot{Start: start, End: end})
		}
	}
	return slots, nil
}

// CreateEvent books a calendar event with the proposed attendees.
func (g *Google) CreateEvent(ctx context.Context, title string, start, end time.Time, attendees []string) (string, error) {
	attendeeList := make([]map[string]string, len(attendees))
	for i, a := range attendees {
		attendeeList[i] = map[string]string{"email": a}
	}
	body, _ := json.Marshal(map[string]interface{}{
		"summary":   title,
		"start":     map[string]string{"dateTime": start.UTC().Format(time.RFC3339)},
		"end":       map[string]string{"dateTime": end.UTC().Format(time.RFC3339)},
		"attendees": attendeeList,
	})

	url := fmt.Sprintf("%s/calendars/%s/events", apiBase, g.primaryCal)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "google_calendar", Op: "create_event", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &connector.ConnectorError{Kind: connector.KindTransient, Provider: "google_calendar", Op: "create_event", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return "", &connector.ConnectorError{Kind: connector.KindAuthExpired, Provider: "google_calendar", Op: "create_event"}
	}
	if resp.StatusCode >= 400 {
		return "", &connector.ConnectorError{Kind: connector.KindTransient, Provider: "google_calendar", Op: "create_event", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &connector.ConnectorError{Kind: connector.KindPermanent, Provider: "google_calendar", Op: "create_event", Err: err}
	}
	return out.ID, nil
}

func addBusinessDays(t time.Time, n int) time.Time {
	d := t
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			n--
		}
	}
	return d
}

func overlapsAny(start, end time.Time, busy []connector.BusyInterval) bool {
	for _, b := range busy {
		if start.Before(b.End) && end.After(b.Start) {
			return true
		}
	}
	return false
}
