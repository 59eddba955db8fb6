// Package ics converts between the store's events and iCalendar payloads so
// the calendar can interchange with other clients. Recurrence rules are not
// interpreted: recurring VEVENTs import as their first occurrence only.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"datebook/internal/event"
)

const productID = "-//datebook//calendar 1.0//EN"

// Export serializes events as a VCALENDAR document.
func Export(events []*event.Event) (string, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, e := range events {
		day, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			return "", fmt.Errorf("event %s has unparsable date %q: %w", e.ID, e.Date, err)
		}
		ve := cal.AddEvent(e.ID)
		ve.SetDtStampTime(time.Now().UTC())
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if e.Category != "" {
			ve.SetProperty(ical.ComponentPropertyCategories, e.Category)
		}

		if e.StartTime == "" {
			ve.SetAllDayStartAt(day)
			ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
			continue
		}
		start, err := atTime(day, e.StartTime)
		if err != nil {
			return "", fmt.Errorf("event %s: %w", e.ID, err)
		}
		ve.SetStartAt(start)
		if e.EndTime != "" {
			end, err := atTime(day, e.EndTime)
			if err != nil {
				return "", fmt.Errorf("event %s: %w", e.ID, err)
			}
			ve.SetEndAt(end)
		}
	}
	return cal.Serialize(), nil
}

// Import parses an ICS payload into raw event values ready for the store's
// create path. A VEVENT without a usable DTSTART is kept as a partial record
// rather than dropped, so the store's best-effort import rejects it at its
// 1-based position in the file.
func Import(body []byte) ([]event.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ICS: %w", err)
	}

	var out []event.Event
	for _, ve := range cal.Events() {
		e, err := fromVEvent(ve)
		if err != nil {
			slog.Warn("VEVENT missing usable DTSTART", "err", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func fromVEvent(ve *ical.VEvent) (event.Event, error) {
	var e event.Event

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		e.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		e.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil && event.ValidCategory(p.Value) {
		e.Category = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return e, fmt.Errorf("VEVENT without usable DTSTART: %w", err)
	}
	e.Date = start.Format("2006-01-02")

	if !allDay(ve) {
		e.StartTime = start.Format("15:04")
		if end, err := ve.GetEndAt(); err == nil && end.After(start) && end.Format("2006-01-02") == e.Date {
			e.EndTime = end.Format("15:04")
		}
	}
	return e, nil
}

// allDay detects DATE-valued DTSTART, either via VALUE=DATE or a value
// without a time component.
func allDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && vs[0] == "DATE" {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}

func atTime(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparsable time %q: %w", hhmm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}
