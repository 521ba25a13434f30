package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schedview/internal/fetch"
	appLog "schedview/internal/log"
	"schedview/internal/model"
	"schedview/internal/source"
)

// Calendar is one ICS feed, drawn as one row.
type Calendar struct {
	ID    string
	Name  string
	URL   string
	Color string
}

// palette colors rows whose calendar has no explicit color.
var palette = []string{"#2d578b", "#c0392b", "#27ae60", "#8e44ad", "#d35400", "#16a085"}

// Loader builds a resource collection from ICS feeds: each calendar becomes
// a resource and its occurrences within the window become events. The
// window itself is reported as the explicit domain.
type Loader struct {
	Calendars []Calendar
	Fetcher   *fetch.Fetcher
	Location  *time.Location

	BackfillDays int
	HorizonDays  int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Window returns the [start, end] range occurrences are expanded into.
func (l *Loader) Window() (time.Time, time.Time) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	loc := l.Location
	if loc == nil {
		loc = time.Local
	}
	t := now().In(loc)
	return t.AddDate(0, 0, -l.BackfillDays), t.AddDate(0, 0, l.HorizonDays)
}

// Load fetches, parses and expands every calendar. A calendar that fails is
// kept as an empty row; the load only fails when every calendar does.
func (l *Loader) Load(ctx context.Context) (model.Collection, error) {
	f := l.Fetcher
	if f == nil {
		f = fetch.New("")
	}
	start, end := l.Window()

	var (
		c    model.Collection
		errs []error
	)
	c.Hint = model.DomainHint{Start: &start, End: &end}
	c.Resources = make([]model.Resource, 0, len(l.Calendars))

	for i, cal := range l.Calendars {
		res := model.Resource{Name: calendarName(cal)}
		color := cal.Color
		if color == "" {
			color = palette[i%len(palette)]
		}

		occ, err := l.loadCalendar(ctx, f, cal, start, end)
		if err != nil {
			appLog.Error("ics calendar load failed", err, "calendar", cal.ID, "url", fetch.Redact(cal.URL))
			errs = append(errs, fmt.Errorf("%s: %w", calendarName(cal), err))
		}
		for _, o := range occ {
			res.Events = append(res.Events, model.Event{Start: o.Start, End: o.End, Color: color})
		}
		c.Resources = append(c.Resources, res)
	}

	if len(l.Calendars) > 0 && len(errs) == len(l.Calendars) {
		return model.Collection{}, fmt.Errorf("%w: %w", source.ErrLoad, errors.Join(errs...))
	}

	appLog.Info("ics loaded",
		"calendars", len(l.Calendars),
		"failed", len(errs),
		"events", c.EventCount(),
		"range_start", start.Format(time.RFC3339),
		"range_end", end.Format(time.RFC3339),
	)
	return c, nil
}

func (l *Loader) loadCalendar(ctx context.Context, f *fetch.Fetcher, cal Calendar, start, end time.Time) ([]Occurrence, error) {
	res, err := f.Fetch(ctx, cal.URL)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseICS(cal.ID, res.Body)
	if err != nil {
		return nil, err
	}
	exp, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: l.Location,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return nil, err
	}
	return exp.Occurrences, nil
}

func calendarName(c Calendar) string {
	switch {
	case c.Name != "":
		return c.Name
	case c.ID != "":
		return c.ID
	default:
		return fetch.Redact(c.URL)
	}
}
