package model

import (
	"strings"
	"time"
)

// DateTimeLayout is the single lexical date-time format accepted in source
// documents ("YYYY-MM-DD HH:MM:SS"). No offset field is supported; values are
// interpreted in the configured display location.
const DateTimeLayout = "2006-01-02 15:04:05"

// Event is a time-bounded interval belonging to one resource.
//
// Start <= End is expected but not enforced; a reversed pair renders with a
// negative width rather than failing.
type Event struct {
	Start time.Time
	End   time.Time
	Color string
}

// Resource is a named row owning a set of events. Its identity is its
// position in the collection.
type Resource struct {
	Name   string
	Events []Event
}

// Domain is the time interval covered by the axis.
type Domain struct {
	Start time.Time
	End   time.Time
}

// Degenerate reports whether the domain spans a single instant.
func (d Domain) Degenerate() bool {
	return !d.End.After(d.Start) && !d.End.Before(d.Start)
}

// DomainHint carries explicit bounds from an envelope document. Either bound
// may be absent.
type DomainHint struct {
	Start *time.Time
	End   *time.Time
}

// Collection is the outcome of a single data load.
type Collection struct {
	Resources []Resource
	Hint      DomainHint
}

// EventCount returns the number of events across all resources.
func (c Collection) EventCount() int {
	n := 0
	for _, r := range c.Resources {
		n += len(r.Events)
	}
	return n
}

// Domain resolves the axis domain for this collection. Explicit hint bounds
// take precedence; missing bounds are derived from the earliest start and the
// latest end over all events. ok is false when a bound can be neither read
// from the hint nor derived from data.
func (c Collection) Domain() (Domain, bool) {
	var (
		d                  Domain
		haveStart, haveEnd bool
	)

	if c.Hint.Start != nil {
		d.Start = *c.Hint.Start
		haveStart = true
	}
	if c.Hint.End != nil {
		d.End = *c.Hint.End
		haveEnd = true
	}

	if !haveStart || !haveEnd {
		var minStart, maxEnd time.Time
		found := false
		for _, r := range c.Resources {
			for _, ev := range r.Events {
				if !found {
					minStart, maxEnd = ev.Start, ev.End
					found = true
					continue
				}
				if ev.Start.Before(minStart) {
					minStart = ev.Start
				}
				if ev.End.After(maxEnd) {
					maxEnd = ev.End
				}
			}
		}
		if found {
			if !haveStart {
				d.Start = minStart
				haveStart = true
			}
			if !haveEnd {
				d.End = maxEnd
				haveEnd = true
			}
		}
	}

	return d, haveStart && haveEnd
}

// ParseDateTime parses a DateTimeLayout value in loc (time.Local if nil).
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateTimeLayout, strings.TrimSpace(s), loc)
}

// FormatDateTime is the inverse of ParseDateTime.
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}
