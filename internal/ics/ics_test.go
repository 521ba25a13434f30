package ics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedview/internal/fetch"
	"schedview/internal/source"
)

const roomICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//schedview//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"DTSTAMP:20240401T000000Z\r\n" +
	"DTSTART:20240501T090000Z\r\n" +
	"DTEND:20240501T093000Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE:20240502T090000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:review@example.com\r\n" +
	"DTSTAMP:20240401T000000Z\r\n" +
	"DTSTART:20240502T120000Z\r\n" +
	"DTEND:20240502T130000Z\r\n" +
	"SUMMARY:Review\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTAMP:20240401T000000Z\r\n" +
	"DTSTART:20240502T120000Z\r\n" +
	"SUMMARY:No UID\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func utc(d, h, m int) time.Time {
	return time.Date(2024, 5, d, h, m, 0, 0, time.UTC)
}

func TestParseAndExpand(t *testing.T) {
	events, err := ParseICS("room", []byte(roomICS))
	require.NoError(t, err)
	require.Len(t, events, 2, "event without UID is skipped")

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(1, 0, 0),
		RangeEnd:        utc(4, 0, 0),
	})
	require.NoError(t, err)

	var starts []time.Time
	for _, o := range res.Occurrences {
		starts = append(starts, o.Start)
	}
	assert.Equal(t, []time.Time{utc(1, 9, 0), utc(2, 12, 0), utc(3, 9, 0)}, starts)
	assert.Equal(t, utc(1, 9, 30), res.Occurrences[0].End)
	assert.Empty(t, res.TruncatedEvents)
}

func TestExpandCap(t *testing.T) {
	events := []ParsedEvent{{
		UID:      "daily",
		Start:    utc(1, 9, 0),
		End:      utc(1, 10, 0),
		RawRRule: "FREQ=DAILY",
	}}
	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation:        time.UTC,
		RangeStart:             utc(1, 0, 0),
		RangeEnd:               utc(20, 0, 0),
		MaxOccurrencesPerEvent: 3,
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 3)
	assert.Equal(t, []string{"daily"}, res.TruncatedEvents)

	_, err = ExpandOccurrences(events, ExpandConfig{RangeStart: utc(2, 0, 0), RangeEnd: utc(1, 0, 0)})
	assert.Error(t, err)
}

func TestLoaderOneRowPerCalendar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "room.ics")
	require.NoError(t, os.WriteFile(path, []byte(roomICS), 0o600))

	l := &Loader{
		Calendars: []Calendar{
			{ID: "room", Name: "Room 1", URL: path, Color: "#123456"},
			{ID: "gone", URL: filepath.Join(dir, "missing.ics")},
		},
		Fetcher:     fetch.New(""),
		Location:    time.UTC,
		HorizonDays: 3,
		Now:         func() time.Time { return utc(1, 0, 0) },
	}

	c, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Resources, 2)
	assert.Equal(t, "Room 1", c.Resources[0].Name)
	assert.Len(t, c.Resources[0].Events, 3)
	assert.Equal(t, "#123456", c.Resources[0].Events[0].Color)
	assert.Equal(t, "gone", c.Resources[1].Name)
	assert.Empty(t, c.Resources[1].Events)

	d, ok := c.Domain()
	require.True(t, ok)
	assert.Equal(t, utc(1, 0, 0), d.Start)
	assert.Equal(t, utc(4, 0, 0), d.End)
}

func TestLoaderAllFail(t *testing.T) {
	l := &Loader{
		Calendars: []Calendar{{ID: "gone", URL: filepath.Join(t.TempDir(), "missing.ics")}},
		Location:  time.UTC,
	}
	_, err := l.Load(context.Background())
	assert.ErrorIs(t, err, source.ErrLoad)
}
