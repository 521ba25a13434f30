package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"schedview/internal/fetch"
	appLog "schedview/internal/log"
	"schedview/internal/model"
)

// ErrLoad marks a failed data load (network, status or parse error).
var ErrLoad = errors.New("data load failed")

// Loader produces a resource collection.
type Loader interface {
	Load(ctx context.Context) (model.Collection, error)
}

// Fields names the JSON properties of a source document. List-valued fields
// accept any of the given names, first match wins.
type Fields struct {
	// Results designates the array inside an envelope document. Its presence
	// at the top level is what marks a document as enveloped.
	Results string
	// Start and End are the envelope's explicit domain bounds.
	Start string
	End   string

	Name       string
	Color      string
	Events     []string
	EventStart []string
	EventEnd   []string
}

// DefaultFields accepts both naming variants seen in bookings feeds.
func DefaultFields() Fields {
	return Fields{
		Results:    "results",
		Start:      "startTime",
		End:        "endTime",
		Name:       "name",
		Color:      "color",
		Events:     []string{"events", "bookings"},
		EventStart: []string{"startTime", "start_time"},
		EventEnd:   []string{"endTime", "end_time"},
	}
}

// withDefaults fills empty names from DefaultFields.
func (f Fields) withDefaults() Fields {
	d := DefaultFields()
	if f.Results == "" {
		f.Results = d.Results
	}
	if f.Start == "" {
		f.Start = d.Start
	}
	if f.End == "" {
		f.End = d.End
	}
	if f.Name == "" {
		f.Name = d.Name
	}
	if f.Color == "" {
		f.Color = d.Color
	}
	if len(f.Events) == 0 {
		f.Events = d.Events
	}
	if len(f.EventStart) == 0 {
		f.EventStart = d.EventStart
	}
	if len(f.EventEnd) == 0 {
		f.EventEnd = d.EventEnd
	}
	return f
}

// JSON loads a collection from a JSON document at URL.
type JSON struct {
	URL      string
	Fields   Fields
	Location *time.Location
	Fetcher  *fetch.Fetcher
}

// NewJSON returns a JSON source with default field names.
func NewJSON(url string, f *fetch.Fetcher) *JSON {
	return &JSON{URL: url, Fields: DefaultFields(), Fetcher: f}
}

// Load fetches and decodes the document. Failures wrap ErrLoad; there is no
// retry.
func (s *JSON) Load(ctx context.Context) (model.Collection, error) {
	f := s.Fetcher
	if f == nil {
		f = fetch.New("")
	}

	res, err := f.Fetch(ctx, s.URL)
	if err != nil {
		return model.Collection{}, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	c, err := Decode(res.Body, s.Fields, s.Location)
	if err != nil {
		return model.Collection{}, err
	}

	appLog.Info("source loaded",
		"url", fetch.Redact(s.URL),
		"from_cache", res.FromCache,
		"resources", len(c.Resources),
		"events", c.EventCount(),
		"explicit_start", c.Hint.Start != nil,
		"explicit_end", c.Hint.End != nil,
	)
	return c, nil
}

// Decode parses a bare or enveloped document.
//
//   - Bare:      [ {resource}, ... ]
//   - Envelope:  { "<results>": [ ... ], "<start>": "...", "<end>": "..." }
//
// Events with unparseable times are skipped and logged; the rest of the
// document still loads.
func Decode(body []byte, fields Fields, loc *time.Location) (model.Collection, error) {
	fields = fields.withDefaults()
	if loc == nil {
		loc = time.Local
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return model.Collection{}, fmt.Errorf("%w: empty document", ErrLoad)
	}

	var (
		c     model.Collection
		items []json.RawMessage
	)

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return model.Collection{}, fmt.Errorf("%w: %w", ErrLoad, err)
		}

	case '{':
		var env map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return model.Collection{}, fmt.Errorf("%w: %w", ErrLoad, err)
		}
		raw, ok := env[fields.Results]
		if !ok {
			return model.Collection{}, fmt.Errorf("%w: object document has no %q field", ErrLoad, fields.Results)
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return model.Collection{}, fmt.Errorf("%w: %s: %w", ErrLoad, fields.Results, err)
		}
		c.Hint.Start = hintTime(env, fields.Start, loc)
		c.Hint.End = hintTime(env, fields.End, loc)

	default:
		return model.Collection{}, fmt.Errorf("%w: document is neither an array nor an envelope", ErrLoad)
	}

	c.Resources = make([]model.Resource, 0, len(items))
	for i, raw := range items {
		r, err := decodeResource(raw, fields, loc)
		if err != nil {
			return model.Collection{}, fmt.Errorf("%w: resource %d: %w", ErrLoad, i, err)
		}
		c.Resources = append(c.Resources, r)
	}

	return c, nil
}

func decodeResource(raw json.RawMessage, fields Fields, loc *time.Location) (model.Resource, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return model.Resource{}, err
	}

	var r model.Resource
	if v, ok := obj[fields.Name]; ok {
		r.Name = stringValue(v)
	}

	evRaw, _ := pick(obj, fields.Events)
	if evRaw == nil {
		return r, nil
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(evRaw, &items); err != nil {
		return model.Resource{}, fmt.Errorf("events: %w", err)
	}

	r.Events = make([]model.Event, 0, len(items))
	for j, item := range items {
		ev, err := decodeEvent(item, fields, loc)
		if err != nil {
			appLog.Error("source event skipped", err, "resource", r.Name, "index", j)
			continue
		}
		r.Events = append(r.Events, ev)
	}
	return r, nil
}

func decodeEvent(item map[string]json.RawMessage, fields Fields, loc *time.Location) (model.Event, error) {
	var ev model.Event

	startRaw, startKey := pick(item, fields.EventStart)
	if startRaw == nil {
		return ev, fmt.Errorf("missing start (%v)", fields.EventStart)
	}
	endRaw, endKey := pick(item, fields.EventEnd)
	if endRaw == nil {
		return ev, fmt.Errorf("missing end (%v)", fields.EventEnd)
	}

	var err error
	if ev.Start, err = model.ParseDateTime(stringValue(startRaw), loc); err != nil {
		return ev, fmt.Errorf("%s: %w", startKey, err)
	}
	if ev.End, err = model.ParseDateTime(stringValue(endRaw), loc); err != nil {
		return ev, fmt.Errorf("%s: %w", endKey, err)
	}
	if v, ok := item[fields.Color]; ok {
		ev.Color = stringValue(v)
	}
	return ev, nil
}

// pick returns the first present, non-null property among names.
func pick(obj map[string]json.RawMessage, names []string) (json.RawMessage, string) {
	for _, n := range names {
		if v, ok := obj[n]; ok && string(v) != "null" {
			return v, n
		}
	}
	return nil, ""
}

func hintTime(env map[string]json.RawMessage, key string, loc *time.Location) *time.Time {
	raw, ok := env[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	t, err := model.ParseDateTime(stringValue(raw), loc)
	if err != nil {
		appLog.Error("source envelope bound ignored", err, "field", key)
		return nil
	}
	return &t
}

// stringValue returns a JSON string's contents, or the raw text for other
// scalars.
func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
