package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"schedview/internal/source"
)

// NOTE: YAML is the primary format. A path ending in ".toml" is read and
// written with TOML instead; the field names are the same in both.

// SourceConfig describes where the schedule data comes from.
type SourceConfig struct {
	// URL is an http(s) URL, a file:// URL or a local path.
	URL string `yaml:"url" json:"url" toml:"url"`
	// Format selects the loader:
	//   - "json" (default): bare or enveloped resource document
	//   - "ics": one row per entry in Calendars
	Format string `yaml:"format" json:"format" toml:"format"`
	// Watch reloads a local source file when it changes.
	Watch bool `yaml:"watch" json:"watch" toml:"watch"`
	// TimeoutSec bounds a single HTTP fetch.
	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec" toml:"timeout_sec"`
}

// FieldsConfig maps JSON property names. Empty values fall back to the
// defaults of the source package.
type FieldsConfig struct {
	Results    string   `yaml:"results" json:"results" toml:"results"`
	Start      string   `yaml:"start" json:"start" toml:"start"`
	End        string   `yaml:"end" json:"end" toml:"end"`
	Name       string   `yaml:"name" json:"name" toml:"name"`
	Color      string   `yaml:"color" json:"color" toml:"color"`
	Events     []string `yaml:"events" json:"events" toml:"events"`
	EventStart []string `yaml:"event_start" json:"event_start" toml:"event_start"`
	EventEnd   []string `yaml:"event_end" json:"event_end" toml:"event_end"`
}

// ChartConfig holds the pixel geometry of the chart.
type ChartConfig struct {
	// Width is the initial container width, used until a browser reports
	// the real one.
	Width int `yaml:"width" json:"width" toml:"width"`
	// Height is the visible height of the scroll container. 0 means natural
	// sizing.
	Height    int `yaml:"height" json:"height" toml:"height"`
	RowHeight int `yaml:"row_height" json:"row_height" toml:"row_height"`
	// PaddingLeft is the width reserved for row labels; the time axis starts
	// there.
	PaddingLeft int `yaml:"padding_left" json:"padding_left" toml:"padding_left"`
	FontSize    int `yaml:"font_size" json:"font_size" toml:"font_size"`
}

// CalendarConfig describes a single ICS feed shown as one row.
type CalendarConfig struct {
	ID    string `yaml:"id" json:"id" toml:"id"`
	Name  string `yaml:"name" json:"name" toml:"name"`
	URL   string `yaml:"url" json:"url" toml:"url"`
	Color string `yaml:"color" json:"color" toml:"color"`
}

// WindowConfig bounds the ICS expansion window around now.
type WindowConfig struct {
	BackfillDays int `yaml:"backfill_days" json:"backfill_days" toml:"backfill_days"`
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days" toml:"horizon_days"`
}

// CaptureConfig controls headless Chromium PNG previews.
type CaptureConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	OutputPath string `yaml:"output" json:"output" toml:"output"`
	Width      int    `yaml:"width" json:"width" toml:"width"`
	Height     int    `yaml:"height" json:"height" toml:"height"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec" toml:"timeout_sec"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" toml:"username"`
	Password string `yaml:"password" json:"password" toml:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen" toml:"listen"`

	// Timezone is the IANA zone source date-times are interpreted in.
	// "Local" uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone" toml:"timezone"`

	// RefreshCron is a cron schedule (e.g. "*/15 * * * *") for reloading
	// the source. Empty disables periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh" toml:"refresh"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level" toml:"log_level"`

	// CacheDir holds the HTTP fetch cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" toml:"cache_dir"`

	Source    SourceConfig     `yaml:"source" json:"source" toml:"source"`
	Fields    FieldsConfig     `yaml:"fields" json:"fields" toml:"fields"`
	Chart     ChartConfig      `yaml:"chart" json:"chart" toml:"chart"`
	Calendars []CalendarConfig `yaml:"calendars" json:"calendars" toml:"calendars"`
	Window    WindowConfig     `yaml:"window" json:"window" toml:"window"`
	Capture   CaptureConfig    `yaml:"capture" json:"capture" toml:"capture"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty" toml:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Source: SourceConfig{URL: "bookings.json"},
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./cache/fetch"
	}

	if c.Source.TimeoutSec <= 0 {
		c.Source.TimeoutSec = 15
	}

	switch strings.ToLower(c.Source.Format) {
	case "json", "ics":
		c.Source.Format = strings.ToLower(c.Source.Format)
	default:
		// Unknown or empty: JSON is what the widget was built for.
		c.Source.Format = "json"
	}

	if c.Chart.Width <= 0 {
		c.Chart.Width = 960
	}
	if c.Chart.Height < 0 {
		c.Chart.Height = 0
	}
	if c.Chart.RowHeight <= 0 {
		c.Chart.RowHeight = 24
	}
	if c.Chart.PaddingLeft <= 0 {
		c.Chart.PaddingLeft = 150
	}
	if c.Chart.FontSize <= 0 {
		c.Chart.FontSize = 12
	}

	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	if c.Window.BackfillDays < 0 {
		c.Window.BackfillDays = 0
	}
	if c.Window.HorizonDays <= 0 {
		c.Window.HorizonDays = 7
	}

	if c.Capture.OutputPath == "" {
		c.Capture.OutputPath = "./cache/preview.png"
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = c.Chart.Width
	}
	if c.Capture.TimeoutSec <= 0 {
		c.Capture.TimeoutSec = 30
	}
}

// Location resolves Timezone. An unknown zone is reported as an error
// rather than silently falling back.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SourceFields returns the JSON field map, with unset names taken from
// source.DefaultFields.
func (c *Config) SourceFields() source.Fields {
	f := source.DefaultFields()
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&f.Results, c.Fields.Results)
	set(&f.Start, c.Fields.Start)
	set(&f.End, c.Fields.End)
	set(&f.Name, c.Fields.Name)
	set(&f.Color, c.Fields.Color)
	if len(c.Fields.Events) > 0 {
		f.Events = append([]string(nil), c.Fields.Events...)
	}
	if len(c.Fields.EventStart) > 0 {
		f.EventStart = append([]string(nil), c.Fields.EventStart...)
	}
	if len(c.Fields.EventEnd) > 0 {
		f.EventEnd = append([]string(nil), c.Fields.EventEnd...)
	}
	return f
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load loads configuration from the given path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 perms and returned.
//   - Otherwise the file is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if isTOML(path) {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".schedview-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
