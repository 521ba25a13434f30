package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "json", cfg.Source.Format)
	assert.Equal(t, 24, cfg.Chart.RowHeight)
	assert.Equal(t, 150, cfg.Chart.PaddingLeft)
	assert.Equal(t, 12, cfg.Chart.FontSize)
	assert.Equal(t, 15, cfg.Source.TimeoutSec)
	assert.Equal(t, cfg.Chart.Width, cfg.Capture.Width)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Listen, again.Listen)
	assert.Equal(t, cfg.Source, again.Source)
	assert.Equal(t, cfg.Chart, again.Chart)
	assert.Equal(t, cfg.Capture, again.Capture)
}

func TestLoadYAMLNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
listen: ":9000"
source:
  url: https://example.com/bookings.json
  format: ICS
fields:
  results: items
  events: [slots]
chart:
  height: -5
  row_height: 30
  padding_left: 90
calendars:
  - id: work
    url: https://example.com/work.ics
basic_auth:
  username: admin
  password: secret
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "ics", cfg.Source.Format)
	assert.Equal(t, 0, cfg.Chart.Height)
	assert.Equal(t, 30, cfg.Chart.RowHeight)
	assert.Equal(t, 90, cfg.Chart.PaddingLeft)
	assert.Equal(t, 12, cfg.Chart.FontSize)
	assert.Equal(t, 960, cfg.Chart.Width)
	assert.Equal(t, 7, cfg.Window.HorizonDays)
	require.Len(t, cfg.Calendars, 1)
	assert.Equal(t, "work", cfg.Calendars[0].ID)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "admin", cfg.BasicAuth.Username)

	f := cfg.SourceFields()
	assert.Equal(t, "items", f.Results)
	assert.Equal(t, []string{"slots"}, f.Events)
	assert.Equal(t, "startTime", f.Start)
	assert.Equal(t, []string{"endTime", "end_time"}, f.EventEnd)
}

func TestTOMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Timezone = "Europe/Berlin"
	cfg.RefreshCron = "*/15 * * * *"
	cfg.Source.URL = "/srv/bookings.json"
	cfg.Source.Watch = true
	cfg.Calendars = []CalendarConfig{{ID: "home", Name: "Home", URL: "https://example.com/home.ics", Color: "#1f77b4"}}
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `refresh = "*/15 * * * *"`)

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Timezone, got.Timezone)
	assert.Equal(t, cfg.RefreshCron, got.RefreshCron)
	assert.True(t, got.Source.Watch)
	assert.Equal(t, cfg.Calendars, got.Calendars)
	assert.Nil(t, got.BasicAuth)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Local", loc.String())

	cfg.Timezone = "UTC"
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	cfg.Timezone = "Nowhere/Special"
	_, err = cfg.Location()
	assert.Error(t, err)
}
