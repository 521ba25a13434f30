package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"schedview/internal/capture"
	"schedview/internal/config"
	"schedview/internal/fetch"
	"schedview/internal/ics"
	appLog "schedview/internal/log"
	"schedview/internal/source"
	"schedview/internal/viewport"
	"schedview/internal/web"
	"schedview/internal/widget"
)

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	out        string
	width      int
	debug      bool
}

func main() {
	flags := parseFlags()

	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("schedview starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	applyFlags(conf, flags)
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"source", fetch.Redact(conf.Source.URL),
		"format", conf.Source.Format,
		"calendars", len(conf.Calendars),
		"width", conf.Chart.Width,
		"row_height", conf.Chart.RowHeight,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once {
		if err := runOnce(ctx, conf, flags.out); err != nil {
			appLog.Error("one-shot render failed", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, conf, flags.debug); err != nil {
		appLog.Error("schedview stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("schedview exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file (.yaml or .toml)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load once, write the SVG and exit")
	flag.StringVar(&cfg.out, "out", "", "SVG output path for -once (default stdout)")
	flag.IntVar(&cfg.width, "width", 0, "Chart width in pixels (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

func applyFlags(conf *config.Config, flags flagConfig) {
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.width > 0 {
		conf.Chart.Width = flags.width
	}
}

// newLoader builds the data source selected by conf.Source.Format.
func newLoader(conf *config.Config, f *fetch.Fetcher) (source.Loader, error) {
	loc, err := conf.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", conf.Timezone, err)
	}

	switch conf.Source.Format {
	case "ics":
		if len(conf.Calendars) == 0 {
			return nil, errors.New("source format ics needs at least one calendar")
		}
		cals := make([]ics.Calendar, 0, len(conf.Calendars))
		for _, c := range conf.Calendars {
			if c.URL == "" {
				continue
			}
			cals = append(cals, ics.Calendar{ID: c.ID, Name: c.Name, URL: c.URL, Color: c.Color})
		}
		return &ics.Loader{
			Calendars:    cals,
			Fetcher:      f,
			Location:     loc,
			BackfillDays: conf.Window.BackfillDays,
			HorizonDays:  conf.Window.HorizonDays,
		}, nil
	default:
		if conf.Source.URL == "" {
			return nil, errors.New("source url is empty")
		}
		return &source.JSON{
			URL:      conf.Source.URL,
			Fields:   conf.SourceFields(),
			Location: loc,
			Fetcher:  f,
		}, nil
	}
}

// newFetcher returns the fetcher shared by all sources.
func newFetcher(conf *config.Config) *fetch.Fetcher {
	return fetch.New(conf.CacheDir).WithClient(&http.Client{
		Timeout: time.Duration(conf.Source.TimeoutSec) * time.Second,
	})
}

// newWidget mounts a widget on a box of the configured width. Sources set
// later by URL use f, the configured field names and the configured zone.
func newWidget(ctx context.Context, conf *config.Config, f *fetch.Fetcher) (*widget.Widget, *viewport.Box, error) {
	loc, err := conf.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("timezone %q: %w", conf.Timezone, err)
	}
	box := viewport.NewBox(conf.Chart.Width)
	w := widget.New(
		widget.WithContext(ctx),
		widget.WithFetcher(f),
		widget.WithFields(conf.SourceFields()),
		widget.WithLocation(loc),
		widget.WithPaddingLeft(float64(conf.Chart.PaddingLeft)),
		widget.WithFontSize(float64(conf.Chart.FontSize)),
	).
		SetElement(box).
		SetHeight(conf.Chart.Height).
		SetRowHeight(float64(conf.Chart.RowHeight))
	return w, box, nil
}

// runOnce loads the source a single time and writes the SVG to out, or to
// stdout when out is empty.
func runOnce(ctx context.Context, conf *config.Config, out string) error {
	f := newFetcher(conf)
	loader, err := newLoader(conf, f)
	if err != nil {
		return err
	}
	w, _, err := newWidget(ctx, conf, f)
	if err != nil {
		return err
	}
	if err := w.SetLoader(loader).Update(ctx); err != nil {
		return err
	}

	var dst io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		dst = f
	}
	if err := w.WriteSVG(dst); err != nil {
		return err
	}
	if out != "" {
		appLog.Info("svg written", "path", out)
	}
	return nil
}

// run starts the long-running service: initial load, periodic refresh,
// file watch, preview capture and the HTTP server.
func run(ctx context.Context, conf *config.Config, debug bool) error {
	f := newFetcher(conf)
	w, box, err := newWidget(ctx, conf, f)
	if err != nil {
		return err
	}

	// JSON sources are set by URL once the server is up; SetSource starts
	// the first load. ICS calendars go through a dedicated loader.
	var startLoad func()
	switch conf.Source.Format {
	case "ics":
		loader, err := newLoader(conf, f)
		if err != nil {
			return err
		}
		w.SetLoader(loader)
		startLoad = func() { go func() { _ = w.Update(ctx) }() }
	default:
		if conf.Source.URL == "" {
			return errors.New("source url is empty")
		}
		startLoad = func() { w.SetSource(conf.Source.URL) }
	}

	if conf.RefreshCron != "" {
		loc, _ := conf.Location()
		c := cron.New(cron.WithLocation(loc))
		if _, err := c.AddFunc(conf.RefreshCron, func() {
			appLog.Debug("scheduled refresh")
			_ = w.Update(ctx)
		}); err != nil {
			return fmt.Errorf("refresh schedule %q: %w", conf.RefreshCron, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		appLog.Info("refresh scheduled", "cron", conf.RefreshCron)
	}

	if conf.Source.Watch && conf.Source.Format == "json" && fetch.IsLocal(conf.Source.URL) {
		path := fetch.LocalPath(conf.Source.URL)
		if err := source.Watch(ctx, path, source.DefaultDebounce, func() {
			_ = w.Update(ctx)
		}); err != nil {
			appLog.Error("source watch disabled", err, "path", path)
		} else {
			appLog.Info("watching source file", "path", path)
		}
	}

	srv := web.NewServer(conf, w, box, debug)
	srv.OnListen(func(addr net.Addr) {
		if conf.Capture.Enabled {
			capturer := capture.NewCapturer(captureOptions(conf, addr.String()))
			w.Subscribe(func(up widget.Update) {
				if up.Err == nil {
					capturer.Trigger(ctx)
				}
			})
		}
		// Failures are logged by the widget; later refreshes may recover.
		startLoad()
	})
	return srv.ListenAndServe(ctx)
}

// captureOptions points the capture at this process's own listener bound
// to addr.
func captureOptions(conf *config.Config, addr string) capture.Options {
	opts := capture.Options{
		URL:        "http://" + loopbackAddr(addr) + "/",
		OutputPath: conf.Capture.OutputPath,
		Width:      conf.Capture.Width,
		Height:     conf.Capture.Height,
		Timeout:    time.Duration(conf.Capture.TimeoutSec) * time.Second,
	}
	if ba := conf.BasicAuth; ba != nil && ba.Username != "" && ba.Password != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(ba.Username + ":" + ba.Password))
		opts.Headers = map[string]string{"Authorization": "Basic " + cred}
	}
	return opts
}

// loopbackAddr rewrites wildcard listen hosts to 127.0.0.1.
func loopbackAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
