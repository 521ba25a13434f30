package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "schedview/internal/log"
)

// Default capture parameters for the schedule page.
// DefaultWidth matches the default chart width in config.
const (
	DefaultWidth      = 960
	DefaultHeight     = 600
	DefaultTimeoutSec = 30
)

// ReadySelector matches the page root once the chart is rendered.
const ReadySelector = `[data-ready="true"]`

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/".
	URL string

	// OutputPath is where the PNG screenshot will be written, e.g.
	// "./cache/preview.png". The parent directory is created if missing.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used. The screenshot covers the full
	// page, so Height only affects the initial layout.
	Width  int
	Height int

	// Timeout bounds the entire capture operation. If zero, a sane default
	// (DefaultTimeoutSec) is used.
	Timeout time.Duration

	// Headers are sent with every request the page makes, e.g. an
	// Authorization header when the server uses basic auth.
	Headers map[string]string
}

func (o Options) withDefaults() (Options, error) {
	if o.URL == "" {
		return o, fmt.Errorf("capture: URL is required")
	}
	if o.OutputPath == "" {
		return o, fmt.Errorf("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return o, nil
}

// SchedulePNG launches a headless Chromium instance via chromedp, navigates
// to opts.URL, waits for the page to report that the chart is rendered and
// writes a full-page PNG screenshot.
//
// Rendering-complete condition:
//   - The page root exposes <div data-ready="true" ...> once the chart is
//     sized to its container.
//   - This function waits until ReadySelector is visible before taking the
//     screenshot.
func SchedulePNG(parentCtx context.Context, opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	// Create a new chromedp context.
	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	// Apply timeout to the entire capture sequence.
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{}
	if len(opts.Headers) > 0 {
		h := make(network.Headers, len(opts.Headers))
		for k, v := range opts.Headers {
			h[k] = v
		}
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(h))
	}
	tasks = append(tasks,
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Small extra delay to allow final paints.
		chromedp.Sleep(200 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: failed to create output dir: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	return nil
}

// Capturer runs SchedulePNG with fixed options, one capture at a time.
// Requests arriving while a capture is running are coalesced into a single
// follow-up capture.
type Capturer struct {
	opts Options
	run  func(context.Context, Options) error

	mu      sync.Mutex
	running bool
	pending bool
}

// NewCapturer returns a Capturer for opts.
func NewCapturer(opts Options) *Capturer {
	return &Capturer{opts: opts, run: SchedulePNG}
}

// Trigger starts a capture in the background unless one is already running,
// in which case another capture is scheduled after it.
func (c *Capturer) Trigger(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.loop(ctx)
}

func (c *Capturer) loop(ctx context.Context) {
	for {
		start := time.Now()
		if err := c.run(ctx, c.opts); err != nil {
			appLog.Error("preview capture failed", err, "url", c.opts.URL)
		} else {
			appLog.Info("preview captured", "output", c.opts.OutputPath, "elapsed", time.Since(start).String())
		}

		c.mu.Lock()
		if !c.pending || ctx.Err() != nil {
			c.running = false
			c.pending = false
			c.mu.Unlock()
			return
		}
		c.pending = false
		c.mu.Unlock()
	}
}
