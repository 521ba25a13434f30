package widget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"schedview/internal/fetch"
	appLog "schedview/internal/log"
	"schedview/internal/model"
	"schedview/internal/render"
	"schedview/internal/source"
	"schedview/internal/surface"
	"schedview/internal/timeaxis"
	"schedview/internal/viewport"
)

var (
	// ErrDetached is returned by operations that need geometry before
	// SetElement has attached a container.
	ErrDetached = errors.New("widget: no element set")
	// ErrNoSource is returned by Update when no source has been configured.
	ErrNoSource = errors.New("widget: no data source set")
	// ErrSuperseded is returned by a load whose result was discarded because
	// a newer Update started before it completed.
	ErrSuperseded = errors.New("widget: load superseded by a newer update")
)

// State is the mount/data state of a widget.
type State int

const (
	Unmounted State = iota
	MountedNoData
	MountedWithData
)

func (s State) String() string {
	switch s {
	case Unmounted:
		return "unmounted"
	case MountedNoData:
		return "mounted-nodata"
	case MountedWithData:
		return "mounted-withdata"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Update is delivered to subscribers after each load completes.
type Update struct {
	WidgetID  string
	LoadID    string
	Resources int
	Events    int
	Domain    model.Domain
	HasDomain bool
	Rendered  render.Result
	Err       error
}

// Widget is one schedule chart instance. All state is owned by the instance
// and guarded by its mutex, so several widgets can coexist and a widget can
// be driven from concurrent goroutines.
type Widget struct {
	id  string
	ctx context.Context

	mu            sync.Mutex
	state         State
	fetcher       *fetch.Fetcher
	fields        source.Fields
	location      *time.Location
	loader        source.Loader
	sourceURL     string
	visibleHeight int

	axis    *timeaxis.Axis
	surface *surface.Surface
	view    *viewport.Controller

	resources []model.Resource
	domain    model.Domain
	hasDomain bool
	loadedAt  time.Time
	lastErr   error

	gen        uint64
	cancelLoad context.CancelFunc

	subsMu  sync.Mutex
	subs    map[int]func(Update)
	nextSub int
}

// Option configures a Widget at construction.
type Option func(*Widget)

// WithFetcher sets the fetcher used for sources set by URL.
func WithFetcher(f *fetch.Fetcher) Option {
	return func(w *Widget) { w.fetcher = f }
}

// WithFields sets the JSON field names used for sources set by URL.
func WithFields(f source.Fields) Option {
	return func(w *Widget) { w.fields = f }
}

// WithLocation sets the zone source date-times are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(w *Widget) { w.location = loc }
}

// WithPaddingLeft sets the pixels reserved for row labels.
func WithPaddingLeft(px float64) Option {
	return func(w *Widget) { w.view.SetPaddingLeft(px) }
}

// WithFontSize sets the label font size.
func WithFontSize(px float64) Option {
	return func(w *Widget) { w.view.SetFontSize(px) }
}

// WithContext sets the parent context of loads started by SetSource.
func WithContext(ctx context.Context) Option {
	return func(w *Widget) { w.ctx = ctx }
}

// New creates an unmounted widget.
func New(opts ...Option) *Widget {
	w := &Widget{
		id:      uuid.NewString(),
		ctx:     context.Background(),
		fields:  source.DefaultFields(),
		axis:    &timeaxis.Axis{},
		surface: surface.New("schedule"),
		subs:    make(map[int]func(Update)),
	}
	w.view = viewport.New(w.surface, w.axis)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the instance identifier used in logs.
func (w *Widget) ID() string { return w.id }

func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetElement mounts the widget in c and computes the initial viewport.
// A nil container leaves the widget unmounted.
func (w *Widget) SetElement(c viewport.Container) *Widget {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.view.Attach(c); err != nil {
		appLog.Error("widget mount failed", err, "widget", w.id)
		return w
	}
	if w.state == Unmounted {
		w.state = MountedNoData
	}
	appLog.Debug("widget mounted", "widget", w.id, "width", w.view.Width())
	return w
}

// SetHeight fixes the visible height of the container in pixels; the chart
// scrolls vertically inside it. Zero or less restores natural sizing.
func (w *Widget) SetHeight(px int) *Widget {
	w.mu.Lock()
	defer w.mu.Unlock()
	if px < 0 {
		px = 0
	}
	w.visibleHeight = px
	return w
}

// VisibleHeight returns the fixed visible height, 0 for natural sizing.
func (w *Widget) VisibleHeight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visibleHeight
}

// SetRowHeight changes the row height. A chart that already holds data is
// redrawn with the new height.
func (w *Widget) SetRowHeight(px float64) *Widget {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.view.SetRowHeight(px)
	if w.state == MountedWithData {
		if _, err := w.view.Render(w.resources); err != nil {
			appLog.Error("widget re-render failed", err, "widget", w.id)
		}
	}
	return w
}

// SetLoader sets an arbitrary source without loading it.
func (w *Widget) SetLoader(l source.Loader) *Widget {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loader = l
	w.sourceURL = ""
	return w
}

// SetSource points the widget at a JSON document and starts loading it in
// the background. The outcome is delivered to subscribers.
func (w *Widget) SetSource(url string) *Widget {
	w.mu.Lock()
	js := source.NewJSON(url, w.fetcher)
	js.Fields = w.fields
	js.Location = w.location
	w.loader = js
	w.sourceURL = url
	ctx := w.ctx
	w.mu.Unlock()

	go func() {
		// The error reaches subscribers through the Update.
		_ = w.Update(ctx)
	}()
	return w
}

// Source returns the URL set by SetSource, if any.
func (w *Widget) Source() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sourceURL
}

// Update loads the configured source and, on success, replaces the data,
// recomputes the domain and renders fully.
//
// A newer Update cancels the one in flight; the older call then returns
// ErrSuperseded and its result is discarded. A failed load keeps the
// previous data on screen.
func (w *Widget) Update(ctx context.Context) error {
	w.mu.Lock()
	var precond error
	switch {
	case w.state == Unmounted:
		precond = ErrDetached
	case w.loader == nil:
		precond = ErrNoSource
	}
	if precond != nil {
		w.mu.Unlock()
		w.publish(Update{WidgetID: w.id, Err: precond})
		return precond
	}
	loader := w.loader
	w.gen++
	gen := w.gen
	if w.cancelLoad != nil {
		w.cancelLoad()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	w.cancelLoad = cancel
	w.mu.Unlock()
	defer cancel()

	loadID := uuid.NewString()
	started := time.Now()
	appLog.Debug("widget load start", "widget", w.id, "load_id", loadID)

	c, loadErr := loader.Load(loadCtx)

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		appLog.Info("widget load discarded", "widget", w.id, "load_id", loadID)
		return ErrSuperseded
	}
	w.cancelLoad = nil
	up := w.apply(c, loadErr)
	up.LoadID = loadID
	w.mu.Unlock()

	if up.Err != nil {
		appLog.Error("widget load failed", up.Err, "widget", w.id, "load_id", loadID)
	} else {
		appLog.Info("widget rendered",
			"widget", w.id,
			"load_id", loadID,
			"resources", up.Resources,
			"events", up.Events,
			"created", up.Rendered.Entered,
			"elapsed", time.Since(started),
		)
	}

	w.publish(up)
	return up.Err
}

// apply installs a load outcome. Callers hold w.mu.
func (w *Widget) apply(c model.Collection, loadErr error) Update {
	up := Update{WidgetID: w.id}
	if loadErr != nil {
		w.lastErr = loadErr
		up.Err = loadErr
		return up
	}

	w.resources = c.Resources
	w.domain, w.hasDomain = c.Domain()
	if w.hasDomain {
		w.axis.SetDomain(w.domain.Start, w.domain.End)
	} else {
		// No bounds at all: a degenerate domain keeps projection finite.
		w.axis.SetDomain(time.Time{}, time.Time{})
	}

	res, err := w.view.Render(w.resources)
	if err != nil {
		w.lastErr = err
		up.Err = err
		return up
	}

	w.state = MountedWithData
	w.loadedAt = time.Now()
	w.lastErr = nil

	up.Resources = len(c.Resources)
	up.Events = c.EventCount()
	up.Domain = w.domain
	up.HasDomain = w.hasDomain
	up.Rendered = res
	return up
}

// Resize re-reads the container width. With data loaded the existing drawing
// is repositioned in place; otherwise only the axis range changes. It
// returns the number of event rectangles moved.
func (w *Widget) Resize() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == Unmounted {
		return 0, ErrDetached
	}
	return w.view.OnResize(w.state == MountedWithData)
}

// WriteSVG serializes the current drawing.
func (w *Widget) WriteSVG(out io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == Unmounted {
		return ErrDetached
	}
	_, err := w.surface.WriteTo(out)
	return err
}

// SVG returns the current drawing as a standalone document.
func (w *Widget) SVG() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == Unmounted {
		return nil, ErrDetached
	}
	return w.surface.Bytes(), nil
}

// Subscribe registers fn for load notifications and returns a function
// removing it. fn is called outside the widget lock and may call back into
// the widget.
func (w *Widget) Subscribe(fn func(Update)) (unsubscribe func()) {
	w.subsMu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.subsMu.Unlock()

	return func() {
		w.subsMu.Lock()
		delete(w.subs, id)
		w.subsMu.Unlock()
	}
}

func (w *Widget) publish(up Update) {
	w.subsMu.Lock()
	fns := make([]func(Update), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.subsMu.Unlock()

	for _, fn := range fns {
		fn(up)
	}
}
