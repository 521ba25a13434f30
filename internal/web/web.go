package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"

	"schedview/internal/config"
	appLog "schedview/internal/log"
	"schedview/internal/model"
	"schedview/internal/source"
	"schedview/internal/viewport"
	"schedview/internal/widget"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// maxResizeWidth bounds widths reported by clients.
const maxResizeWidth = 16384

// Server exposes one schedule widget over HTTP: the HTML page, the SVG
// document and a small JSON API.
type Server struct {
	cfg   *config.Config
	debug bool
	mux   *http.ServeMux

	widget *widget.Widget
	// box is the widget's container. Browsers report their width into it.
	box *viewport.Box

	onListen func(net.Addr)
}

// NewServer constructs a new Server around w, which must have been mounted
// on box.
func NewServer(cfg *config.Config, w *widget.Widget, box *viewport.Box, debug bool) *Server {
	s := &Server{
		cfg:    cfg,
		debug:  debug,
		mux:    http.NewServeMux(),
		widget: w,
		box:    box,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedview", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// OnListen registers fn to run once the listener is bound, before requests
// are served. Work that calls back into the server (page captures) starts
// there.
func (s *Server) OnListen(fn func(addr net.Addr)) {
	s.onListen = fn
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts the
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String(), "debug", s.debug)
	if s.onListen != nil {
		s.onListen(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /schedule.svg", s.handleSVG)
	s.mux.HandleFunc("POST /api/resize", s.handleResize)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/schedule", s.handleSchedule)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type pageData struct {
	Title         string
	State         string
	Domain        string
	LastError     string
	VisibleHeight int
	SVG           template.HTML
}

// handleIndex renders the page with the chart inline. The page script
// reports its container width to /api/resize and sets data-ready once the
// chart matches it.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.widget.Snapshot()

	svg, err := s.widget.SVG()
	if err != nil {
		appLog.Error("index: svg render failed", err)
		writeWidgetError(w, err)
		return
	}

	data := pageData{
		Title:         "schedview",
		State:         snap.State.String(),
		VisibleHeight: snap.VisibleHeight,
		// The surface escapes all attribute values and text nodes.
		SVG: template.HTML(svg),
	}
	if snap.Domain != nil {
		data.Domain = model.FormatDateTime(snap.Domain.Start) + " – " + model.FormatDateTime(snap.Domain.End)
	}
	if snap.LastError != nil {
		data.LastError = snap.LastError.Error()
	}

	var page bytes.Buffer
	if err := pageTemplate.Execute(&page, data); err != nil {
		appLog.Error("index: template execution failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page.Bytes())
}

// handleSVG serves the chart as a standalone document.
//
// GET /schedule.svg?width=800
//   - width: optional container width; the chart is resized first
func (s *Server) handleSVG(w http.ResponseWriter, r *http.Request) {
	if width := parseIntDefault(r.URL.Query().Get("width"), 0); width > 0 {
		if !s.resize(w, width) {
			return
		}
	}
	s.writeSVG(w)
}

type resizeRequest struct {
	Width int `json:"width"`
}

// handleResize applies a container width reported by the page and returns
// the repositioned SVG.
func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Width <= 0 || req.Width > maxResizeWidth {
		writeError(w, http.StatusBadRequest, "width out of range")
		return
	}
	if !s.resize(w, req.Width) {
		return
	}
	s.writeSVG(w)
}

func (s *Server) resize(w http.ResponseWriter, width int) bool {
	if width > maxResizeWidth {
		width = maxResizeWidth
	}
	s.box.Resize(width)
	moved, err := s.widget.Resize()
	if err != nil {
		appLog.Error("resize failed", err, "width", width)
		writeWidgetError(w, err)
		return false
	}
	appLog.Debug("resized", "width", width, "moved", moved)
	w.Header().Set("X-Schedule-Moved", strconv.Itoa(moved))
	return true
}

func (s *Server) writeSVG(w http.ResponseWriter) {
	svg, err := s.widget.SVG()
	if err != nil {
		writeWidgetError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(svg)
}

// handleRefresh reloads the source now and returns the resulting snapshot.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.widget.Update(r.Context())
	appLog.Info("api refresh", "elapsed", time.Since(start).String(), "ok", err == nil)
	if err != nil {
		writeWidgetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(s.widget.Snapshot()))
}

func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toScheduleResponse(s.widget.Snapshot()))
}

// handlePreview serves the last PNG capture from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil || s.cfg.Capture.OutputPath == "" {
		http.NotFound(w, r)
		return
	}
	// http.ServeFile maps missing files to 404.
	http.ServeFile(w, r, s.cfg.Capture.OutputPath)
}

// scheduleResponse is the JSON response shape for /api/schedule.
type scheduleResponse struct {
	ID            string     `json:"id"`
	State         string     `json:"state"`
	Source        string     `json:"source,omitempty"`
	Width         float64    `json:"width"`
	Height        float64    `json:"height"`
	RowHeight     float64    `json:"row_height"`
	VisibleHeight int        `json:"visible_height"`
	DomainStart   string     `json:"domain_start,omitempty"`
	DomainEnd     string     `json:"domain_end,omitempty"`
	LoadedAt      *time.Time `json:"loaded_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Rows          []rowDTO   `json:"rows"`
}

type rowDTO struct {
	Name   string     `json:"name"`
	Events []eventDTO `json:"events"`
}

type eventDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Color string `json:"color,omitempty"`
}

func toScheduleResponse(snap widget.Snapshot) scheduleResponse {
	resp := scheduleResponse{
		ID:            snap.ID,
		State:         snap.State.String(),
		Source:        snap.Source,
		Width:         snap.Width,
		Height:        snap.Height,
		RowHeight:     snap.RowHeight,
		VisibleHeight: snap.VisibleHeight,
		Rows:          make([]rowDTO, 0, len(snap.Resources)),
	}
	if snap.Domain != nil {
		resp.DomainStart = model.FormatDateTime(snap.Domain.Start)
		resp.DomainEnd = model.FormatDateTime(snap.Domain.End)
	}
	if !snap.LoadedAt.IsZero() {
		t := snap.LoadedAt
		resp.LoadedAt = &t
	}
	if snap.LastError != nil {
		resp.LastError = snap.LastError.Error()
	}
	for _, res := range snap.Resources {
		row := rowDTO{Name: res.Name, Events: make([]eventDTO, 0, len(res.Events))}
		for _, ev := range res.Events {
			row.Events = append(row.Events, eventDTO{
				Start: model.FormatDateTime(ev.Start),
				End:   model.FormatDateTime(ev.End),
				Color: ev.Color,
			})
		}
		resp.Rows = append(resp.Rows, row)
	}
	return resp
}

// writeWidgetError maps widget and source errors to HTTP statuses.
func writeWidgetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, source.ErrLoad):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, widget.ErrSuperseded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, widget.ErrDetached), errors.Is(err, widget.ErrNoSource):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
