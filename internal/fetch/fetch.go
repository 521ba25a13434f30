package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "schedview/internal/log"
)

// Result contains the outcome of fetching a single location.
type Result struct {
	Location  string
	Body      []byte
	FromCache bool // true if we reused the cached body (304 or fallback)
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves documents over HTTP(S) with conditional requests
// (ETag / Last-Modified) and a disk-backed cache, or from the local
// filesystem for file:// URLs and plain paths.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// New creates a Fetcher.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata are stored. An empty cacheDir disables the disk cache.
func New(cacheDir string) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
	}
}

// WithClient replaces the HTTP client (tests, custom transports).
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

// IsLocal reports whether location refers to the local filesystem.
func IsLocal(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return true
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "webcal":
		return false
	default:
		return true
	}
}

// LocalPath returns the filesystem path for a local location.
func LocalPath(location string) string {
	if strings.HasPrefix(location, "file://") {
		if u, err := url.Parse(location); err == nil {
			return u.Path
		}
	}
	return location
}

// Fetch retrieves location. HTTP errors fall back to the cached body when
// one exists.
func (f *Fetcher) Fetch(ctx context.Context, location string) (Result, error) {
	if location == "" {
		return Result{}, errors.New("fetch: location is empty")
	}
	if IsLocal(location) {
		return f.fetchFile(location)
	}
	return f.fetchHTTP(ctx, location)
}

func (f *Fetcher) fetchFile(location string) (Result, error) {
	body, err := os.ReadFile(LocalPath(location))
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	return Result{Location: location, Body: body}, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, location string) (Result, error) {
	// webcal:// is plain HTTP by convention.
	reqURL := location
	if strings.HasPrefix(strings.ToLower(reqURL), "webcal://") {
		reqURL = "https://" + reqURL[len("webcal://"):]
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(location)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return Result{}, fmt.Errorf("fetch: cache dir: %w", err)
		}
		meta, _ = f.loadCacheMeta(cachePath)
		cachedBody, _ = f.loadCacheBody(cachePath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}

	// Conditional headers from cache metadata.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("fetch start", "url", Redact(location))

	resp, err := f.client.Do(req)
	if err != nil {
		// A canceled load must not be served from cache.
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("fetch: %w", ctx.Err())
		}
		if len(cachedBody) > 0 {
			appLog.Error("fetch network error, using cached body", err, "url", Redact(location))
			return Result{Location: location, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return Result{}, fmt.Errorf("fetch: read body: %w", readErr)
		}

		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          location,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("fetch cache save failed", err, "url", Redact(location))
			}
		}

		appLog.Debug("fetch success", "url", Redact(location), "status", resp.StatusCode, "bytes", len(body))
		return Result{Location: location, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return Result{}, errors.New("fetch: received 304 Not Modified but no cached body available")
		}
		appLog.Debug("fetch not modified; using cache", "url", Redact(location))
		return Result{Location: location, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("fetch non-OK, using cached body", errors.New(resp.Status), "url", Redact(location), "status", resp.StatusCode)
			return Result{Location: location, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, fmt.Errorf("fetch: unexpected status %s", resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// First 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// Redact hides the path and query of a URL for logging purposes:
//
//	https://example.com/private/feed.json?token=abcd -> https://example.com/...(redacted)
//
// Local paths are returned unchanged.
func Redact(u string) string {
	const redactedSuffix = "/...(redacted)"

	if IsLocal(u) {
		return u
	}
	i := strings.Index(u, "://")
	if i == -1 {
		return "...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		rest = rest[at+1:]
	}
	return u[:i+3] + rest + redactedSuffix
}
