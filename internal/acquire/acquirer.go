// Package acquire turns image URLs into normalized files in an output
// directory.
//
// Each URL goes through an ordered chain of strategies. The first one that
// produces a file wins; a strategy may also reject the URL outright, which
// ends the chain with no file. Ordinary raster images use a size-checked
// GET, exotic formats (SVG, HEIC, WEBP, AVIF) are fetched raw and
// converted, and a full-page screenshot of the URL is the last resort.
//
// Every URL is claimed in a shared dedup set before any attempt, so a URL
// is tried at most once for as long as the set lives.
package acquire

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/nao1215/webimg/internal/dedup"
	"github.com/nao1215/webimg/internal/imageconv"
	"github.com/nao1215/webimg/internal/model"
	"github.com/nao1215/webimg/internal/render"
	"github.com/nao1215/webimg/internal/urlutil"
)

// DefaultMaxBytes bounds a single download.
const DefaultMaxBytes = 64 * 1024 * 1024

var (
	// ErrTooLarge is returned when a download exceeds the size limit.
	ErrTooLarge = errors.New("download exceeds size limit")

	// ErrStatus is returned for non-200 responses.
	ErrStatus = errors.New("unexpected HTTP status")
)

// Acquirer downloads and normalizes images. It is safe for concurrent use.
type Acquirer struct {
	// outDir receives every stored file. It must exist.
	outDir string

	// cache holds the URLs already attempted. It is usually shared with
	// other acquirers of the same process.
	cache *dedup.Set

	// client performs HEAD and GET requests.
	client urlutil.Doer

	// surface takes fallback screenshots. Nil disables the fallback.
	surface render.Surface

	// minSize is the minimum pixel size. Nil accepts any size.
	minSize *model.Size

	// timeout bounds each request and screenshot.
	timeout time.Duration

	// maxBytes bounds a single download.
	maxBytes int64

	logger *slog.Logger
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithMinSize enables the minimum-size filter.
func WithMinSize(size *model.Size) Option {
	return func(a *Acquirer) {
		a.minSize = size
	}
}

// WithTimeout bounds each network operation.
func WithTimeout(d time.Duration) Option {
	return func(a *Acquirer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMaxBytes bounds the size of a single download.
func WithMaxBytes(n int64) Option {
	return func(a *Acquirer) {
		if n > 0 {
			a.maxBytes = n
		}
	}
}

// WithLogger sets the logger for recovered failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Acquirer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New returns an Acquirer writing into outDir. cache is the dedup set shared
// across harvests; client performs HTTP requests and surface takes
// fallback screenshots. A nil surface disables the screenshot fallback.
func New(outDir string, cache *dedup.Set, client urlutil.Doer, surface render.Surface, opts ...Option) *Acquirer {
	if cache == nil {
		cache = dedup.New()
	}
	if client == nil {
		client = http.DefaultClient
	}
	a := &Acquirer{
		outDir:   outDir,
		cache:    cache,
		client:   client,
		surface:  surface,
		timeout:  model.DefaultTimeout,
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// request is the state shared by the strategies for one URL.
type request struct {
	// url is the exact image URL, query included.
	url string

	// pageURL is the page the image was found on.
	pageURL string

	// ext is the extension from the URL or its HEAD response. Empty when
	// neither names one.
	ext string

	// format is the dispatch entry for ext, or the one the server's
	// Content-Type named when the direct step reroutes.
	format imageconv.Format
}

// Acquire turns imageURL into at most one file. It reports false when the
// URL is invalid, was already claimed, or every strategy failed. Failures
// are logged, never returned.
func (a *Acquirer) Acquire(ctx context.Context, imageURL, pageURL string) (model.Asset, bool) {
	if !urlutil.IsValidURL(imageURL) {
		return model.Asset{}, false
	}
	if !a.cache.TryClaim(imageURL) {
		a.logger.Debug("asset already claimed", "url", imageURL)
		return model.Asset{}, false
	}

	headCtx, cancel := context.WithTimeout(ctx, a.timeout)
	ext := urlutil.ExtensionFromURL(headCtx, a.client, imageURL)
	cancel()

	format, _ := imageconv.Lookup(ext)
	req := &request{url: imageURL, pageURL: pageURL, ext: ext, format: format}

	for _, s := range a.chain(format.Kind) {
		if err := ctx.Err(); err != nil {
			return model.Asset{}, false
		}

		r := s.acquire(ctx, req)
		switch r.outcome {
		case outcomeAccepted:
			asset := a.finalize(r.asset, req, s.name())
			a.logger.Debug("asset acquired",
				"url", imageURL,
				"file", asset.Filename,
				"strategy", string(asset.Strategy),
				"size", asset.Size.String(),
			)
			return asset, true
		case outcomeRejected:
			a.logger.Debug("asset rejected", "url", imageURL, "strategy", string(s.name()), "reason", r.err)
			return model.Asset{}, false
		case outcomeFailed:
			a.logger.Debug("acquisition step failed", "url", imageURL, "strategy", string(s.name()), "error", r.err)
		}
	}
	a.logger.Warn("asset unavailable", "url", imageURL)
	return model.Asset{}, false
}

// chain returns the strategies to try for kind, in order.
//
// Design decision: the screenshot is always the last step. It turns URLs
// that answer with an HTML viewer, a login wall or an unsupported format
// into an image instead of nothing.
func (a *Acquirer) chain(kind imageconv.Kind) []strategy {
	first := strategy(directStrategy{a: a})
	if kind.Exotic() {
		first = convertStrategy{a: a}
	}
	return []strategy{first, screenshotStrategy{a: a}}
}

// finalize fills in the fields common to every strategy.
func (a *Acquirer) finalize(asset model.Asset, req *request, name model.Strategy) model.Asset {
	asset.SourceURL = req.url
	asset.PageURL = req.pageURL
	if asset.Strategy == "" {
		asset.Strategy = name
	}
	if asset.Size.IsZero() {
		if size, err := imageconv.SizeOf(asset.LocalPath); err == nil {
			asset.Size = size
		}
	}
	if digest, err := digestFile(asset.LocalPath); err == nil {
		asset.Digest = digest
	}
	return asset
}

// accepts applies the minimum-size filter. A nil size means "not probeable".
func (a *Acquirer) accepts(size *model.Size) bool {
	scope := model.Scope{MinSize: a.minSize}
	return scope.Accepts(size)
}

// get issues a GET for rawURL and returns the body of a 200 response.
func (a *Acquirer) get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > a.maxBytes {
		return nil, nil, ErrTooLarge
	}
	return body, resp.Header, nil
}

// digestFile returns the hex SHA3-256 of the file at path.
func digestFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is created by the acquirer
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck // read-only

	h := sha3.New256()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
