package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/webimg/internal/acquire"
	"github.com/nao1215/webimg/internal/dedup"
	"github.com/nao1215/webimg/internal/model"
	"github.com/nao1215/webimg/internal/render"
	"github.com/nao1215/webimg/internal/urlutil"
)

var (
	// ErrNoSurface is returned when a Harvester has no rendering surface.
	ErrNoSurface = errors.New("no rendering surface")

	// ErrInvalidScope is returned for a scope with negative limits.
	ErrInvalidScope = errors.New("invalid crawl scope")
)

// Harvester crawls pages and collects their images into an output
// directory.
type Harvester struct {
	// surface renders pages and takes fallback screenshots.
	surface render.Surface

	// outDir receives the acquired files.
	outDir string

	// client downloads assets.
	client urlutil.Doer

	// cache holds the asset URLs already attempted. It outlives a single
	// Harvest call so repeated harvests never fetch the same asset twice.
	cache *dedup.Set

	// maxBytes bounds a single asset download. Zero keeps the acquirer default.
	maxBytes int64

	// ignorePatterns are URL path globs of sub-pages to skip.
	ignorePatterns []string

	// followPatterns, when set, restrict sub-pages to matching paths.
	followPatterns []string

	logger *slog.Logger
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithClient sets the HTTP client used to download assets.
func WithClient(client urlutil.Doer) Option {
	return func(h *Harvester) {
		if client != nil {
			h.client = client
		}
	}
}

// WithCache sets the asset dedup cache. Harvesters sharing a cache never
// download the same URL twice.
func WithCache(cache *dedup.Set) Option {
	return func(h *Harvester) {
		if cache != nil {
			h.cache = cache
		}
	}
}

// WithMaxBytes bounds the size of a single asset download.
func WithMaxBytes(n int64) Option {
	return func(h *Harvester) {
		h.maxBytes = n
	}
}

// WithIgnorePatterns skips sub-pages whose path matches any glob
// (e.g. "/admin/*", "*.pdf").
func WithIgnorePatterns(patterns []string) Option {
	return func(h *Harvester) {
		h.ignorePatterns = patterns
	}
}

// WithFollowPatterns restricts sub-pages to paths matching at least one glob.
func WithFollowPatterns(patterns []string) Option {
	return func(h *Harvester) {
		h.followPatterns = patterns
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harvester) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHarvester returns a Harvester that renders pages on surface and
// writes assets into outDir.
func NewHarvester(surface render.Surface, outDir string, opts ...Option) *Harvester {
	h := &Harvester{
		surface: surface,
		outDir:  outDir,
		client:  http.DefaultClient,
		cache:   dedup.New(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// run is the state of one Harvest call.
type run struct {
	h        *Harvester
	scope    model.Scope
	acquirer *acquire.Acquirer
	result   *model.HarvestResult

	// visited holds the rendered page URLs.
	visited *dedup.Set

	// enqueued holds the anchors already classified in this run.
	enqueued *dedup.Set
}

// Harvest visits every seed and returns the collected assets. Page and
// asset failures are logged and skipped. When ctx is canceled the partial
// result is returned with Truncated set.
func (h *Harvester) Harvest(ctx context.Context, seeds []string, scope model.Scope) (*model.HarvestResult, error) {
	if h.surface == nil {
		return nil, ErrNoSurface
	}
	if scope.MaxDepth < 0 || scope.Concurrency < 0 || scope.MaxScrolls < 0 || scope.Timeout < 0 {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidScope, scope)
	}
	if scope.Timeout == 0 {
		scope.Timeout = model.DefaultTimeout
	}
	if scope.Concurrency == 0 {
		scope.Concurrency = model.DefaultConcurrency
	}

	opts := []acquire.Option{
		acquire.WithMinSize(scope.MinSize),
		acquire.WithTimeout(scope.Timeout),
		acquire.WithLogger(h.logger),
	}
	if h.maxBytes > 0 {
		opts = append(opts, acquire.WithMaxBytes(h.maxBytes))
	}

	r := &run{
		h:        h,
		scope:    scope,
		acquirer: acquire.New(h.outDir, h.cache, h.client, h.surface, opts...),
		result:   model.NewHarvestResult(seeds),
		visited:  dedup.New(),
		enqueued: dedup.New(),
	}

	for _, seed := range seeds {
		r.visit(ctx, seed, 0)
	}

	if ctx.Err() != nil {
		r.result.Truncated = true
	}
	r.result.FinishedAt = time.Now()

	h.logger.Info("harvest finished",
		"pages", r.result.PagesVisited,
		"failed_pages", r.result.PagesFailed,
		"assets", r.result.Assets.Len(),
		"truncated", r.result.Truncated,
	)
	return r.result, nil
}

// visit renders pageURL, acquires its images and recurses into its
// sub-pages.
func (r *run) visit(ctx context.Context, pageURL string, depth int) {
	if depth > r.scope.MaxDepth {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !r.visited.TryClaim(pageURL) {
		return
	}

	r.h.logger.Info("visiting page", "url", pageURL, "depth", depth)

	links, err := r.collect(ctx, pageURL)
	if err != nil {
		r.result.PagesFailed++
		r.h.logger.Warn("page unavailable", "url", pageURL, "error", err)
		return
	}
	r.result.PagesVisited++

	images, subpages := r.classify(pageURL, depth, links)
	r.acquireAll(ctx, pageURL, images)

	for _, sub := range subpages {
		r.visit(ctx, sub, depth+1)
	}
}

// collect opens pageURL and scrolls it until the document height stops
// growing, merging the links seen after every scroll, including the last.
func (r *run) collect(ctx context.Context, pageURL string) (render.Links, error) {
	surface := r.h.surface

	if err := r.withTimeout(ctx, func(ctx context.Context) error {
		return surface.Open(ctx, pageURL)
	}); err != nil {
		return render.Links{}, err
	}

	var links render.Links
	if err := r.snapshot(ctx, &links); err != nil {
		return render.Links{}, err
	}

	var height int64
	if err := r.withTimeout(ctx, func(ctx context.Context) (err error) {
		height, err = surface.Height(ctx)
		return err
	}); err != nil {
		return links, nil
	}

	for range r.scope.MaxScrolls {
		if err := r.withTimeout(ctx, surface.ScrollToBottom); err != nil {
			r.h.logger.Debug("scroll failed", "url", pageURL, "error", err)
			break
		}
		if !sleep(ctx, r.scope.ScrollWait) {
			break
		}

		// A scroll may insert images without growing the document, so the
		// snapshot comes before the height check.
		if err := r.snapshot(ctx, &links); err != nil {
			r.h.logger.Debug("snapshot failed", "url", pageURL, "error", err)
			break
		}

		var next int64
		if err := r.withTimeout(ctx, func(ctx context.Context) (err error) {
			next, err = surface.Height(ctx)
			return err
		}); err != nil || next <= height {
			break
		}
		height = next
	}
	return links, nil
}

// snapshot extracts the current document's links into links.
func (r *run) snapshot(ctx context.Context, links *render.Links) error {
	var snap render.Snapshot
	if err := r.withTimeout(ctx, func(ctx context.Context) (err error) {
		snap, err = r.h.surface.Snapshot(ctx)
		return err
	}); err != nil {
		return err
	}

	extracted, err := render.Extract(snap)
	if err != nil {
		return err
	}
	links.Merge(extracted)
	return nil
}

// classify splits the collected links into images to acquire and sub-pages
// to visit at depth+1. Out-of-scope anchors are dropped.
func (r *run) classify(pageURL string, depth int, links render.Links) ([]string, []string) {
	images := append([]string(nil), links.Images...)
	var subpages []string

	for _, href := range links.Anchors {
		if !urlutil.SameDomain(pageURL, href, r.scope.BaseURL) {
			continue
		}
		if urlutil.IsImageURL(href) {
			if r.enqueued.TryClaim(href) {
				images = append(images, href)
			}
			continue
		}
		if depth+1 > r.scope.MaxDepth || !r.h.shouldFollow(href) {
			continue
		}
		if r.visited.Contains(href) || !r.enqueued.TryClaim(href) {
			continue
		}
		subpages = append(subpages, href)
	}
	return images, subpages
}

// acquireAll acquires images with up to Scope.Concurrency workers and
// commits every success to the result.
func (r *run) acquireAll(ctx context.Context, pageURL string, images []string) {
	var g errgroup.Group
	g.SetLimit(r.scope.Concurrency)

	for _, imageURL := range images {
		g.Go(func() error {
			asset, ok := r.acquirer.Acquire(ctx, imageURL, pageURL)
			if !ok {
				return nil
			}
			if !r.result.Record(asset, r.attribution(imageURL, pageURL)) {
				r.h.logger.Debug("filename already recorded", "file", asset.Filename, "url", imageURL)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never fail
}

// attribution returns the URL recorded against an asset.
func (r *run) attribution(imageURL, pageURL string) string {
	u := imageURL
	if r.scope.UsePageURL {
		u = pageURL
	}
	if !r.scope.IncludeFullQueryArgsInURL {
		u = urlutil.StripQuery(u)
	}
	return u
}

// withTimeout runs fn under Scope.Timeout.
func (r *run) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.scope.Timeout)
	defer cancel()
	return fn(ctx)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
