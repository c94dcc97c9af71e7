package render

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// BrowserOptions configures a Browser.
type BrowserOptions struct {
	// ExecPath is the Chrome binary. Empty lets chromedp search the usual locations.
	ExecPath string

	// ProxyURL routes browser traffic, for example "socks5://127.0.0.1:9050".
	ProxyURL string

	// UserAgent overrides the browser's own user agent. When empty, the
	// browser's default is used with its headless marker removed.
	UserAgent string

	// Timeout bounds every navigation, scroll, extraction and screenshot.
	Timeout time.Duration

	// ShowWindow disables headless mode.
	ShowWindow bool

	// Headers are sent with every browser request, for example a site's
	// Cookie header.
	Headers map[string]string

	// Logger receives debug output. Nil uses slog.Default().
	Logger *slog.Logger
}

// Browser is a Surface backed by one headless Chrome instance. The crawl
// page lives in the first tab; screenshots use short-lived tabs.
type Browser struct {
	mu sync.Mutex

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	userAgent string
	headers   network.Headers
	timeout   time.Duration
	logger    *slog.Logger
	opened    bool
}

var _ Surface = (*Browser)(nil)

// NewBrowser launches Chrome. A failure here is the one error a harvest
// cannot recover from.
func NewBrowser(ctx context.Context, opts BrowserOptions) (*Browser, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !opts.ShowWindow),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(ViewportWidth, ViewportHeight),
	)
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.ProxyURL != "" {
		execOpts = append(execOpts, chromedp.ProxyServer(opts.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		timeout:       opts.Timeout,
		logger:        logger,
	}

	// The first Run allocates the browser; a deadline on it would tear the
	// whole browser down when it fires.
	if err := chromedp.Run(browserCtx); err != nil {
		b.shutdown()
		return nil, fmt.Errorf("%w: %w", ErrBrowserStart, err)
	}

	startCtx, cancel := b.opCtx(ctx)
	defer cancel()

	ua := opts.UserAgent
	if ua == "" {
		if err := chromedp.Run(startCtx, chromedp.Evaluate(`navigator.userAgent`, &ua)); err != nil {
			b.shutdown()
			return nil, fmt.Errorf("%w: %w", ErrBrowserStart, err)
		}
		ua = stripHeadless(ua)
	}
	b.userAgent = ua
	if len(opts.Headers) > 0 {
		b.headers = make(network.Headers, len(opts.Headers))
		for k, v := range opts.Headers {
			b.headers[k] = v
		}
	}
	if err := chromedp.Run(startCtx, b.tabSetup()); err != nil {
		b.shutdown()
		return nil, fmt.Errorf("%w: %w", ErrBrowserStart, err)
	}
	logger.Debug("browser started", "user_agent", ua)

	return b, nil
}

// stripHeadless removes the headless marker some sites use to block bots.
func stripHeadless(ua string) string {
	return strings.ReplaceAll(ua, "Headless", "")
}

// tabSetup applies the user agent and extra headers to the current tab.
func (b *Browser) tabSetup() chromedp.Tasks {
	tasks := chromedp.Tasks{emulation.SetUserAgentOverride(b.userAgent)}
	if len(b.headers) > 0 {
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(b.headers))
	}
	return tasks
}

// UserAgent returns the user agent presented to sites.
func (b *Browser) UserAgent() string {
	return b.userAgent
}

// opCtx derives a context for one browser operation from the tab context.
// It ends at the operation timeout or when parent is cancelled.
func (b *Browser) opCtx(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(b.browserCtx, b.timeout)
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Open implements Surface.
func (b *Browser) Open(ctx context.Context, rawURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	runCtx, cancel := b.opCtx(ctx)
	defer cancel()

	b.opened = false
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("open %s: %w", rawURL, err)
	}
	b.opened = true
	return nil
}

// Height implements Surface.
func (b *Browser) Height(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.opened {
		return 0, ErrNoPage
	}
	runCtx, cancel := b.opCtx(ctx)
	defer cancel()

	var h float64
	if err := chromedp.Run(runCtx, chromedp.Evaluate(
		`Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight)`, &h,
	)); err != nil {
		return 0, fmt.Errorf("read document height: %w", err)
	}
	return int64(h), nil
}

// ScrollToBottom implements Surface.
func (b *Browser) ScrollToBottom(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.opened {
		return ErrNoPage
	}
	runCtx, cancel := b.opCtx(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Evaluate(
		`window.scrollTo(0, document.documentElement.scrollHeight)`, nil,
	)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// Snapshot implements Surface.
func (b *Browser) Snapshot(ctx context.Context) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.opened {
		return Snapshot{}, ErrNoPage
	}
	runCtx, cancel := b.opCtx(ctx)
	defer cancel()

	var snap Snapshot
	if err := chromedp.Run(runCtx,
		chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery),
		chromedp.Location(&snap.URL),
	); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

// Screenshot implements Surface. It opens rawURL in a fresh tab so the
// crawl page keeps its scroll position and DOM.
func (b *Browser) Screenshot(ctx context.Context, rawURL string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	defer tabCancel()

	runCtx, cancel := context.WithTimeout(tabCtx, b.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var buf []byte
	if err := chromedp.Run(runCtx,
		b.tabSetup(),
		chromedp.EmulateViewport(ViewportWidth, ViewportHeight),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.FullScreenshot(&buf, 100),
	); err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", rawURL, err)
	}
	return buf, nil
}

// Close implements Surface.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.shutdown()
	return nil
}

func (b *Browser) shutdown() {
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.opened = false
}
