// Package render provides the rendering surfaces the crawler drives.
//
// A Surface holds one page at a time. The crawler opens a page, scrolls it
// until its height stops growing, and then takes a Snapshot of the DOM.
// Screenshot captures an arbitrary URL without disturbing the open page.
//
// Two implementations exist. Browser drives headless Chrome through
// chromedp and runs page scripts. Static fetches the HTML over HTTP and is
// used when no browser is available; it cannot take screenshots.
package render

import (
	"context"
	"errors"
)

// Default viewport, also used as the minimum screenshot canvas.
const (
	ViewportWidth  = 1920
	ViewportHeight = 1080
)

var (
	// ErrScreenshotUnsupported is returned by surfaces that cannot capture images.
	ErrScreenshotUnsupported = errors.New("surface does not support screenshots")

	// ErrNoPage is returned when a page operation runs before Open.
	ErrNoPage = errors.New("no page is open")

	// ErrBrowserStart is returned when the browser cannot be launched.
	ErrBrowserStart = errors.New("failed to start browser")
)

// Snapshot is the DOM of the open page at one point in time.
type Snapshot struct {
	// HTML is the serialized document.
	HTML string
	// URL is the document URL after redirects.
	URL string
}

// Surface is a rendering session. Implementations serialize calls; a
// Surface is safe for concurrent use but runs one operation at a time.
type Surface interface {
	// Open navigates to rawURL and blocks until the document is ready.
	Open(ctx context.Context, rawURL string) error

	// Height returns the scroll height of the open document.
	Height(ctx context.Context) (int64, error)

	// ScrollToBottom scrolls the open document to its end.
	ScrollToBottom(ctx context.Context) error

	// Snapshot returns the current DOM of the open document.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Screenshot renders rawURL and returns a full-page PNG.
	Screenshot(ctx context.Context, rawURL string) ([]byte, error)

	// Close releases the session.
	Close() error
}
