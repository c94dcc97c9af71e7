// Package rendertest provides an in-memory render.Surface for tests.
package rendertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/nao1215/webimg/internal/render"
)

// Page is one scripted document. Each entry of Lazy is appended to HTML
// after one more scroll, and the document grows accordingly.
type Page struct {
	HTML string
	Lazy []string
}

// Fake is a scripted render.Surface. It records every URL it opens and
// every screenshot it takes.
type Fake struct {
	mu sync.Mutex

	pages       map[string]Page
	screenshots map[string][]byte
	failShots   map[string]bool

	// ShotSize is the size of generated screenshots.
	ShotSize image.Point

	// FixedHeight, when positive, is reported by Height regardless of how
	// much lazy content has been revealed.
	FixedHeight int64

	current  string
	revealed int
	opened   []string
	shots    []string
	closed   bool
}

var _ render.Surface = (*Fake)(nil)

// New returns an empty Fake whose screenshots are 1920x1080.
func New() *Fake {
	return &Fake{
		pages:       make(map[string]Page),
		screenshots: make(map[string][]byte),
		failShots:   make(map[string]bool),
		ShotSize:    image.Pt(render.ViewportWidth, render.ViewportHeight),
	}
}

// AddPage registers html at rawURL. lazy holds fragments revealed by scrolling.
func (f *Fake) AddPage(rawURL, html string, lazy ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pages[rawURL] = Page{HTML: html, Lazy: lazy}
}

// SetScreenshot makes Screenshot of rawURL return data.
func (f *Fake) SetScreenshot(rawURL string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.screenshots[rawURL] = data
}

// FailScreenshot makes Screenshot of rawURL fail.
func (f *Fake) FailScreenshot(rawURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failShots[rawURL] = true
}

// Opened returns the URLs passed to Open, in order.
func (f *Fake) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.opened...)
}

// Screenshots returns the URLs passed to Screenshot, in order.
func (f *Fake) Screenshots() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.shots...)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

// Open implements render.Surface. Unknown URLs fail.
func (f *Fake) Open(ctx context.Context, rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened = append(f.opened, rawURL)
	f.current = ""
	f.revealed = 0
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := f.pages[rawURL]; !ok {
		return fmt.Errorf("fake: no page at %s", rawURL)
	}
	f.current = rawURL
	return nil
}

// Height implements render.Surface.
func (f *Fake) Height(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == "" {
		return 0, render.ErrNoPage
	}
	if f.FixedHeight > 0 {
		return f.FixedHeight, nil
	}
	return int64(1000 * (f.revealed + 1)), nil
}

// ScrollToBottom implements render.Surface.
func (f *Fake) ScrollToBottom(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == "" {
		return render.ErrNoPage
	}
	if f.revealed < len(f.pages[f.current].Lazy) {
		f.revealed++
	}
	return nil
}

// Snapshot implements render.Surface.
func (f *Fake) Snapshot(_ context.Context) (render.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == "" {
		return render.Snapshot{}, render.ErrNoPage
	}
	page := f.pages[f.current]
	html := page.HTML + strings.Join(page.Lazy[:f.revealed], "")
	return render.Snapshot{HTML: html, URL: f.current}, nil
}

// Screenshot implements render.Surface. Without a registered image it
// returns a generated PNG of ShotSize.
func (f *Fake) Screenshot(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.shots = append(f.shots, rawURL)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failShots[rawURL] {
		return nil, fmt.Errorf("fake: screenshot of %s failed", rawURL)
	}
	if data, ok := f.screenshots[rawURL]; ok {
		return data, nil
	}
	return PNG(f.ShotSize.X, f.ShotSize.Y), nil
}

// Close implements render.Surface.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// PNG returns an opaque w x h PNG.
func PNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.NRGBA{R: 0xff, A: 0xff})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
