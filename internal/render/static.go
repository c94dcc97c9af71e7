package render

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// maxPageBytes bounds the HTML read by Static.
const maxPageBytes = 10 * 1024 * 1024

// Static is a Surface that fetches HTML over HTTP without running scripts.
// Its document height never changes, so the scroll loop stops after one
// pass. It cannot take screenshots.
type Static struct {
	mu     sync.Mutex
	client *http.Client
	page   *Snapshot
}

var _ Surface = (*Static)(nil)

// NewStatic returns a Static surface using client.
func NewStatic(client *http.Client) *Static {
	if client == nil {
		client = http.DefaultClient
	}
	return &Static{client: client}
}

// Open implements Surface.
func (s *Static) Open(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.page = nil

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("open %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("open %s: %w", rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("open %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("open %s: %w", rawURL, err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	s.page = &Snapshot{HTML: string(body), URL: finalURL}
	return nil
}

// readBody decodes the response according to its Content-Encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close() //nolint:errcheck // reader only
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close() //nolint:errcheck // reader only
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Height implements Surface. It reports the HTML length, which is constant
// for a static page.
func (s *Static) Height(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return 0, ErrNoPage
	}
	return int64(len(s.page.HTML)), nil
}

// ScrollToBottom implements Surface. It is a no-op.
func (s *Static) ScrollToBottom(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return ErrNoPage
	}
	return nil
}

// Snapshot implements Surface.
func (s *Static) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return Snapshot{}, ErrNoPage
	}
	return *s.page, nil
}

// Screenshot implements Surface. It always fails.
func (s *Static) Screenshot(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrScreenshotUnsupported
}

// Close implements Surface.
func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.page = nil
	return nil
}
