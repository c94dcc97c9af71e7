package acquire

import (
	"bytes"
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gen2brain/avif"
	"golang.org/x/image/bmp"

	"github.com/nao1215/webimg/internal/dedup"
	"github.com/nao1215/webimg/internal/model"
	"github.com/nao1215/webimg/internal/render/rendertest"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><rect width="10" height="10" fill="#000"/></svg>`

// assetServer serves generated images and counts requests per path.
type assetServer struct {
	*httptest.Server

	mu   sync.Mutex
	hits map[string]int
}

func newAssetServer(t *testing.T) *assetServer {
	t.Helper()

	s := &assetServer{hits: make(map[string]int)}
	mux := http.NewServeMux()
	png := func(w, h int) http.HandlerFunc {
		data := rendertest.PNG(w, h)
		return func(rw http.ResponseWriter, _ *http.Request) {
			rw.Header().Set("Content-Type", "image/png")
			_, _ = rw.Write(data)
		}
	}
	mux.Handle("/small.png", png(640, 480))
	mux.Handle("/large.png", png(1024, 768))
	mux.Handle("/a/x.png", png(20, 20))
	mux.Handle("/b/x.png", png(30, 30))
	mux.HandleFunc("/logo.svg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte(testSVG))
	})
	mux.HandleFunc("/logo", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte(testSVG))
	})
	mux.HandleFunc("/old.bmp", func(w http.ResponseWriter, _ *http.Request) {
		var buf bytes.Buffer
		_ = bmp.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 9)))
		w.Header().Set("Content-Type", "image/bmp")
		_, _ = w.Write(buf.Bytes())
	})
	mux.HandleFunc("/pic.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte(testSVG))
	})
	mux.Handle("/clip.avif", serveBytes("image/avif", encodeAVIF(t, 64, 48)))
	mux.Handle("/broken.webp", serveBytes("image/webp", []byte("RIFF\x00\x00\x00\x00WEBPjunk")))
	heicData, err := os.ReadFile("testdata/sample.heic")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	mux.Handle("/sample.heic", serveBytes("image/heic", heicData))
	mux.HandleFunc("/viewer.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>login required</body></html>"))
	})

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func serveBytes(contentType string, data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
	}
}

// encodeAVIF returns an opaque w x h AVIF.
func encodeAVIF(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := avif.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

// listDir returns the names of the files in dir.
func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (s *assetServer) count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hits[method+" "+path]
}

func newTestAcquirer(t *testing.T, srv *assetServer, surface *rendertest.Fake, opts ...Option) (*Acquirer, string) {
	t.Helper()

	dir := t.TempDir()
	opts = append([]Option{WithTimeout(5 * time.Second)}, opts...)
	var a *Acquirer
	if surface == nil {
		a = New(dir, dedup.New(), srv.Client(), nil, opts...)
	} else {
		a = New(dir, dedup.New(), srv.Client(), surface, opts...)
	}
	return a, dir
}

func TestAcquire_Direct(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	a, dir := newTestAcquirer(t, srv, rendertest.New())

	asset, ok := a.Acquire(context.Background(), srv.URL+"/large.png", srv.URL+"/page")
	if !ok {
		t.Fatal("expected asset to be acquired")
	}
	if asset.Filename != "large.png" {
		t.Errorf("expected filename large.png, got %q", asset.Filename)
	}
	if asset.Strategy != model.StrategyDirect {
		t.Errorf("expected direct strategy, got %q", asset.Strategy)
	}
	if asset.Size != (model.Size{Width: 1024, Height: 768}) {
		t.Errorf("expected 1024x768, got %v", asset.Size)
	}
	if asset.PageURL != srv.URL+"/page" || asset.SourceURL != srv.URL+"/large.png" {
		t.Errorf("unexpected URLs: %+v", asset)
	}
	if len(asset.Digest) != 64 {
		t.Errorf("expected hex SHA3-256 digest, got %q", asset.Digest)
	}
	if _, err := os.Stat(filepath.Join(dir, "large.png")); err != nil {
		t.Errorf("expected file on disk: %v", err)
	}
}

func TestAcquire_Dedup(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	a, dir := newTestAcquirer(t, srv, rendertest.New())

	if _, ok := a.Acquire(context.Background(), srv.URL+"/large.png", ""); !ok {
		t.Fatal("expected first acquisition to succeed")
	}
	if _, ok := a.Acquire(context.Background(), srv.URL+"/large.png", ""); ok {
		t.Error("expected second acquisition to be a no-op")
	}
	if n := srv.count(http.MethodGet, "/large.png"); n != 1 {
		t.Errorf("expected exactly 1 download, got %d", n)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected 1 file, got %d", len(entries))
	}
}

func TestAcquire_SharedCacheAcrossAcquirers(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	cache := dedup.New()
	first := New(t.TempDir(), cache, srv.Client(), nil)
	second := New(t.TempDir(), cache, srv.Client(), nil)

	if _, ok := first.Acquire(context.Background(), srv.URL+"/large.png", ""); !ok {
		t.Fatal("expected first acquisition to succeed")
	}
	if _, ok := second.Acquire(context.Background(), srv.URL+"/large.png", ""); ok {
		t.Error("expected URL claimed by another acquirer to be skipped")
	}
}

func TestAcquire_MinSize(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	surface := rendertest.New()
	minSize := &model.Size{Width: 800, Height: 600}
	a, dir := newTestAcquirer(t, srv, surface, WithMinSize(minSize))

	if _, ok := a.Acquire(context.Background(), srv.URL+"/small.png", ""); ok {
		t.Error("expected 640x480 to be rejected")
	}
	if _, err := os.Stat(filepath.Join(dir, "small.png")); !os.IsNotExist(err) {
		t.Errorf("expected no file for rejected asset, stat err = %v", err)
	}
	if shots := surface.Screenshots(); len(shots) != 0 {
		t.Errorf("expected no screenshot after rejection, got %v", shots)
	}

	if _, ok := a.Acquire(context.Background(), srv.URL+"/large.png", ""); !ok {
		t.Error("expected 1024x768 to be accepted")
	}
}

func TestAcquire_FilenameCollision(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	a, dir := newTestAcquirer(t, srv, nil)

	first, ok := a.Acquire(context.Background(), srv.URL+"/a/x.png", "")
	if !ok {
		t.Fatal("expected first asset")
	}
	second, ok := a.Acquire(context.Background(), srv.URL+"/b/x.png", "")
	if !ok {
		t.Fatal("expected second asset")
	}

	if first.Filename != "x.png" {
		t.Errorf("expected first to keep x.png, got %q", first.Filename)
	}
	if !regexp.MustCompile(`^[a-z]{10}\.png$`).MatchString(second.Filename) {
		t.Errorf("expected random 10-letter name, got %q", second.Filename)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("expected 2 files, got %d", len(entries))
	}
}

func TestAcquire_ScreenshotFallback(t *testing.T) {
	t.Parallel()

	t.Run("missing raster falls back to screenshot", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		surface := rendertest.New()
		a, dir := newTestAcquirer(t, srv, surface)

		asset, ok := a.Acquire(context.Background(), srv.URL+"/gone.jpg", "")
		if !ok {
			t.Fatal("expected screenshot asset")
		}
		if asset.Strategy != model.StrategyScreenshot {
			t.Errorf("expected screenshot strategy, got %q", asset.Strategy)
		}
		if asset.Filename != "gone.png" {
			t.Errorf("expected gone.png, got %q", asset.Filename)
		}
		if _, err := os.Stat(filepath.Join(dir, asset.Filename)); err != nil {
			t.Errorf("expected screenshot on disk: %v", err)
		}
	})

	t.Run("failed avif fetch yields png screenshot", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		surface := rendertest.New()
		a, dir := newTestAcquirer(t, srv, surface)

		asset, ok := a.Acquire(context.Background(), srv.URL+"/photo.avif", "")
		if !ok {
			t.Fatal("expected screenshot asset")
		}
		if asset.Strategy != model.StrategyScreenshot {
			t.Errorf("expected screenshot strategy, got %q", asset.Strategy)
		}
		if !strings.HasSuffix(asset.Filename, ".png") {
			t.Errorf("expected png file, got %q", asset.Filename)
		}
		data, err := os.ReadFile(filepath.Join(dir, asset.Filename))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.HasPrefix(data, []byte("\x89PNG")) {
			t.Error("expected PNG content")
		}
		if shots := surface.Screenshots(); len(shots) != 1 || shots[0] != srv.URL+"/photo.avif" {
			t.Errorf("expected one screenshot of the avif URL, got %v", shots)
		}
	})

	t.Run("html behind image URL falls back to screenshot", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		surface := rendertest.New()
		a, _ := newTestAcquirer(t, srv, surface)

		asset, ok := a.Acquire(context.Background(), srv.URL+"/viewer.jpg", "")
		if !ok {
			t.Fatal("expected screenshot asset")
		}
		if asset.Strategy != model.StrategyScreenshot {
			t.Errorf("expected screenshot strategy, got %q", asset.Strategy)
		}
	})

	t.Run("no surface means no asset", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		a, dir := newTestAcquirer(t, srv, nil)

		if _, ok := a.Acquire(context.Background(), srv.URL+"/gone.jpg", ""); ok {
			t.Error("expected no asset")
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected empty output dir, got %d entries", len(entries))
		}
	})

	t.Run("failed screenshot means no asset", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		surface := rendertest.New()
		surface.FailScreenshot(srv.URL + "/gone.jpg")
		a, _ := newTestAcquirer(t, srv, surface)

		if _, ok := a.Acquire(context.Background(), srv.URL+"/gone.jpg", ""); ok {
			t.Error("expected no asset")
		}
	})

	t.Run("small screenshot is filtered", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		surface := rendertest.New()
		surface.ShotSize = image.Pt(100, 100)
		a, _ := newTestAcquirer(t, srv, surface, WithMinSize(&model.Size{Width: 800, Height: 600}))

		if _, ok := a.Acquire(context.Background(), srv.URL+"/gone.jpg", ""); ok {
			t.Error("expected small screenshot to be rejected")
		}
	})
}

func TestAcquire_Convert(t *testing.T) {
	t.Parallel()

	t.Run("svg is rasterized and original kept", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		a, dir := newTestAcquirer(t, srv, nil, WithMinSize(&model.Size{Width: 4000, Height: 4000}))

		asset, ok := a.Acquire(context.Background(), srv.URL+"/logo.svg", "")
		if !ok {
			t.Fatal("expected svg to be rasterized regardless of minimum size")
		}
		if asset.Filename != "logo.png" || asset.Strategy != model.StrategyConvert {
			t.Errorf("unexpected asset %+v", asset)
		}
		if asset.Size != (model.Size{Width: 1920, Height: 1080}) {
			t.Errorf("expected 1920x1080 canvas, got %v", asset.Size)
		}
		if _, err := os.Stat(filepath.Join(dir, "logo.svg")); err != nil {
			t.Errorf("expected original svg to be kept: %v", err)
		}
	})

	t.Run("extensionless URL is routed by HEAD content type", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		a, _ := newTestAcquirer(t, srv, nil)

		asset, ok := a.Acquire(context.Background(), srv.URL+"/logo", "")
		if !ok {
			t.Fatal("expected asset")
		}
		if asset.Filename != "logo.png" || asset.Strategy != model.StrategyConvert {
			t.Errorf("unexpected asset %+v", asset)
		}
		if srv.count(http.MethodHead, "/logo") != 1 {
			t.Errorf("expected one HEAD request, got %d", srv.count(http.MethodHead, "/logo"))
		}
	})

	t.Run("avif is converted to png", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		a, dir := newTestAcquirer(t, srv, rendertest.New())

		asset, ok := a.Acquire(context.Background(), srv.URL+"/clip.avif", "")
		if !ok {
			t.Fatal("expected asset")
		}
		if asset.Filename != "clip.png" || asset.Format != "png" || asset.Strategy != model.StrategyConvert {
			t.Errorf("unexpected asset %+v", asset)
		}
		if asset.Size != (model.Size{Width: 64, Height: 48}) {
			t.Errorf("expected 64x48, got %v", asset.Size)
		}
		if names := listDir(t, dir); len(names) != 1 || names[0] != "clip.png" {
			t.Errorf("expected only clip.png on disk, got %v", names)
		}
	})

	t.Run("heic is converted to jpeg", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		a, dir := newTestAcquirer(t, srv, rendertest.New())

		asset, ok := a.Acquire(context.Background(), srv.URL+"/sample.heic", "")
		if !ok {
			t.Fatal("expected asset")
		}
		if asset.Filename != "sample.jpeg" || asset.Format != "jpeg" {
			t.Errorf("unexpected asset %+v", asset)
		}
		if asset.Size != (model.Size{Width: 512, Height: 512}) {
			t.Errorf("expected 512x512, got %v", asset.Size)
		}
		data, err := os.ReadFile(filepath.Join(dir, "sample.jpeg"))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}) {
			t.Error("expected JPEG content")
		}
		if names := listDir(t, dir); len(names) != 1 {
			t.Errorf("expected raw heic to be removed, got %v", names)
		}
	})

	t.Run("converted asset below minimum is removed", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		surface := rendertest.New()
		a, dir := newTestAcquirer(t, srv, surface, WithMinSize(&model.Size{Width: 800, Height: 600}))

		if _, ok := a.Acquire(context.Background(), srv.URL+"/clip.avif", ""); ok {
			t.Fatal("expected 64x48 asset to be rejected")
		}
		if names := listDir(t, dir); len(names) != 0 {
			t.Errorf("expected empty output dir, got %v", names)
		}
		if shots := surface.Screenshots(); len(shots) != 0 {
			t.Errorf("expected no screenshot after rejection, got %v", shots)
		}
	})

	t.Run("corrupt webp falls back to screenshot", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		surface := rendertest.New()
		a, dir := newTestAcquirer(t, srv, surface)

		asset, ok := a.Acquire(context.Background(), srv.URL+"/broken.webp", "")
		if !ok {
			t.Fatal("expected screenshot asset")
		}
		if asset.Strategy != model.StrategyScreenshot || asset.Filename != "broken.png" {
			t.Errorf("unexpected asset %+v", asset)
		}
		if names := listDir(t, dir); len(names) != 1 || names[0] != "broken.png" {
			t.Errorf("expected only the screenshot on disk, got %v", names)
		}
		if shots := surface.Screenshots(); len(shots) != 1 || shots[0] != srv.URL+"/broken.webp" {
			t.Errorf("expected one screenshot of the webp URL, got %v", shots)
		}
	})

	t.Run("svg served under png name keeps svg extension", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		a, dir := newTestAcquirer(t, srv, nil)

		asset, ok := a.Acquire(context.Background(), srv.URL+"/pic.png", "")
		if !ok {
			t.Fatal("expected asset")
		}
		if asset.Filename != "pic.png" || asset.Strategy != model.StrategyConvert {
			t.Errorf("unexpected asset %+v", asset)
		}

		png, err := os.ReadFile(filepath.Join(dir, "pic.png"))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.HasPrefix(png, []byte("\x89PNG")) {
			t.Error("expected pic.png to hold PNG content")
		}
		svg, err := os.ReadFile(filepath.Join(dir, "pic.svg"))
		if err != nil {
			t.Fatalf("expected original kept as pic.svg: %v", err)
		}
		if !bytes.HasPrefix(svg, []byte("<svg")) {
			t.Error("expected pic.svg to hold the SVG document")
		}
		if names := listDir(t, dir); len(names) != 2 {
			t.Errorf("expected pic.png and pic.svg only, got %v", names)
		}
	})

	t.Run("bmp is stored as png", func(t *testing.T) {
		t.Parallel()

		srv := newAssetServer(t)
		a, dir := newTestAcquirer(t, srv, nil)

		asset, ok := a.Acquire(context.Background(), srv.URL+"/old.bmp", "")
		if !ok {
			t.Fatal("expected asset")
		}
		if asset.Filename != "old.png" || asset.Format != "png" {
			t.Errorf("unexpected asset %+v", asset)
		}
		if _, err := os.Stat(filepath.Join(dir, "old.bmp")); !os.IsNotExist(err) {
			t.Errorf("expected raw bmp to be removed, stat err = %v", err)
		}
	})
}

func TestAcquire_InvalidURL(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	a, _ := newTestAcquirer(t, srv, rendertest.New())

	for _, u := range []string{"", "/relative.png", "ftp://example.test/a.png", "data:image/png;base64,AAAA"} {
		if _, ok := a.Acquire(context.Background(), u, ""); ok {
			t.Errorf("expected %q to be ignored", u)
		}
	}
}

func TestCandidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		ext  string
		want string
	}{
		{url: "http://example.test/img/photo.png?w=1", ext: "png", want: "photo.png"},
		{url: "http://example.test/img/photo", ext: "gif", want: "photo.gif"},
		{url: "http://example.test/img/photo", ext: "", want: "photo.jpeg"},
		{url: "http://example.test/view.php", ext: "php", want: "view.php.jpeg"},
		{url: `http://example.test/a%22b/we*ird:na|me.jpg`, ext: "jpg", want: "weirdname.jpg"},
	}
	for _, tt := range tests {
		if got := candidateName(tt.url, tt.ext); got != tt.want {
			t.Errorf("candidateName(%q, %q) = %q, want %q", tt.url, tt.ext, got, tt.want)
		}
	}
}

func TestClaim(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, first, err := claim(dir, "a.png")
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := claim(dir, "a.png")
	if err != nil {
		t.Fatal(err)
	}
	if first != "a.png" || second == "a.png" || filepath.Ext(second) != ".png" {
		t.Errorf("unexpected names %q and %q", first, second)
	}

	_, hidden, err := claim(dir, ".jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^[a-z]{10}\.jpeg$`).MatchString(hidden) {
		t.Errorf("expected random name for empty base, got %q", hidden)
	}
}
