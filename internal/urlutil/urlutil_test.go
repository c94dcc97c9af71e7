package urlutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestSameDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		a      string
		b      string
		prefix string
		want   bool
	}{
		{
			name: "same authority without prefix",
			a:    "http://example.test/a",
			b:    "http://example.test/b",
			want: true,
		},
		{
			name: "different host",
			a:    "http://example.test/a",
			b:    "http://other.test/a",
			want: false,
		},
		{
			name: "different scheme",
			a:    "http://example.test/a",
			b:    "https://example.test/a",
			want: false,
		},
		{
			name: "different port",
			a:    "http://example.test:8080/a",
			b:    "http://example.test:9090/a",
			want: false,
		},
		{
			name: "default port is implicit",
			a:    "http://example.test/a",
			b:    "http://example.test:80/b",
			want: true,
		},
		{
			name:   "prefix matches",
			a:      "http://example.test/docs/",
			b:      "http://example.test/docs/page",
			prefix: "http://example.test/docs",
			want:   true,
		},
		{
			name:   "prefix does not match",
			a:      "http://example.test/docs/",
			b:      "http://example.test/blog/page",
			prefix: "http://example.test/docs",
			want:   false,
		},
		{
			name:   "prefix match does not rescue other authority",
			a:      "http://example.test/",
			b:      "http://other.test/docs",
			prefix: "http://other.test",
			want:   false,
		},
		{
			name: "relative b",
			a:    "http://example.test/",
			b:    "/relative",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := SameDomain(tt.a, tt.b, tt.prefix); got != tt.want {
				t.Errorf("SameDomain(%q, %q, %q) = %v, want %v", tt.a, tt.b, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestFilenameFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "http://example.test/img/photo.png", want: "photo.png"},
		{in: "http://example.test/img/photo.png?w=100&h=50", want: "photo.png"},
		{in: "http://example.test/img/photo.png#top", want: "photo.png"},
		{in: "http://example.test/img/", want: ""},
		{in: "http://example.test/a?next=/b/c.png", want: "a"},
		{in: "example.test", want: ""},
	}

	for _, tt := range tests {
		if got := FilenameFromURL(tt.in); got != tt.want {
			t.Errorf("FilenameFromURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtensionFromURL(t *testing.T) {
	t.Parallel()

	t.Run("uses path extension without network", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		got := ExtensionFromURL(context.Background(), server.Client(), server.URL+"/a/B.JPG?x=1")
		if got != "jpg" {
			t.Errorf("expected jpg, got %q", got)
		}
		if n := calls.Load(); n != 0 {
			t.Errorf("expected no request, got %d", n)
		}
	})

	t.Run("falls back to HEAD content type", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Content-Type", "image/svg+xml; charset=utf-8")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		got := ExtensionFromURL(context.Background(), server.Client(), server.URL+"/render")
		if got != "svg" {
			t.Errorf("expected svg, got %q", got)
		}
	})

	t.Run("unknown content type yields empty", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
		}))
		defer server.Close()

		if got := ExtensionFromURL(context.Background(), server.Client(), server.URL+"/page"); got != "" {
			t.Errorf("expected empty extension, got %q", got)
		}
	})

	t.Run("failed request yields empty", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		if got := ExtensionFromURL(context.Background(), server.Client(), server.URL+"/missing"); got != "" {
			t.Errorf("expected empty extension, got %q", got)
		}
	})
}

func TestExtensionForContentType(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"image/jpeg":          "jpg",
		"image/png":           "png",
		"image/gif":           "gif",
		"image/bmp":           "bmp",
		"image/webp":          "webp",
		"IMAGE/SVG+XML":       "svg",
		"image/tiff":          "tiff",
		"image/x-icon":        "ico",
		"image/avif":          "avif",
		"text/html":           "",
		"":                    "",
		"not a media type;;;": "",
	}
	for in, want := range tests {
		if got := ExtensionForContentType(in); got != want {
			t.Errorf("ExtensionForContentType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsValidURL(t *testing.T) {
	t.Parallel()

	if !IsValidURL("http://example.test") || !IsValidURL("https://example.test") {
		t.Error("expected http and https URLs to be valid")
	}
	if IsValidURL("ftp://example.test") || IsValidURL("/relative") || IsValidURL("") {
		t.Error("expected non-http URLs to be invalid")
	}
}

func TestStripQuery(t *testing.T) {
	t.Parallel()

	got := StripQuery("http://example.test/a.png?token=abc#frag")
	if got != "http://example.test/a.png" {
		t.Errorf("expected query and fragment stripped, got %q", got)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("http://example.test/dir/page.html")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		ref  string
		want string
	}{
		{ref: "/x.png", want: "http://example.test/x.png"},
		{ref: "y.jpg", want: "http://example.test/dir/y.jpg"},
		{ref: "https://cdn.test/z.gif", want: "https://cdn.test/z.gif"},
		{ref: "#anchor", want: ""},
		{ref: "javascript:void(0)", want: ""},
		{ref: "data:image/png;base64,AAAA", want: ""},
		{ref: "mailto:someone@example.test", want: ""},
		{ref: "", want: ""},
	}
	for _, tt := range tests {
		if got := Resolve(base, tt.ref); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}
