// Package urlutil provides URL helpers shared by the crawler and the asset
// acquirer: authority comparison, filename and extension extraction, and the
// MIME type table used when a URL carries no extension.
package urlutil

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// mimeExtensions maps image Content-Type values to file extensions.
var mimeExtensions = map[string]string{
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/bmp":     "bmp",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
	"image/tiff":    "tiff",
	"image/x-icon":  "ico",
	"image/avif":    "avif",
	"image/heic":    "heic",
}

// imageExtensions is the set of extensions treated as image assets.
var imageExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"bmp":  true,
	"webp": true,
	"svg":  true,
	"tiff": true,
	"tif":  true,
	"ico":  true,
	"avif": true,
	"heic": true,
	"heif": true,
}

// defaultPorts lists the implicit port of each scheme so that
// "http://a" and "http://a:80" compare equal.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// IsValidURL reports whether s looks like a fetchable web URL.
func IsValidURL(s string) bool {
	return strings.HasPrefix(s, "http")
}

// SameDomain reports whether a and b share scheme, host and port, and b
// starts with basePrefix. An empty basePrefix adds no restriction.
func SameDomain(a, b, basePrefix string) bool {
	ua, err := url.Parse(a)
	if err != nil || ua.Host == "" {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil || ub.Host == "" {
		return false
	}
	if authority(ua) != authority(ub) {
		return false
	}
	return basePrefix == "" || strings.HasPrefix(b, basePrefix)
}

// authority returns "scheme://host:port" with the default port filled in.
func authority(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = defaultPorts[scheme]
	}
	return scheme + "://" + host + ":" + port
}

// FilenameFromURL returns the last path segment of rawURL with the query
// string and fragment removed. It returns "" when rawURL has no '/'.
func FilenameFromURL(rawURL string) string {
	s := rawURL
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		return ""
	}
	return s[i+1:]
}

// extensionOf returns the lowercased suffix after the last '.' in name.
func extensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// StaticExtension returns the extension found in the URL path without
// touching the network.
func StaticExtension(rawURL string) string {
	return extensionOf(FilenameFromURL(rawURL))
}

// ExtensionFromURL returns the extension of the URL's filename. When the
// filename has none, it sends a HEAD request through client and maps the
// response Content-Type. Unknown types and failed lookups yield "".
func ExtensionFromURL(ctx context.Context, client Doer, rawURL string) string {
	if ext := StaticExtension(rawURL); ext != "" {
		return ext
	}
	if client == nil || !IsValidURL(rawURL) {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close() //nolint:errcheck // HEAD body is empty

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ""
	}
	return ExtensionForContentType(resp.Header.Get("Content-Type"))
}

// ExtensionForContentType maps a Content-Type header value to an extension.
func ExtensionForContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mimeExtensions[strings.ToLower(mediaType)]
}

// IsImageExtension reports whether ext (without the dot) names an image format.
func IsImageExtension(ext string) bool {
	return imageExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// IsImageURL reports whether the URL path ends in an image extension.
func IsImageURL(rawURL string) bool {
	return IsImageExtension(StaticExtension(rawURL))
}

// StripQuery removes the query string and fragment from rawURL.
func StripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Resolve resolves ref against base. It returns "" for references that are
// not fetchable web resources.
func Resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return ""
	}
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:", "blob:"} {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
