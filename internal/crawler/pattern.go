package crawler

import (
	"net/url"
	"path/filepath"
	"strings"
)

// shouldFollow reports whether a sub-page passes the ignore and follow
// patterns. Ignore patterns win; when follow patterns are set, the path
// must match at least one of them.
func (h *Harvester) shouldFollow(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range h.ignorePatterns {
		if matchPattern(pattern, path) {
			return false
		}
	}
	if len(h.followPatterns) == 0 {
		return true
	}
	for _, pattern := range h.followPatterns {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPattern reports whether path matches a glob pattern.
//   - "/admin/*" matches "/admin" and everything below it
//   - "*.pdf" matches any path ending in ".pdf"
//   - otherwise filepath.Match rules apply, and a pattern without "/" is
//     also tried against the last path element
func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	if ext, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(ext, ".") && !strings.ContainsAny(ext, "*?[") {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	if matched, err := filepath.Match(pattern, path); err == nil && matched {
		return true
	}
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}
	return false
}
