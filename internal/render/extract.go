package render

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/webimg/internal/urlutil"
)

// Links holds the resources found in one DOM snapshot.
type Links struct {
	// Images are resolved img sources in document order, without duplicates.
	Images []string
	// Anchors are resolved anchor hrefs in document order, without duplicates.
	Anchors []string
}

// Extract parses snap and resolves every img source and anchor href
// against the document base URL. A <base href> element takes precedence
// over snap.URL. Inline data, script and mail links are dropped.
func Extract(snap Snapshot) (Links, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return Links{}, err
	}

	base, _ := url.Parse(snap.URL) //nolint:errcheck // nil base leaves absolute URLs untouched
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := url.Parse(strings.TrimSpace(href)); err == nil {
			if base != nil {
				b = base.ResolveReference(b)
			}
			base = b
		}
	}

	var links Links
	seenImg := make(map[string]bool)
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := imageSource(s)
		if resolved := urlutil.Resolve(base, src); resolved != "" && !seenImg[resolved] {
			seenImg[resolved] = true
			links.Images = append(links.Images, resolved)
		}
	})

	seenHref := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if resolved := urlutil.Resolve(base, href); resolved != "" && !seenHref[resolved] {
			seenHref[resolved] = true
			links.Anchors = append(links.Anchors, resolved)
		}
	})

	return links, nil
}

// imageSource returns the src attribute, falling back to the common
// lazy-loading attributes when src is empty or an inline placeholder.
func imageSource(s *goquery.Selection) string {
	src := strings.TrimSpace(s.AttrOr("src", ""))
	if src != "" && !strings.HasPrefix(strings.ToLower(src), "data:") {
		return src
	}
	for _, attr := range []string{"data-src", "data-original", "data-lazy-src"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return src
}

// Merge appends the entries of other that l does not contain yet.
func (l *Links) Merge(other Links) {
	l.Images = mergeUnique(l.Images, other.Images)
	l.Anchors = mergeUnique(l.Anchors, other.Anchors)
}

func mergeUnique(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range src {
		if !seen[v] {
			seen[v] = true
			dst = append(dst, v)
		}
	}
	return dst
}
