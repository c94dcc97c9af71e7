// Package crawler walks a site page by page and hands every image it finds
// to the acquirer.
//
// # Traversal
//
// A Harvester renders each page on a render.Surface, scrolls it until the
// document stops growing, and collects img sources and anchor hrefs after
// every scroll. Anchors on the same authority (and under the base URL
// prefix, when one is set) are classified: links to image files become
// assets, everything else becomes a sub-page one hop deeper.
//
// Pages are visited depth-first in discovery order. Each page URL is
// rendered at most once per Harvest call, and pages deeper than
// Scope.MaxDepth are never rendered.
//
// # Concurrency
//
// Page visits share one surface and run one at a time. Assets found on a
// page are acquired by up to Scope.Concurrency goroutines; when more than
// one runs, which of two assets with the same filename lands in the
// result first is not deterministic.
//
// # Usage
//
//	h := crawler.NewHarvester(surface, outDir, crawler.WithClient(client))
//	result, err := h.Harvest(ctx, []string{"https://example.com/"}, scope)
package crawler
