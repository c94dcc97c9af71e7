package model

import (
	"encoding/json"
	"sync"
	"time"
)

// Strategy names the acquisition step that produced an asset.
type Strategy string

const (
	// StrategyDirect is a plain HTTP download of a raster image.
	StrategyDirect Strategy = "direct"
	// StrategyConvert is a raw download followed by format conversion.
	StrategyConvert Strategy = "convert"
	// StrategyScreenshot is a full-page capture of the asset URL.
	StrategyScreenshot Strategy = "screenshot"
)

// Asset is the result of one successful acquisition.
type Asset struct {
	// Filename is the file name relative to the output directory.
	Filename string `json:"filename"`

	// LocalPath is the absolute or output-relative path on disk.
	LocalPath string `json:"-"`

	// SourceURL is the URL the asset was acquired from.
	SourceURL string `json:"source_url"`

	// PageURL is the page the asset was discovered on.
	PageURL string `json:"page_url"`

	// Size is the probed pixel size. Zero when unknown.
	Size Size `json:"size"`

	// Format is the on-disk format extension, for example "png".
	Format string `json:"format"`

	// Strategy is the acquisition step that succeeded.
	Strategy Strategy `json:"strategy"`

	// Digest is the hex SHA3-256 of the file contents.
	Digest string `json:"digest,omitempty"`
}

// AssetMap maps local filenames to attribution URLs. The first writer of a
// key wins and later writes are ignored. Iteration follows insertion order.
// It is safe for concurrent use; with concurrent writers, which writer is
// first is not deterministic.
type AssetMap struct {
	mu    sync.RWMutex
	urls  map[string]string
	order []string
}

// NewAssetMap returns an empty AssetMap.
func NewAssetMap() *AssetMap {
	return &AssetMap{urls: make(map[string]string)}
}

// Add records filename → url unless filename is already present.
// It reports whether the entry was added.
func (m *AssetMap) Add(filename, url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.urls[filename]; ok {
		return false
	}
	m.urls[filename] = url
	m.order = append(m.order, filename)
	return true
}

// Get returns the attribution URL for filename.
func (m *AssetMap) Get(filename string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.urls[filename]
	return u, ok
}

// Len returns the number of entries.
func (m *AssetMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.order)
}

// Entry is one filename → URL pair.
type Entry struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Entries returns a snapshot of the map in insertion order.
func (m *AssetMap) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.order))
	for _, name := range m.order {
		entries = append(entries, Entry{Filename: name, URL: m.urls[name]})
	}
	return entries
}

// MarshalJSON encodes the map as a JSON object.
func (m *AssetMap) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return json.Marshal(m.urls)
}

// HarvestResult is what a harvest returns to its caller.
type HarvestResult struct {
	mu sync.Mutex

	// Assets is the filename → attribution URL map.
	Assets *AssetMap

	// Records holds the details of every asset in Assets, in the same order.
	Records []Asset

	// Seeds are the start URLs.
	Seeds []string

	// PagesVisited counts pages that were rendered successfully.
	PagesVisited int

	// PagesFailed counts pages that could not be rendered.
	PagesFailed int

	// Truncated is set when the harvest stopped early on cancellation.
	Truncated bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewHarvestResult returns an empty result for the given seeds.
func NewHarvestResult(seeds []string) *HarvestResult {
	return &HarvestResult{
		Assets:    NewAssetMap(),
		Seeds:     append([]string(nil), seeds...),
		StartedAt: time.Now(),
	}
}

// Record commits a to the result under attribution. It reports false when
// the filename was already taken, in which case a is dropped.
func (r *HarvestResult) Record(a Asset, attribution string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Assets.Add(a.Filename, attribution) {
		return false
	}
	r.Records = append(r.Records, a)
	return true
}

// Merge folds other into r. Assets keep their attribution and the
// first-writer rule applies across both results. Counters add up and the
// time span widens to cover both runs.
func (r *HarvestResult) Merge(other *HarvestResult) {
	if other == nil || other == r {
		return
	}
	other.mu.Lock()
	records := append([]Asset(nil), other.Records...)
	seeds := append([]string(nil), other.Seeds...)
	visited, failed, truncated := other.PagesVisited, other.PagesFailed, other.Truncated
	started, finished := other.StartedAt, other.FinishedAt
	other.mu.Unlock()

	for _, a := range records {
		attribution, ok := other.Assets.Get(a.Filename)
		if !ok {
			attribution = a.SourceURL
		}
		r.Record(a, attribution)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.Seeds = append(r.Seeds, seeds...)
	r.PagesVisited += visited
	r.PagesFailed += failed
	r.Truncated = r.Truncated || truncated
	if !started.IsZero() && (r.StartedAt.IsZero() || started.Before(r.StartedAt)) {
		r.StartedAt = started
	}
	if finished.After(r.FinishedAt) {
		r.FinishedAt = finished
	}
}
