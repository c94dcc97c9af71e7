package report

import (
	"time"

	"github.com/nao1215/webimg/internal/model"
)

// Line is one stored asset as shown in a report.
type Line struct {
	Filename       string         `json:"filename"`
	AttributionURL string         `json:"attribution_url"`
	SourceURL      string         `json:"source_url"`
	PageURL        string         `json:"page_url"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	Format         string         `json:"format"`
	Strategy       model.Strategy `json:"strategy"`
}

// Seen is an asset whose content was already stored by an earlier run.
type Seen struct {
	Filename         string `json:"filename"`
	PreviousRunID    string `json:"previous_run_id"`
	PreviousFilename string `json:"previous_filename"`
}

// Group is every asset sharing one attribution URL.
type Group struct {
	URL       string   `json:"url"`
	Filenames []string `json:"filenames"`
}

// Summary is the report view of a harvest.
//
// Design decision: writers render a Summary rather than the live
// HarvestResult so that a report never holds the result's lock and the
// history lookups (RunID, Seen) can be attached after the run is saved.
type Summary struct {
	// RunID is the history database ID. Empty with --no-db.
	RunID string `json:"run_id,omitempty"`

	// OutputDir is where the files were written.
	OutputDir string `json:"output_dir"`

	// Seeds are the pages the harvest started from.
	Seeds []string `json:"seeds"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// PagesVisited counts rendered pages; PagesFailed those that could
	// not be rendered.
	PagesVisited int `json:"pages_visited"`
	PagesFailed  int `json:"pages_failed"`

	// Truncated is set when the run was cancelled before the traversal
	// finished. The assets are then a partial result.
	Truncated bool `json:"truncated"`

	// ByStrategy counts stored files per acquisition strategy.
	ByStrategy map[model.Strategy]int `json:"by_strategy"`

	// Assets lists the stored files in commit order.
	Assets []Line `json:"assets"`

	// Seen lists files whose content an earlier run already stored.
	Seen []Seen `json:"previously_seen,omitempty"`
}

// NewSummary builds a Summary from result. Asset order follows the order in
// which they were committed.
func NewSummary(result *model.HarvestResult, outputDir string) *Summary {
	s := &Summary{
		OutputDir:    outputDir,
		Seeds:        append([]string(nil), result.Seeds...),
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
		PagesVisited: result.PagesVisited,
		PagesFailed:  result.PagesFailed,
		Truncated:    result.Truncated,
		ByStrategy:   make(map[model.Strategy]int),
		Assets:       make([]Line, 0, len(result.Records)),
	}
	for _, a := range result.Records {
		attribution, ok := result.Assets.Get(a.Filename)
		if !ok {
			attribution = a.SourceURL
		}
		s.Assets = append(s.Assets, Line{
			Filename:       a.Filename,
			AttributionURL: attribution,
			SourceURL:      a.SourceURL,
			PageURL:        a.PageURL,
			Width:          a.Size.Width,
			Height:         a.Size.Height,
			Format:         a.Format,
			Strategy:       a.Strategy,
		})
		s.ByStrategy[a.Strategy]++
	}
	return s
}

// Duration is the wall time of the run, zero if it never finished.
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() || s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Groups returns the assets grouped by attribution URL, in order of first
// appearance.
func (s *Summary) Groups() []Group {
	index := make(map[string]int)
	var groups []Group
	for _, line := range s.Assets {
		i, ok := index[line.AttributionURL]
		if !ok {
			i = len(groups)
			index[line.AttributionURL] = i
			groups = append(groups, Group{URL: line.AttributionURL})
		}
		groups[i].Filenames = append(groups[i].Filenames, line.Filename)
	}
	return groups
}

// strategies lists acquisition steps in chain order.
var strategies = []model.Strategy{
	model.StrategyDirect,
	model.StrategyConvert,
	model.StrategyScreenshot,
}
