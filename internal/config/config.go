package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/webimg/internal/model"
	"github.com/nao1215/webimg/internal/urlutil"
)

// Default configuration values.
const (
	// AppName is used for XDG directory paths.
	AppName = "webimg"

	// DefaultOutputDir receives harvested files when --output is not set.
	DefaultOutputDir = "images"

	// DefaultTimeout bounds each fetch, render, scroll wait and screenshot.
	DefaultTimeout = model.DefaultTimeout

	// DefaultDepth renders the seeds and the pages they link to.
	DefaultDepth = model.DefaultMaxDepth

	// DefaultConcurrency acquires one asset at a time.
	DefaultConcurrency = model.DefaultConcurrency

	// DefaultMaxScrolls caps the scroll loop on endless feeds.
	DefaultMaxScrolls = model.DefaultMaxScrolls

	// DefaultScrollWait is the pause after each scroll.
	DefaultScrollWait = model.DefaultScrollWait

	// DefaultMaxBytes bounds a single asset download.
	DefaultMaxBytes = 64 * 1024 * 1024

	// DefaultTorStartupTimeout bounds the embedded Tor bootstrap, which
	// usually takes one to three minutes.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultDBFile is the history database file name in the data directory.
	DefaultDBFile = "webimg.db"
)

// Config holds every option of a harvest run. It is built once from flags,
// the config file and the environment, validated, and then passed down.
type Config struct {
	// Seeds are the start pages.
	Seeds []string

	// OutputDir receives the harvested files and the manifest.
	OutputDir string

	// Depth is the deepest link hop still rendered. Seeds are depth 0.
	Depth int

	// BaseURL restricts followed links to this prefix. Empty means the
	// seed's own authority only.
	BaseURL string

	// MinSize rejects smaller assets. Nil disables the filter.
	MinSize *model.Size

	// Timeout bounds every network and rendering operation.
	Timeout time.Duration

	// UsePageURL attributes assets to the page they were found on.
	UsePageURL bool

	// IncludeFullQueryArgs keeps query strings in attribution URLs.
	IncludeFullQueryArgs bool

	// Concurrency is the number of assets acquired in parallel per page.
	Concurrency int

	// MaxScrolls caps the scroll loop per page.
	MaxScrolls int

	// ScrollWait is the pause after each scroll.
	ScrollWait time.Duration

	// MaxDuration stops the whole harvest after this long. Zero means no limit.
	MaxDuration time.Duration

	// MaxBytes bounds a single asset download.
	MaxBytes int64

	// NoBrowser fetches pages as static HTML instead of rendering them.
	// Screenshots are unavailable in this mode.
	NoBrowser bool

	// ChromePath overrides the browser executable.
	ChromePath string

	// ShowBrowser runs the browser with a visible window.
	ShowBrowser bool

	// ProxyAddress is a SOCKS5 proxy in host:port form.
	ProxyAddress string

	// UseTor starts an embedded Tor daemon and routes all traffic through it.
	UseTor bool

	// TorStartupTimeout bounds the embedded Tor bootstrap.
	TorStartupTimeout time.Duration

	// UserAgent overrides the User-Agent of asset downloads.
	UserAgent string

	// Verbose enables debug logging.
	Verbose bool

	// LogJSON switches log output on stderr from text to JSON lines.
	LogJSON bool

	// ConfigFilePath is the explicit --config path, if any.
	ConfigFilePath string

	// SiteConfigs holds the per-site settings of the config file.
	SiteConfigs *File

	// JSONReport prints the summary as JSON.
	JSONReport bool

	// MarkdownReport prints the summary as Markdown.
	MarkdownReport bool

	// ReportFile writes the summary to a file instead of stdout.
	ReportFile string

	// SaveToDB records the run in the history database.
	SaveToDB bool

	// DBDir is the directory of the history database.
	DBDir string

	// ExplicitFlags names the scope flags given on the command line. They
	// win over per-site settings from the config file.
	ExplicitFlags map[string]bool
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		OutputDir:         DefaultOutputDir,
		Depth:             DefaultDepth,
		Timeout:           DefaultTimeout,
		Concurrency:       DefaultConcurrency,
		MaxScrolls:        DefaultMaxScrolls,
		ScrollWait:        DefaultScrollWait,
		MaxBytes:          DefaultMaxBytes,
		TorStartupTimeout: DefaultTorStartupTimeout,
		SaveToDB:          true,
		DBDir:             XDGDataDir(),
	}
}

// XDGDataDir returns the data directory, e.g. ~/.local/share/webimg on Linux.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the config directory, e.g. ~/.config/webimg on Linux.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ParseMinSize parses a WIDTHxHEIGHT minimum size. An empty string means
// no minimum.
func ParseMinSize(s string) (*model.Size, error) {
	if s == "" {
		return nil, nil
	}
	size, err := model.ParseSize(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMinSize, s)
	}
	return &size, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return ErrNoTarget
	}
	for _, seed := range c.Seeds {
		if !urlutil.IsValidURL(seed) {
			return fmt.Errorf("%w: %q", ErrInvalidTarget, seed)
		}
	}
	if c.OutputDir == "" {
		return ErrNoOutputDir
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Depth < 0 {
		return ErrInvalidDepth
	}
	if c.MinSize != nil && (c.MinSize.Width <= 0 || c.MinSize.Height <= 0) {
		return ErrInvalidMinSize
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.MaxScrolls < 0 {
		return ErrInvalidMaxScrolls
	}
	if c.MaxDuration < 0 {
		return ErrInvalidMaxDuration
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.UseTor && c.ProxyAddress != "" {
		return ErrConflictingProxy
	}
	return nil
}

// Scope returns the crawl scope described by c.
func (c *Config) Scope() model.Scope {
	scope := model.DefaultScope()
	scope.BaseURL = c.BaseURL
	scope.MaxDepth = c.Depth
	scope.MinSize = c.MinSize
	scope.Timeout = c.Timeout
	scope.UsePageURL = c.UsePageURL
	scope.IncludeFullQueryArgsInURL = c.IncludeFullQueryArgs
	scope.Concurrency = c.Concurrency
	scope.MaxScrolls = c.MaxScrolls
	scope.ScrollWait = c.ScrollWait
	if c.NoBrowser {
		scope.ScrollWait = 0
	}
	return scope
}

// DBPath returns the history database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DBDir, DefaultDBFile)
}
