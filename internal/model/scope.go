package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Default values for Scope.
const (
	DefaultMaxDepth    = 1
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 1
	DefaultMaxScrolls  = 20
	DefaultScrollWait  = time.Second
)

// ErrInvalidSize is returned by ParseSize for malformed WIDTHxHEIGHT values.
var ErrInvalidSize = errors.New("size must be WIDTHxHEIGHT with positive integers")

// Size is a pixel dimension.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ParseSize parses "WIDTHxHEIGHT", for example "800x600".
func ParseSize(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Size{}, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Size{}, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return Size{Width: width, Height: height}, nil
}

// Covers reports whether s is at least min on both axes.
func (s Size) Covers(min Size) bool {
	return s.Width >= min.Width && s.Height >= min.Height
}

// IsZero reports whether the size is unknown.
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// String returns "WIDTHxHEIGHT".
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Scope bounds one harvest. It is built once from caller input and read
// only afterwards.
type Scope struct {
	// BaseURL restricts followed links to URLs starting with this prefix.
	// Empty means no restriction beyond the page's own authority.
	BaseURL string

	// MaxDepth is the deepest link hop that is still rendered. Seeds are depth 0.
	MaxDepth int

	// MinSize rejects assets smaller than this on either axis. Nil disables the filter.
	MinSize *Size

	// Timeout applies to every fetch, render, scroll wait and screenshot.
	Timeout time.Duration

	// UsePageURL attributes each asset to the page it was found on
	// instead of the asset's own URL.
	UsePageURL bool

	// IncludeFullQueryArgsInURL keeps the query string in attribution URLs.
	IncludeFullQueryArgsInURL bool

	// Concurrency is the number of assets acquired in parallel per page.
	Concurrency int

	// MaxScrolls caps the scroll-and-collect loop on endless pages.
	MaxScrolls int

	// ScrollWait is how long to wait for lazy content after each scroll.
	ScrollWait time.Duration
}

// DefaultScope returns a Scope with default limits.
func DefaultScope() Scope {
	return Scope{
		MaxDepth:    DefaultMaxDepth,
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
		MaxScrolls:  DefaultMaxScrolls,
		ScrollWait:  DefaultScrollWait,
	}
}

// Accepts applies the minimum-size filter. A nil size means the asset
// could not be probed; it passes only when no minimum is configured.
func (s Scope) Accepts(size *Size) bool {
	if s.MinSize == nil {
		return true
	}
	if size == nil {
		return false
	}
	return size.Covers(*s.MinSize)
}
