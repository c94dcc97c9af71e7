package config

import "errors"

// Validation errors returned by Config.Validate. Callers match them with
// errors.Is.
var (
	// ErrNoTarget is returned when no seed URL was given.
	ErrNoTarget = errors.New("no target specified: provide at least one http(s) URL")

	// ErrInvalidTarget is returned for a seed that is not an http(s) URL.
	ErrInvalidTarget = errors.New("invalid target: must be an http or https URL")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidDepth is returned for a negative crawl depth.
	ErrInvalidDepth = errors.New("invalid depth: must be zero or greater")

	// ErrInvalidMinSize is returned when a minimum size is not WIDTHxHEIGHT.
	ErrInvalidMinSize = errors.New("invalid minimum size: expected WIDTHxHEIGHT, e.g. 800x600")

	// ErrInvalidConcurrency is returned when concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidMaxScrolls is returned for a negative scroll limit.
	ErrInvalidMaxScrolls = errors.New("invalid max scrolls: must be zero or greater")

	// ErrInvalidMaxDuration is returned for a negative overall time budget.
	ErrInvalidMaxDuration = errors.New("invalid max duration: must be zero or greater")

	// ErrNoOutputDir is returned when the output directory is empty.
	ErrNoOutputDir = errors.New("no output directory specified")

	// ErrConflictingReportFormats is returned when both --json and
	// --markdown are given.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrConflictingProxy is returned when both --proxy and --tor are given.
	ErrConflictingProxy = errors.New("conflicting proxy settings: --proxy and --tor cannot be used together")
)
