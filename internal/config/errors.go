package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate and Config.ApplyPositional
// so callers can branch on them with errors.Is.
var (
	// ErrNoSeed is returned when no seed URL is given.
	ErrNoSeed = errors.New("no seed URL specified")

	// ErrInvalidDepth is returned when the crawl depth is negative.
	ErrInvalidDepth = errors.New("invalid depth: must be non-negative")

	// ErrInvalidWorkers is returned when a worker or per-host count is not
	// positive.
	ErrInvalidWorkers = errors.New("invalid worker count: downloaders, extractors and per-host limit must be positive")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrConflictingReportFormats is returned when both --json and
	// --markdown are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrConflictingProxy is returned when an external proxy and the
	// embedded Tor daemon are both requested.
	ErrConflictingProxy = errors.New("conflicting proxy settings: --proxy and --tor cannot be used together")

	// ErrInvalidArgument is returned for a malformed positional argument.
	ErrInvalidArgument = errors.New("invalid argument")
)
