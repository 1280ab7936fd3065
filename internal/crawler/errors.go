package crawler

import (
	"errors"
	"fmt"
)

// Crawl errors.
// Per-URL failures are reported as *CrawlError values whose Is method
// matches the sentinel of their kind, so callers can write
// errors.Is(err, crawler.ErrDownloadFailure).
var (
	// ErrMalformedURL means no host could be derived from the URL.
	// The URL was never scheduled for download.
	ErrMalformedURL = errors.New("malformed URL")

	// ErrDownloadFailure means fetching the page failed.
	ErrDownloadFailure = errors.New("download failed")

	// ErrExtractFailure means the page was fetched but its links could
	// not be extracted.
	ErrExtractFailure = errors.New("link extraction failed")

	// ErrClosed is returned by Download after Close has been called.
	ErrClosed = errors.New("crawler is closed")

	// ErrPoolClosed is returned by WorkerPool.Submit after Shutdown.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// ErrorKind classifies a per-URL failure.
type ErrorKind int

const (
	// KindMalformedURL is a URL whose host could not be parsed.
	KindMalformedURL ErrorKind = iota + 1
	// KindDownloadFailure is a transport or protocol error while fetching.
	KindDownloadFailure
	// KindExtractFailure is an error while extracting links of a fetched page.
	KindExtractFailure
)

// String returns the kind name used in reports.
func (k ErrorKind) String() string {
	switch k {
	case KindMalformedURL:
		return "MalformedURL"
	case KindDownloadFailure:
		return "DownloadFailure"
	case KindExtractFailure:
		return "ExtractFailure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// sentinel returns the package-level error matching the kind.
func (k ErrorKind) sentinel() error {
	switch k {
	case KindMalformedURL:
		return ErrMalformedURL
	case KindDownloadFailure:
		return ErrDownloadFailure
	case KindExtractFailure:
		return ErrExtractFailure
	default:
		return nil
	}
}

// CrawlError records why a single URL failed.
type CrawlError struct {
	// URL is the page the failure belongs to.
	URL string

	// Kind classifies the failure.
	Kind ErrorKind

	// Err is the underlying error returned by the collaborator.
	Err error
}

// Error implements the error interface.
func (e *CrawlError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *CrawlError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *CrawlError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of err if it is (or wraps) a *CrawlError.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

func newCrawlError(url string, kind ErrorKind, err error) *CrawlError {
	return &CrawlError{URL: url, Kind: kind, Err: err}
}
