package crawler

import "context"

// Downloader fetches a page. Implementations must be safe for concurrent use;
// Download is called from every download worker at once.
type Downloader interface {
	// Download blocks until the page at url has been fetched.
	Download(ctx context.Context, url string) (Document, error)
}

// Document is a fetched page whose outbound links are extracted lazily,
// on an extraction worker rather than on the download worker that fetched it.
type Document interface {
	// ExtractLinks returns the absolute URLs the page links to.
	ExtractLinks() ([]string, error)
}

// HostFunc derives the admission-control key of a URL.
// It returns an error when the URL is malformed.
type HostFunc func(url string) (string, error)
