package model

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/nao1215/webcrawler/internal/crawler"
)

// CrawlParams are the settings a crawl was started with.
type CrawlParams struct {
	// Seed is the URL the crawl started from.
	Seed string `json:"seed"`

	// Depth is the number of BFS levels requested.
	Depth int `json:"depth"`

	// Downloaders is the size of the download worker pool.
	Downloaders int `json:"downloaders"`

	// Extractors is the size of the link extraction worker pool.
	Extractors int `json:"extractors"`

	// PerHost is the per-host download limit.
	PerHost int `json:"per_host"`
}

// CrawlReport is the outcome of one crawl, flattened for output and
// storage.
type CrawlReport struct {
	CrawlParams

	// ID is the run id assigned by the history database. It is zero for
	// reports that were never saved.
	ID int64 `json:"id,omitempty"`

	// StartedAt and FinishedAt bound the crawl.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Downloaded lists the pages fetched without error, sorted.
	Downloaded []string `json:"downloaded"`

	// Failures lists the pages that failed, sorted by URL.
	Failures []Failure `json:"failures"`

	// Cancelled is true when the crawl stopped early because its context
	// was cancelled or timed out. The report then holds partial results.
	Cancelled bool `json:"cancelled"`
}

// Failure is one failed URL.
type Failure struct {
	// URL is the page that failed.
	URL string `json:"url"`

	// Kind is the failure kind name: MalformedURL, DownloadFailure or
	// ExtractFailure.
	Kind string `json:"kind"`

	// Message is the underlying error text.
	Message string `json:"message"`
}

// NewCrawlReport builds a report from a crawl result. crawlErr is the error
// returned by WebCrawler.Download; a context error marks the report as
// cancelled. result may be nil.
func NewCrawlReport(params CrawlParams, result *crawler.Result, startedAt, finishedAt time.Time, crawlErr error) *CrawlReport {
	r := &CrawlReport{
		CrawlParams: params,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Downloaded:  []string{},
		Failures:    []Failure{},
		Cancelled:   isCancellation(crawlErr),
	}
	if result == nil {
		return r
	}

	r.Downloaded = slices.Sorted(slices.Values(result.Downloaded))
	for url, err := range result.Errors {
		kind, _ := result.Failed(url)
		r.Failures = append(r.Failures, Failure{
			URL:     url,
			Kind:    kind.String(),
			Message: failureMessage(err),
		})
	}
	slices.SortFunc(r.Failures, func(a, b Failure) int {
		return strings.Compare(a.URL, b.URL)
	})
	return r
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// failureMessage returns the cause of err without the kind and URL prefix
// that *crawler.CrawlError adds.
func failureMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *crawler.CrawlError
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err.Error()
	}
	return err.Error()
}

// Duration returns how long the crawl ran.
func (r *CrawlReport) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Total returns the number of URLs that were downloaded or failed.
func (r *CrawlReport) Total() int {
	return len(r.Downloaded) + len(r.Failures)
}

// FailureCounts returns the number of failures per kind name.
func (r *CrawlReport) FailureCounts() map[string]int {
	counts := make(map[string]int)
	for _, f := range r.Failures {
		counts[f.Kind]++
	}
	return counts
}

// SuccessRate returns the downloaded share of all URLs in [0, 1]. A report
// without URLs has a rate of 0.
func (r *CrawlReport) SuccessRate() float64 {
	total := r.Total()
	if total == 0 {
		return 0
	}
	return float64(len(r.Downloaded)) / float64(total)
}

// HasFailures reports whether any URL failed.
func (r *CrawlReport) HasFailures() bool {
	return len(r.Failures) > 0
}
