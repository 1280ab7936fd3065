package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/webcrawler/internal/model"
)

// SimpleWriter prints the plain text report the crawl command shows by
// default:
//
//	Successful downloads: 2
//	https://example.com/
//	https://example.com/about
//	Failed downloads: 1 page
//	URL: https://example.com/missing
//	Error: DownloadFailure: unexpected HTTP status: 404 Not Found
type SimpleWriter struct {
	baseWriter

	// summary appends the crawl parameters and timing.
	summary bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithSummary appends a short summary block after the URL lists.
func WithSummary(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.summary = show
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report as plain text.
func (w *SimpleWriter) Write(report *model.CrawlReport) (int, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Successful downloads: %d\n", len(report.Downloaded))
	for _, u := range report.Downloaded {
		sb.WriteString(u)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Failed downloads: %d page\n", len(report.Failures))
	for _, f := range report.Failures {
		fmt.Fprintf(&sb, "URL: %s\n", f.URL)
		fmt.Fprintf(&sb, "Error: %s: %s\n", f.Kind, f.Message)
	}

	if report.Cancelled {
		sb.WriteString("Crawl cancelled: results are partial\n")
	}
	if w.summary {
		w.writeSummary(&sb, report)
	}

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeSummary(sb *strings.Builder, report *model.CrawlReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 50))
	sb.WriteString("\n")
	fmt.Fprintf(sb, "Seed:         %s\n", report.Seed)
	fmt.Fprintf(sb, "Depth:        %d\n", report.Depth)
	fmt.Fprintf(sb, "Workers:      %d downloaders, %d extractors, %d per host\n",
		report.Downloaders, report.Extractors, report.PerHost)
	fmt.Fprintf(sb, "Duration:     %s\n", report.Duration().Round(time.Millisecond))
	fmt.Fprintf(sb, "Success rate: %.1f%%\n", report.SuccessRate()*100)
}
