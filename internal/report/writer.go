package report

import (
	"io"

	"github.com/nao1215/webcrawler/internal/model"
)

// Writer renders crawl reports.
type Writer interface {
	// Write renders report and returns the number of bytes written.
	Write(report *model.CrawlReport) (int, error)
}

// MultiWriter writes each report to several Writers, for example the
// terminal and a report file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to every Writer in order and returns the total
// bytes written. It stops at the first error.
func (m *MultiWriter) Write(report *model.CrawlReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter holds the output destination shared by the writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
