package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/webcrawler/internal/model"
)

// JSONWriter outputs reports as JSON for other tools to consume.
type JSONWriter struct {
	baseWriter

	indent       bool
	indentPrefix string
	indentString string

	// version, when set, wraps the report in a JSONReport envelope.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables indented output with the given prefix and indent.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// WithVersion wraps every report in a JSONReport carrying the given tool
// version and a summary.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report as one JSON document followed by a newline.
func (w *JSONWriter) Write(report *model.CrawlReport) (int, error) {
	if w.version != "" {
		return w.writeJSON(NewJSONReport(report, w.version))
	}
	return w.writeJSON(report)
}

func (w *JSONWriter) writeJSON(v any) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.output.Write(data)
}

// JSONReport is the envelope written by a JSONWriter with a version.
type JSONReport struct {
	// Version is the webcrawler version that produced the report.
	Version string `json:"version"`

	Summary Summary `json:"summary"`

	Report *model.CrawlReport `json:"report"`
}

// Summary holds the report's headline numbers.
type Summary struct {
	Total         int            `json:"total"`
	Downloaded    int            `json:"downloaded"`
	Failed        int            `json:"failed"`
	SuccessRate   float64        `json:"success_rate"`
	DurationMS    int64          `json:"duration_ms"`
	FailureCounts map[string]int `json:"failure_counts"`
}

// NewJSONReport wraps report with version and summary information.
func NewJSONReport(report *model.CrawlReport, version string) *JSONReport {
	return &JSONReport{
		Version: version,
		Summary: Summary{
			Total:         report.Total(),
			Downloaded:    len(report.Downloaded),
			Failed:        len(report.Failures),
			SuccessRate:   report.SuccessRate(),
			DurationMS:    report.Duration().Milliseconds(),
			FailureCounts: report.FailureCounts(),
		},
		Report: report,
	}
}
