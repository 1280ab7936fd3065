package report

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/webcrawler/internal/model"
)

// maxMessageLen caps error messages in the failure table.
const maxMessageLen = 80

// MarkdownWriter outputs reports as GitHub-flavored Markdown with a mermaid
// pie chart of the outcome.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeSummary(md, report)
	w.writeDownloaded(md, report)
	w.writeFailures(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.CrawlReport) {
	md.H1("Crawl Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed", "`" + report.Seed + "`"},
			{"Started", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", report.Duration().Round(time.Millisecond).String()},
			{"Depth", strconv.Itoa(report.Depth)},
			{"Workers", fmt.Sprintf("%d downloaders, %d extractors", report.Downloaders, report.Extractors)},
			{"Per host", strconv.Itoa(report.PerHost)},
			{"Status", statusText(report)},
		},
	})
	md.PlainText("")
}

func statusText(report *model.CrawlReport) string {
	if report.Cancelled {
		return "⚠️ Cancelled (partial results)"
	}
	return "✅ Complete"
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Summary")
	md.PlainText("")

	counts := report.FailureCounts()
	rows := [][]string{
		{"Downloaded", strconv.Itoa(len(report.Downloaded))},
	}
	for _, kind := range sortedKinds(counts) {
		rows = append(rows, []string{kind, strconv.Itoa(counts[kind])})
	}
	rows = append(rows,
		[]string{"**Total**", "**" + strconv.Itoa(report.Total()) + "**"},
		[]string{"Success rate", fmt.Sprintf("%.1f%%", report.SuccessRate()*100)},
	)
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	if report.Total() > 0 {
		w.writePieChart(md, report, counts)
	}
	w.writeAlert(md, report)
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, report *model.CrawlReport, counts map[string]int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Crawl Outcome"),
		piechart.WithShowData(true),
	)
	if n := len(report.Downloaded); n > 0 {
		chart.LabelAndIntValue("Downloaded", uint64(n))
	}
	for _, kind := range sortedKinds(counts) {
		chart.LabelAndIntValue(kind, uint64(counts[kind]))
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *model.CrawlReport) {
	switch {
	case report.Cancelled:
		md.Warningf("The crawl was cancelled after %s. Results are partial.",
			report.Duration().Round(time.Millisecond))
	case report.Total() > 0 && len(report.Downloaded) == 0:
		md.Cautionf("Every one of the %d URLs failed.", report.Total())
	case report.HasFailures():
		md.Importantf("%d of %d URLs failed.", len(report.Failures), report.Total())
	case report.Total() == 0:
		md.Note("Nothing was crawled.")
	default:
		md.Tip("Every URL was downloaded.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeDownloaded(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Downloaded")
	md.PlainText("")

	if len(report.Downloaded) == 0 {
		md.PlainText("No pages were downloaded.")
		md.PlainText("")
		return
	}

	md.BulletList(report.Downloaded...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Failures")
	md.PlainText("")

	if !report.HasFailures() {
		md.PlainText("No failures.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(report.Failures))
	for i, f := range report.Failures {
		rows[i] = []string{"`" + f.URL + "`", f.Kind, truncateString(f.Message, maxMessageLen)}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Kind", "Error"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, f := range report.Failures {
		if len(f.Message) > maxMessageLen {
			md.Details(f.URL, f.Message)
		}
	}
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [webcrawler](https://github.com/nao1215/webcrawler)*")
}

func sortedKinds(counts map[string]int) []string {
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// truncateString shortens s to at most maxLen bytes, ending in "...".
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
