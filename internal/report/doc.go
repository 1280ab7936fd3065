// Package report renders crawl reports.
//
// Three formats are available behind the Writer interface:
//   - SimpleWriter: the plain text listing printed by the crawl command
//   - JSONWriter: compact or indented JSON, optionally wrapped with the tool
//     version and a summary
//   - MarkdownWriter: tables and a mermaid pie chart built with
//     github.com/nao1215/markdown
//
// MultiWriter fans one report out to several writers.
package report
