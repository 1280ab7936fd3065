// Package main provides the entry point for the webcrawler CLI.
//
// webcrawler downloads the pages reachable from a seed URL breadth first,
// up to a bounded depth, and reports which pages were downloaded and which
// failed.
//
// Usage:
//
//	webcrawler crawl <url> [depth [downloaders [extractors [perHost]]]]
//	webcrawler batch --depth 3 <url>...
//	webcrawler history [seed]
//
// See --help for all available options.
package main

func main() {
	Execute()
}
