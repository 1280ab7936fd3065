// Package model defines the crawl report shared by the CLI, the report
// writers and the history database.
//
// A CrawlReport is built from a crawler.Result with NewCrawlReport. Its
// slices are sorted so that the same crawl always renders and stores the
// same way, regardless of the order in which workers finished.
package model
