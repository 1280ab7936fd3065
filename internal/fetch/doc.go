// Package fetch downloads web pages over HTTP and extracts their links.
//
// Downloader implements crawler.Downloader. Each request carries the
// configured User-Agent plus the headers and cookie configured for the
// target host; the body is read up to a size limit, decoded to UTF-8 and
// fingerprinted with SHA3-256.
//
// Page implements crawler.Document. Its links are parsed lazily with
// golang.org/x/net/html, resolved against the final (post-redirect) URL and
// filtered by the host's ignore and follow patterns.
package fetch
