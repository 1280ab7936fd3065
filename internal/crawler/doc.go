// Package crawler implements a concurrent breadth-first web crawler.
//
// # Architecture
//
// A crawl proceeds one BFS level at a time. Every URL of the current level
// is admitted through a HostGate, which caps concurrent downloads per host,
// and then runs on the download WorkerPool. A fetched page that is not on
// the last level is handed to a second WorkerPool that extracts its links
// into the next level's frontier. The download slot of a host is released
// as soon as the page is fetched, before extraction starts.
//
// A LevelBarrier separates levels: the orchestrator registers one party per
// scheduled download, each download registers one more party for its
// extraction, and the next level starts only when all of them arrived.
//
// # Components
//
//   - WebCrawler: the orchestrator (New, Download, Close)
//   - WorkerPool: fixed goroutines fed by an unbounded FIFO queue
//   - HostGate: per-host admission control with a FIFO wait queue
//   - LevelBarrier: reusable rendezvous between levels
//   - Reconcile: turns scheduled URLs and per-URL errors into a Result
//
// # Errors
//
// Failures are local to a URL. They are never retried and never abort the
// crawl; each one is recorded as a *CrawlError in Result.Errors and the URL
// is left out of Result.Downloaded.
//
// # Usage
//
//	c := crawler.New(fetch.NewDownloader(client), 5, 5, 3)
//	defer c.Close()
//	res, err := c.Download(ctx, "https://example.com/", 2)
package crawler
