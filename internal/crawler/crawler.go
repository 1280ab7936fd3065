package crawler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nao1215/webcrawler/internal/urlutil"
)

// WebCrawler downloads pages breadth first, one BFS level at a time.
//
// Downloads run on one worker pool and link extraction on another, so a
// slow parse never holds a download slot. A HostGate in front of the
// download pool caps the number of concurrent downloads per host; the gate
// belongs to the crawler and is shared by every Download call made on it.
//
// A WebCrawler is safe for concurrent use. Call Close when done to stop its
// workers.
type WebCrawler struct {
	downloader Downloader
	hostOf     HostFunc
	logger     *slog.Logger

	gate        *HostGate[*downloadTask]
	downloaders *WorkerPool[*downloadTask]
	extractors  *WorkerPool[*extractTask]

	closed    atomic.Bool
	closeOnce sync.Once
}

// Option configures a WebCrawler.
type Option func(*WebCrawler)

// WithLogger sets the logger used for level and per-URL debug events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *WebCrawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHostFunc replaces the function that derives the per-host admission key
// of a URL. The default is urlutil.Host.
func WithHostFunc(fn HostFunc) Option {
	return func(c *WebCrawler) {
		if fn != nil {
			c.hostOf = fn
		}
	}
}

// New creates a crawler that fetches pages with downloader on downloaders
// goroutines, extracts links on extractors goroutines and runs at most
// perHost downloads per host at once. Values below 1 are treated as 1.
func New(downloader Downloader, downloaders, extractors, perHost int, opts ...Option) *WebCrawler {
	c := &WebCrawler{
		downloader: downloader,
		hostOf:     urlutil.Host,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.downloaders = NewWorkerPool(downloaders, c.runDownload)
	c.extractors = NewWorkerPool(extractors, c.runExtract)
	c.gate = NewHostGate(perHost, c.dispatchDownload)

	return c
}

// crawlRun is the state of one Download call.
type crawlRun struct {
	ctx        context.Context
	downloaded *urlSet
	errs       *errorMap
	barrier    *LevelBarrier
}

// crawlLevel is the state of one BFS level of a run.
type crawlLevel struct {
	run   *crawlRun
	index int
	next  *urlSet
}

// downloadTask fetches one URL. extract is false on the last level.
type downloadTask struct {
	level   *crawlLevel
	url     string
	host    string
	extract bool
}

// extractTask extracts the links of a fetched page into the next frontier.
type extractTask struct {
	level *crawlLevel
	url   string
	doc   Document
}

// Download crawls from seedURL and returns the pages reachable within depth
// BFS levels. Depth 1 fetches only the seed; depth 0 or less fetches nothing.
//
// Per-URL failures never abort the crawl; they are reported in
// Result.Errors. If ctx is cancelled the crawl stops before the next level
// and the partial result is returned along with ctx.Err().
func (c *WebCrawler) Download(ctx context.Context, seedURL string, depth int) (*Result, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	run := &crawlRun{
		ctx:        ctx,
		downloaded: newURLSet(),
		errs:       newErrorMap(),
		barrier:    NewLevelBarrier(),
	}

	current := []string{seedURL}
	for index := 0; index < depth && len(current) > 0; index++ {
		if ctx.Err() != nil {
			break
		}

		level := &crawlLevel{run: run, index: index, next: newURLSet()}
		c.logger.Debug("level started", "seed", seedURL, "level", index, "urls", len(current))

		run.barrier.Reset()
		for _, u := range current {
			if !run.downloaded.Add(u) {
				continue
			}
			host, err := c.hostOf(u)
			if err != nil {
				c.fail(run, u, KindMalformedURL, err)
				continue
			}
			run.barrier.Register()
			c.gate.Admit(host, &downloadTask{
				level:   level,
				url:     u,
				host:    host,
				extract: index < depth-1,
			})
		}
		run.barrier.AwaitAdvance()

		current = level.next.Slice()
		c.logger.Debug("level finished", "seed", seedURL, "level", index, "discovered", len(current))
	}

	return Reconcile(run.downloaded.Slice(), run.errs.Snapshot()), ctx.Err()
}

// Close stops both worker pools after the queued tasks have run.
// Download returns ErrClosed afterwards. Close always returns nil.
func (c *WebCrawler) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		// Download workers submit to the extraction pool, so they go first.
		c.downloaders.Shutdown()
		c.extractors.Shutdown()
	})
	return nil
}

// dispatchDownload hands an admitted task to the download pool.
func (c *WebCrawler) dispatchDownload(t *downloadTask) {
	if err := c.downloaders.Submit(t); err != nil {
		c.fail(t.level.run, t.url, KindDownloadFailure, err)
		c.gate.Release(t.host)
		t.level.run.barrier.Arrive()
	}
}

func (c *WebCrawler) runDownload(t *downloadTask) {
	run := t.level.run

	doc, err := c.downloader.Download(run.ctx, t.url)
	if err != nil {
		c.fail(run, t.url, KindDownloadFailure, err)
	} else if t.extract {
		run.barrier.Register()
		if err := c.extractors.Submit(&extractTask{level: t.level, url: t.url, doc: doc}); err != nil {
			c.fail(run, t.url, KindExtractFailure, err)
			run.barrier.Arrive()
		}
	}

	// The host slot is freed as soon as the bytes are in, before extraction.
	c.gate.Release(t.host)
	run.barrier.Arrive()
}

func (c *WebCrawler) runExtract(t *extractTask) {
	run := t.level.run
	defer run.barrier.Arrive()

	links, err := t.doc.ExtractLinks()
	if err != nil {
		c.fail(run, t.url, KindExtractFailure, err)
		return
	}
	for _, link := range links {
		if !run.downloaded.Contains(link) {
			t.level.next.Add(link)
		}
	}
}

func (c *WebCrawler) fail(run *crawlRun, url string, kind ErrorKind, err error) {
	run.errs.Put(url, newCrawlError(url, kind, err))
	c.logger.Debug("url failed", "url", url, "kind", kind.String(), "error", err)
}
