package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/webcrawler/internal/crawler"
	"github.com/nao1215/webcrawler/internal/model"
)

// DefaultConcurrency is the number of seeds crawled at once when no
// concurrency is configured.
const DefaultConcurrency = 4

// Crawler is the part of *crawler.WebCrawler a Runner needs.
type Crawler interface {
	Download(ctx context.Context, seed string, depth int) (*crawler.Result, error)
}

// Runner crawls seeds on one shared crawler and turns each result into a
// model.CrawlReport. Because the crawler is shared, its worker pools and
// per-host limit apply across all seeds of a batch.
type Runner struct {
	crawler     Crawler
	params      model.CrawlParams
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency sets how many seeds are crawled at once. Values below 1
// keep the default.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger for batch progress.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a Runner. params describes the crawler (its depth and
// pool sizes) and is copied into every report; its Seed is ignored.
func NewRunner(c Crawler, params model.CrawlParams, opts ...Option) *Runner {
	r := &Runner{
		crawler:     c,
		params:      params,
		concurrency: DefaultConcurrency,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Crawl crawls one seed. A cancelled ctx is not an error: the report comes
// back marked as cancelled with whatever was crawled. Other crawler errors,
// such as crawler.ErrClosed, are returned together with an empty report.
func (r *Runner) Crawl(ctx context.Context, seed string) (*model.CrawlReport, error) {
	params := r.params
	params.Seed = seed

	started := r.now()
	result, err := r.crawler.Download(ctx, seed, params.Depth)
	report := model.NewCrawlReport(params, result, started, r.now(), err)

	if err != nil && !report.Cancelled {
		return report, err
	}
	return report, nil
}

// Run crawls seeds concurrently and returns their reports in input order.
// Seeds that were not started before ctx was cancelled get an empty,
// cancelled report. The error is the first non-cancellation crawler error,
// or ctx.Err() if the batch was cancelled.
func (r *Runner) Run(ctx context.Context, seeds []string) ([]*model.CrawlReport, error) {
	reports := make([]*model.CrawlReport, len(seeds))
	err := r.run(ctx, seeds, func(report *model.CrawlReport, i int) {
		reports[i] = report
	})
	return reports, err
}

// RunWithCallback is Run that hands each report to fn as soon as its seed
// finishes, together with the seed's index. fn is never called
// concurrently.
func (r *Runner) RunWithCallback(ctx context.Context, seeds []string, fn func(report *model.CrawlReport, index int)) error {
	return r.run(ctx, seeds, fn)
}

func (r *Runner) run(ctx context.Context, seeds []string, fn func(*model.CrawlReport, int)) error {
	r.logger.Info("starting batch", "seeds", len(seeds), "concurrency", r.concurrency)
	start := r.now()

	var mu sync.Mutex
	deliver := func(report *model.CrawlReport, i int) {
		mu.Lock()
		defer mu.Unlock()
		fn(report, i)
	}

	// A plain group: one failing seed must not cancel the others.
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, seed := range seeds {
		g.Go(func() error {
			if ctx.Err() != nil {
				params := r.params
				params.Seed = seed
				now := r.now()
				deliver(model.NewCrawlReport(params, nil, now, now, ctx.Err()), i)
				return nil
			}

			r.logger.Info("crawling seed", "seed", seed, "index", i+1, "total", len(seeds))
			report, err := r.Crawl(ctx, seed)
			deliver(report, i)
			if err != nil {
				r.logger.Warn("crawl failed", "seed", seed, "error", err)
				return err
			}

			r.logger.Info("seed finished",
				"seed", seed,
				"downloaded", len(report.Downloaded),
				"failed", len(report.Failures),
				"cancelled", report.Cancelled,
			)
			return nil
		})
	}

	err := g.Wait()
	r.logger.Info("batch finished", "seeds", len(seeds), "elapsed", r.now().Sub(start))

	if err != nil {
		return err
	}
	return ctx.Err()
}
