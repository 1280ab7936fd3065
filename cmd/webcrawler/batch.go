package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/webcrawler/internal/config"
	"github.com/nao1215/webcrawler/internal/model"
)

// NewBatchCmd creates the batch command.
func NewBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <url>...",
		Short: "Crawl several seed URLs concurrently",
		Long: `Batch crawls several seeds at once on a single crawler. The worker pools
and the per-host download limit are shared by every seed, so seeds on the
same host never exceed --per-host concurrent downloads together.

Reports are written in the order the seeds were given. With --json, each
report is one line of JSON.

Examples:
  # Crawl three sites, two at a time, three levels deep
  webcrawler batch -b 2 -d 3 https://a.example/ https://b.example/ https://c.example/

  # JSON Lines output
  webcrawler batch --json https://a.example/ https://b.example/ > reports.jsonl`,
		Args: cobra.MinimumNArgs(1),
		RunE: runBatchCmd,
	}

	cmd.Flags().IntP("depth", "d", config.DefaultDepth,
		"Number of BFS levels to download per seed")
	cmd.Flags().Int("downloaders", config.DefaultDownloaders,
		"Number of download workers")
	cmd.Flags().Int("extractors", config.DefaultExtractors,
		"Number of link extraction workers")
	cmd.Flags().Int("per-host", config.DefaultPerHost,
		"Maximum concurrent downloads per host")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of seeds crawled concurrently")

	addCommonFlags(cmd)
	return cmd
}

func runBatchCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyBatchFlags(cmd, cfg); err != nil {
		return err
	}
	cfg.Seeds = args
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := checkOnionSeeds(cfg); err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newCrawlSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	progress := cmd.ErrOrStderr()
	fmt.Fprintf(progress, "Starting batch crawl of %d seeds (concurrency: %d)...\n",
		len(cfg.Seeds), cfg.BatchSize)
	start := time.Now()

	reports := make([]*model.CrawlReport, len(cfg.Seeds))
	err = s.runner().RunWithCallback(ctx, cfg.Seeds, func(r *model.CrawlReport, i int) {
		reports[i] = r
		fmt.Fprintf(progress, "[%d/%d] %s: %d downloaded, %d failed\n",
			i+1, len(cfg.Seeds), r.Seed, len(r.Downloaded), len(r.Failures))
		s.save(ctx, r)
	})
	fmt.Fprintf(progress, "Batch crawl completed in %s\n", time.Since(start).Round(time.Millisecond))

	// An interrupted batch still reports what it crawled.
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("batch crawl failed", "error", err)
		if werr := writeReports(cmd, cfg, reports, false); werr != nil {
			return werr
		}
		return fmt.Errorf("batch crawl failed: %w", err)
	}
	return writeReports(cmd, cfg, reports, false)
}

// applyBatchFlags copies the crawl parameters given as flags into cfg.
func applyBatchFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	if cfg.Depth, err = flags.GetInt("depth"); err != nil {
		return err
	}
	if cfg.Downloaders, err = flags.GetInt("downloaders"); err != nil {
		return err
	}
	if cfg.Extractors, err = flags.GetInt("extractors"); err != nil {
		return err
	}
	if cfg.PerHost, err = flags.GetInt("per-host"); err != nil {
		return err
	}
	if cfg.BatchSize, err = flags.GetInt("batch"); err != nil {
		return err
	}
	return nil
}
