package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/webcrawler/internal/batch"
	"github.com/nao1215/webcrawler/internal/config"
	"github.com/nao1215/webcrawler/internal/crawler"
	"github.com/nao1215/webcrawler/internal/database"
	"github.com/nao1215/webcrawler/internal/fetch"
	"github.com/nao1215/webcrawler/internal/log"
	"github.com/nao1215/webcrawler/internal/model"
	"github.com/nao1215/webcrawler/internal/report"
	"github.com/nao1215/webcrawler/internal/transport"
	"github.com/nao1215/webcrawler/internal/urlutil"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url> [depth [downloaders [extractors [perHost]]]]",
		Short: "Crawl a site breadth first from a seed URL",
		Long: `Crawl downloads the seed URL and every page reachable from it, one BFS
level at a time, up to the given depth.

Positional arguments:
  url          seed URL (http or https)
  depth        number of levels to download (default 2; 1 fetches only the seed)
  downloaders  number of download workers (default 5)
  extractors   number of link extraction workers (default 5)
  perHost      maximum concurrent downloads per host (default 3)

A missing, zero or negative number keeps its default. Flags must come
before the URL; everything after it is read as a positional argument.

Examples:
  # Download the seed and the pages it links to
  webcrawler crawl https://example.com/

  # Three levels, 10 downloaders, 4 extractors, 2 downloads per host
  webcrawler crawl https://example.com/ 3 10 4 2

  # Route every request through a SOCKS5 proxy
  webcrawler crawl --proxy 127.0.0.1:9050 http://example.onion/

  # Start a private Tor daemon for the crawl
  webcrawler crawl --tor http://example.onion/

  # Write a Markdown report to a file
  webcrawler crawl -m -o report.md https://example.com/`,
		Args: cobra.RangeArgs(1, 5),
		RunE: runCrawlCmd,
	}

	addCommonFlags(cmd)
	// Keep "-1" after the URL a positional number, not a shorthand flag.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// addCommonFlags registers the flags shared by crawl and batch.
func addCommonFlags(cmd *cobra.Command) {
	// Connection flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each HTTP request")
	cmd.Flags().String("proxy", "",
		"Route requests through a SOCKS5 proxy (e.g., 127.0.0.1:9050)")
	cmd.Flags().Bool("tor", false,
		"Start an embedded Tor daemon and route requests through it")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")
	cmd.Flags().StringP("user-agent", "u", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().Int64("max-body-size", config.DefaultMaxBodySize,
		"Maximum response body size in bytes")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .webcrawler in current or home directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().BoolP("summary", "s", false,
		"Append run parameters and statistics to the plain text report")

	// History flags
	cmd.Flags().Bool("no-save", false,
		"Do not record the crawl in the history database")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ApplyPositional(args); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if len(args) < 2 {
		applyHostDepth(cfg)
	}
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

	seed := cfg.Seeds[0]
	logger.Info("starting crawl",
		"seed", seed,
		"depth", cfg.Depth,
		"downloaders", cfg.Downloaders,
		"extractors", cfg.Extractors,
		"perHost", cfg.PerHost,
	)

	crawlReport, err := s.runner().Crawl(ctx, seed)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}
	if crawlReport.Cancelled {
		logger.Warn("crawl interrupted, reporting partial results", "seed", seed)
	}

	s.save(ctx, crawlReport)

	return writeReports(cmd, cfg, []*model.CrawlReport{crawlReport}, true)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// newLogger returns a logger that writes redacted text records to stderr.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return log.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
}

// buildConfig creates a Config from the flags registered by addCommonFlags
// and loads the configuration file.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	flags := cmd.Flags()
	var err error

	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.UseEmbeddedTor, err = flags.GetBool("tor"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return nil, err
	}
	if cfg.MaxBodySize, err = flags.GetInt64("max-body-size"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return nil, err
	}
	noSave, err := flags.GetBool("no-save")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noSave

	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}

	// An explicitly given config file must exist; the default locations
	// are optional.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		cfg.HostConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	return cfg, nil
}

// applyHostDepth replaces the depth with the one configured for the seed's
// host, if any.
func applyHostDepth(cfg *config.Config) {
	host, err := urlutil.Host(cfg.Seeds[0])
	if err != nil {
		return
	}
	if depth := cfg.HostConfig(host).Depth; depth > 0 {
		cfg.Depth = depth
	}
}

// errOnionNeedsTor is returned for onion seeds without a proxy.
var errOnionNeedsTor = errors.New("onion seeds can only be crawled with --proxy or --tor")

// checkOnionSeeds rejects onion seeds whose address checksum is wrong, and
// onion seeds that would be fetched without Tor.
func checkOnionSeeds(cfg *config.Config) error {
	for _, seed := range cfg.Seeds {
		host, err := urlutil.Host(seed)
		if err != nil || !urlutil.IsOnion(host) {
			continue
		}
		if err := urlutil.CheckOnionHost(host); err != nil {
			return fmt.Errorf("%w: %s", err, seed)
		}
		if cfg.ProxyAddress == "" && !cfg.UseEmbeddedTor {
			return fmt.Errorf("%w: %s", errOnionNeedsTor, seed)
		}
	}
	return nil
}

// crawlSession owns everything a crawl needs: the transport, the crawler
// and the history database.
type crawlSession struct {
	cfg     *config.Config
	logger  *slog.Logger
	crawler *crawler.WebCrawler
	db      *database.CrawlDB
	tor     *transport.EmbeddedTor
}

func newCrawlSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*crawlSession, error) {
	s := &crawlSession{cfg: cfg, logger: logger}

	client, err := s.newTransportClient(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.SaveToDB {
		s.db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		logger.Info("database opened", "path", s.db.Path())
	}

	downloader := fetch.NewDownloader(client.NewHTTPClient(),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithHostConfigs(cfg.HostConfig),
	)
	s.crawler = crawler.New(downloader, cfg.Downloaders, cfg.Extractors, cfg.PerHost,
		crawler.WithLogger(logger))

	return s, nil
}

// newTransportClient connects directly, through the configured proxy or
// through a freshly started embedded Tor daemon.
func (s *crawlSession) newTransportClient(ctx context.Context) (*transport.Client, error) {
	switch {
	case s.cfg.UseEmbeddedTor:
		s.logger.Info("starting embedded Tor daemon", "timeout", s.cfg.TorStartupTimeout)
		et := transport.NewEmbeddedTor(transport.WithStartupTimeout(s.cfg.TorStartupTimeout))
		if err := et.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start embedded Tor: %w", err)
		}
		s.tor = et
		s.logger.Info("embedded Tor daemon ready", "socks", et.SocksAddr())
		return et.NewClient(s.cfg.Timeout)

	case s.cfg.ProxyAddress != "":
		client, err := transport.NewClient(s.cfg.ProxyAddress, s.cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create proxy client: %w", err)
		}
		if err := client.CheckConnection(ctx).Err(); err != nil {
			return nil, fmt.Errorf("proxy check failed: %w (make sure a SOCKS5 proxy is running at %s)",
				err, s.cfg.ProxyAddress)
		}
		s.logger.Info("proxy connection verified", "address", s.cfg.ProxyAddress)
		return client, nil

	default:
		return transport.NewClient("", s.cfg.Timeout)
	}
}

// runner returns a batch runner over the session's crawler.
func (s *crawlSession) runner() *batch.Runner {
	params := model.CrawlParams{
		Depth:       s.cfg.Depth,
		Downloaders: s.cfg.Downloaders,
		Extractors:  s.cfg.Extractors,
		PerHost:     s.cfg.PerHost,
	}
	return batch.NewRunner(s.crawler, params,
		batch.WithConcurrency(s.cfg.BatchSize),
		batch.WithLogger(s.logger),
	)
}

// save records the report in the history database. Failures are logged;
// the report itself is still written.
func (s *crawlSession) save(ctx context.Context, crawlReport *model.CrawlReport) {
	if s.db == nil {
		return
	}
	// An interrupted crawl is still recorded.
	id, err := s.db.SaveReport(context.WithoutCancel(ctx), crawlReport)
	if err != nil {
		s.logger.Error("failed to save crawl report", "seed", crawlReport.Seed, "error", err)
		return
	}
	s.logger.Info("crawl report saved", "seed", crawlReport.Seed, "id", id)
}

// Close stops the crawler, closes the database and stops the embedded Tor
// daemon, in that order.
func (s *crawlSession) Close() {
	if s.crawler != nil {
		if err := s.crawler.Close(); err != nil {
			s.logger.Error("failed to close crawler", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	}
	if s.tor != nil {
		s.logger.Info("stopping embedded Tor daemon")
		if err := s.tor.Stop(); err != nil {
			s.logger.Error("failed to stop embedded Tor", "error", err)
		}
	}
}

// newReportWriter returns the writer for the configured report format.
// pretty selects indented JSON; batches write one JSON document per line.
func newReportWriter(w io.Writer, cfg *config.Config, summary, pretty bool) report.Writer {
	switch {
	case cfg.JSONReport:
		opts := []report.JSONWriterOption{report.WithVersion(getVersion())}
		if pretty {
			opts = append(opts, report.WithPrettyPrint())
		}
		return report.NewJSONWriter(w, opts...)
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(w)
	default:
		return report.NewSimpleWriter(w, report.WithSummary(summary))
	}
}

// writeReports writes reports to the configured output: stdout, or a file
// created with owner-only permissions.
func writeReports(cmd *cobra.Command, cfg *config.Config, reports []*model.CrawlReport, pretty bool) error {
	summary, err := cmd.Flags().GetBool("summary")
	if err != nil {
		return err
	}

	if cfg.ReportFile == "" {
		return writeAll(newReportWriter(cmd.OutOrStdout(), cfg, summary, pretty), reports)
	}

	if dir := filepath.Dir(cfg.ReportFile); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}

	if err := writeAll(newReportWriter(f, cfg, summary, pretty), reports); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Report written to: %s\n", cfg.ReportFile)
	return nil
}

func writeAll(w report.Writer, reports []*model.CrawlReport) error {
	for _, r := range reports {
		if _, err := w.Write(r); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return nil
}
