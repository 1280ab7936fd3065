package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "webcrawler"

	// DefaultDepth downloads the seed and the pages it links to.
	DefaultDepth = 2

	// DefaultDownloaders is the number of download workers.
	DefaultDownloaders = 5

	// DefaultExtractors is the number of link extraction workers.
	DefaultExtractors = 5

	// DefaultPerHost is the maximum number of concurrent downloads per host.
	DefaultPerHost = 3

	// DefaultTimeout bounds a single HTTP request, including redirects and
	// reading the body.
	DefaultTimeout = 30 * time.Second

	// DefaultBatchSize is the number of seeds crawled at once by the batch
	// command.
	DefaultBatchSize = 4

	// DefaultUserAgent identifies the crawler in HTTP requests.
	DefaultUserAgent = "webcrawler/1.0 (+https://github.com/nao1215/webcrawler)"

	// DefaultMaxBodySize limits the response body size read per page.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute
)

// Config holds all options of a crawl.
// It is populated from CLI flags, positional arguments and the config file,
// and passed down explicitly rather than kept in global state.
type Config struct {
	// Seeds are the URLs crawls start from. The crawl command uses exactly
	// one seed; the batch command accepts many.
	Seeds []string

	// Depth is the number of BFS levels to download. Depth 1 fetches only
	// the seed; depth 0 fetches nothing.
	Depth int

	// Downloaders is the number of goroutines fetching pages.
	Downloaders int

	// Extractors is the number of goroutines extracting links.
	Extractors int

	// PerHost caps concurrent downloads against a single host.
	PerHost int

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// ProxyAddress is an external SOCKS5 proxy in "host:port" format.
	// Empty means direct connections.
	ProxyAddress string

	// UseEmbeddedTor starts a private Tor daemon and routes every request
	// through it. Mutually exclusive with ProxyAddress.
	UseEmbeddedTor bool

	// TorStartupTimeout is the maximum time to wait for the embedded Tor
	// daemon. Only used when UseEmbeddedTor is true.
	TorStartupTimeout time.Duration

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes to read.
	// Longer bodies are truncated. 0 means DefaultMaxBodySize.
	MaxBodySize int64

	// BatchSize is the number of seeds crawled concurrently by the batch
	// command.
	BatchSize int

	// Verbose enables debug logging.
	Verbose bool

	// JSONReport selects the JSON report. Mutually exclusive with
	// MarkdownReport.
	JSONReport bool

	// MarkdownReport selects the Markdown report. Mutually exclusive with
	// JSONReport.
	MarkdownReport bool

	// ReportFile is the path the report is written to. Empty means stdout.
	ReportFile string

	// ConfigFilePath is an explicit path to the YAML config file.
	ConfigFilePath string

	// HostConfigs holds the per-host settings loaded from the config file.
	// Nil means no file was loaded.
	HostConfigs *File

	// DBDir is the directory of the run history database.
	// Defaults to the XDG data directory.
	DBDir string

	// SaveToDB stores every crawl report in the run history database.
	SaveToDB bool
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Depth:             DefaultDepth,
		Downloaders:       DefaultDownloaders,
		Extractors:        DefaultExtractors,
		PerHost:           DefaultPerHost,
		Timeout:           DefaultTimeout,
		TorStartupTimeout: DefaultTorStartupTimeout,
		UserAgent:         DefaultUserAgent,
		MaxBodySize:       DefaultMaxBodySize,
		BatchSize:         DefaultBatchSize,
		DBDir:             XDGDataDir(),
		SaveToDB:          true,
	}
}

// XDGDataDir returns the XDG data directory of the crawler.
// On Linux: ~/.local/share/webcrawler
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory of the crawler.
// On Linux: ~/.config/webcrawler
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ApplyPositional applies the arguments "url [depth [downloaders
// [extractors [perHost]]]]". The URL replaces Seeds. A numeric argument
// that is zero or negative leaves the default value in place, and a missing
// one leaves the current value untouched.
func (c *Config) ApplyPositional(args []string) error {
	if len(args) == 0 {
		return ErrNoSeed
	}
	if len(args) > 5 {
		return fmt.Errorf("%w: expected at most 5 arguments, got %d", ErrInvalidArgument, len(args))
	}
	c.Seeds = []string{args[0]}

	targets := []struct {
		name  string
		field *int
		def   int
	}{
		{"depth", &c.Depth, DefaultDepth},
		{"downloaders", &c.Downloaders, DefaultDownloaders},
		{"extractors", &c.Extractors, DefaultExtractors},
		{"perHost", &c.PerHost, DefaultPerHost},
	}
	for i, arg := range args[1:] {
		target := targets[i]
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%w: %s %q is not an integer", ErrInvalidArgument, target.name, arg)
		}
		if n <= 0 {
			n = target.def
		}
		*target.field = n
	}
	return nil
}

// HostConfig returns the settings for host, or zero settings when no config
// file was loaded.
func (c *Config) HostConfig(host string) HostConfig {
	if c.HostConfigs == nil {
		return HostConfig{}
	}
	return c.HostConfigs.HostConfig(host)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if len(c.Seeds) == 0 {
		return ErrNoSeed
	}
	if c.Depth < 0 {
		return ErrInvalidDepth
	}
	if c.Downloaders <= 0 || c.Extractors <= 0 || c.PerHost <= 0 {
		return ErrInvalidWorkers
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.ProxyAddress != "" && c.UseEmbeddedTor {
		return ErrConflictingProxy
	}
	return nil
}
