package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nao1215/webcrawler/internal/config"
	"github.com/nao1215/webcrawler/internal/report"
	"github.com/nao1215/webcrawler/internal/urlutil"
)

// testSite serves a small site:
//
//	/        -> /a, /b, /missing
//	/a       -> /c
//	/b, /c   -> no links
//
// /missing answers 404. When brokenB is set, /b answers 500.
type testSite struct {
	*httptest.Server

	brokenB atomic.Bool

	mu      sync.Mutex
	headers []http.Header
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()

	site := &testSite{}
	pages := map[string]string{
		"/":  `<a href="/a">a</a> <a href="/b">b</a> <a href="/missing">gone</a>`,
		"/a": `<a href="/c">c</a>`,
		"/b": `no links`,
		"/c": `no links`,
	}
	site.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.headers = append(site.headers, r.Header.Clone())
		site.mu.Unlock()

		if r.URL.Path == "/b" && site.brokenB.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body>%s</body></html>", body)
	}))
	t.Cleanup(site.Close)
	return site
}

// emptyConfig writes an empty config file so tests never pick up a
// .webcrawler file from the home directory.
func emptyConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// runCLI executes the root command and returns stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCrawlCmd(t *testing.T) {
	t.Parallel()

	t.Run("plain report", func(t *testing.T) {
		t.Parallel()

		site := newTestSite(t)
		stdout, _, err := runCLI(t, "crawl", "--no-save", "-c", emptyConfig(t), site.URL+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := "Successful downloads: 3\n" +
			site.URL + "/\n" +
			site.URL + "/a\n" +
			site.URL + "/b\n" +
			"Failed downloads: 1 page\n" +
			"URL: " + site.URL + "/missing\n" +
			"Error: DownloadFailure: unexpected HTTP status: 404 Not Found\n"
		if stdout != want {
			t.Errorf("expected:\n%s\ngot:\n%s", want, stdout)
		}
	})

	t.Run("positional depth", func(t *testing.T) {
		t.Parallel()

		site := newTestSite(t)
		stdout, _, err := runCLI(t, "crawl", "--no-save", "-c", emptyConfig(t), site.URL+"/", "3", "2", "2", "1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(stdout, "Successful downloads: 4\n") {
			t.Errorf("expected 4 downloads at depth 3, got:\n%s", stdout)
		}
		if !strings.Contains(stdout, site.URL+"/c\n") {
			t.Errorf("expected the third level page, got:\n%s", stdout)
		}
	})

	t.Run("depth 1 fetches only the seed", func(t *testing.T) {
		t.Parallel()

		site := newTestSite(t)
		stdout, _, err := runCLI(t, "crawl", "--no-save", "-c", emptyConfig(t), site.URL+"/", "1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "Successful downloads: 1\n" + site.URL + "/\nFailed downloads: 0 page\n"
		if stdout != want {
			t.Errorf("expected %q, got %q", want, stdout)
		}
	})

	t.Run("negative positionals keep defaults", func(t *testing.T) {
		t.Parallel()

		site := newTestSite(t)
		stdout, _, err := runCLI(t, "crawl", "--no-save", "-c", emptyConfig(t), site.URL+"/", "-1", "-3")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(stdout, "Successful downloads: 3\n") {
			t.Errorf("expected the default depth of 2, got:\n%s", stdout)
		}
		if strings.Contains(stdout, site.URL+"/c\n") {
			t.Errorf("expected no third level page, got:\n%s", stdout)
		}
	})

	t.Run("non-integer depth", func(t *testing.T) {
		t.Parallel()

		_, _, err := runCLI(t, "crawl", "--no-save", "-c", emptyConfig(t), "http://example.com/", "deep")
		if !errors.Is(err, config.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("malformed seed is reported, not fatal", func(t *testing.T) {
		t.Parallel()

		stdout, _, err := runCLI(t, "crawl", "--no-save", "-c", emptyConfig(t), "not a url")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(stdout, "Successful downloads: 0\n") ||
			!strings.Contains(stdout, "Error: MalformedURL") {
			t.Errorf("expected a MalformedURL failure, got:\n%s", stdout)
		}
	})

	t.Run("json report", func(t *testing.T) {
		t.Parallel()

		site := newTestSite(t)
		stdout, _, err := runCLI(t, "crawl", "--no-save", "--json", "-c", emptyConfig(t), site.URL+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var got report.JSONReport
		if err := json.Unmarshal([]byte(stdout), &got); err != nil {
			t.Fatalf("failed to decode output: %v\n%s", err, stdout)
		}
		if got.Summary.Downloaded != 3 || got.Summary.Failed != 1 {
			t.Errorf("expected 3 downloaded and 1 failed, got %+v", got.Summary)
		}
		if got.Report == nil || got.Report.Seed != site.URL+"/" || got.Report.Depth != config.DefaultDepth {
			t.Errorf("unexpected report: %+v", got.Report)
		}
	})

	t.Run("markdown report to file", func(t *testing.T) {
		t.Parallel()

		site := newTestSite(t)
		outputPath := filepath.Join(t.TempDir(), "reports", "crawl.md")
		stdout, stderr, err := runCLI(t, "crawl", "--no-save", "-m", "-o", outputPath, "-c", emptyConfig(t), site.URL+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stdout != "" {
			t.Errorf("expected nothing on stdout, got %q", stdout)
		}
		if !strings.Contains(stderr, "Report written to: "+outputPath) {
			t.Errorf("expected a confirmation on stderr, got %q", stderr)
		}

		content, err := os.ReadFile(outputPath)
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}
		if !strings.Contains(string(content), "# Crawl Report") {
			t.Errorf("expected a Markdown report, got:\n%s", content)
		}

		info, err := os.Stat(outputPath)
		if err != nil {
			t.Fatalf("failed to stat report: %v", err)
		}
		if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
			t.Errorf("expected permissions 0600, got %o", info.Mode().Perm())
		}
	})

	t.Run("host settings from the config file", func(t *testing.T) {
		t.Parallel()

		site := newTestSite(t)
		configPath := filepath.Join(t.TempDir(), ".webcrawler")
		yaml := `hosts:
  127.0.0.1:
    depth: 3
    headers:
      X-Crawl-Token: secret
    ignorePatterns:
      - "/b"
`
		if err := os.WriteFile(configPath, []byte(yaml), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		stdout, _, err := runCLI(t, "crawl", "--no-save", "-c", configPath, site.URL+"/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Depth 3 from the host entry reaches /c; /b is ignored.
		if !strings.HasPrefix(stdout, "Successful downloads: 3\n") ||
			!strings.Contains(stdout, site.URL+"/c\n") || strings.Contains(stdout, site.URL+"/b\n") {
			t.Errorf("unexpected report:\n%s", stdout)
		}

		site.mu.Lock()
		defer site.mu.Unlock()
		for _, h := range site.headers {
			if h.Get("X-Crawl-Token") != "secret" {
				t.Errorf("expected the configured header on every request, got %v", h)
			}
		}
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		t.Parallel()

		missing := filepath.Join(t.TempDir(), "nope.yaml")
		_, _, err := runCLI(t, "crawl", "--no-save", "-c", missing, "http://example.com/")
		if !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("conflicting flags", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			args []string
			want error
		}{
			{"json and markdown", []string{"--json", "--markdown"}, config.ErrConflictingReportFormats},
			{"proxy and tor", []string{"--proxy", "127.0.0.1:9050", "--tor"}, config.ErrConflictingProxy},
		}
		for _, tt := range tests {
			args := append([]string{"crawl", "--no-save", "-c", emptyConfig(t)}, tt.args...)
			args = append(args, "http://example.com/")
			if _, _, err := runCLI(t, args...); !errors.Is(err, tt.want) {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
			}
		}
	})

	t.Run("onion seeds", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			seed string
			want error
		}{
			{"bad checksum", "http://" + strings.Repeat("a", 56) + ".onion/", urlutil.ErrInvalidOnionHost},
			{"v2 address", "http://expyuzz4wqqyqhjn.onion/", urlutil.ErrOnionV2},
		}
		for _, tt := range tests {
			_, _, err := runCLI(t, "crawl", "--no-save", "-c", emptyConfig(t), "--proxy", "127.0.0.1:9050", tt.seed)
			if !errors.Is(err, tt.want) {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
			}
		}

		if _, _, err := runCLI(t, "batch", "--no-save", "-c", emptyConfig(t), "http://expyuzz4wqqyqhjn.onion/"); !errors.Is(err, urlutil.ErrOnionV2) {
			t.Errorf("batch: expected ErrOnionV2, got %v", err)
		}
	})

	t.Run("unreachable proxy", func(t *testing.T) {
		t.Parallel()

		_, _, err := runCLI(t, "crawl", "--no-save", "-c", emptyConfig(t), "--proxy", closedAddr(), "http://example.com/")
		if err == nil || !strings.Contains(err.Error(), "proxy check failed") {
			t.Errorf("expected a proxy check failure, got %v", err)
		}
	})

	t.Run("too many arguments", func(t *testing.T) {
		t.Parallel()

		if _, _, err := runCLI(t, "crawl", "http://example.com/", "1", "2", "3", "4", "5"); err == nil {
			t.Error("expected an error for six arguments")
		}
	})
}

// closedAddr returns the address of a port nothing listens on.
func closedAddr() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()
	return addr
}

func TestBatchCmd(t *testing.T) {
	t.Parallel()

	site := newTestSite(t)
	seeds := []string{site.URL + "/", site.URL + "/a", site.URL + "/missing"}

	args := append([]string{"batch", "--no-save", "--json", "-b", "2", "--per-host", "1", "-c", emptyConfig(t)}, seeds...)
	stdout, stderr, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dec := json.NewDecoder(strings.NewReader(stdout))
	var reports []report.JSONReport
	for {
		var r report.JSONReport
		if err := dec.Decode(&r); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			t.Fatalf("failed to decode output: %v", err)
		}
		reports = append(reports, r)
	}

	if len(reports) != len(seeds) {
		t.Fatalf("expected %d reports, got %d", len(seeds), len(reports))
	}
	for i, r := range reports {
		if r.Report.Seed != seeds[i] {
			t.Errorf("report %d: expected seed %s, got %s", i, seeds[i], r.Report.Seed)
		}
		if r.Report.PerHost != 1 {
			t.Errorf("report %d: expected per-host limit 1, got %d", i, r.Report.PerHost)
		}
	}
	if reports[0].Summary.Downloaded != 3 || reports[1].Summary.Downloaded != 2 {
		t.Errorf("unexpected download counts: %d and %d",
			reports[0].Summary.Downloaded, reports[1].Summary.Downloaded)
	}
	if reports[2].Summary.Downloaded != 0 || reports[2].Summary.Failed != 1 {
		t.Errorf("expected the missing seed to fail, got %+v", reports[2].Summary)
	}
	if strings.Count(stdout, "\n") != len(seeds) {
		t.Errorf("expected one line per report, got:\n%s", stdout)
	}
	if !strings.Contains(stderr, "Batch crawl completed") {
		t.Errorf("expected progress on stderr, got %q", stderr)
	}
}
