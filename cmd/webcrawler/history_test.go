package main

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/webcrawler/internal/database"
	"github.com/nao1215/webcrawler/internal/model"
)

func TestHistoryCmd(t *testing.T) {
	t.Parallel()

	t.Run("no database yet", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "empty")
		stdout, _, err := runCLI(t, "history", "--db-dir", dbDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(stdout, "No crawl history found.") {
			t.Errorf("expected the empty history text, got %q", stdout)
		}
	})

	t.Run("records, lists, prints and deletes runs", func(t *testing.T) {
		t.Parallel()

		site := newTestSite(t)
		seed := site.URL + "/"
		dbDir := t.TempDir()
		cfg := emptyConfig(t)

		for range 2 {
			if _, _, err := runCLI(t, "crawl", "--db-dir", dbDir, "-c", cfg, seed); err != nil {
				t.Fatalf("crawl failed: %v", err)
			}
		}

		stdout, _, err := runCLI(t, "history", "--db-dir", dbDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(stdout, "Crawled seeds (1):") || !strings.Contains(stdout, seed) {
			t.Errorf("expected the seed to be listed, got:\n%s", stdout)
		}

		stdout, _, err = runCLI(t, "history", "--db-dir", dbDir, seed)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(stdout, "(2 runs)") {
			t.Errorf("expected two runs, got:\n%s", stdout)
		}

		stdout, _, err = runCLI(t, "history", "--db-dir", dbDir, "--id", "1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(stdout, "Successful downloads: 3\n") {
			t.Errorf("expected the stored plain report, got:\n%s", stdout)
		}

		stdout, _, err = runCLI(t, "history", "--db-dir", dbDir, "--id", "1", "--json")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(stdout, `"seed": "`+seed+`"`) {
			t.Errorf("expected a JSON report, got:\n%s", stdout)
		}

		if _, _, err := runCLI(t, "history", "--db-dir", dbDir, "--delete", "1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, _, err = runCLI(t, "history", "--db-dir", dbDir, "--id", "1")
		if !errors.Is(err, database.ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound after delete, got %v", err)
		}
	})

	t.Run("id and delete together", func(t *testing.T) {
		t.Parallel()

		_, _, err := runCLI(t, "history", "--db-dir", t.TempDir(), "--id", "1", "--delete", "2")
		if err == nil {
			t.Error("expected an error")
		}
	})
}

func TestCompareCmd(t *testing.T) {
	t.Parallel()

	site := newTestSite(t)
	seed := site.URL + "/"
	dbDir := t.TempDir()
	cfg := emptyConfig(t)

	if _, _, err := runCLI(t, "crawl", "--db-dir", dbDir, "-c", cfg, seed); err != nil {
		t.Fatalf("crawl failed: %v", err)
	}

	_, _, err := runCLI(t, "compare", "--db-dir", dbDir, seed)
	if err == nil || !strings.Contains(err.Error(), "only one run") {
		t.Errorf("expected an error with one run, got %v", err)
	}

	// The second run sees /b failing.
	site.brokenB.Store(true)
	if _, _, err := runCLI(t, "crawl", "--db-dir", dbDir, "-c", cfg, seed); err != nil {
		t.Fatalf("crawl failed: %v", err)
	}

	stdout, _, err := runCLI(t, "compare", "--db-dir", dbDir, seed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"Crawl Comparison: " + seed,
		"WORSENED",
		"Missing Pages (1):",
		"[-] " + site.URL + "/b",
		"New Failures (1):",
		"Unchanged: 2 pages",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, stdout)
		}
	}

	stdout, _, err = runCLI(t, "compare", "--db-dir", dbDir, "--json", seed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result ComparisonResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	if result.Previous.ID != 1 || result.Current.ID != 2 {
		t.Errorf("expected runs 1 and 2, got %d and %d", result.Previous.ID, result.Current.ID)
	}

	if _, _, err := runCLI(t, "compare", "--db-dir", dbDir, "http://unknown.example/"); err == nil {
		t.Error("expected an error for an unknown seed")
	}
}

func TestCompareReports(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	previous := &model.CrawlReport{
		CrawlParams: model.CrawlParams{Seed: "https://example.com/"},
		ID:          1,
		StartedAt:   start,
		Downloaded:  []string{"https://example.com/", "https://example.com/old"},
		Failures: []model.Failure{
			{URL: "https://example.com/flaky", Kind: "DownloadFailure", Message: "timeout"},
		},
	}
	current := &model.CrawlReport{
		CrawlParams: model.CrawlParams{Seed: "https://example.com/"},
		ID:          2,
		StartedAt:   start.Add(time.Hour),
		Downloaded:  []string{"https://example.com/", "https://example.com/flaky", "https://example.com/new"},
		Failures:    []model.Failure{},
	}

	result := compareReports(previous, current)

	if want := []string{"https://example.com/flaky", "https://example.com/new"}; !slices.Equal(result.NewPages, want) {
		t.Errorf("expected new pages %v, got %v", want, result.NewPages)
	}
	if want := []string{"https://example.com/old"}; !slices.Equal(result.MissingPages, want) {
		t.Errorf("expected missing pages %v, got %v", want, result.MissingPages)
	}
	if len(result.ResolvedFailures) != 1 || len(result.NewFailures) != 0 {
		t.Errorf("expected one resolved failure, got %+v / %+v", result.ResolvedFailures, result.NewFailures)
	}
	if result.UnchangedPages != 1 {
		t.Errorf("expected 1 unchanged page, got %d", result.UnchangedPages)
	}
	if result.Direction != directionImproved {
		t.Errorf("expected %s, got %s", directionImproved, result.Direction)
	}
}

func TestFormatDelta(t *testing.T) {
	t.Parallel()

	tests := map[int]string{3: "+3", 0: "0", -2: "-2"}
	for in, want := range tests {
		if got := formatDelta(in); got != want {
			t.Errorf("formatDelta(%d) = %q, want %q", in, got, want)
		}
	}
}
