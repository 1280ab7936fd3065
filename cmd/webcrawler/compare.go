package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/webcrawler/internal/config"
	"github.com/nao1215/webcrawler/internal/model"
)

// Directions of the change between two runs.
const (
	directionImproved  = "improved"
	directionWorsened  = "worsened"
	directionUnchanged = "unchanged"
)

// NewCompareCmd creates the compare command.
func NewCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <seed>",
		Short: "Compare two recorded crawl runs of a seed",
		Long: `Compare shows how a site changed between two crawl runs of the same seed:
pages that appeared or disappeared, failures that are new and failures that
were resolved.

By default the latest two runs are compared. Use 'webcrawler history <seed>'
to see the available run IDs.

Examples:
  # Compare the latest two runs
  webcrawler compare https://example.com/

  # Compare run 3 with the latest run
  webcrawler compare --with-run-id 3 https://example.com/

  # JSON output
  webcrawler compare --json https://example.com/`,
		Args: cobra.ExactArgs(1),
		RunE: runCompareCmd,
	}

	cmd.Flags().Int64P("with-run-id", "i", 0,
		"Compare the latest run with the run with this ID")
	cmd.Flags().BoolP("json", "j", false,
		"Output comparison result in JSON format")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")

	return cmd
}

// RunMetadata summarizes one side of a comparison.
type RunMetadata struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	Downloaded  int       `json:"downloaded"`
	Failed      int       `json:"failed"`
	SuccessRate float64   `json:"success_rate"`
}

// ComparisonResult is the difference between two runs of a seed.
type ComparisonResult struct {
	Seed     string      `json:"seed"`
	Previous RunMetadata `json:"previous"`
	Current  RunMetadata `json:"current"`

	// Direction is improved when the success rate went up.
	Direction string `json:"direction"`

	NewPages         []string        `json:"new_pages"`
	MissingPages     []string        `json:"missing_pages"`
	NewFailures      []model.Failure `json:"new_failures"`
	ResolvedFailures []model.Failure `json:"resolved_failures"`
	UnchangedPages   int             `json:"unchanged_pages"`
}

func runCompareCmd(cmd *cobra.Command, args []string) error {
	seed := args[0]

	withRunID, err := cmd.Flags().GetInt64("with-run-id")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	db, err := openHistory(cmd)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("no crawl history found (use 'webcrawler crawl' to record runs)")
	}
	defer db.Close()

	ctx := cmd.Context()
	runs, err := db.ListRuns(ctx, seed)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return fmt.Errorf("no crawl history found for %s", seed)
	}

	currentID := runs[0].ID
	var previousID int64
	switch {
	case withRunID != 0:
		previousID = withRunID
	case len(runs) < 2:
		return fmt.Errorf("only one run recorded for %s, at least two are needed", seed)
	default:
		previousID = runs[1].ID
	}

	current, err := db.GetReport(ctx, currentID)
	if err != nil {
		return err
	}
	previous, err := db.GetReport(ctx, previousID)
	if err != nil {
		return fmt.Errorf("failed to load run %d: %w", previousID, err)
	}
	if previous.Seed != seed {
		return fmt.Errorf("run %d belongs to %s, not %s", previousID, previous.Seed, seed)
	}

	result := compareReports(previous, current)
	if jsonOutput {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
	outputComparisonText(cmd.OutOrStdout(), result)
	return nil
}

// compareReports compares two reports of the same seed.
func compareReports(previous, current *model.CrawlReport) *ComparisonResult {
	result := &ComparisonResult{
		Seed:             current.Seed,
		Previous:         runMetadata(previous),
		Current:          runMetadata(current),
		NewPages:         []string{},
		MissingPages:     []string{},
		NewFailures:      []model.Failure{},
		ResolvedFailures: []model.Failure{},
	}

	// Downloaded lists are sorted.
	for _, u := range current.Downloaded {
		if _, found := slices.BinarySearch(previous.Downloaded, u); found {
			result.UnchangedPages++
		} else {
			result.NewPages = append(result.NewPages, u)
		}
	}
	for _, u := range previous.Downloaded {
		if _, found := slices.BinarySearch(current.Downloaded, u); !found {
			result.MissingPages = append(result.MissingPages, u)
		}
	}

	previousFailures := failureSet(previous.Failures)
	currentFailures := failureSet(current.Failures)
	for _, f := range current.Failures {
		if _, ok := previousFailures[f.URL]; !ok {
			result.NewFailures = append(result.NewFailures, f)
		}
	}
	for _, f := range previous.Failures {
		if _, ok := currentFailures[f.URL]; !ok {
			result.ResolvedFailures = append(result.ResolvedFailures, f)
		}
	}

	switch {
	case result.Current.SuccessRate > result.Previous.SuccessRate:
		result.Direction = directionImproved
	case result.Current.SuccessRate < result.Previous.SuccessRate:
		result.Direction = directionWorsened
	default:
		result.Direction = directionUnchanged
	}

	return result
}

func runMetadata(r *model.CrawlReport) RunMetadata {
	return RunMetadata{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		Downloaded:  len(r.Downloaded),
		Failed:      len(r.Failures),
		SuccessRate: r.SuccessRate(),
	}
}

// failureSet indexes failures by URL.
func failureSet(failures []model.Failure) map[string]struct{} {
	set := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		set[f.URL] = struct{}{}
	}
	return set
}

// outputComparisonText writes the comparison in human-readable form.
func outputComparisonText(w io.Writer, result *ComparisonResult) {
	fmt.Fprintf(w, "Crawl Comparison: %s\n", result.Seed)
	fmt.Fprintln(w, strings.Repeat("=", 60))

	fmt.Fprintf(w, "\nStatus: %s\n", formatDirection(result.Direction))
	fmt.Fprintf(w, "\nPrevious run: #%d %s\n", result.Previous.ID,
		result.Previous.StartedAt.Local().Format(historyTimeLayout))
	fmt.Fprintf(w, "Current run:  #%d %s\n", result.Current.ID,
		result.Current.StartedAt.Local().Format(historyTimeLayout))

	fmt.Fprintln(w, "\nSummary:")
	fmt.Fprintf(w, "  %-12s  %-10s  %-10s  %-10s\n", "Metric", "Previous", "Current", "Change")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 48))
	fmt.Fprintf(w, "  %-12s  %-10d  %-10d  %-10s\n", "Downloaded",
		result.Previous.Downloaded, result.Current.Downloaded,
		formatDelta(result.Current.Downloaded-result.Previous.Downloaded))
	fmt.Fprintf(w, "  %-12s  %-10d  %-10d  %-10s\n", "Failed",
		result.Previous.Failed, result.Current.Failed,
		formatDelta(result.Current.Failed-result.Previous.Failed))

	if len(result.NewPages) > 0 {
		fmt.Fprintf(w, "\nNew Pages (%d):\n", len(result.NewPages))
		for _, u := range result.NewPages {
			fmt.Fprintf(w, "  [+] %s\n", u)
		}
	}
	if len(result.MissingPages) > 0 {
		fmt.Fprintf(w, "\nMissing Pages (%d):\n", len(result.MissingPages))
		for _, u := range result.MissingPages {
			fmt.Fprintf(w, "  [-] %s\n", u)
		}
	}
	if len(result.NewFailures) > 0 {
		fmt.Fprintf(w, "\nNew Failures (%d):\n", len(result.NewFailures))
		for _, f := range result.NewFailures {
			fmt.Fprintf(w, "  [+] %s: %s: %s\n", f.URL, f.Kind, f.Message)
		}
	}
	if len(result.ResolvedFailures) > 0 {
		fmt.Fprintf(w, "\nResolved Failures (%d):\n", len(result.ResolvedFailures))
		for _, f := range result.ResolvedFailures {
			fmt.Fprintf(w, "  [-] %s\n", f.URL)
		}
	}
	if result.UnchangedPages > 0 {
		fmt.Fprintf(w, "\nUnchanged: %d pages\n", result.UnchangedPages)
	}
}

func formatDirection(direction string) string {
	switch direction {
	case directionImproved:
		return "IMPROVED (higher success rate)"
	case directionWorsened:
		return "WORSENED (lower success rate)"
	default:
		return "UNCHANGED"
	}
}

// formatDelta formats a numeric delta with sign for display.
func formatDelta(delta int) string {
	if delta > 0 {
		return "+" + strconv.Itoa(delta)
	}
	return strconv.Itoa(delta)
}
