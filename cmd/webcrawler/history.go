package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/webcrawler/internal/config"
	"github.com/nao1215/webcrawler/internal/database"
	"github.com/nao1215/webcrawler/internal/model"
)

// historyTimeLayout formats run timestamps in listings.
const historyTimeLayout = "2006-01-02 15:04:05"

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [seed]",
		Short: "Show recorded crawl runs",
		Long: `History shows the crawl runs recorded in the history database.

Without arguments it lists every seed that was crawled. With a seed it lists
the runs of that seed, newest first. With --id it prints the report of one
run in the same formats the crawl command supports.

Examples:
  # List crawled seeds
  webcrawler history

  # List the runs of a seed
  webcrawler history https://example.com/

  # Print run 12 as Markdown
  webcrawler history --id 12 --markdown

  # Delete run 12
  webcrawler history --delete 12`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().Int64P("id", "i", 0,
		"Print the report of the run with this ID")
	cmd.Flags().Int64("delete", 0,
		"Delete the run with this ID")
	cmd.Flags().BoolP("json", "j", false,
		"Print the report as JSON (with --id)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Print the report as Markdown (with --id)")
	cmd.Flags().BoolP("summary", "s", false,
		"Append run parameters and statistics to the plain text report (with --id)")
	cmd.Flags().StringP("output", "o", "",
		"Write the report to specified file path (with --id)")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	runID, err := flags.GetInt64("id")
	if err != nil {
		return err
	}
	deleteID, err := flags.GetInt64("delete")
	if err != nil {
		return err
	}
	if runID != 0 && deleteID != 0 {
		return errors.New("--id and --delete cannot be used together")
	}

	db, err := openHistory(cmd)
	if err != nil {
		return err
	}
	if db == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No crawl history found.")
		fmt.Fprintln(cmd.OutOrStdout(), "\nUse 'webcrawler crawl <url>' to crawl a site.")
		return nil
	}
	defer db.Close()

	ctx := cmd.Context()
	switch {
	case deleteID != 0:
		if err := db.DeleteRun(ctx, deleteID); err != nil {
			return fmt.Errorf("failed to delete run %d: %w", deleteID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %d\n", deleteID)
		return nil
	case runID != 0:
		return printRun(cmd, db, runID)
	case len(args) == 1:
		return listRuns(ctx, cmd.OutOrStdout(), db, args[0])
	default:
		return listSeeds(ctx, cmd.OutOrStdout(), db)
	}
}

// openHistory opens the history database without creating it. It returns
// nil if no crawl was ever recorded.
func openHistory(cmd *cobra.Command) (*database.CrawlDB, error) {
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dbDir, database.FileName)); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	db, err := database.Open(dbDir, database.Options{EnableWAL: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func listSeeds(ctx context.Context, w io.Writer, db *database.CrawlDB) error {
	seeds, err := db.ListSeeds(ctx)
	if err != nil {
		return err
	}

	if len(seeds) == 0 {
		fmt.Fprintln(w, "No crawled seeds found in the database.")
		fmt.Fprintln(w, "\nUse 'webcrawler crawl <url>' to crawl a site.")
		return nil
	}

	fmt.Fprintf(w, "Crawled seeds (%d):\n\n", len(seeds))
	for _, seed := range seeds {
		fmt.Fprintf(w, "  • %s\n", seed)
	}
	fmt.Fprintln(w, "\nUse 'webcrawler history <seed>' to see the runs of a seed.")
	return nil
}

func listRuns(ctx context.Context, w io.Writer, db *database.CrawlDB, seed string) error {
	runs, err := db.ListRuns(ctx, seed)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintf(w, "No crawl history found for %s\n", seed)
		return nil
	}

	fmt.Fprintf(w, "Crawl history for %s (%d runs):\n\n", seed, len(runs))
	fmt.Fprintf(w, "  %-6s  %-20s  %-5s  %-10s  %-6s  %s\n",
		"ID", "Started", "Depth", "Downloaded", "Failed", "Duration")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 66))
	for _, run := range runs {
		duration := run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		if run.Cancelled {
			duration += " (cancelled)"
		}
		fmt.Fprintf(w, "  %-6d  %-20s  %-5d  %-10d  %-6d  %s\n",
			run.ID, run.StartedAt.Local().Format(historyTimeLayout),
			run.Depth, run.Downloaded, run.Failed, duration)
	}

	fmt.Fprintln(w, "\nUse 'webcrawler history --id <id>' to print a run.")
	fmt.Fprintln(w, "Use 'webcrawler compare <seed>' to compare the latest two runs.")
	return nil
}

func printRun(cmd *cobra.Command, db *database.CrawlDB, id int64) error {
	crawlReport, err := db.GetReport(cmd.Context(), id)
	if err != nil {
		return err
	}

	cfg := config.NewConfig()
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}
	if cfg.JSONReport && cfg.MarkdownReport {
		return config.ErrConflictingReportFormats
	}

	return writeReports(cmd, cfg, []*model.CrawlReport{crawlReport}, true)
}
