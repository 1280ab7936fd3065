package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for webcrawler.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webcrawler",
		Short: "Concurrent breadth-first web crawler",
		Long: `webcrawler downloads every page reachable from a seed URL, level by level,
up to a bounded depth. Downloads and link extraction run on separate worker
pools, and the number of concurrent downloads per host is capped.

Reports are printed as plain text, JSON or Markdown, and every crawl is
recorded in a local history database.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewBatchCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewCompareCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
