// Package cli implements the ghstats command surface.
package cli

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/askscio/github-stats-collector/internal/config"
	"github.com/askscio/github-stats-collector/internal/logger"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "ghstats",
	Short: "Collect GitHub PR activity into BigQuery",
	Long: `ghstats walks an organization's repositories, fetches pull requests
with their commits, reviews and comments, optionally stages the data in
Cloud Storage, and upserts it into BigQuery without duplicates.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the CLI and returns the process exit code: 0 on
// success, 2 on configuration errors, 1 on anything else.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("%v", err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if config.IsConfigError(err) {
		return 2
	}
	return 1
}

// splitRepos parses a comma-separated repository filter.
func splitRepos(raw string) []string {
	if raw == "" {
		return nil
	}
	var repos []string
	for _, repo := range strings.Split(raw, ",") {
		if repo = strings.TrimSpace(repo); repo != "" {
			repos = append(repos, repo)
		}
	}
	return repos
}

// printCounts renders per-table row counts in stable order.
func printCounts(cmd *cobra.Command, counts map[string]int) {
	if len(counts) == 0 {
		cmd.Println("No rows published.")
		return
	}

	tables := make([]string, 0, len(counts))
	for table := range counts {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	total := 0
	for _, table := range tables {
		cmd.Printf("  %-16s %d rows\n", table, counts[table])
		total += counts[table]
	}
	cmd.Printf("  %-16s %d rows\n", "total", total)
}
