package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var (
	loadGCSRepo string
	loadGCSDate string

	wipeGCSRepo    string
	wipeGCSConfirm bool
)

var loadGCSCmd = &cobra.Command{
	Use:   "load-gcs",
	Short: "Re-publish staged GCS data into BigQuery",
	Long: `Reads staged records back from the GCS bucket and upserts them into
BigQuery without touching the GitHub API. Useful for reingestion after
schema changes or a failed publish.`,
	RunE: runLoadGCS,
}

var gcsSummaryCmd = &cobra.Command{
	Use:   "gcs-summary",
	Short: "Show what is staged in the GCS bucket",
	RunE:  runGCSSummary,
}

var wipeGCSCmd = &cobra.Command{
	Use:   "wipe-gcs",
	Short: "Delete all staged data for one repository",
	RunE:  runWipeGCS,
}

func init() {
	loadGCSCmd.Flags().StringVar(&loadGCSRepo, "repo", "", "only load this repository")
	loadGCSCmd.Flags().StringVar(&loadGCSDate, "date", "", "only load chunks staged on this date (YYYY-MM-DD)")
	rootCmd.AddCommand(loadGCSCmd)

	rootCmd.AddCommand(gcsSummaryCmd)

	wipeGCSCmd.Flags().StringVar(&wipeGCSRepo, "repo", "", "repository to wipe (required)")
	wipeGCSCmd.Flags().BoolVar(&wipeGCSConfirm, "confirm", false, "actually delete the data")
	wipeGCSCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(wipeGCSCmd)
}

func runLoadGCS(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if err := a.requireStaging(); err != nil {
		return err
	}

	counts, err := a.collector.LoadFromStagingAndPublish(ctx, loadGCSRepo, loadGCSDate)
	if err != nil {
		return err
	}
	cmd.Println("Load from GCS complete:")
	printCounts(cmd, counts)
	return nil
}

func runGCSSummary(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if err := a.requireStaging(); err != nil {
		return err
	}

	summary, err := a.staging.Summarize(ctx, a.cfg.GitHubOrg)
	if err != nil {
		return err
	}

	cmd.Println("GCS DATA SUMMARY")
	cmd.Printf("Organization: %s\n", summary.Organization)
	cmd.Printf("Total files: %d\n", summary.TotalFiles)
	cmd.Printf("Total size: %.2f MB\n", float64(summary.TotalSizeBytes)/(1024*1024))

	repos := make([]string, 0, len(summary.Repositories))
	for repo := range summary.Repositories {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	for _, repo := range repos {
		cmd.Printf("\n%s:\n", repo)
		for dataType, stats := range summary.Repositories[repo] {
			cmd.Printf("  %s: %d files, %.2f MB\n",
				dataType, stats.FileCount, float64(stats.SizeBytes)/(1024*1024))
		}
	}
	return nil
}

func runWipeGCS(cmd *cobra.Command, _ []string) error {
	// The confirmation gate comes first so a bare invocation has no
	// side effects at all.
	if !wipeGCSConfirm {
		return fmt.Errorf("this deletes ALL staged data for %s, re-run with --confirm to proceed", wipeGCSRepo)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if err := a.requireStaging(); err != nil {
		return err
	}

	count, err := a.staging.WipeRepository(ctx, a.cfg.GitHubOrg, wipeGCSRepo, "")
	if err != nil {
		return err
	}
	cmd.Printf("Deleted %d staged objects for %s.\n", count, wipeGCSRepo)
	return nil
}
