package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	collectSince string
	collectUntil string
	collectHours int
	collectRepos string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect and publish a custom time window",
	Long: `Collects PRs updated inside a window. Give --since (and optionally
--until, defaulting to now) for an explicit window, or --hours for a
trailing one. Timestamps accept RFC3339 or YYYY-MM-DD.`,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().StringVar(&collectSince, "since", "", "window start (RFC3339 or YYYY-MM-DD)")
	collectCmd.Flags().StringVar(&collectUntil, "until", "", "window end, defaults to now")
	collectCmd.Flags().IntVar(&collectHours, "hours", 0, "trailing window in hours")
	collectCmd.Flags().StringVar(&collectRepos, "repos", "", "comma-separated repository filter")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, _ []string) error {
	if collectUntil != "" && collectSince == "" {
		return fmt.Errorf("--until requires --since")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	repos := splitRepos(collectRepos)

	if collectSince != "" {
		since, err := parseTime(collectSince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		until := time.Now().UTC()
		if collectUntil != "" {
			if until, err = parseTime(collectUntil); err != nil {
				return fmt.Errorf("invalid --until: %w", err)
			}
		}

		counts, err := a.collector.CollectAndPublish(ctx, since, until, repos, "", false)
		if err != nil {
			return err
		}
		cmd.Printf("Collection complete (%s to %s):\n", since.Format(time.RFC3339), until.Format(time.RFC3339))
		printCounts(cmd, counts)
		return nil
	}

	// No explicit window falls back to the last 24 hours.
	hours := collectHours
	if hours < 1 {
		hours = 24
	}
	counts, err := a.collector.IncrementalCollect(ctx, hours, repos)
	if err != nil {
		return err
	}
	cmd.Printf("Collection complete (last %d hours):\n", hours)
	printCounts(cmd, counts)
	return nil
}

// parseTime accepts RFC3339 or a bare date, interpreted as UTC
// midnight.
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
