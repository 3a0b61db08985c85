package cli

import (
	"github.com/spf13/cobra"
)

var (
	backfillDays  int
	backfillRepos string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Collect and publish historical PR activity",
	RunE:  runBackfill,
}

func init() {
	backfillCmd.Flags().IntVar(&backfillDays, "days", 0, "number of days to backfill (default DEFAULT_LOOKBACK_DAYS)")
	backfillCmd.Flags().StringVar(&backfillRepos, "repos", "", "comma-separated repository filter")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	days := backfillDays
	if days < 1 {
		days = a.cfg.DefaultLookbackDays
	}
	counts, err := a.collector.Backfill(ctx, days, splitRepos(backfillRepos))
	if err != nil {
		return err
	}

	cmd.Printf("Backfill complete (%d days):\n", days)
	printCounts(cmd, counts)
	return nil
}
