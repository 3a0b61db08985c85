package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	scheduledInterval int
	scheduledRepos    string
)

var scheduledCmd = &cobra.Command{
	Use:   "scheduled",
	Short: "Run incremental collection on a fixed cadence",
	Long: `Collects the trailing interval's activity, then repeats every
interval until interrupted. Interrupts take effect between cycles.`,
	RunE: runScheduled,
}

func init() {
	scheduledCmd.Flags().IntVar(&scheduledInterval, "interval", 0, "hours between collection cycles (default COLLECTION_CADENCE_HOURS)")
	scheduledCmd.Flags().StringVar(&scheduledRepos, "repos", "", "comma-separated repository filter")
	rootCmd.AddCommand(scheduledCmd)
}

func runScheduled(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	hours := scheduledInterval
	if hours < 1 {
		hours = a.cfg.CollectionCadenceHours
	}
	interval := time.Duration(hours) * time.Hour
	err = a.collector.RunScheduled(ctx, interval, splitRepos(scheduledRepos))
	if errors.Is(err, context.Canceled) {
		cmd.Println("Scheduled collection stopped.")
		return nil
	}
	return err
}
