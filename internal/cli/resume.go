package cli

import (
	"github.com/spf13/cobra"
)

var (
	resumeCollectionID string
	resumeRepos        string
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted collection from its checkpoint",
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeCollectionID, "collection-id", "", "collection to resume (required)")
	resumeCmd.Flags().StringVar(&resumeRepos, "repos", "", "comma-separated repositories to limit the run to")
	resumeCmd.MarkFlagRequired("collection-id")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if err := a.requireStaging(); err != nil {
		return err
	}

	counts, err := a.collector.Resume(ctx, resumeCollectionID, splitRepos(resumeRepos))
	if err != nil {
		return err
	}
	cmd.Printf("Resumed collection %s:\n", resumeCollectionID)
	printCounts(cmd, counts)
	return nil
}
