package cli

import (
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the warehouse dataset and tables",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	if err := a.collector.InitializeWarehouse(ctx); err != nil {
		return err
	}
	cmd.Println("Warehouse schema initialized.")
	return nil
}
