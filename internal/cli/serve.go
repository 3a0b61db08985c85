package cli

import (
	"github.com/spf13/cobra"

	"github.com/askscio/github-stats-collector/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP trigger server",
	Long: `Starts an HTTP server exposing /collect for scheduled triggers and
/trigger for manual collections with custom windows and repository
filters.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	return server.New(a.cfg.GitHubOrg, a.collector).ListenAndServe(serveAddr)
}
