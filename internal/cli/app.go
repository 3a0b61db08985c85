package cli

import (
	"context"
	"fmt"

	"github.com/askscio/github-stats-collector/internal/collector"
	"github.com/askscio/github-stats-collector/internal/config"
	"github.com/askscio/github-stats-collector/internal/fetcher"
	"github.com/askscio/github-stats-collector/internal/github"
	"github.com/askscio/github-stats-collector/internal/logger"
	"github.com/askscio/github-stats-collector/internal/staging"
	"github.com/askscio/github-stats-collector/internal/warehouse/bigquery"
	"github.com/askscio/github-stats-collector/internal/warehouse/sqlite"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg       *config.Config
	collector *collector.Collector
	staging   *staging.Store
}

// newApp loads configuration and wires client, fetcher, warehouse and
// (when enabled) staging into a Collector.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	logger.Info("Configuration loaded for organization: %s", cfg.GitHubOrg)

	client := github.NewClient(ctx, cfg.GitHubToken, cfg.MaxRequestsPerHour)
	source := fetcher.New(client, cfg.MaxWorkers)

	wh, err := newWarehouse(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	var st collector.Staging
	if cfg.PersistToGCS {
		objects, err := staging.NewGCS(ctx, cfg.GCSBucketName, cfg.BigQueryProjectID)
		if err != nil {
			return nil, fmt.Errorf("connecting to staging bucket: %w", err)
		}
		a.staging = staging.New(objects, cfg.GCSChunkSize)
		st = a.staging
	}

	a.collector = collector.New(cfg.GitHubOrg, source, wh, st)
	return a, nil
}

// newWarehouse builds the configured publish target. BigQuery is the
// deployed backend, sqlite serves local runs.
func newWarehouse(ctx context.Context, cfg *config.Config) (collector.Warehouse, error) {
	if cfg.WarehouseBackend == config.BackendSQLite {
		return sqlite.NewStore(cfg.SQLiteDataDir)
	}
	return bigquery.New(ctx, cfg.BigQueryProjectID, cfg.BigQueryDatasetID, cfg.BigQueryLocation)
}

// requireStaging fails commands that only make sense with GCS
// persistence enabled.
func (a *app) requireStaging() error {
	if a.staging == nil {
		return fmt.Errorf("GCS persistence is not enabled, set PERSIST_TO_GCS=true")
	}
	return nil
}
