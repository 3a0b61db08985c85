// Package collector orchestrates one collection run: fetch from the
// API, optionally stage durably with a checkpoint, then publish into
// the warehouse.
package collector

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/askscio/github-stats-collector/internal/fetcher"
	"github.com/askscio/github-stats-collector/internal/logger"
	"github.com/askscio/github-stats-collector/internal/staging"
	"github.com/askscio/github-stats-collector/internal/warehouse"
)

// Source produces the records a run publishes.
type Source interface {
	OrganizationPRs(ctx context.Context, org string, since, until time.Time, repoFilter []string) (map[string][]*fetcher.PullRequest, error)
}

// Warehouse is the publish target.
type Warehouse interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, table warehouse.Table, rows []warehouse.Row) (int, error)
}

// Staging is the durable intermediate store. A nil Staging disables
// the staged path and runs publish directly off the fetch result.
type Staging interface {
	WritePullRequests(ctx context.Context, org, repo string, prs []*fetcher.PullRequest) ([]string, error)
	ReadPullRequests(ctx context.Context, org, repo, dateFilter string) ([]*fetcher.PullRequest, error)
	Repositories(ctx context.Context, org, dataType string) ([]string, error)
	WriteCheckpoint(ctx context.Context, org, collectionID string, data staging.CheckpointData) (string, error)
	ReadCheckpoint(ctx context.Context, org, collectionID string) (*staging.Checkpoint, error)
}

// Collector runs the collection state machine for one organization.
type Collector struct {
	org     string
	source  Source
	wh      Warehouse
	staging Staging
}

// New builds a Collector. st may be nil to publish without staging.
func New(org string, source Source, wh Warehouse, st Staging) *Collector {
	return &Collector{
		org:     org,
		source:  source,
		wh:      wh,
		staging: st,
	}
}

// InitializeWarehouse provisions the warehouse dataset and tables.
func (c *Collector) InitializeWarehouse(ctx context.Context) error {
	logger.Info("Initializing warehouse schema")
	return c.wh.EnsureSchema(ctx)
}

// CollectAndPublish is the general entry point: fetch the window, then
// either stage-checkpoint-publish or publish directly. Returns the
// per-table upserted row counts.
func (c *Collector) CollectAndPublish(ctx context.Context, since, until time.Time, repoFilter []string, collectionID string, resume bool) (map[string]int, error) {
	if collectionID == "" {
		collectionID = uuid.NewString()
	}

	logger.Info("Starting collection %s for organization %s", collectionID, c.org)
	logger.Info("Date range: %s to %s", since.Format(time.RFC3339), until.Format(time.RFC3339))

	fetched, err := c.source.OrganizationPRs(ctx, c.org, since, until, repoFilter)
	if err != nil {
		return nil, err
	}

	if c.staging == nil {
		counts := warehouse.Publish(ctx, c.wh, dedupe(warehouse.Flatten(fetched)))
		return counts, nil
	}
	return c.stageAndPublish(ctx, fetched, since, until, collectionID, resume)
}

// stageAndPublish persists the fetched records, checkpoints progress,
// then rebuilds the warehouse from the full staged corpus. Staging is
// the authoritative log, so the read-back deliberately covers every
// staged repository, not just this run's.
func (c *Collector) stageAndPublish(ctx context.Context, fetched map[string][]*fetcher.PullRequest, since, until time.Time, collectionID string, resume bool) (map[string]int, error) {
	completed := make(map[string]bool)
	var stagedPaths []string

	if resume {
		checkpoint, err := c.staging.ReadCheckpoint(ctx, c.org, collectionID)
		if err != nil {
			return nil, err
		}
		if checkpoint != nil {
			logger.Info("Resuming %s: %d repositories already staged", collectionID, len(checkpoint.Data.CompletedRepos))
			for _, repo := range checkpoint.Data.CompletedRepos {
				completed[repo] = true
			}
			stagedPaths = checkpoint.Data.StagedPaths
		} else {
			logger.Warn("No checkpoint found for collection %s, starting fresh", collectionID)
		}
	}

	repos := make([]string, 0, len(fetched))
	for repo := range fetched {
		if completed[repo] {
			logger.Debug("Skipping already staged repository %s", repo)
			continue
		}
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	for _, repo := range repos {
		paths, err := c.staging.WritePullRequests(ctx, c.org, repo, fetched[repo])
		if err != nil {
			return nil, err
		}
		stagedPaths = append(stagedPaths, paths...)
		completed[repo] = true
	}

	completedRepos := make([]string, 0, len(completed))
	for repo := range completed {
		completedRepos = append(completedRepos, repo)
	}
	sort.Strings(completedRepos)

	_, err := c.staging.WriteCheckpoint(ctx, c.org, collectionID, staging.CheckpointData{
		CompletedRepos: completedRepos,
		Since:          since,
		Until:          until,
		StagedPaths:    stagedPaths,
	})
	if err != nil {
		// Publish can still proceed; only resumability is lost.
		logger.Error("Writing checkpoint %s failed: %v", collectionID, err)
	}

	return c.publishStaged(ctx, "", "")
}

// publishStaged reads the staged corpus back and upserts it. repo and
// dateFilter narrow the read when set.
func (c *Collector) publishStaged(ctx context.Context, repo, dateFilter string) (map[string]int, error) {
	var repos []string
	if repo != "" {
		repos = []string{repo}
	} else {
		var err error
		repos, err = c.staging.Repositories(ctx, c.org, staging.DataTypePullRequests)
		if err != nil {
			return nil, err
		}
	}

	var all []*fetcher.PullRequest
	for _, name := range repos {
		prs, err := c.staging.ReadPullRequests(ctx, c.org, name, dateFilter)
		if err != nil {
			return nil, err
		}
		all = append(all, prs...)
	}

	deduped := dedupe(all)
	logger.Info("Publishing %d staged records (%d after dedup) from %d repositories", len(all), len(deduped), len(repos))
	return warehouse.Publish(ctx, c.wh, deduped), nil
}

// LoadFromStagingAndPublish re-publishes staged data without touching
// the API. An empty repo means every staged repository; dateFilter
// (YYYY-MM-DD) narrows to chunks staged that day.
func (c *Collector) LoadFromStagingAndPublish(ctx context.Context, repo, dateFilter string) (map[string]int, error) {
	logger.Info("Loading staged data for %s (repo=%q date=%q)", c.org, repo, dateFilter)
	return c.publishStaged(ctx, repo, dateFilter)
}

// Backfill collects the trailing days-long window.
func (c *Collector) Backfill(ctx context.Context, days int, repoFilter []string) (map[string]int, error) {
	logger.Info("Starting backfill for %d days", days)
	until := time.Now().UTC()
	since := until.AddDate(0, 0, -days)
	return c.CollectAndPublish(ctx, since, until, repoFilter, "", false)
}

// IncrementalCollect collects the trailing hours-long window.
func (c *Collector) IncrementalCollect(ctx context.Context, hours int, repoFilter []string) (map[string]int, error) {
	logger.Info("Starting incremental collection for last %d hours", hours)
	until := time.Now().UTC()
	since := until.Add(-time.Duration(hours) * time.Hour)
	return c.CollectAndPublish(ctx, since, until, repoFilter, "", false)
}

// Resume continues an interrupted run. The collection window is
// recovered from the collection id when it is an RFC3339 timestamp
// (one day either side), else the trailing 24 hours are collected.
func (c *Collector) Resume(ctx context.Context, collectionID string, repoFilter []string) (map[string]int, error) {
	var since, until time.Time
	if ts, err := time.Parse(time.RFC3339, collectionID); err == nil {
		since = ts.Add(-24 * time.Hour)
		until = ts.Add(24 * time.Hour)
	} else {
		until = time.Now().UTC()
		since = until.Add(-24 * time.Hour)
	}
	return c.CollectAndPublish(ctx, since, until, repoFilter, collectionID, true)
}

// RunScheduled collects on a fixed cadence until the context is
// canceled. Each cycle looks back one interval, and cancellation takes
// effect between cycles.
func (c *Collector) RunScheduled(ctx context.Context, interval time.Duration, repoFilter []string) error {
	hours := int(interval / time.Hour)
	if hours < 1 {
		hours = 1
	}
	logger.Info("Scheduled collection every %s (lookback %dh)", interval, hours)

	for {
		counts, err := c.IncrementalCollect(ctx, hours, repoFilter)
		if err != nil {
			logger.Error("Scheduled collection failed: %v", err)
		} else {
			logger.Info("Scheduled collection complete: %v", counts)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// dedupe collapses records sharing a natural key, keeping the most
// recently updated version. The merge upsert requires at most one
// source row per key.
func dedupe(prs []*fetcher.PullRequest) []*fetcher.PullRequest {
	type key struct {
		number int
		repo   string
		org    string
	}

	latest := make(map[key]*fetcher.PullRequest, len(prs))
	var order []key
	for _, pr := range prs {
		k := key{pr.Number, pr.Repository, pr.Organization}
		existing, ok := latest[k]
		if !ok {
			order = append(order, k)
			latest[k] = pr
			continue
		}
		if !pr.UpdatedAt.Before(existing.UpdatedAt) {
			latest[k] = pr
		}
	}

	out := make([]*fetcher.PullRequest, 0, len(latest))
	for _, k := range order {
		out = append(out, latest[k])
	}
	return out
}
