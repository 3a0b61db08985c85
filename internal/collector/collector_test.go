package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askscio/github-stats-collector/internal/fetcher"
	"github.com/askscio/github-stats-collector/internal/staging"
	"github.com/askscio/github-stats-collector/internal/warehouse"
)

type fakeSource struct {
	result map[string][]*fetcher.PullRequest
	err    error

	since, until  time.Time
	gotRepoFilter []string
	calls         int
}

func (f *fakeSource) OrganizationPRs(_ context.Context, _ string, since, until time.Time, repoFilter []string) (map[string][]*fetcher.PullRequest, error) {
	f.calls++
	f.since, f.until = since, until
	f.gotRepoFilter = repoFilter
	return f.result, f.err
}

type fakeWarehouse struct {
	schemaCalls int
	upserts     map[string][]warehouse.Row
}

func (f *fakeWarehouse) EnsureSchema(context.Context) error {
	f.schemaCalls++
	return nil
}

func (f *fakeWarehouse) Upsert(_ context.Context, table warehouse.Table, rows []warehouse.Row) (int, error) {
	if f.upserts == nil {
		f.upserts = make(map[string][]warehouse.Row)
	}
	f.upserts[table.Name] = append(f.upserts[table.Name], rows...)
	return len(rows), nil
}

func record(repo string, number int, updated time.Time) *fetcher.PullRequest {
	return &fetcher.PullRequest{
		Number:       number,
		Title:        "change",
		State:        "open",
		Author:       "octocat",
		AuthorType:   "User",
		Repository:   repo,
		Organization: "acme",
		CreatedAt:    updated.Add(-time.Hour),
		UpdatedAt:    updated,
		BaseRef:      "main",
		HeadRef:      "fix",
	}
}

func prNumbers(rows []warehouse.Row) map[int]bool {
	numbers := make(map[int]bool, len(rows))
	for _, row := range rows {
		numbers[row["pr_number"].(int)] = true
	}
	return numbers
}

func TestCollectAndPublishDirect(t *testing.T) {
	now := time.Now().UTC()
	source := &fakeSource{result: map[string][]*fetcher.PullRequest{
		"widgets": {record("widgets", 1, now)},
		"gadgets": {record("gadgets", 2, now)},
	}}
	wh := &fakeWarehouse{}

	c := New("acme", source, wh, nil)
	counts, err := c.CollectAndPublish(context.Background(), now.Add(-time.Hour), now, nil, "", false)
	require.NoError(t, err)

	assert.Equal(t, 2, counts["pull_requests"])
	assert.Len(t, wh.upserts["pull_requests"], 2)
}

func TestCollectAndPublishFetchFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("listing repositories failed")}
	wh := &fakeWarehouse{}

	c := New("acme", source, wh, nil)
	_, err := c.CollectAndPublish(context.Background(), time.Time{}, time.Time{}, nil, "", false)
	require.Error(t, err)
	assert.Empty(t, wh.upserts)
}

func TestCollectAndPublishStagesAndCheckpoints(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	source := &fakeSource{result: map[string][]*fetcher.PullRequest{
		"widgets": {record("widgets", 1, now)},
	}}
	wh := &fakeWarehouse{}
	st := staging.New(staging.NewMemory(), 100)

	c := New("acme", source, wh, st)
	counts, err := c.CollectAndPublish(ctx, now.Add(-time.Hour), now, nil, "run-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["pull_requests"])

	// Checkpoint recorded the staged repository and window.
	checkpoint, err := st.ReadCheckpoint(ctx, "acme", "run-1")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, []string{"widgets"}, checkpoint.Data.CompletedRepos)
	assert.NotEmpty(t, checkpoint.Data.StagedPaths)

	// The staged copy survives for replay.
	staged, err := st.ReadPullRequests(ctx, "acme", "widgets", "")
	require.NoError(t, err)
	assert.Len(t, staged, 1)
}

func TestResumeSkipsCompletedRepos(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	source := &fakeSource{result: map[string][]*fetcher.PullRequest{
		"frontend": {record("frontend", 1, now)},
		"backend":  {record("backend", 2, now)},
	}}
	wh := &fakeWarehouse{}
	st := staging.New(staging.NewMemory(), 100)

	_, err := st.WriteCheckpoint(ctx, "acme", "run-7", staging.CheckpointData{
		CompletedRepos: []string{"backend"},
	})
	require.NoError(t, err)

	c := New("acme", source, wh, st)
	counts, err := c.CollectAndPublish(ctx, now.Add(-time.Hour), now, []string{"frontend", "backend"}, "run-7", true)
	require.NoError(t, err)

	// Only frontend was staged and published this run.
	assert.Equal(t, 1, counts["pull_requests"])
	assert.Equal(t, map[int]bool{1: true}, prNumbers(wh.upserts["pull_requests"]))

	staged, err := st.ReadPullRequests(ctx, "acme", "backend", "")
	require.NoError(t, err)
	assert.Empty(t, staged)

	// The checkpoint now covers both repositories.
	checkpoint, err := st.ReadCheckpoint(ctx, "acme", "run-7")
	require.NoError(t, err)
	assert.Equal(t, []string{"backend", "frontend"}, checkpoint.Data.CompletedRepos)
}

func TestResumeWithoutCheckpointStartsFresh(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	source := &fakeSource{result: map[string][]*fetcher.PullRequest{
		"widgets": {record("widgets", 1, now)},
	}}
	wh := &fakeWarehouse{}
	st := staging.New(staging.NewMemory(), 100)

	c := New("acme", source, wh, st)
	counts, err := c.CollectAndPublish(ctx, now.Add(-time.Hour), now, nil, "run-x", true)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["pull_requests"])
}

func TestStagedRepublishIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	wh := &fakeWarehouse{}
	st := staging.New(staging.NewMemory(), 100)

	// The same PR staged twice, second version updated later.
	_, err := st.WritePullRequests(ctx, "acme", "widgets", []*fetcher.PullRequest{record("widgets", 1, now.Add(-time.Hour))})
	require.NoError(t, err)
	newer := record("widgets", 1, now)
	newer.Title = "newer title"
	_, err = st.WritePullRequests(ctx, "acme", "widgets", []*fetcher.PullRequest{newer})
	require.NoError(t, err)

	c := New("acme", nil, wh, st)
	counts, err := c.LoadFromStagingAndPublish(ctx, "", "")
	require.NoError(t, err)

	assert.Equal(t, 1, counts["pull_requests"])
	require.Len(t, wh.upserts["pull_requests"], 1)
	assert.Equal(t, "newer title", wh.upserts["pull_requests"][0]["title"])
}

func TestLoadFromStagingRepoScope(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	wh := &fakeWarehouse{}
	st := staging.New(staging.NewMemory(), 100)

	_, err := st.WritePullRequests(ctx, "acme", "widgets", []*fetcher.PullRequest{record("widgets", 1, now)})
	require.NoError(t, err)
	_, err = st.WritePullRequests(ctx, "acme", "gadgets", []*fetcher.PullRequest{record("gadgets", 2, now)})
	require.NoError(t, err)

	c := New("acme", nil, wh, st)
	counts, err := c.LoadFromStagingAndPublish(ctx, "widgets", "")
	require.NoError(t, err)

	assert.Equal(t, 1, counts["pull_requests"])
	assert.Equal(t, map[int]bool{1: true}, prNumbers(wh.upserts["pull_requests"]))
}

func TestBackfillWindow(t *testing.T) {
	source := &fakeSource{result: map[string][]*fetcher.PullRequest{}}
	c := New("acme", source, &fakeWarehouse{}, nil)

	_, err := c.Backfill(context.Background(), 30, []string{"widgets"})
	require.NoError(t, err)

	span := source.until.Sub(source.since)
	assert.InDelta(t, (30 * 24 * time.Hour).Hours(), span.Hours(), 1)
	assert.Equal(t, []string{"widgets"}, source.gotRepoFilter)
}

func TestIncrementalWindow(t *testing.T) {
	source := &fakeSource{result: map[string][]*fetcher.PullRequest{}}
	c := New("acme", source, &fakeWarehouse{}, nil)

	_, err := c.IncrementalCollect(context.Background(), 6, nil)
	require.NoError(t, err)

	span := source.until.Sub(source.since)
	assert.InDelta(t, (6 * time.Hour).Hours(), span.Hours(), 0.1)
}

func TestResumeWindowFromTimestampID(t *testing.T) {
	source := &fakeSource{result: map[string][]*fetcher.PullRequest{}}
	st := staging.New(staging.NewMemory(), 100)
	c := New("acme", source, &fakeWarehouse{}, st)

	ts := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	_, err := c.Resume(context.Background(), ts.Format(time.RFC3339), nil)
	require.NoError(t, err)

	assert.True(t, source.since.Equal(ts.Add(-24*time.Hour)))
	assert.True(t, source.until.Equal(ts.Add(24*time.Hour)))
}

func TestResumeWindowFallback(t *testing.T) {
	source := &fakeSource{result: map[string][]*fetcher.PullRequest{}}
	st := staging.New(staging.NewMemory(), 100)
	c := New("acme", source, &fakeWarehouse{}, st)

	_, err := c.Resume(context.Background(), "opaque-id", nil)
	require.NoError(t, err)

	span := source.until.Sub(source.since)
	assert.InDelta(t, (24 * time.Hour).Hours(), span.Hours(), 0.1)
}

func TestInitializeWarehouse(t *testing.T) {
	wh := &fakeWarehouse{}
	c := New("acme", nil, wh, nil)
	require.NoError(t, c.InitializeWarehouse(context.Background()))
	assert.Equal(t, 1, wh.schemaCalls)
}

func TestRunScheduledStopsOnCancel(t *testing.T) {
	source := &fakeSource{result: map[string][]*fetcher.PullRequest{}}
	c := New("acme", source, &fakeWarehouse{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.RunScheduled(ctx, time.Hour, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, source.calls)
}

func TestDedupeKeepsLatest(t *testing.T) {
	now := time.Now().UTC()
	older := record("widgets", 1, now.Add(-time.Hour))
	newer := record("widgets", 1, now)
	other := record("widgets", 2, now)

	out := dedupe([]*fetcher.PullRequest{older, newer, other})
	require.Len(t, out, 2)
	assert.Same(t, newer, out[0])
	assert.Same(t, other, out[1])
}
