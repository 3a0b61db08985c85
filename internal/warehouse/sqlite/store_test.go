package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askscio/github-stats-collector/internal/fetcher"
	"github.com/askscio/github-stats-collector/internal/github"
	"github.com/askscio/github-stats-collector/internal/warehouse"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func record(number int, title string) *fetcher.PullRequest {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &fetcher.PullRequest{
		Number:       number,
		Title:        title,
		State:        "open",
		Author:       "octocat",
		AuthorType:   "User",
		Repository:   "widgets",
		Organization: "acme",
		URL:          "https://github.com/acme/widgets/pull/1",
		CreatedAt:    now,
		UpdatedAt:    now,
		Labels:       []string{"bug"},
		BaseRef:      "main",
		HeadRef:      "fix/thing",
		Reviews: []github.Item{{
			"id":           float64(500 + number),
			"state":        "APPROVED",
			"submitted_at": "2026-03-01T11:00:00Z",
			"html_url":     "https://example.com/r",
			"user":         map[string]any{"login": "reviewer1", "type": "User"},
		}},
	}
}

func countRows(t *testing.T, store *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestMigrationsCreateAllTables(t *testing.T) {
	store := newTestStore(t)
	for _, table := range warehouse.Tables() {
		assert.Equal(t, 0, countRows(t, store, table.Name))
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rows := warehouse.PrepareRows([]*fetcher.PullRequest{record(1, "first title")}, time.Now())
	n, err := store.Upsert(ctx, warehouse.PullRequestsTable, rows["pull_requests"])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Same merge key, updated non-key field.
	rows = warehouse.PrepareRows([]*fetcher.PullRequest{record(1, "second title")}, time.Now())
	_, err = store.Upsert(ctx, warehouse.PullRequestsTable, rows["pull_requests"])
	require.NoError(t, err)

	assert.Equal(t, 1, countRows(t, store, "pull_requests"))

	var title string
	require.NoError(t, store.db.QueryRow("SELECT title FROM pull_requests WHERE pr_number = 1").Scan(&title))
	assert.Equal(t, "second title", title)
}

func TestUpsertDistinctKeysAccumulate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, pr := range []*fetcher.PullRequest{record(1, "a"), record(2, "b")} {
		rows := warehouse.PrepareRows([]*fetcher.PullRequest{pr}, time.Now())
		_, err := store.Upsert(ctx, warehouse.PullRequestsTable, rows["pull_requests"])
		require.NoError(t, err)
		_, err = store.Upsert(ctx, warehouse.ReviewsTable, rows["reviews"])
		require.NoError(t, err)
	}

	assert.Equal(t, 2, countRows(t, store, "pull_requests"))
	assert.Equal(t, 2, countRows(t, store, "reviews"))
}

func TestPublishTwiceThroughStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	prs := []*fetcher.PullRequest{record(1, "a"), record(2, "b")}
	first := warehouse.Publish(ctx, store, prs)
	second := warehouse.Publish(ctx, store, prs)

	assert.Equal(t, 2, first["pull_requests"])
	assert.Equal(t, 2, second["pull_requests"])
	assert.Equal(t, 2, countRows(t, store, "pull_requests"))
	assert.Equal(t, 2, countRows(t, store, "reviews"))
}

func TestInsertDoesNotDeduplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	row := warehouse.Row{
		"metric_date": "2026-03-01", "repository": "widgets", "organization": "acme",
		"author": "octocat", "author_type": "User",
		"prs_opened": 1, "prs_merged": 0, "prs_closed": 0,
		"commits_count": 3, "reviews_given": 2, "review_comments_given": 1,
		"lines_added": 10, "lines_deleted": 2, "files_changed": 1,
		"calculation_timestamp": now.Format(time.RFC3339),
	}

	for range 2 {
		_, err := store.Insert(ctx, warehouse.MetricsTable, []warehouse.Row{row})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, countRows(t, store, "metrics"))
}

func TestUpsertRequiresMergeKey(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Upsert(context.Background(), warehouse.MetricsTable, []warehouse.Row{{}})
	require.Error(t, err)
}

func TestMigrationsAreVersioned(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening must not re-run applied migrations.
	store, err = NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	var version int
	require.NoError(t, store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)
}
