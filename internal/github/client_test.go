package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// newTestClient points a Client at srv with fast retries and no smoothing.
func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	c, err := NewClientWithBaseURL(srv.Client(), srv.URL+"/", 4500)
	require.NoError(t, err)
	c.retryDelay = time.Millisecond
	c.limiter.bucket = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestClient_OrgRepos_Pagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orgs/acme/repos", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/orgs/acme/repos?page=2>; rel="next"`, srv.URL))
			fmt.Fprint(w, `[{"name":"frontend"},{"name":"backend"}]`)
		case "2":
			fmt.Fprint(w, `[{"name":"infra"}]`)
		default:
			t.Fatalf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	repos, err := c.OrgRepos(context.Background(), "acme")

	require.NoError(t, err)
	require.Len(t, repos, 3)
	assert.Equal(t, "frontend", repos[0].GetName())
	assert.Equal(t, "infra", repos[2].GetName())
}

func TestClient_OrgRepos_PageCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Link", fmt.Sprintf(`<%s/orgs/acme/repos?page=99>; rel="next"`, srv.URL))
		fmt.Fprint(w, `[{"name":"r"}]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.SetMaxPages(2)

	repos, err := c.OrgRepos(context.Background(), "acme")

	require.NoError(t, err)
	assert.Len(t, repos, 2)
}

func TestClient_Retry(t *testing.T) {
	t.Run("recovers from transient failures", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `[{"name":"frontend"}]`)
		}))
		defer srv.Close()

		c := newTestClient(t, srv)

		repos, err := c.OrgRepos(context.Background(), "acme")

		require.NoError(t, err)
		assert.Len(t, repos, 1)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("propagates after retries exhaust", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := newTestClient(t, srv)

		_, err := c.OrgRepos(context.Background(), "acme")

		require.Error(t, err)
		assert.Equal(t, int32(MaxAttempts), calls.Load())

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	})

	t.Run("does not retry permanent failures", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := newTestClient(t, srv)

		_, err := c.OrgRepos(context.Background(), "acme")

		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
		assert.True(t, IsNotFound(err))
	})
}

func TestClient_PullRequests_WindowFilter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	prJSON := func(number int, updated time.Time) string {
		return fmt.Sprintf(`{"number":%d,"updated_at":%q}`, number, updated.Format(time.RFC3339))
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/frontend/pulls", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		assert.Equal(t, "desc", r.URL.Query().Get("direction"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s,%s,%s]",
			prJSON(1, now.Add(-10*time.Hour)),
			prJSON(2, now.Add(-3*time.Hour)),
			prJSON(3, now.Add(-1*time.Hour)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	t.Run("bounded window keeps only PRs updated inside it", func(t *testing.T) {
		prs, err := c.PullRequests(context.Background(), "acme", "frontend", now.Add(-2*time.Hour), now)

		require.NoError(t, err)
		require.Len(t, prs, 1)
		assert.Equal(t, 3, prs[0].GetNumber())
	})

	t.Run("zero window returns everything", func(t *testing.T) {
		prs, err := c.PullRequests(context.Background(), "acme", "frontend", time.Time{}, time.Time{})

		require.NoError(t, err)
		assert.Len(t, prs, 3)
	})

	t.Run("open-ended until", func(t *testing.T) {
		prs, err := c.PullRequests(context.Background(), "acme", "frontend", now.Add(-4*time.Hour), time.Time{})

		require.NoError(t, err)
		assert.Len(t, prs, 2)
	})
}

func TestClient_SubResources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/repos/acme/frontend/pulls/7/commits":
			fmt.Fprint(w, `[{"sha":"abc123","commit":{"message":"fix","author":{"name":"Ann","date":"2025-06-01T10:00:00Z"}}}]`)
		case "/repos/acme/frontend/pulls/7/reviews":
			fmt.Fprint(w, `[{"id":55,"state":"APPROVED","user":{"login":"bob","type":"User"}}]`)
		case "/repos/acme/frontend/pulls/7/comments":
			fmt.Fprint(w, `[{"id":88,"body":"nit","path":"main.go","position":3}]`)
		case "/repos/acme/frontend/issues/7/comments":
			fmt.Fprint(w, `[{"id":99,"body":"lgtm","user":{"login":"carol"}}]`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	commits, err := c.PRCommits(ctx, "acme", "frontend", 7)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "abc123", commits[0].String("sha"))
	assert.Equal(t, "Ann", commits[0].String("commit", "author", "name"))

	reviews, err := c.PRReviews(ctx, "acme", "frontend", 7)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, int64(55), reviews[0].Int64("id"))
	assert.Equal(t, "bob", reviews[0].String("user", "login"))

	reviewComments, err := c.PRReviewComments(ctx, "acme", "frontend", 7)
	require.NoError(t, err)
	require.Len(t, reviewComments, 1)
	assert.Equal(t, int64(3), reviewComments[0].Int64("position"))

	issueComments, err := c.IssueComments(ctx, "acme", "frontend", 7)
	require.NoError(t, err)
	require.Len(t, issueComments, 1)
	assert.Equal(t, "lgtm", issueComments[0].String("body"))
}

func TestClient_PullRequestDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/frontend/pulls/7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"number":7,"additions":120,"deletions":4,"changed_files":3,"merged":true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	pr, err := c.PullRequestDetail(context.Background(), "acme", "frontend", 7)

	require.NoError(t, err)
	assert.Equal(t, 120, pr.GetAdditions())
	assert.Equal(t, 3, pr.GetChangedFiles())
	assert.True(t, pr.GetMerged())
}

func TestClient_CommitDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/frontend/commits/abc123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sha":"abc123","stats":{"additions":10,"deletions":2},"files":[{"filename":"main.go"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	commit, err := c.CommitDetail(context.Background(), "acme", "frontend", "abc123")

	require.NoError(t, err)
	assert.Equal(t, "abc123", commit.String("sha"))
	assert.Equal(t, int64(10), commit.Int64("stats", "additions"))
}

func TestClient_RateLimitStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rate_limit", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"resources":{"core":{"limit":5000,"remaining":4200,"reset":1750000000}}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	limits, err := c.RateLimitStatus(context.Background())

	require.NoError(t, err)
	require.NotNil(t, limits.Core)
	assert.Equal(t, 4200, limits.Core.Remaining)
}
