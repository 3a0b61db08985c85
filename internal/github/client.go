// Package github provides rate-limited, retrying access to the GitHub API
// for one organization's pull-request activity.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/askscio/github-stats-collector/internal/logger"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxAttempts is how many times a request is tried in total.
	MaxAttempts = 5

	// RetryDelay is the initial delay between retries; it doubles per
	// attempt.
	RetryDelay = time.Second

	// perPage is the page size used for every paginated listing.
	perPage = 100
)

// Client wraps the go-github client with rate limiting and retries.
type Client struct {
	gh      *gh.Client
	limiter *RateLimiter

	maxAttempts int
	retryDelay  time.Duration
	maxPages    int // 0 = no cap
}

// NewClient creates a client authenticated with a personal access token.
func NewClient(ctx context.Context, token string, maxPerHour int) *Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = DefaultTimeout

	return &Client{
		gh:          gh.NewClient(tc),
		limiter:     NewRateLimiter(maxPerHour),
		maxAttempts: MaxAttempts,
		retryDelay:  RetryDelay,
	}
}

// NewClientWithBaseURL creates a client against a custom API root.
// Used by tests that run their own API server.
func NewClientWithBaseURL(httpClient *http.Client, baseURL string, maxPerHour int) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	ghc := gh.NewClient(httpClient)
	ghc.BaseURL = u

	return &Client{
		gh:          ghc,
		limiter:     NewRateLimiter(maxPerHour),
		maxAttempts: MaxAttempts,
		retryDelay:  RetryDelay,
	}, nil
}

// Limiter returns the shared rate limiter.
func (c *Client) Limiter() *RateLimiter {
	return c.limiter
}

// SetMaxPages caps how many pages a paginated listing will drain.
// Zero means no cap.
func (c *Client) SetMaxPages(n int) {
	c.maxPages = n
}

// withRetry runs fn with rate limiting and exponential-backoff retries on
// transient failures (429/500/502/503/504). After retries exhaust, the
// last error propagates to the caller; nothing is swallowed here.
func (c *Client) withRetry(ctx context.Context, op string, fn func() (*gh.Response, error)) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			logger.Debug("Retrying %s (attempt %d/%d) after %s", op, attempt, c.maxAttempts, delay)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		resp, err := fn()
		if resp != nil {
			c.limiter.UpdateFromResponse(resp.Response)
		}
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(resp, err) {
			return c.wrapError(err, op)
		}
	}

	return c.wrapError(lastErr, op)
}

// wrapError converts go-github errors to this package's error types.
func (c *Client) wrapError(err error, op string) error {
	if err == nil {
		return nil
	}

	var rateLimitErr *gh.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &RateLimitError{
			ResetAt:   c.limiter.ResetTime(),
			Remaining: c.limiter.Remaining(),
		}
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		u := ""
		if ghErr.Response.Request != nil && ghErr.Response.Request.URL != nil {
			u = ghErr.Response.Request.URL.String()
		}
		return &APIError{
			StatusCode: ghErr.Response.StatusCode,
			Message:    ghErr.Message,
			URL:        u,
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// OrgRepos lists every repository in the organization.
func (c *Client) OrgRepos(ctx context.Context, org string) ([]*gh.Repository, error) {
	logger.Info("Fetching repositories for organization: %s", org)

	opts := &gh.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []*gh.Repository
	pages := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var resp *gh.Response
		err := c.withRetry(ctx, "list org repos", func() (*gh.Response, error) {
			repos, r, err := c.gh.Repositories.ListByOrg(ctx, org, opts)
			if err == nil {
				all = append(all, repos...)
			}
			resp = r
			return r, err
		})
		if err != nil {
			return nil, err
		}

		pages++
		if c.maxPages > 0 && pages >= c.maxPages {
			break
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// PullRequests lists a repository's pull requests (state=all, sorted by
// update time descending) and filters them client-side to the
// [since, until] window on updated_at. The API has no server-side
// "updated between" filter, so over-fetch-then-filter is the only option.
// A zero since or until leaves that side of the window open.
func (c *Client) PullRequests(ctx context.Context, owner, repo string, since, until time.Time) ([]*gh.PullRequest, error) {
	logger.Info("Fetching PRs for %s/%s (state=all)", owner, repo)

	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []*gh.PullRequest
	pages := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var resp *gh.Response
		err := c.withRetry(ctx, "list pull requests", func() (*gh.Response, error) {
			prs, r, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
			if err == nil {
				all = append(all, prs...)
			}
			resp = r
			return r, err
		})
		if err != nil {
			return nil, err
		}

		pages++
		if c.maxPages > 0 && pages >= c.maxPages {
			break
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if since.IsZero() && until.IsZero() {
		return all, nil
	}

	filtered := make([]*gh.PullRequest, 0, len(all))
	for _, pr := range all {
		updated := pr.GetUpdatedAt().Time
		if !since.IsZero() && updated.Before(since) {
			continue
		}
		if !until.IsZero() && updated.After(until) {
			continue
		}
		filtered = append(filtered, pr)
	}
	return filtered, nil
}

// PullRequestDetail fetches the full record for a single pull request.
// The list endpoint omits the change metrics (additions, deletions,
// changed files) and the merged flag, so record assembly needs this
// follow-up call.
func (c *Client) PullRequestDetail(ctx context.Context, owner, repo string, number int) (*gh.PullRequest, error) {
	var pr *gh.PullRequest

	err := c.withRetry(ctx, "get pull request", func() (*gh.Response, error) {
		var r *gh.Response
		var err error
		pr, r, err = c.gh.PullRequests.Get(ctx, owner, repo, number)
		return r, err
	})
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// PRCommits lists the commits on a pull request.
func (c *Client) PRCommits(ctx context.Context, owner, repo string, number int) ([]Item, error) {
	return c.listItems(ctx, "list PR commits", func(opts *gh.ListOptions) (any, *gh.Response, error) {
		return c.gh.PullRequests.ListCommits(ctx, owner, repo, number, opts)
	})
}

// PRReviews lists the reviews on a pull request.
func (c *Client) PRReviews(ctx context.Context, owner, repo string, number int) ([]Item, error) {
	return c.listItems(ctx, "list PR reviews", func(opts *gh.ListOptions) (any, *gh.Response, error) {
		return c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
	})
}

// PRReviewComments lists the inline review comments on a pull request.
func (c *Client) PRReviewComments(ctx context.Context, owner, repo string, number int) ([]Item, error) {
	return c.listItems(ctx, "list PR review comments", func(opts *gh.ListOptions) (any, *gh.Response, error) {
		listOpts := &gh.PullRequestListCommentsOptions{ListOptions: *opts}
		comments, resp, err := c.gh.PullRequests.ListComments(ctx, owner, repo, number, listOpts)
		return comments, resp, err
	})
}

// IssueComments lists the conversation comments on a pull request
// (the issues endpoint also covers PRs).
func (c *Client) IssueComments(ctx context.Context, owner, repo string, number int) ([]Item, error) {
	return c.listItems(ctx, "list issue comments", func(opts *gh.ListOptions) (any, *gh.Response, error) {
		listOpts := &gh.IssueListCommentsOptions{ListOptions: *opts}
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, listOpts)
		return comments, resp, err
	})
}

// CommitDetail fetches a single commit with its stats and file list.
func (c *Client) CommitDetail(ctx context.Context, owner, repo, sha string) (Item, error) {
	var commit *gh.RepositoryCommit

	err := c.withRetry(ctx, "get commit", func() (*gh.Response, error) {
		var r *gh.Response
		var err error
		commit, r, err = c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
		return r, err
	})
	if err != nil {
		return nil, err
	}

	return toItem(commit)
}

// RateLimitStatus fetches the current quota from the API.
func (c *Client) RateLimitStatus(ctx context.Context) (*gh.RateLimits, error) {
	var limits *gh.RateLimits

	err := c.withRetry(ctx, "get rate limit", func() (*gh.Response, error) {
		var r *gh.Response
		var err error
		limits, r, err = c.gh.RateLimit.Get(ctx)
		return r, err
	})
	if err != nil {
		return nil, err
	}
	return limits, nil
}

// listItems drains a paginated sub-resource listing into semi-structured
// Items, stopping at the last page or the configured page cap.
func (c *Client) listItems(ctx context.Context, op string, fetch func(opts *gh.ListOptions) (any, *gh.Response, error)) ([]Item, error) {
	opts := &gh.ListOptions{PerPage: perPage}

	var all []Item
	pages := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var resp *gh.Response
		err := c.withRetry(ctx, op, func() (*gh.Response, error) {
			payload, r, err := fetch(opts)
			if err == nil {
				items, convErr := itemize(payload)
				if convErr != nil {
					return r, convErr
				}
				all = append(all, items...)
			}
			resp = r
			return r, err
		})
		if err != nil {
			return nil, err
		}

		pages++
		if c.maxPages > 0 && pages >= c.maxPages {
			break
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}
