package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/askscio/github-stats-collector/internal/github"
	"github.com/askscio/github-stats-collector/internal/logger"
)

// DefaultMaxWorkers bounds both concurrency tiers when no explicit
// limit is configured.
const DefaultMaxWorkers = 10

// Fetcher walks org -> repositories -> pull requests -> sub-resources
// and assembles complete PullRequest records.
//
// Two bounded concurrency tiers: repositories fan out up to
// min(maxWorkers, repo count) at a time, and within each repository the
// per-PR detail assembly fans out up to maxWorkers at a time.
type Fetcher struct {
	client     *github.Client
	maxWorkers int
}

// New returns a Fetcher over the given client. maxWorkers < 1 falls
// back to DefaultMaxWorkers.
func New(client *github.Client, maxWorkers int) *Fetcher {
	if maxWorkers < 1 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Fetcher{client: client, maxWorkers: maxWorkers}
}

// OrganizationPRs fetches every repository of org and returns the
// assembled records grouped by repository name. A non-empty repoFilter
// restricts the traversal to the named repositories.
//
// Failure isolation: a repository whose PR listing or detail fetch
// fails contributes an empty slice and the traversal continues. Only
// a failure to list the organization's repositories is fatal.
func (f *Fetcher) OrganizationPRs(ctx context.Context, org string, since, until time.Time, repoFilter []string) (map[string][]*PullRequest, error) {
	repos, err := f.client.OrgRepos(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("listing repositories for %s: %w", org, err)
	}

	names := make([]string, 0, len(repos))
	if len(repoFilter) > 0 {
		wanted := make(map[string]bool, len(repoFilter))
		for _, name := range repoFilter {
			wanted[name] = true
		}
		for _, repo := range repos {
			if wanted[repo.GetName()] {
				names = append(names, repo.GetName())
			}
		}
	} else {
		for _, repo := range repos {
			names = append(names, repo.GetName())
		}
	}

	logger.Info("Fetching pull requests for %d repositories in %s", len(names), org)

	results := make(map[string][]*PullRequest, len(names))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, min(f.maxWorkers, max(len(names), 1)))

	for _, name := range names {
		wg.Add(1)
		go func(repo string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			prs, err := f.RepositoryPRs(ctx, org, repo, since, until)
			if err != nil {
				logger.Error("Fetching %s/%s failed, skipping repository: %v", org, repo, err)
				prs = nil
			}

			mu.Lock()
			if prs == nil {
				prs = []*PullRequest{}
			}
			results[repo] = prs
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	return results, nil
}

// RepositoryPRs fetches the pull requests of one repository whose
// updated_at falls inside [since, until], with all sub-resources
// attached. A PR whose detail assembly fails is dropped with a log
// line; the rest of the repository's PRs are unaffected.
func (f *Fetcher) RepositoryPRs(ctx context.Context, org, repo string, since, until time.Time) ([]*PullRequest, error) {
	prs, err := f.client.PullRequests(ctx, org, repo, since, until)
	if err != nil {
		return nil, err
	}
	logger.Debug("%s/%s: %d pull requests in window", org, repo, len(prs))

	records := make([]*PullRequest, 0, len(prs))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, f.maxWorkers)

	for _, pr := range prs {
		wg.Add(1)
		go func(pr *gh.PullRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			record, err := f.prDetails(ctx, org, repo, pr)
			if err != nil {
				logger.Error("Assembling %s/%s#%d failed, dropping: %v", org, repo, pr.GetNumber(), err)
				return
			}

			mu.Lock()
			records = append(records, record)
			mu.Unlock()
		}(pr)
	}
	wg.Wait()

	return records, nil
}

// prDetails assembles one full record. The four sub-resource fetches
// are independent: a failed fetch degrades to an empty collection and
// the other three still run.
func (f *Fetcher) prDetails(ctx context.Context, org, repo string, pr *gh.PullRequest) (*PullRequest, error) {
	if pr == nil || pr.Number == nil {
		return nil, fmt.Errorf("malformed pull request payload")
	}
	number := pr.GetNumber()

	// The list endpoint omits change metrics and the merged flag.
	detail, err := f.client.PullRequestDetail(ctx, org, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetching detail: %w", err)
	}
	pr = detail

	commits := f.subResource(ctx, org, repo, number, "commits", f.client.PRCommits)
	reviews := f.subResource(ctx, org, repo, number, "reviews", f.client.PRReviews)
	reviewComments := f.subResource(ctx, org, repo, number, "review comments", f.client.PRReviewComments)
	issueComments := f.subResource(ctx, org, repo, number, "issue comments", f.client.IssueComments)

	author := "unknown"
	authorType := "unknown"
	if user := pr.GetUser(); user != nil {
		author = user.GetLogin()
		authorType = user.GetType()
	}

	return &PullRequest{
		Number:         number,
		Title:          pr.GetTitle(),
		State:          pr.GetState(),
		Author:         author,
		AuthorType:     authorType,
		Repository:     repo,
		Organization:   org,
		URL:            pr.GetHTMLURL(),
		CreatedAt:      pr.GetCreatedAt().Time,
		UpdatedAt:      pr.GetUpdatedAt().Time,
		ClosedAt:       optionalTime(pr.ClosedAt),
		MergedAt:       optionalTime(pr.MergedAt),
		Additions:      pr.GetAdditions(),
		Deletions:      pr.GetDeletions(),
		ChangedFiles:   pr.GetChangedFiles(),
		Labels:         labelNames(pr.Labels),
		SizeLabel:      sizeLabel(pr.Labels),
		Commits:        commits,
		Reviews:        reviews,
		ReviewComments: reviewComments,
		IssueComments:  issueComments,
		IsDraft:        pr.GetDraft(),
		IsMerged:       pr.GetMerged(),
		MergeCommitSHA: pr.GetMergeCommitSHA(),
		BaseRef:        pr.GetBase().GetRef(),
		HeadRef:        pr.GetHead().GetRef(),
	}, nil
}

// subResource runs one sub-resource fetch, degrading a failure to an
// empty collection.
func (f *Fetcher) subResource(ctx context.Context, org, repo string, number int, kind string, fetch func(context.Context, string, string, int) ([]github.Item, error)) []github.Item {
	items, err := fetch(ctx, org, repo, number)
	if err != nil {
		logger.Warn("Fetching %s for %s/%s#%d failed, continuing with none: %v", kind, org, repo, number, err)
		return []github.Item{}
	}
	if items == nil {
		items = []github.Item{}
	}
	return items
}
