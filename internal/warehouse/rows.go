package warehouse

import (
	"time"

	"github.com/askscio/github-stats-collector/internal/fetcher"
	"github.com/askscio/github-stats-collector/internal/github"
)

// PrepareRows flattens PR records into row sets per data table. Pure
// derivation, no I/O. Every row carries an ingestion_timestamp set to
// ingested, which is lineage metadata, never part of a merge key.
func PrepareRows(prs []*fetcher.PullRequest, ingested time.Time) map[string][]Row {
	return map[string][]Row{
		PullRequestsTable.Name:   pullRequestRows(prs, ingested),
		CommitsTable.Name:        commitRows(prs, ingested),
		ReviewsTable.Name:        reviewRows(prs, ingested),
		ReviewCommentsTable.Name: reviewCommentRows(prs, ingested),
		IssueCommentsTable.Name:  issueCommentRows(prs, ingested),
	}
}

// Flatten collapses a per-repository record mapping into one slice.
func Flatten(byRepo map[string][]*fetcher.PullRequest) []*fetcher.PullRequest {
	var all []*fetcher.PullRequest
	for _, prs := range byRepo {
		all = append(all, prs...)
	}
	return all
}

func pullRequestRows(prs []*fetcher.PullRequest, ingested time.Time) []Row {
	rows := make([]Row, 0, len(prs))
	for _, pr := range prs {
		labels := pr.Labels
		if labels == nil {
			labels = []string{}
		}
		rows = append(rows, Row{
			"pr_number":            pr.Number,
			"repository":           pr.Repository,
			"organization":         pr.Organization,
			"title":                pr.Title,
			"state":                pr.State,
			"author":               pr.Author,
			"author_type":          pr.AuthorType,
			"created_at":           timestamp(pr.CreatedAt),
			"updated_at":           timestamp(pr.UpdatedAt),
			"closed_at":            optTimestamp(pr.ClosedAt),
			"merged_at":            optTimestamp(pr.MergedAt),
			"url":                  pr.URL,
			"additions":            pr.Additions,
			"deletions":            pr.Deletions,
			"changed_files":        pr.ChangedFiles,
			"labels":               labels,
			"size_label":           nullable(pr.SizeLabel),
			"commit_count":         len(pr.Commits),
			"review_count":         len(pr.Reviews),
			"review_comment_count": len(pr.ReviewComments),
			"issue_comment_count":  len(pr.IssueComments),
			"is_draft":             pr.IsDraft,
			"is_merged":            pr.IsMerged,
			"merge_commit_sha":     nullable(pr.MergeCommitSHA),
			"base_ref":             pr.BaseRef,
			"head_ref":             pr.HeadRef,
			"ingestion_timestamp":  timestamp(ingested),
		})
	}
	return rows
}

func commitRows(prs []*fetcher.PullRequest, ingested time.Time) []Row {
	var rows []Row
	for _, pr := range prs {
		for _, commit := range pr.Commits {
			rows = append(rows, Row{
				"sha":                 commit.String("sha"),
				"pr_number":           pr.Number,
				"repository":          pr.Repository,
				"organization":        pr.Organization,
				"author":              nullable(commit.String("commit", "author", "name")),
				"author_email":        nullable(commit.String("commit", "author", "email")),
				"committer":           nullable(commit.String("commit", "committer", "name")),
				"committer_email":     nullable(commit.String("commit", "committer", "email")),
				"message":             commit.String("commit", "message"),
				"commit_date":         itemTimestamp(commit, "commit", "committer", "date"),
				"author_date":         itemTimestamp(commit, "commit", "author", "date"),
				"url":                 commit.String("html_url"),
				"ingestion_timestamp": timestamp(ingested),
			})
		}
	}
	return rows
}

func reviewRows(prs []*fetcher.PullRequest, ingested time.Time) []Row {
	var rows []Row
	for _, pr := range prs {
		for _, review := range pr.Reviews {
			rows = append(rows, Row{
				"review_id":           review.Int64("id"),
				"pr_number":           pr.Number,
				"repository":          pr.Repository,
				"organization":        pr.Organization,
				"reviewer":            stringOr(review, "unknown", "user", "login"),
				"reviewer_type":       stringOr(review, "User", "user", "type"),
				"state":               stringOr(review, "unknown", "state"),
				"body":                nullable(review.String("body")),
				"submitted_at":        itemTimestamp(review, "submitted_at"),
				"commit_id":           nullable(review.String("commit_id")),
				"url":                 review.String("html_url"),
				"ingestion_timestamp": timestamp(ingested),
			})
		}
	}
	return rows
}

func reviewCommentRows(prs []*fetcher.PullRequest, ingested time.Time) []Row {
	var rows []Row
	for _, pr := range prs {
		for _, comment := range pr.ReviewComments {
			var position any
			if comment.Has("position") {
				position = comment.Int64("position")
			}
			rows = append(rows, Row{
				"comment_id":          comment.Int64("id"),
				"pr_number":           pr.Number,
				"repository":          pr.Repository,
				"organization":        pr.Organization,
				"author":              stringOr(comment, "unknown", "user", "login"),
				"author_type":         stringOr(comment, "User", "user", "type"),
				"body":                nullable(comment.String("body")),
				"created_at":          itemTimestamp(comment, "created_at"),
				"updated_at":          itemTimestamp(comment, "updated_at"),
				"path":                nullable(comment.String("path")),
				"position":            position,
				"commit_id":           nullable(comment.String("commit_id")),
				"url":                 comment.String("html_url"),
				"ingestion_timestamp": timestamp(ingested),
			})
		}
	}
	return rows
}

func issueCommentRows(prs []*fetcher.PullRequest, ingested time.Time) []Row {
	var rows []Row
	for _, pr := range prs {
		for _, comment := range pr.IssueComments {
			rows = append(rows, Row{
				"comment_id":          comment.Int64("id"),
				"pr_number":           pr.Number,
				"repository":          pr.Repository,
				"organization":        pr.Organization,
				"author":              stringOr(comment, "unknown", "user", "login"),
				"author_type":         stringOr(comment, "User", "user", "type"),
				"body":                nullable(comment.String("body")),
				"created_at":          itemTimestamp(comment, "created_at"),
				"updated_at":          itemTimestamp(comment, "updated_at"),
				"url":                 comment.String("html_url"),
				"ingestion_timestamp": timestamp(ingested),
			})
		}
	}
	return rows
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timestamp(*t)
}

// itemTimestamp extracts and normalizes a timestamp field, nil when the
// field is absent or unparseable.
func itemTimestamp(item github.Item, keys ...string) any {
	t := item.Time(keys...)
	if t.IsZero() {
		return nil
	}
	return timestamp(t)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringOr(item github.Item, fallback string, keys ...string) string {
	if s := item.String(keys...); s != "" {
		return s
	}
	return fallback
}
