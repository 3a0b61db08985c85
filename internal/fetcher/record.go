package fetcher

import (
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/askscio/github-stats-collector/internal/github"
)

// sizeLabelPrefix marks the label carrying the PR's size classification.
const sizeLabelPrefix = "size/"

// PullRequest is one fetched pull request plus all of its nested
// sub-resources. Records are built once per fetch and never mutated
// afterwards; pr_number + repository + organization is the natural key.
//
// The JSON field names double as the staged-object format, so they match
// the warehouse column names.
type PullRequest struct {
	Number       int    `json:"pr_number"`
	Title        string `json:"title"`
	State        string `json:"state"`
	Author       string `json:"author"`
	AuthorType   string `json:"author_type"`
	Repository   string `json:"repository"`
	Organization string `json:"organization"`
	URL          string `json:"url"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`

	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
	ChangedFiles int `json:"changed_files"`

	Labels    []string `json:"labels"`
	SizeLabel string   `json:"size_label,omitempty"`

	// Sub-resources as the API sent them; narrow field extraction
	// happens at row-preparation time.
	Commits        []github.Item `json:"commits"`
	Reviews        []github.Item `json:"reviews"`
	ReviewComments []github.Item `json:"review_comments"`
	IssueComments  []github.Item `json:"issue_comments"`

	IsDraft        bool   `json:"is_draft"`
	IsMerged       bool   `json:"is_merged"`
	MergeCommitSHA string `json:"merge_commit_sha,omitempty"`
	BaseRef        string `json:"base_ref"`
	HeadRef        string `json:"head_ref"`
}

// sizeLabel returns the first size/ label, or "" when none is present.
func sizeLabel(labels []*gh.Label) string {
	for _, label := range labels {
		if strings.HasPrefix(label.GetName(), sizeLabelPrefix) {
			return label.GetName()
		}
	}
	return ""
}

// labelNames flattens the label set to its names.
func labelNames(labels []*gh.Label) []string {
	names := make([]string, len(labels))
	for i, label := range labels {
		names[i] = label.GetName()
	}
	return names
}

func optionalTime(ts *gh.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}
