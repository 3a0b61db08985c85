package warehouse

// Row is one flat table row, column name to scalar or array value.
// Values are JSON-compatible: string, int, int64, bool, []string or nil.
type Row map[string]any

// Column describes one warehouse column. Type uses BigQuery type names;
// other backends map them to their own types.
type Column struct {
	Name     string
	Type     string
	Required bool
	Repeated bool
}

// Table is the declared shape of one warehouse table. MergeKey is the
// column set whose combined value must stay unique after an upsert; a
// table without one only supports direct inserts.
type Table struct {
	Name             string
	MergeKey         []string
	Columns          []Column
	PartitionField   string
	ClusteringFields []string
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// NonKeyColumns returns the columns that are not part of the merge key,
// in declaration order. These are the columns an upsert overwrites on
// a key match.
func (t Table) NonKeyColumns() []string {
	key := make(map[string]bool, len(t.MergeKey))
	for _, k := range t.MergeKey {
		key[k] = true
	}
	var names []string
	for _, c := range t.Columns {
		if !key[c.Name] {
			names = append(names, c.Name)
		}
	}
	return names
}

// The six warehouse tables. Metrics is provisioned for a downstream
// aggregation job and is never written by this collector, so it has no
// merge key.
var (
	PullRequestsTable = Table{
		Name:     "pull_requests",
		MergeKey: []string{"pr_number", "repository", "organization"},
		Columns: []Column{
			{Name: "pr_number", Type: "INTEGER", Required: true},
			{Name: "repository", Type: "STRING", Required: true},
			{Name: "organization", Type: "STRING", Required: true},
			{Name: "title", Type: "STRING", Required: true},
			{Name: "state", Type: "STRING", Required: true},
			{Name: "author", Type: "STRING", Required: true},
			{Name: "author_type", Type: "STRING", Required: true},
			{Name: "created_at", Type: "TIMESTAMP", Required: true},
			{Name: "updated_at", Type: "TIMESTAMP", Required: true},
			{Name: "closed_at", Type: "TIMESTAMP"},
			{Name: "merged_at", Type: "TIMESTAMP"},
			{Name: "url", Type: "STRING", Required: true},
			{Name: "additions", Type: "INTEGER", Required: true},
			{Name: "deletions", Type: "INTEGER", Required: true},
			{Name: "changed_files", Type: "INTEGER", Required: true},
			{Name: "labels", Type: "STRING", Repeated: true},
			{Name: "size_label", Type: "STRING"},
			{Name: "commit_count", Type: "INTEGER", Required: true},
			{Name: "review_count", Type: "INTEGER", Required: true},
			{Name: "review_comment_count", Type: "INTEGER", Required: true},
			{Name: "issue_comment_count", Type: "INTEGER", Required: true},
			{Name: "is_draft", Type: "BOOLEAN", Required: true},
			{Name: "is_merged", Type: "BOOLEAN", Required: true},
			{Name: "merge_commit_sha", Type: "STRING"},
			{Name: "base_ref", Type: "STRING", Required: true},
			{Name: "head_ref", Type: "STRING", Required: true},
			{Name: "ingestion_timestamp", Type: "TIMESTAMP", Required: true},
		},
		PartitionField:   "updated_at",
		ClusteringFields: []string{"organization", "repository", "author"},
	}

	CommitsTable = Table{
		Name:     "commits",
		MergeKey: []string{"sha", "repository", "organization"},
		Columns: []Column{
			{Name: "sha", Type: "STRING", Required: true},
			{Name: "pr_number", Type: "INTEGER", Required: true},
			{Name: "repository", Type: "STRING", Required: true},
			{Name: "organization", Type: "STRING", Required: true},
			{Name: "author", Type: "STRING"},
			{Name: "author_email", Type: "STRING"},
			{Name: "committer", Type: "STRING"},
			{Name: "committer_email", Type: "STRING"},
			{Name: "message", Type: "STRING", Required: true},
			{Name: "commit_date", Type: "TIMESTAMP", Required: true},
			{Name: "author_date", Type: "TIMESTAMP"},
			{Name: "url", Type: "STRING", Required: true},
			{Name: "ingestion_timestamp", Type: "TIMESTAMP", Required: true},
		},
		PartitionField:   "commit_date",
		ClusteringFields: []string{"organization", "repository", "author"},
	}

	ReviewsTable = Table{
		Name:     "reviews",
		MergeKey: []string{"review_id", "repository", "organization"},
		Columns: []Column{
			{Name: "review_id", Type: "INTEGER", Required: true},
			{Name: "pr_number", Type: "INTEGER", Required: true},
			{Name: "repository", Type: "STRING", Required: true},
			{Name: "organization", Type: "STRING", Required: true},
			{Name: "reviewer", Type: "STRING", Required: true},
			{Name: "reviewer_type", Type: "STRING", Required: true},
			{Name: "state", Type: "STRING", Required: true},
			{Name: "body", Type: "STRING"},
			{Name: "submitted_at", Type: "TIMESTAMP"},
			{Name: "commit_id", Type: "STRING"},
			{Name: "url", Type: "STRING", Required: true},
			{Name: "ingestion_timestamp", Type: "TIMESTAMP", Required: true},
		},
		PartitionField:   "submitted_at",
		ClusteringFields: []string{"organization", "repository", "reviewer"},
	}

	ReviewCommentsTable = Table{
		Name:     "review_comments",
		MergeKey: []string{"comment_id", "repository", "organization"},
		Columns: []Column{
			{Name: "comment_id", Type: "INTEGER", Required: true},
			{Name: "pr_number", Type: "INTEGER", Required: true},
			{Name: "repository", Type: "STRING", Required: true},
			{Name: "organization", Type: "STRING", Required: true},
			{Name: "author", Type: "STRING", Required: true},
			{Name: "author_type", Type: "STRING", Required: true},
			{Name: "body", Type: "STRING"},
			{Name: "created_at", Type: "TIMESTAMP", Required: true},
			{Name: "updated_at", Type: "TIMESTAMP", Required: true},
			{Name: "path", Type: "STRING"},
			{Name: "position", Type: "INTEGER"},
			{Name: "commit_id", Type: "STRING"},
			{Name: "url", Type: "STRING", Required: true},
			{Name: "ingestion_timestamp", Type: "TIMESTAMP", Required: true},
		},
		PartitionField:   "created_at",
		ClusteringFields: []string{"organization", "repository", "author"},
	}

	IssueCommentsTable = Table{
		Name:     "issue_comments",
		MergeKey: []string{"comment_id", "repository", "organization"},
		Columns: []Column{
			{Name: "comment_id", Type: "INTEGER", Required: true},
			{Name: "pr_number", Type: "INTEGER", Required: true},
			{Name: "repository", Type: "STRING", Required: true},
			{Name: "organization", Type: "STRING", Required: true},
			{Name: "author", Type: "STRING", Required: true},
			{Name: "author_type", Type: "STRING", Required: true},
			{Name: "body", Type: "STRING"},
			{Name: "created_at", Type: "TIMESTAMP", Required: true},
			{Name: "updated_at", Type: "TIMESTAMP", Required: true},
			{Name: "url", Type: "STRING", Required: true},
			{Name: "ingestion_timestamp", Type: "TIMESTAMP", Required: true},
		},
		PartitionField:   "created_at",
		ClusteringFields: []string{"organization", "repository", "author"},
	}

	MetricsTable = Table{
		Name: "metrics",
		Columns: []Column{
			{Name: "metric_date", Type: "DATE", Required: true},
			{Name: "repository", Type: "STRING", Required: true},
			{Name: "organization", Type: "STRING", Required: true},
			{Name: "author", Type: "STRING", Required: true},
			{Name: "author_type", Type: "STRING", Required: true},
			{Name: "prs_opened", Type: "INTEGER", Required: true},
			{Name: "prs_merged", Type: "INTEGER", Required: true},
			{Name: "prs_closed", Type: "INTEGER", Required: true},
			{Name: "commits_count", Type: "INTEGER", Required: true},
			{Name: "reviews_given", Type: "INTEGER", Required: true},
			{Name: "review_comments_given", Type: "INTEGER", Required: true},
			{Name: "lines_added", Type: "INTEGER", Required: true},
			{Name: "lines_deleted", Type: "INTEGER", Required: true},
			{Name: "files_changed", Type: "INTEGER", Required: true},
			{Name: "calculation_timestamp", Type: "TIMESTAMP", Required: true},
		},
		PartitionField:   "metric_date",
		ClusteringFields: []string{"organization", "repository", "author"},
	}
)

// Tables returns every warehouse table in creation order.
func Tables() []Table {
	return []Table{
		PullRequestsTable,
		CommitsTable,
		ReviewsTable,
		ReviewCommentsTable,
		IssueCommentsTable,
		MetricsTable,
	}
}

// DataTables returns the tables populated by collection runs, in
// publish order. Metrics is excluded.
func DataTables() []Table {
	return []Table{
		PullRequestsTable,
		CommitsTable,
		ReviewsTable,
		ReviewCommentsTable,
		IssueCommentsTable,
	}
}

// TableByName looks a table up by its name.
func TableByName(name string) (Table, bool) {
	for _, t := range Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
