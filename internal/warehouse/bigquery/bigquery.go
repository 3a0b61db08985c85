// Package bigquery is the production warehouse backend. Upserts stage
// rows into a temporary table and fold them into the target with one
// MERGE statement, so re-publishing an overlapping window never
// duplicates rows.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bq "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/askscio/github-stats-collector/internal/logger"
	"github.com/askscio/github-stats-collector/internal/warehouse"
)

// tempTableTTL bounds how long an orphaned staging table survives a
// crashed publish before BigQuery expires it.
const tempTableTTL = 6 * time.Hour

// queryPollInterval is how often an incomplete query job is re-checked.
const queryPollInterval = 2 * time.Second

// Warehouse talks to one BigQuery dataset.
type Warehouse struct {
	svc          *bq.Service
	projectID    string
	datasetID    string
	location     string
	pollInterval time.Duration
}

// New builds a BigQuery-backed warehouse using application default
// credentials unless overridden via opts.
func New(ctx context.Context, projectID, datasetID, location string, opts ...option.ClientOption) (*Warehouse, error) {
	svc, err := bq.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating BigQuery service: %w", err)
	}
	return &Warehouse{
		svc:          svc,
		projectID:    projectID,
		datasetID:    datasetID,
		location:     location,
		pollInterval: queryPollInterval,
	}, nil
}

// EnsureSchema creates the dataset and every declared table if absent.
// Existing datasets and tables are left untouched.
func (w *Warehouse) EnsureSchema(ctx context.Context) error {
	if err := w.ensureDataset(ctx); err != nil {
		return err
	}
	for _, table := range warehouse.Tables() {
		if err := w.ensureTable(ctx, table); err != nil {
			return err
		}
	}
	logger.Info("BigQuery schema ready: %d tables in %s.%s", len(warehouse.Tables()), w.projectID, w.datasetID)
	return nil
}

func (w *Warehouse) ensureDataset(ctx context.Context) error {
	_, err := w.svc.Datasets.Get(w.projectID, w.datasetID).Context(ctx).Do()
	if err == nil {
		logger.Debug("Dataset %s.%s already exists", w.projectID, w.datasetID)
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("getting dataset %s: %w", w.datasetID, err)
	}

	logger.Info("Creating dataset %s.%s", w.projectID, w.datasetID)
	_, err = w.svc.Datasets.Insert(w.projectID, &bq.Dataset{
		DatasetReference: &bq.DatasetReference{
			ProjectId: w.projectID,
			DatasetId: w.datasetID,
		},
		Location:    w.location,
		Description: "GitHub statistics and metrics",
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("creating dataset %s: %w", w.datasetID, err)
	}
	return nil
}

func (w *Warehouse) ensureTable(ctx context.Context, table warehouse.Table) error {
	_, err := w.svc.Tables.Get(w.projectID, w.datasetID, table.Name).Context(ctx).Do()
	if err == nil {
		logger.Debug("Table %s already exists", table.Name)
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("getting table %s: %w", table.Name, err)
	}

	logger.Info("Creating table %s.%s.%s", w.projectID, w.datasetID, table.Name)
	spec := &bq.Table{
		TableReference: &bq.TableReference{
			ProjectId: w.projectID,
			DatasetId: w.datasetID,
			TableId:   table.Name,
		},
		Schema: tableSchema(table),
	}
	if table.PartitionField != "" {
		spec.TimePartitioning = &bq.TimePartitioning{
			Type:  "DAY",
			Field: table.PartitionField,
		}
	}
	if len(table.ClusteringFields) > 0 {
		spec.Clustering = &bq.Clustering{Fields: table.ClusteringFields}
	}

	_, err = w.svc.Tables.Insert(w.projectID, w.datasetID, spec).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("creating table %s: %w", table.Name, err)
	}
	return nil
}

// Upsert merges rows into the target table on its declared key. Rows
// whose key matches an existing row overwrite every non-key column;
// the rest insert. The temporary staging table is dropped afterwards,
// best-effort on failure paths.
func (w *Warehouse) Upsert(ctx context.Context, table warehouse.Table, rows []warehouse.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(table.MergeKey) == 0 {
		return 0, fmt.Errorf("table %s has no merge key", table.Name)
	}

	tempID := stagingTableID(table.Name)
	if err := w.createStagingTable(ctx, table, tempID); err != nil {
		return 0, err
	}

	if err := w.insertRows(ctx, tempID, rows); err != nil {
		w.dropTable(ctx, tempID)
		return 0, fmt.Errorf("staging rows for %s: %w", table.Name, err)
	}

	stmt := mergeStatement(w.projectID, w.datasetID, table, tempID)
	useLegacySQL := false
	resp, err := w.svc.Jobs.Query(w.projectID, &bq.QueryRequest{
		Query:           stmt,
		Location:        w.location,
		UseLegacySql:    &useLegacySQL,
		ForceSendFields: []string{"UseLegacySql"},
	}).Context(ctx).Do()
	if err != nil {
		w.dropTable(ctx, tempID)
		return 0, fmt.Errorf("merging into %s: %w", table.Name, err)
	}

	// jobs.query returns jobComplete=false once its timeout elapses
	// while the job keeps running. The staging table must outlive the
	// merge, so wait for completion before dropping it.
	affected := resp.NumDmlAffectedRows
	if !resp.JobComplete {
		affected, err = w.waitForQuery(ctx, resp.JobReference)
		if err != nil {
			w.dropTable(ctx, tempID)
			return 0, fmt.Errorf("merging into %s: %w", table.Name, err)
		}
	}

	w.dropTable(ctx, tempID)
	return int(affected), nil
}

// waitForQuery polls an incomplete query job until it finishes and
// returns its DML row count.
func (w *Warehouse) waitForQuery(ctx context.Context, ref *bq.JobReference) (int64, error) {
	if ref == nil || ref.JobId == "" {
		return 0, fmt.Errorf("incomplete query returned no job reference")
	}

	for {
		call := w.svc.Jobs.GetQueryResults(w.projectID, ref.JobId).Context(ctx)
		if ref.Location != "" {
			call = call.Location(ref.Location)
		}
		res, err := call.Do()
		if err != nil {
			return 0, err
		}
		if res.JobComplete {
			return res.NumDmlAffectedRows, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// Insert appends rows directly without deduplication. Reserved for
// flows that do not need merge semantics.
func (w *Warehouse) Insert(ctx context.Context, table warehouse.Table, rows []warehouse.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := w.insertRows(ctx, table.Name, rows); err != nil {
		return 0, fmt.Errorf("inserting into %s: %w", table.Name, err)
	}
	return len(rows), nil
}

func (w *Warehouse) createStagingTable(ctx context.Context, table warehouse.Table, tempID string) error {
	_, err := w.svc.Tables.Insert(w.projectID, w.datasetID, &bq.Table{
		TableReference: &bq.TableReference{
			ProjectId: w.projectID,
			DatasetId: w.datasetID,
			TableId:   tempID,
		},
		Schema:         tableSchema(table),
		ExpirationTime: time.Now().Add(tempTableTTL).UnixMilli(),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("creating staging table %s: %w", tempID, err)
	}
	return nil
}

func (w *Warehouse) insertRows(ctx context.Context, tableID string, rows []warehouse.Row) error {
	req := &bq.TableDataInsertAllRequest{
		Rows: make([]*bq.TableDataInsertAllRequestRows, len(rows)),
	}
	for i, row := range rows {
		json := make(map[string]bq.JsonValue, len(row))
		for col, val := range row {
			json[col] = val
		}
		req.Rows[i] = &bq.TableDataInsertAllRequestRows{Json: json}
	}

	resp, err := w.svc.Tabledata.InsertAll(w.projectID, w.datasetID, tableID, req).Context(ctx).Do()
	if err != nil {
		return err
	}
	if len(resp.InsertErrors) > 0 {
		return fmt.Errorf("%d rows rejected, first: %v", len(resp.InsertErrors), resp.InsertErrors[0].Errors)
	}
	return nil
}

func (w *Warehouse) dropTable(ctx context.Context, tableID string) {
	if err := w.svc.Tables.Delete(w.projectID, w.datasetID, tableID).Context(ctx).Do(); err != nil && !isNotFound(err) {
		logger.Warn("Failed to drop staging table %s: %v", tableID, err)
	}
}

func stagingTableID(name string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_staging_%s", name, suffix)
}

// mergeStatement builds the MERGE folding the staging table into the
// target: match on the merge key, overwrite non-key columns on match,
// insert otherwise.
func mergeStatement(projectID, datasetID string, table warehouse.Table, tempID string) string {
	target := fmt.Sprintf("`%s.%s.%s`", projectID, datasetID, table.Name)
	source := fmt.Sprintf("`%s.%s.%s`", projectID, datasetID, tempID)

	on := make([]string, len(table.MergeKey))
	for i, key := range table.MergeKey {
		on[i] = fmt.Sprintf("T.%s = S.%s", key, key)
	}

	nonKey := table.NonKeyColumns()
	sets := make([]string, len(nonKey))
	for i, col := range nonKey {
		sets[i] = fmt.Sprintf("%s = S.%s", col, col)
	}

	cols := table.ColumnNames()
	values := make([]string, len(cols))
	for i, col := range cols {
		values[i] = "S." + col
	}

	return fmt.Sprintf(
		"MERGE %s T USING %s S ON %s WHEN MATCHED THEN UPDATE SET %s WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		target,
		source,
		strings.Join(on, " AND "),
		strings.Join(sets, ", "),
		strings.Join(cols, ", "),
		strings.Join(values, ", "),
	)
}

func tableSchema(table warehouse.Table) *bq.TableSchema {
	fields := make([]*bq.TableFieldSchema, len(table.Columns))
	for i, col := range table.Columns {
		mode := "NULLABLE"
		switch {
		case col.Repeated:
			mode = "REPEATED"
		case col.Required:
			mode = "REQUIRED"
		}
		fields[i] = &bq.TableFieldSchema{
			Name: col.Name,
			Type: col.Type,
			Mode: mode,
		}
	}
	return &bq.TableSchema{Fields: fields}
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
