package warehouse

import (
	"context"
	"time"

	"github.com/askscio/github-stats-collector/internal/fetcher"
	"github.com/askscio/github-stats-collector/internal/logger"
)

// Store is the backend an upsert runs against. Upsert must leave at
// most one row per merge-key value and report how many rows it wrote
// or updated.
type Store interface {
	Upsert(ctx context.Context, table Table, rows []Row) (int, error)
}

// Publish flattens the records into row sets and upserts each data
// table. A failed table logs the error and reports zero rows; the
// remaining tables still publish. Returns the per-table row counts.
func Publish(ctx context.Context, store Store, prs []*fetcher.PullRequest) map[string]int {
	counts := make(map[string]int, len(DataTables()))
	if len(prs) == 0 {
		logger.Warn("No PR data to publish")
		return counts
	}

	rowsByTable := PrepareRows(prs, time.Now().UTC())

	for _, table := range DataTables() {
		rows := rowsByTable[table.Name]
		if len(rows) == 0 {
			logger.Info("No rows to publish into %s", table.Name)
			counts[table.Name] = 0
			continue
		}

		n, err := store.Upsert(ctx, table, rows)
		if err != nil {
			logger.Error("Upsert into %s failed: %v", table.Name, err)
			counts[table.Name] = 0
			continue
		}
		logger.Info("Upserted %d rows into %s", n, table.Name)
		counts[table.Name] = n
	}

	return counts
}
