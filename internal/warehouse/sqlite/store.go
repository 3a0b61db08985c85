// Package sqlite is a local warehouse backend. It enforces each
// table's merge key with a UNIQUE constraint and native upserts, which
// also makes it the engine behind the idempotence tests.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/askscio/github-stats-collector/internal/warehouse"
	"github.com/askscio/github-stats-collector/internal/warehouse/sqlite/migrations"
)

// Store is a SQLite-backed warehouse.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the warehouse database under dataDir.
// If dataDir is empty, defaults to ~/.ghstats/data/warehouse.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".ghstats", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "warehouse.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// EnsureSchema is a no-op: migrations run when the store opens.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return nil
}

// Upsert writes rows with ON CONFLICT ... DO UPDATE on the table's
// merge key, overwriting non-key columns for existing keys.
func (s *Store) Upsert(ctx context.Context, table warehouse.Table, rows []warehouse.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(table.MergeKey) == 0 {
		return 0, fmt.Errorf("table %s has no merge key", table.Name)
	}
	return s.write(ctx, table, rows, upsertStatement(table))
}

// Insert appends rows without deduplication.
func (s *Store) Insert(ctx context.Context, table warehouse.Table, rows []warehouse.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return s.write(ctx, table, rows, insertStatement(table))
}

func (s *Store) write(ctx context.Context, table warehouse.Table, rows []warehouse.Row, stmt string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("preparing statement for %s: %w", table.Name, err)
	}
	defer prepared.Close()

	cols := table.ColumnNames()
	for _, row := range rows {
		args := make([]any, len(cols))
		for i, col := range cols {
			v, err := bindValue(row[col])
			if err != nil {
				return 0, fmt.Errorf("binding %s.%s: %w", table.Name, col, err)
			}
			args[i] = v
		}
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("writing row into %s: %w", table.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing %s: %w", table.Name, err)
	}
	return len(rows), nil
}

func insertStatement(table warehouse.Table) string {
	cols := table.ColumnNames()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table.Name,
		strings.Join(cols, ", "),
		placeholders,
	)
}

func upsertStatement(table warehouse.Table) string {
	nonKey := table.NonKeyColumns()
	sets := make([]string, len(nonKey))
	for i, col := range nonKey {
		sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	return fmt.Sprintf(
		"%s ON CONFLICT (%s) DO UPDATE SET %s",
		insertStatement(table),
		strings.Join(table.MergeKey, ", "),
		strings.Join(sets, ", "),
	)
}

// bindValue maps a row value to a driver-compatible one. String arrays
// are stored as JSON text.
func bindValue(v any) (any, error) {
	switch val := v.(type) {
	case []string:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	default:
		return v, nil
	}
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}

		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}
