// Package config holds runtime configuration for the stats collector.
// Configuration is environment-first; an optional TOML file can fill in
// values that are not set in the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Configuration errors. These are a distinct category from collection-time
// failures so operators can tell setup mistakes from transient issues.
var (
	// ErrMissingToken indicates GITHUB_TOKEN is not set.
	ErrMissingToken = errors.New("config: GITHUB_TOKEN environment variable is required")

	// ErrMissingProject indicates BIGQUERY_PROJECT_ID is not set.
	ErrMissingProject = errors.New("config: BIGQUERY_PROJECT_ID environment variable is required")

	// ErrUnknownBackend indicates WAREHOUSE_BACKEND names an unsupported
	// warehouse.
	ErrUnknownBackend = errors.New("config: WAREHOUSE_BACKEND must be bigquery or sqlite")
)

// Supported warehouse backends.
const (
	BackendBigQuery = "bigquery"
	BackendSQLite   = "sqlite"
)

// Config is the full runtime configuration.
type Config struct {
	// GitHub
	GitHubToken string
	GitHubOrg   string

	// Warehouse
	WarehouseBackend string
	SQLiteDataDir    string

	// BigQuery
	BigQueryProjectID string
	BigQueryDatasetID string
	BigQueryLocation  string

	// GCS staging
	GCSBucketName string
	GCSChunkSize  int
	PersistToGCS  bool

	// Rate limiting
	MaxRequestsPerHour int

	// Parallelism
	MaxWorkers int

	// Collection
	DefaultLookbackDays    int
	CollectionCadenceHours int
}

// Default values, matching the deployed job's behaviour.
const (
	DefaultOrg          = "askscio"
	DefaultDatasetID    = "github_stats"
	DefaultLocation     = "US"
	DefaultBucketName   = "github-stats-data"
	DefaultChunkSize    = 100
	DefaultMaxPerHour   = 4500
	DefaultMaxWorkers   = 10
	DefaultLookbackDays = 180
	DefaultCadenceHours = 6
	DefaultPersistToGCS = true
)

// FromEnv builds a Config from environment variables, applying any values
// found in the optional config file first. GITHUB_TOKEN and
// BIGQUERY_PROJECT_ID are required.
func FromEnv() (*Config, error) {
	file, err := loadFile("")
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	cfg := &Config{
		GitHubToken:            lookup("GITHUB_TOKEN", file, ""),
		GitHubOrg:              lookup("GITHUB_ORG", file, DefaultOrg),
		WarehouseBackend:       strings.ToLower(lookup("WAREHOUSE_BACKEND", file, BackendBigQuery)),
		SQLiteDataDir:          lookup("SQLITE_DATA_DIR", file, ""),
		BigQueryProjectID:      lookup("BIGQUERY_PROJECT_ID", file, ""),
		BigQueryDatasetID:      lookup("BIGQUERY_DATASET_ID", file, DefaultDatasetID),
		BigQueryLocation:       lookup("BIGQUERY_LOCATION", file, DefaultLocation),
		GCSBucketName:          lookup("GCS_BUCKET_NAME", file, DefaultBucketName),
		GCSChunkSize:           lookupInt("GCS_CHUNK_SIZE", file, DefaultChunkSize),
		PersistToGCS:           lookupBool("PERSIST_TO_GCS", file, DefaultPersistToGCS),
		MaxRequestsPerHour:     lookupInt("MAX_REQUESTS_PER_HOUR", file, DefaultMaxPerHour),
		MaxWorkers:             lookupInt("MAX_WORKERS", file, DefaultMaxWorkers),
		DefaultLookbackDays:    lookupInt("DEFAULT_LOOKBACK_DAYS", file, DefaultLookbackDays),
		CollectionCadenceHours: lookupInt("COLLECTION_CADENCE_HOURS", file, DefaultCadenceHours),
	}

	if cfg.GitHubToken == "" {
		return nil, ErrMissingToken
	}
	switch cfg.WarehouseBackend {
	case BackendBigQuery:
		if cfg.BigQueryProjectID == "" {
			return nil, ErrMissingProject
		}
	case BackendSQLite:
		// The sqlite backend is for local runs and needs no project.
	default:
		return nil, ErrUnknownBackend
	}

	return cfg, nil
}

// IsConfigError reports whether err is a configuration error rather than a
// collection-time failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMissingToken) || errors.Is(err, ErrMissingProject) || errors.Is(err, ErrUnknownBackend)
}

// lookup returns the env value for key, then the file value, then def.
func lookup(key string, file *fileConfig, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if file != nil {
		if v := file.get(key); v != "" {
			return v
		}
	}
	return def
}

func lookupInt(key string, file *fileConfig, def int) int {
	v := lookup(key, file, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func lookupBool(key string, file *fileConfig, def bool) bool {
	v := lookup(key, file, "")
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true")
}
