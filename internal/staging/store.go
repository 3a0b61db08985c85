package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/askscio/github-stats-collector/internal/fetcher"
	"github.com/askscio/github-stats-collector/internal/logger"
)

// DataTypePullRequests names the staged record stream. Records carry
// their sub-resources inline, so a single stream is enough.
const DataTypePullRequests = "pull_requests"

// checkpointsDir is the reserved pseudo-repository for checkpoints.
const checkpointsDir = "_checkpoints"

// DefaultChunkSize bounds how many records one staged object holds.
const DefaultChunkSize = 100

// Chunk is the staged object envelope.
type Chunk struct {
	Organization string            `json:"organization"`
	Repository   string            `json:"repository"`
	DataType     string            `json:"data_type"`
	Timestamp    string            `json:"timestamp"`
	ChunkID      int               `json:"chunk_id"`
	Count        int               `json:"count"`
	Data         []json.RawMessage `json:"data"`
}

// Checkpoint is the durable progress marker for one collection run.
type Checkpoint struct {
	Organization string         `json:"organization"`
	CollectionID string         `json:"collection_id"`
	Timestamp    string         `json:"timestamp"`
	Data         CheckpointData `json:"data"`
}

// CheckpointData records which repositories a run has staged so far
// and the window it was collecting.
type CheckpointData struct {
	CompletedRepos []string  `json:"completed_repos"`
	Since          time.Time `json:"since"`
	Until          time.Time `json:"until"`
	StagedPaths    []string  `json:"staged_paths"`
}

// FileStats aggregates one repository data type for the summary.
type FileStats struct {
	FileCount int   `json:"file_count"`
	SizeBytes int64 `json:"size_bytes"`
}

// Summary describes everything staged for one organization.
type Summary struct {
	Organization   string                          `json:"organization"`
	Repositories   map[string]map[string]FileStats `json:"repositories"`
	TotalFiles     int                             `json:"total_files"`
	TotalSizeBytes int64                           `json:"total_size_bytes"`
}

// Store is the staging layer over an ObjectStore.
type Store struct {
	objects   ObjectStore
	chunkSize int
	now       func() time.Time
}

// New builds a staging store. chunkSize < 1 falls back to
// DefaultChunkSize.
func New(objects ObjectStore, chunkSize int) *Store {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &Store{
		objects:   objects,
		chunkSize: chunkSize,
		now:       time.Now,
	}
}

func chunkPath(org, repo, dataType, timestamp string, chunkID int) string {
	date, _, _ := strings.Cut(timestamp, "T")
	return fmt.Sprintf("%s/%s/%s/%s/%s_chunk_%d.json", org, repo, dataType, date, timestamp, chunkID)
}

func checkpointPath(org, collectionID string) string {
	return fmt.Sprintf("%s/%s/%s.json", org, checkpointsDir, collectionID)
}

// WritePullRequests stages one repository's records in chunks and
// returns the written paths.
func (s *Store) WritePullRequests(ctx context.Context, org, repo string, prs []*fetcher.PullRequest) ([]string, error) {
	timestamp := s.now().UTC().Format(time.RFC3339)

	var paths []string
	for start := 0; start < len(prs); start += s.chunkSize {
		end := min(start+s.chunkSize, len(prs))
		chunkID := start / s.chunkSize

		data := make([]json.RawMessage, 0, end-start)
		for _, pr := range prs[start:end] {
			raw, err := json.Marshal(pr)
			if err != nil {
				return nil, fmt.Errorf("encoding record %s/%s#%d: %w", org, repo, pr.Number, err)
			}
			data = append(data, raw)
		}

		chunk := Chunk{
			Organization: org,
			Repository:   repo,
			DataType:     DataTypePullRequests,
			Timestamp:    timestamp,
			ChunkID:      chunkID,
			Count:        len(data),
			Data:         data,
		}
		raw, err := json.MarshalIndent(chunk, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding chunk %d for %s/%s: %w", chunkID, org, repo, err)
		}

		path := chunkPath(org, repo, DataTypePullRequests, timestamp, chunkID)
		if err := s.objects.Write(ctx, path, raw); err != nil {
			return nil, err
		}
		paths = append(paths, path)
		logger.Debug("Wrote chunk %d (%d items) to %s", chunkID, len(data), path)
	}

	logger.Info("Staged %d records for %s/%s in %d chunks", len(prs), org, repo, len(paths))
	return paths, nil
}

// ReadPullRequests reads every staged chunk for one repository back
// and reassembles the records. dateFilter, when non-empty (YYYY-MM-DD),
// restricts the read to chunks staged on that date.
func (s *Store) ReadPullRequests(ctx context.Context, org, repo, dateFilter string) ([]*fetcher.PullRequest, error) {
	prefix := fmt.Sprintf("%s/%s/%s/", org, repo, DataTypePullRequests)
	if dateFilter != "" {
		prefix += dateFilter + "/"
	}

	objects, err := s.objects.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var prs []*fetcher.PullRequest
	for _, obj := range objects {
		raw, err := s.objects.Read(ctx, obj.Path)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				logger.Warn("Staged chunk vanished: %s", obj.Path)
				continue
			}
			return nil, err
		}

		var chunk Chunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return nil, fmt.Errorf("decoding chunk %s: %w", obj.Path, err)
		}

		for _, item := range chunk.Data {
			var pr fetcher.PullRequest
			if err := json.Unmarshal(item, &pr); err != nil {
				return nil, fmt.Errorf("decoding record in %s: %w", obj.Path, err)
			}
			prs = append(prs, &pr)
		}
	}

	return prs, nil
}

// Repositories lists every repository with staged data of the given
// type, sorted by name.
func (s *Store) Repositories(ctx context.Context, org, dataType string) ([]string, error) {
	objects, err := s.objects.List(ctx, org+"/")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, obj := range objects {
		parts := strings.Split(obj.Path, "/")
		if len(parts) >= 3 && parts[1] != checkpointsDir && parts[2] == dataType {
			seen[parts[1]] = true
		}
	}

	repos := make([]string, 0, len(seen))
	for repo := range seen {
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	return repos, nil
}

// WriteCheckpoint durably records a run's progress, overwriting any
// previous checkpoint with the same collection id.
func (s *Store) WriteCheckpoint(ctx context.Context, org, collectionID string, data CheckpointData) (string, error) {
	checkpoint := Checkpoint{
		Organization: org,
		CollectionID: collectionID,
		Timestamp:    s.now().UTC().Format(time.RFC3339),
		Data:         data,
	}
	raw, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding checkpoint %s: %w", collectionID, err)
	}

	path := checkpointPath(org, collectionID)
	if err := s.objects.Write(ctx, path, raw); err != nil {
		return "", err
	}
	logger.Info("Wrote checkpoint to %s", path)
	return path, nil
}

// ReadCheckpoint returns the checkpoint for a collection id, or nil
// when none exists, which means "start fresh".
func (s *Store) ReadCheckpoint(ctx context.Context, org, collectionID string) (*Checkpoint, error) {
	raw, err := s.objects.Read(ctx, checkpointPath(org, collectionID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(raw, &checkpoint); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", collectionID, err)
	}
	return &checkpoint, nil
}

// WipeRepository deletes every staged object for one repository and
// returns how many were removed. An empty dataType wipes all types.
func (s *Store) WipeRepository(ctx context.Context, org, repo, dataType string) (int, error) {
	prefix := fmt.Sprintf("%s/%s/", org, repo)
	if dataType != "" {
		prefix += dataType + "/"
	}

	objects, err := s.objects.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, obj := range objects {
		if err := s.objects.Delete(ctx, obj.Path); err != nil {
			logger.Error("Error deleting %s: %v", obj.Path, err)
			continue
		}
		count++
	}

	logger.Info("Deleted %d staged objects for %s/%s", count, org, repo)
	return count, nil
}

// Summarize walks everything staged for the organization. Checkpoints
// are excluded from the per-repository breakdown.
func (s *Store) Summarize(ctx context.Context, org string) (*Summary, error) {
	objects, err := s.objects.List(ctx, org+"/")
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Organization: org,
		Repositories: make(map[string]map[string]FileStats),
	}

	for _, obj := range objects {
		parts := strings.Split(obj.Path, "/")
		if len(parts) < 3 {
			continue
		}

		repo := parts[1]
		if repo == checkpointsDir {
			continue
		}
		dataType := parts[2]

		if summary.Repositories[repo] == nil {
			summary.Repositories[repo] = make(map[string]FileStats)
		}
		stats := summary.Repositories[repo][dataType]
		stats.FileCount++
		stats.SizeBytes += obj.Size
		summary.Repositories[repo][dataType] = stats

		summary.TotalFiles++
		summary.TotalSizeBytes += obj.Size
	}

	return summary, nil
}
