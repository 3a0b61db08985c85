// Package staging persists fetched data durably before warehouse
// publish. Objects live in a bucket-like store under
// org/repo/data_type/YYYY-MM-DD/timestamp_chunk_N.json, with
// checkpoints under org/_checkpoints/<collection_id>.json.
package staging

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Object is one stored blob's metadata.
type Object struct {
	Path string
	Size int64
}

// ObjectStore is the blob-level port the staging layer runs on.
type ObjectStore interface {
	Write(ctx context.Context, path string, data []byte) error
	// Read returns ErrNotFound when the object does not exist.
	Read(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, path string) error
}
