package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"

	"github.com/askscio/github-stats-collector/internal/logger"
)

// GCS is the production ObjectStore over a Cloud Storage bucket.
type GCS struct {
	svc    *gcs.Service
	bucket string
}

// NewGCS builds a Cloud Storage backed store and creates the bucket if
// it does not exist yet.
func NewGCS(ctx context.Context, bucket, projectID string, opts ...option.ClientOption) (*GCS, error) {
	svc, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage service: %w", err)
	}

	g := &GCS{svc: svc, bucket: bucket}
	if err := g.ensureBucket(ctx, projectID); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GCS) ensureBucket(ctx context.Context, projectID string) error {
	_, err := g.svc.Buckets.Get(g.bucket).Context(ctx).Do()
	if err == nil {
		return nil
	}
	if !isGCSNotFound(err) {
		return fmt.Errorf("getting bucket %s: %w", g.bucket, err)
	}

	logger.Info("Creating bucket: %s", g.bucket)
	_, err = g.svc.Buckets.Insert(projectID, &gcs.Bucket{Name: g.bucket}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", g.bucket, err)
	}
	return nil
}

func (g *GCS) Write(ctx context.Context, path string, data []byte) error {
	obj := &gcs.Object{Name: path, ContentType: "application/json"}
	_, err := g.svc.Objects.Insert(g.bucket, obj).
		Media(bytes.NewReader(data)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (g *GCS) Read(ctx context.Context, path string) ([]byte, error) {
	resp, err := g.svc.Objects.Get(g.bucket, path).Context(ctx).Download()
	if err != nil {
		if isGCSNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func (g *GCS) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	err := g.svc.Objects.List(g.bucket).Prefix(prefix).Pages(ctx, func(page *gcs.Objects) error {
		for _, item := range page.Items {
			objects = append(objects, Object{Path: item.Name, Size: int64(item.Size)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	return objects, nil
}

func (g *GCS) Delete(ctx context.Context, path string) error {
	if err := g.svc.Objects.Delete(g.bucket, path).Context(ctx).Do(); err != nil {
		if isGCSNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

func isGCSNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
