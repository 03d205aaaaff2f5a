package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCS writes pages to a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS archive for the given bucket.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive.gcs_bucket is required")
	}
	if prefix == "" {
		prefix = "pages"
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

// Save writes one page to gs://<bucket>/<prefix>/<job>/page-N.html.
func (g *GCS) Save(ctx context.Context, jobID string, page int, markup string) error {
	key := fmt.Sprintf("%s/%s/page-%d.html", g.prefix, jobID, page)
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "text/html; charset=utf-8"
	if _, err := w.Write([]byte(markup)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}
