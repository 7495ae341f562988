package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSClient uploads to Google Cloud Storage using application default
// credentials.
type GCSClient struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func NewGCSClient(ctx context.Context, cfg Config) (*GCSClient, error) {
	if cfg.Bucket == "" {
		return nil, &ConfigError{Provider: ProviderGCP, Reason: "bucket is required"}
	}
	cl, err := storage.NewClient(ctx, option.WithUserAgent("framestream"))
	if err != nil {
		return nil, &ConfigError{Provider: ProviderGCP, Reason: fmt.Sprintf("init client: %v", err)}
	}
	return &GCSClient{client: cl, bucket: cl.Bucket(cfg.Bucket)}, nil
}

func (c *GCSClient) UploadFile(ctx context.Context, localPath, storageKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Uploads overwrite whole objects, so retrying them is safe.
	obj := c.bucket.Object(storageKey).Retryer(storage.WithPolicy(storage.RetryAlways))
	w := obj.NewWriter(ctx)
	applyGCSAttributes(w, AttributesFor(localPath))

	if _, err := io.Copy(w, f); err != nil {
		cancel()
		_ = w.Close()
		return gcsError(fmt.Errorf("upload %s: %w", storageKey, err))
	}
	if err := w.Close(); err != nil {
		return gcsError(fmt.Errorf("finalize %s: %w", storageKey, err))
	}
	return nil
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}

func applyGCSAttributes(w *storage.Writer, a Attributes) {
	if a.ContentType != "" {
		w.ContentType = a.ContentType
	}
	if a.ContentEncoding != "" {
		w.ContentEncoding = a.ContentEncoding
	}
}

func gcsError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &HTTPError{Provider: ProviderGCP, StatusCode: apiErr.Code, Err: err}
	}
	return err
}
