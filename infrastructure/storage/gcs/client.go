// Package gcs stores blobs in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/felixgeelhaar/apl/infrastructure/storage/objectstore"
)

// Config configures the GCS client.
type Config struct {
	Bucket          string
	Prefix          string
	CredentialsFile string // Optional: path to service account JSON file
	CredentialsJSON []byte // Optional: service account JSON content
}

// Client implements objectstore.Client with the GCS SDK.
type Client struct {
	client *gcs.Client
}

// NewClient creates a GCS client. Without explicit credentials it uses
// Application Default Credentials.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	} else if len(cfg.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Client{client: client}, nil
}

// NewStore creates a blob store backed by a GCS bucket.
func NewStore(ctx context.Context, cfg Config) (*objectstore.Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return objectstore.New(objectstore.Config{
		Client: client,
		Scheme: "gs",
		Bucket: cfg.Bucket,
		Prefix: cfg.Prefix,
	})
}

// Upload writes an object.
func (c *Client) Upload(ctx context.Context, bucket, object string, content io.Reader, attrs objectstore.Attrs) error {
	writer := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = attrs.ContentType
	writer.Metadata = attrs.Metadata

	if _, err := io.Copy(writer, content); err != nil {
		writer.Close() // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize object: %w", err)
	}
	return nil
}

// Download opens an object for reading.
func (c *Client) Download(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	reader, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return reader, nil
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, bucket, object string) error {
	return mapError(c.client.Bucket(bucket).Object(object).Delete(ctx))
}

// Exists checks if an object exists.
func (c *Client) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

func mapError(err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", objectstore.ErrObjectNotFound, err)
	}
	return err
}

var _ objectstore.Client = (*Client)(nil)
