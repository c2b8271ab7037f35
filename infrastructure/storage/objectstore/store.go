// Package objectstore adapts bucket-style object storage clients (S3, GCS,
// Azure Blob) to blob.Store.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/felixgeelhaar/apl/domain/blob"
)

// ErrObjectNotFound is returned by clients for missing objects.
var ErrObjectNotFound = errors.New("object not found")

// Attrs are the object attributes passed to Upload.
type Attrs struct {
	ContentType string
	Metadata    map[string]string
}

// Client defines the bucket operations a provider must supply.
// This allows for mock implementations in testing.
type Client interface {
	// Upload uploads content to a bucket, replacing any existing object.
	Upload(ctx context.Context, bucket, object string, content io.Reader, attrs Attrs) error

	// Download downloads content from a bucket.
	Download(ctx context.Context, bucket, object string) (io.ReadCloser, error)

	// Delete deletes an object from a bucket.
	Delete(ctx context.Context, bucket, object string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, bucket, object string) (bool, error)
}

// Config holds configuration for an object-backed blob store.
type Config struct {
	// Client is the provider client to use.
	Client Client

	// Scheme names the provider in Location, e.g. "s3" or "gs".
	Scheme string

	// Bucket is the bucket or container name.
	Bucket string

	// Prefix is an optional prefix for all objects.
	Prefix string
}

// Store implements blob.Store on top of a Client. Each blob is stored as
// a content object plus a JSON description under .meta/.
type Store struct {
	client Client
	scheme string
	bucket string
	prefix string
}

// New creates an object-backed blob store.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, errors.New("object store client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "object"
	}

	return &Store{
		client: cfg.Client,
		scheme: cfg.Scheme,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Location returns scheme://bucket/prefix.
func (s *Store) Location() string {
	loc := s.scheme + "://" + s.bucket
	if s.prefix != "" {
		loc += "/" + s.prefix
	}
	return loc
}

// Put uploads content and its description.
func (s *Store) Put(ctx context.Context, key string, content io.Reader, opts blob.PutOptions) (blob.Object, error) {
	if err := blob.ValidateKey(key); err != nil {
		return blob.Object{}, err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to read content: %w", err)
	}
	obj := blob.NewObject(key, data, opts)

	attrs := Attrs{ContentType: opts.ContentType, Metadata: obj.Metadata}
	if err := s.client.Upload(ctx, s.bucket, s.contentPath(key), bytes.NewReader(data), attrs); err != nil {
		return blob.Object{}, fmt.Errorf("failed to upload content: %w", err)
	}

	meta, err := json.Marshal(obj)
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	metaAttrs := Attrs{ContentType: "application/json"}
	if err := s.client.Upload(ctx, s.bucket, s.metaPath(key), bytes.NewReader(meta), metaAttrs); err != nil {
		// Try to clean up content
		_ = s.client.Delete(ctx, s.bucket, s.contentPath(key)) // #nosec G104 -- best-effort cleanup in error path
		return blob.Object{}, fmt.Errorf("failed to upload metadata: %w", err)
	}

	return obj, nil
}

// Get downloads the content stored under key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}
	reader, err := s.client.Download(ctx, s.bucket, s.contentPath(key))
	if err != nil {
		return nil, mapNotFound(err, "download content")
	}
	return reader, nil
}

// Stat downloads the description of the object under key.
func (s *Store) Stat(ctx context.Context, key string) (blob.Object, error) {
	if err := blob.ValidateKey(key); err != nil {
		return blob.Object{}, err
	}
	reader, err := s.client.Download(ctx, s.bucket, s.metaPath(key))
	if err != nil {
		return blob.Object{}, mapNotFound(err, "download metadata")
	}
	defer reader.Close()

	var obj blob.Object
	if err := json.NewDecoder(reader).Decode(&obj); err != nil {
		return blob.Object{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return obj, nil
}

// Delete removes content and description.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.Delete(ctx, s.bucket, s.contentPath(key)); err != nil {
		return mapNotFound(err, "delete content")
	}
	if err := s.client.Delete(ctx, s.bucket, s.metaPath(key)); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return nil
}

// Exists checks if content is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := blob.ValidateKey(key); err != nil {
		return false, err
	}
	return s.client.Exists(ctx, s.bucket, s.contentPath(key))
}

func (s *Store) contentPath(key string) string {
	return path.Join(s.prefix, key)
}

func (s *Store) metaPath(key string) string {
	return path.Join(s.prefix, ".meta", key+".json")
}

func mapNotFound(err error, op string) error {
	if errors.Is(err, ErrObjectNotFound) {
		return blob.ErrNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

var _ blob.Store = (*Store)(nil)
