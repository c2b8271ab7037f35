// Package blob defines the keyed object store behind the live store
// primitive. Implementations are in infrastructure/storage.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Domain errors for blob storage.
var (
	// ErrNotFound indicates no object is stored under the key.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidKey indicates an empty, absolute or escaping key.
	ErrInvalidKey = errors.New("invalid blob key")
)

// Object describes a stored value.
type Object struct {
	Key         string            `json:"key"`
	ContentType string            `json:"content_type,omitempty"`
	Size        int64             `json:"size"`
	Checksum    string            `json:"checksum"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PutOptions configures a write.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Store is a keyed object store. Put overwrites existing objects.
type Store interface {
	Put(ctx context.Context, key string, content io.Reader, opts PutOptions) (Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Location describes where objects land, e.g. "s3://bucket/prefix".
	Location() string
}

// ValidateKey rejects keys that are empty, absolute or leave the store root.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q must be relative", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") || clean != key {
		return fmt.Errorf("%w: %q is not a clean relative path", ErrInvalidKey, key)
	}
	return nil
}

// Checksum returns the "sha256:<hex>" digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// NewObject describes data stored under key.
func NewObject(key string, data []byte, opts PutOptions) Object {
	obj := Object{
		Key:         key,
		ContentType: opts.ContentType,
		Size:        int64(len(data)),
		Checksum:    Checksum(data),
	}
	if len(opts.Metadata) > 0 {
		obj.Metadata = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			obj.Metadata[k] = v
		}
	}
	return obj
}
