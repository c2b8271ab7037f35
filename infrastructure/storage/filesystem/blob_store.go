// Package filesystem provides filesystem-based storage implementations.
package filesystem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/apl/domain/blob"
)

const metaDir = ".meta"

// BlobStore implements blob.Store under a base directory. Each object is
// one file; its description lives in a sidecar under .meta/.
type BlobStore struct {
	basePath string
}

// NewBlobStore creates the base directory if needed.
func NewBlobStore(basePath string) (*BlobStore, error) {
	if err := os.MkdirAll(filepath.Join(basePath, metaDir), 0750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{basePath: basePath}, nil
}

// Location returns the base directory.
func (s *BlobStore) Location() string {
	return s.basePath
}

// Put writes content under key, replacing any previous object.
func (s *BlobStore) Put(ctx context.Context, key string, content io.Reader, opts blob.PutOptions) (blob.Object, error) {
	if err := blob.ValidateKey(key); err != nil {
		return blob.Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return blob.Object{}, err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to read content: %w", err)
	}
	obj := blob.NewObject(key, data, opts)

	meta, err := json.Marshal(obj)
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := writeAtomic(s.contentPath(key), data); err != nil {
		return blob.Object{}, err
	}
	if err := writeAtomic(s.metaPath(key), meta); err != nil {
		_ = os.Remove(s.contentPath(key)) // #nosec G104 -- best-effort cleanup in error path
		return blob.Object{}, err
	}
	return obj, nil
}

// Get opens the content stored under key.
func (s *BlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}
	file, err := os.Open(s.contentPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, blob.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return file, nil
}

// Stat returns the description of the object under key.
func (s *BlobStore) Stat(_ context.Context, key string) (blob.Object, error) {
	if err := blob.ValidateKey(key); err != nil {
		return blob.Object{}, err
	}
	data, err := os.ReadFile(s.metaPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return blob.Object{}, blob.ErrNotFound
	}
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var obj blob.Object
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&obj); err != nil {
		return blob.Object{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return obj, nil
}

// Delete removes the object under key.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.contentPath(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return blob.ErrNotFound
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	_ = os.Remove(s.metaPath(key)) // #nosec G104 -- sidecar may already be gone
	return nil
}

// Exists checks if an object is stored under key.
func (s *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	if err := blob.ValidateKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.contentPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *BlobStore) contentPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

func (s *BlobStore) metaPath(key string) string {
	return filepath.Join(s.basePath, metaDir, filepath.FromSlash(key)+".json")
}

// writeAtomic writes data to a temp file beside path and renames it into
// place.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           // #nosec G104 -- best-effort cleanup in error path
		os.Remove(tmp.Name()) // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name()) // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

var _ blob.Store = (*BlobStore)(nil)
