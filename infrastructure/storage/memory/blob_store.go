package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/felixgeelhaar/apl/domain/blob"
)

// BlobStore is an in-memory implementation of blob.Store.
type BlobStore struct {
	data    map[string][]byte
	objects map[string]blob.Object
	mu      sync.RWMutex
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:    make(map[string][]byte),
		objects: make(map[string]blob.Object),
	}
}

// Location returns "memory".
func (s *BlobStore) Location() string {
	return "memory"
}

// Put stores content under key.
func (s *BlobStore) Put(ctx context.Context, key string, content io.Reader, opts blob.PutOptions) (blob.Object, error) {
	if err := blob.ValidateKey(key); err != nil {
		return blob.Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return blob.Object{}, err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return blob.Object{}, err
	}
	obj := blob.NewObject(key, data, opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = data
	s.objects[key] = obj
	return obj, nil
}

// Get returns the content stored under key.
func (s *BlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Stat returns the description of the object under key.
func (s *BlobStore) Stat(_ context.Context, key string) (blob.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return blob.Object{}, blob.ErrNotFound
	}
	return obj, nil
}

// Delete removes the object under key.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return blob.ErrNotFound
	}
	delete(s.data, key)
	delete(s.objects, key)
	return nil
}

// Exists checks if an object is stored under key.
func (s *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[key]
	return ok, nil
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

var _ blob.Store = (*BlobStore)(nil)
