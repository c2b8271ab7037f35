package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryClient is an in-process Client for tests and local runs.
type MemoryClient struct {
	objects map[string][]byte
	attrs   map[string]Attrs
	mu      sync.RWMutex
}

// NewMemoryClient creates an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		objects: make(map[string][]byte),
		attrs:   make(map[string]Attrs),
	}
}

// Upload stores content.
func (c *MemoryClient) Upload(ctx context.Context, bucket, object string, content io.Reader, attrs Attrs) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[bucket+"/"+object] = data
	c.attrs[bucket+"/"+object] = attrs
	return nil
}

// Download retrieves content.
func (c *MemoryClient) Download(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, ok := c.objects[bucket+"/"+object]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes content.
func (c *MemoryClient) Delete(_ context.Context, bucket, object string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.objects[bucket+"/"+object]; !ok {
		return ErrObjectNotFound
	}
	delete(c.objects, bucket+"/"+object)
	delete(c.attrs, bucket+"/"+object)
	return nil
}

// Exists checks if content exists.
func (c *MemoryClient) Exists(_ context.Context, bucket, object string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.objects[bucket+"/"+object]
	return ok, nil
}

// Attrs returns the attributes an object was uploaded with.
func (c *MemoryClient) Attrs(bucket, object string) (Attrs, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	attrs, ok := c.attrs[bucket+"/"+object]
	return attrs, ok
}

// ObjectCount returns the number of stored objects.
func (c *MemoryClient) ObjectCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.objects)
}

var _ Client = (*MemoryClient)(nil)
