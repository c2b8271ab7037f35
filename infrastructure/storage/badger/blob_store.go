package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/apl/domain/blob"
)

const (
	blobNamespace = "blob"
	metaNamespace = "blobmeta"
)

// BlobStore is a BadgerDB-backed implementation of blob.Store. Content and
// description are written in one transaction.
type BlobStore struct {
	db *DB
}

// NewBlobStore creates a blob store on an open database.
func NewBlobStore(db *DB) *BlobStore {
	return &BlobStore{db: db}
}

// Location describes where objects are kept.
func (s *BlobStore) Location() string {
	return "badger:" + s.db.db.Opts().Dir
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
		return blob.Object{}, fmt.Errorf("failed to read content: %w", err)
	}
	obj := blob.NewObject(key, data, opts)
	meta, err := json.Marshal(obj)
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to encode metadata: %w", err)
	}

	err = s.db.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(s.db.key(blobNamespace, key), data); err != nil {
			return err
		}
		return txn.Set(s.db.key(metaNamespace, key), meta)
	})
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to store blob: %w", err)
	}
	return obj, nil
}

// Get returns the content stored under key.
func (s *BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.read(ctx, blobNamespace, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Stat returns the description of the object under key.
func (s *BlobStore) Stat(ctx context.Context, key string) (blob.Object, error) {
	data, err := s.read(ctx, metaNamespace, key)
	if err != nil {
		return blob.Object{}, err
	}
	var obj blob.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return blob.Object{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return obj, nil
}

// Delete removes the object under key.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if _, err := s.read(ctx, metaNamespace, key); err != nil {
		return err
	}
	return s.db.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(s.db.key(blobNamespace, key)); err != nil {
			return err
		}
		return txn.Delete(s.db.key(metaNamespace, key))
	})
}

// Exists checks if an object is stored under key.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.read(ctx, metaNamespace, key)
	if errors.Is(err, blob.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *BlobStore) read(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.db.key(namespace, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, blob.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

var _ blob.Store = (*BlobStore)(nil)
