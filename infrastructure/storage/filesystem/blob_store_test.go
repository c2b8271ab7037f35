package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/apl/domain/blob"
)

func TestNewBlobStore_CreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "new", "nested")
	store, err := NewBlobStore(dir)
	if err != nil {
		t.Fatalf("NewBlobStore() error = %v", err)
	}
	if store.Location() != dir {
		t.Errorf("Location() = %s, want %s", store.Location(), dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestBlobStore_PutGetStat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlobStore() error = %v", err)
	}

	obj, err := store.Put(ctx, "reports/q1.txt", strings.NewReader("hello"), blob.PutOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"agent": "writer"},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if obj.Size != 5 || obj.Checksum != blob.Checksum([]byte("hello")) {
		t.Errorf("Put() = %+v", obj)
	}

	rc, err := store.Get(ctx, "reports/q1.txt")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Errorf("Get() = %q, want hello", data)
	}

	stat, err := store.Stat(ctx, "reports/q1.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if stat.ContentType != "text/plain" || stat.Metadata["agent"] != "writer" {
		t.Errorf("Stat() = %+v", stat)
	}

	if _, err := store.Put(ctx, "reports/q1.txt", strings.NewReader("replaced"), blob.PutOptions{}); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}
	stat, _ = store.Stat(ctx, "reports/q1.txt")
	if stat.Size != int64(len("replaced")) {
		t.Errorf("Size after overwrite = %d", stat.Size)
	}
}

func TestBlobStore_DeleteAndExists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := NewBlobStore(t.TempDir())
	_, _ = store.Put(ctx, "k", strings.NewReader("v"), blob.PutOptions{})

	if ok, err := store.Exists(ctx, "k"); err != nil || !ok {
		t.Errorf("Exists() = %v, %v, want true", ok, err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := store.Exists(ctx, "k"); ok {
		t.Error("Exists() after Delete = true")
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Get() missing error = %v, want ErrNotFound", err)
	}
	if _, err := store.Stat(ctx, "k"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Stat() missing error = %v, want ErrNotFound", err)
	}
}

func TestBlobStore_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := NewBlobStore(t.TempDir())

	for _, key := range []string{"../outside", "/abs", ""} {
		if _, err := store.Put(ctx, key, strings.NewReader("v"), blob.PutOptions{}); !errors.Is(err, blob.ErrInvalidKey) {
			t.Errorf("Put(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}
