package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/felixgeelhaar/apl/domain/blob"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		wantLoc string
	}{
		{name: "valid", cfg: Config{Client: NewMemoryClient(), Scheme: "s3", Bucket: "b", Prefix: "apl"}, wantLoc: "s3://b/apl"},
		{name: "default scheme", cfg: Config{Client: NewMemoryClient(), Bucket: "b"}, wantLoc: "object://b"},
		{name: "missing client", cfg: Config{Bucket: "b"}, wantErr: true},
		{name: "missing bucket", cfg: Config{Client: NewMemoryClient()}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && store.Location() != tt.wantLoc {
				t.Errorf("Location() = %s, want %s", store.Location(), tt.wantLoc)
			}
		})
	}
}

func TestStore_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := NewMemoryClient()
	store, err := New(Config{Client: client, Scheme: "gs", Bucket: "bucket", Prefix: "runs"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	obj, err := store.Put(ctx, "order/42", strings.NewReader(`{"total":3}`), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"agent": "shop"},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if client.ObjectCount() != 2 {
		t.Errorf("ObjectCount() = %d, want 2", client.ObjectCount())
	}
	attrs, ok := client.Attrs("bucket", "runs/order/42")
	if !ok || attrs.ContentType != "application/json" || attrs.Metadata["agent"] != "shop" {
		t.Errorf("uploaded attrs = %+v, %v", attrs, ok)
	}

	rc, err := store.Get(ctx, "order/42")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != `{"total":3}` {
		t.Errorf("Get() = %s", data)
	}

	stat, err := store.Stat(ctx, "order/42")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if stat.Checksum != obj.Checksum || stat.Size != obj.Size {
		t.Errorf("Stat() = %+v, want %+v", stat, obj)
	}

	if ok, _ := store.Exists(ctx, "order/42"); !ok {
		t.Error("Exists() = false, want true")
	}
	if err := store.Delete(ctx, "order/42"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if client.ObjectCount() != 0 {
		t.Errorf("ObjectCount() after Delete = %d, want 0", client.ObjectCount())
	}
}

func TestStore_NotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := New(Config{Client: NewMemoryClient(), Bucket: "b"})

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Stat(ctx, "missing"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Stat() error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Put(ctx, "a/../../b", strings.NewReader(""), blob.PutOptions{}); !errors.Is(err, blob.ErrInvalidKey) {
		t.Errorf("Put() error = %v, want ErrInvalidKey", err)
	}
}
