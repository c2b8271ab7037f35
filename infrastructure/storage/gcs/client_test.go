package gcs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	gcs "cloud.google.com/go/storage"

	"github.com/felixgeelhaar/apl/infrastructure/storage/objectstore"
)

func TestNewStore_RequiresBucket(t *testing.T) {
	t.Parallel()

	if _, err := NewStore(context.Background(), Config{}); err == nil {
		t.Error("NewStore() without bucket succeeded, want error")
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		err          error
		wantNotFound bool
	}{
		{name: "nil", err: nil},
		{name: "object missing", err: gcs.ErrObjectNotExist, wantNotFound: true},
		{name: "bucket missing", err: fmt.Errorf("read: %w", gcs.ErrBucketNotExist), wantNotFound: true},
		{name: "other", err: errors.New("permission denied")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := mapError(tt.err)
			if errors.Is(got, objectstore.ErrObjectNotFound) != tt.wantNotFound {
				t.Errorf("mapError(%v) = %v, wantNotFound %v", tt.err, got, tt.wantNotFound)
			}
			if tt.err == nil && got != nil {
				t.Errorf("mapError(nil) = %v, want nil", got)
			}
		})
	}
}
