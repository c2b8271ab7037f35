package blob

import (
	"errors"
	"testing"
)

func TestValidateKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key     string
		wantErr bool
	}{
		{"report", false},
		{"runs/2026/report.json", false},
		{"", true},
		{"   ", true},
		{"/etc/passwd", true},
		{"../escape", true},
		{"a/../../escape", true},
		{"a//b", true},
		{"a\\b", true},
		{"..", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()

			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ValidateKey(%q) error = %v, want ErrInvalidKey", tt.key, err)
			}
		})
	}
}

func TestNewObject(t *testing.T) {
	t.Parallel()

	meta := map[string]string{"agent": "writer"}
	obj := NewObject("k", []byte("hello"), PutOptions{ContentType: "text/plain", Metadata: meta})
	meta["agent"] = "changed"

	if obj.Size != 5 {
		t.Errorf("Size = %d, want 5", obj.Size)
	}
	if obj.Checksum != "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("Checksum = %s", obj.Checksum)
	}
	if obj.Metadata["agent"] != "writer" {
		t.Errorf("Metadata shares the caller's map")
	}
}
