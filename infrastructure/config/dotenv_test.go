package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDotEnv(t *testing.T) {
	t.Parallel()

	src := `
# credentials
APL_TOKEN=abc123
export REGION = eu-west-1
QUOTED="line\nbreak"
SINGLE='keep $raw'
INLINE=value # trailing comment
EMPTY=
ENDPOINT=https://${REGION}.example.org
`
	got, err := ParseDotEnv(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseDotEnv() error = %v", err)
	}
	want := map[string]string{
		"APL_TOKEN": "abc123",
		"REGION":    "eu-west-1",
		"QUOTED":    "line\nbreak",
		"SINGLE":    "keep $raw",
		"INLINE":    "value",
		"EMPTY":     "",
		"ENDPOINT":  "https://eu-west-1.example.org",
	}
	if len(got) != len(want) {
		t.Fatalf("ParseDotEnv() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestParseDotEnv_Errors(t *testing.T) {
	t.Parallel()

	for _, src := range []string{"BAD-KEY=1", `Q="unterminated`, "OK=1\nQ='open"} {
		if _, err := ParseDotEnv(strings.NewReader(src)); err == nil {
			t.Errorf("ParseDotEnv(%q) error = nil", src)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	got, err := LoadDotEnv(filepath.Join(dir, "missing.env"))
	if err != nil || len(got) != 0 {
		t.Errorf("LoadDotEnv(missing) = %v, %v, want empty", got, err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("A=1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadDotEnv(path)
	if err != nil || got["A"] != "1" {
		t.Errorf("LoadDotEnv() = %v, %v", got, err)
	}
}
