package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReportsWatchedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	watched := filepath.Join(dir, "agent.apl")
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(watched, []byte("agent a:\nend\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher([]string{watched}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changed := make(chan string, 4)
	go func() { _ = w.Run(ctx, func(p string) { changed <- p }) }()

	// Give the watcher time to start receiving.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(other, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(watched, []byte("agent b:\nend\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	want, _ := filepath.Abs(watched)
	select {
	case got := <-changed:
		if got != want {
			t.Errorf("changed = %s, want %s", got, want)
		}
	case <-ctx.Done():
		t.Fatal("no change reported")
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "apl.yaml")
	w, err := NewWatcher([]string{path}, 0)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx, func(string) {}); err != context.Canceled {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
