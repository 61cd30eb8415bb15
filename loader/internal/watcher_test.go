package internal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case path := <-ch:
		return path
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watcher")
		return ""
	}
}

func TestWatcher_EmitsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	existing := writeFile(t, dir, "a.json", "{}")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	files := make(chan string)
	done := make(chan error, 1)
	w := NewWatcher(dir, ".json", 50*time.Millisecond, nil)
	go func() { done <- w.Watch(ctx, files) }()

	assert.Equal(t, existing, receive(t, files))

	writeFile(t, dir, "ignored.txt", "x")
	writeFile(t, dir, ".hidden.json", "{}")
	created := writeFile(t, dir, "b.json", "{}")
	assert.Equal(t, created, receive(t, files))

	select {
	case path := <-files:
		t.Fatalf("unexpected file %s", path)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_MissingDir(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), ".json", time.Second, nil)
	err := w.Watch(context.Background(), make(chan string))
	assert.Error(t, err)
}

func TestWatcher_Tick(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, (&Watcher{stableAfter: 0}).tick())
	assert.Equal(t, time.Second, (&Watcher{stableAfter: 4 * time.Second}).tick())
}
