package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcherImportsNewCSV(t *testing.T) {
	dir := t.TempDir()
	imported := make(chan string, 4)

	w, err := NewWatcher(dir, func(path string) error {
		imported <- path
		return nil
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,alice\n"), 0o644))

	select {
	case got := <-imported:
		assert.Equal(t, path, got)
	case <-time.After(3 * time.Second):
		t.Fatal("csv file was not imported")
	}
}

func TestWatcherIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	imported := make(chan string, 4)

	w, err := NewWatcher(dir, func(path string) error {
		imported <- path
		return nil
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))

	select {
	case got := <-imported:
		t.Fatalf("unexpected import of %s", got)
	case <-time.After(time.Second):
	}
}

func TestWatcherDebouncesChunkedWrites(t *testing.T) {
	dir := t.TempDir()
	imported := make(chan string, 4)

	w, err := NewWatcher(dir, func(path string) error {
		imported <- path
		return nil
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	path := filepath.Join(dir, "chunked.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.WriteString("a,b\n")
		require.NoError(t, err)
		require.NoError(t, f.Sync())
		time.Sleep(100 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	// All writes fall inside one debounce window.
	select {
	case <-imported:
	case <-time.After(3 * time.Second):
		t.Fatal("csv file was not imported")
	}

	select {
	case got := <-imported:
		t.Fatalf("file imported more than once: %s", got)
	case <-time.After(time.Second):
	}
}

func TestWatcherUnknownDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent"), func(string) error { return nil }, zap.NewNop())
	assert.Error(t, err)
}
