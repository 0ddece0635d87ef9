package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func TestDirWatcherReloadsDirectory(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDirWatcher(50*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Stop()

	var calls atomic.Int32
	require.NoError(t, w.Watch("templates", dir, func() error {
		calls.Add(1)
		return nil
	}))
	w.Start()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.yaml"), []byte("name: a\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.yaml"), []byte("name: b\n"), 0644))

	assert.True(t, waitFor(t, func() bool { return calls.Load() >= 1 }), "expected a reload")

	// Files with other extensions are ignored.
	before := calls.Load()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, calls.Load())
}

func TestDirWatcherReloadsNestedFiles(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "quality")
	require.NoError(t, os.Mkdir(nested, 0755))

	w, err := NewDirWatcher(30*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Stop()

	var calls atomic.Int32
	require.NoError(t, w.Watch("components", dir, func() error {
		calls.Add(1)
		return nil
	}))
	w.Start()

	require.NoError(t, os.WriteFile(filepath.Join(nested, "lint.yaml"), []byte("name: lint\n"), 0644))
	require.True(t, waitFor(t, func() bool { return calls.Load() >= 1 }), "expected a reload for an existing subdirectory")

	// A directory created after Watch is picked up too.
	later := filepath.Join(dir, "security")
	require.NoError(t, os.Mkdir(later, 0755))
	require.True(t, waitFor(t, func() bool { return calls.Load() >= 2 }), "expected a reload for the new directory")

	before := calls.Load()
	require.NoError(t, os.WriteFile(filepath.Join(later, "scan.yaml"), []byte("name: scan\n"), 0644))
	assert.True(t, waitFor(t, func() bool { return calls.Load() > before }), "expected a reload for a file in the new directory")
}

func TestDirWatcherSingleFile(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte("tools: []\n"), 0644))

	w, err := NewDirWatcher(30*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Stop()

	var calls atomic.Int32
	require.NoError(t, w.Watch("tools", catalog, func() error {
		calls.Add(1)
		return errors.New("reload rejected")
	}))
	w.Start()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "sibling files must not trigger the target")

	require.NoError(t, os.WriteFile(catalog, []byte("tools: [{name: x}]\n"), 0644))
	assert.True(t, waitFor(t, func() bool { return calls.Load() >= 1 }), "expected a reload attempt")
}

func TestDirWatcherMissingPath(t *testing.T) {
	w, err := NewDirWatcher(0, nil)
	require.NoError(t, err)
	defer w.Stop()

	err = w.Watch("components", filepath.Join(t.TempDir(), "missing"), func() error { return nil })
	assert.Error(t, err)
}

func TestDirWatcherStopIsIdempotent(t *testing.T) {
	w, err := NewDirWatcher(0, nil)
	require.NoError(t, err)
	w.Start()
	require.NoError(t, w.Stop())
	assert.NotPanics(t, func() { _ = w.Stop() })
}
