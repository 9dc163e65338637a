package hotreload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func waitForEvent(t *testing.T, events <-chan Event, timeout time.Duration) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-events:
		return ev, ok
	case <-time.After(timeout):
		return Event{}, false
	}
}

func TestNewWatcher(t *testing.T) {
	w, err := NewWatcher(nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.False(t, w.IsWatching())
}

func TestWatcher_AddRemove(t *testing.T) {
	w, err := NewWatcher(zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	dir := t.TempDir()
	first := filepath.Join(dir, "gateway.yaml")
	second := filepath.Join(dir, "other.yaml")

	require.NoError(t, w.Add(first))
	require.NoError(t, w.Add(first), "adding twice is a no-op")
	require.NoError(t, w.Add(second))
	assert.Len(t, w.targets, 2)
	assert.Equal(t, 2, w.dirs[dir])

	require.NoError(t, w.Remove(first))
	assert.Equal(t, 1, w.dirs[dir])
	require.NoError(t, w.Remove(second))
	assert.NotContains(t, w.dirs, dir)

	assert.Error(t, w.Remove(first))
}

func TestWatcher_AddMissingDirectory(t *testing.T) {
	w, err := NewWatcher(nil)
	require.NoError(t, err)
	defer w.Stop()

	err = w.Add(filepath.Join(t.TempDir(), "missing", "gateway.yaml"))
	assert.Error(t, err)
}

func TestWatcher_StartStop(t *testing.T) {
	w, err := NewWatcher(nil)
	require.NoError(t, err)

	w.Start()
	assert.True(t, w.IsWatching())
	w.Start()

	w.Stop()
	assert.False(t, w.IsWatching())
	w.Stop()

	_, ok := <-w.Events()
	assert.False(t, ok, "events channel is closed after Stop")
}

func TestWatcher_ReportsWatchedFileOnly(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gateway.yaml")
	writeFile(t, target, "server:\n  port: 8080\n")

	w, err := NewWatcher(nil)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Add(target))
	w.Start()

	writeFile(t, filepath.Join(dir, "unrelated.yaml"), "x: 1\n")
	writeFile(t, filepath.Join(dir, ".gateway.yaml.swp"), "swap")
	writeFile(t, target, "server:\n  port: 8081\n")

	ev, ok := waitForEvent(t, w.Events(), 2*time.Second)
	require.True(t, ok, "expected an event for the watched file")
	abs, _ := filepath.Abs(target)
	assert.Equal(t, abs, ev.Path)
}

func TestWatcher_ReportsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gateway.yaml")
	writeFile(t, target, "a: 1\n")

	w, err := NewWatcher(nil)
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Add(target))
	w.Start()

	staged := filepath.Join(dir, "staged")
	writeFile(t, staged, "a: 2\n")
	require.NoError(t, os.Rename(staged, target))

	ev, ok := waitForEvent(t, w.Events(), 2*time.Second)
	require.True(t, ok, "expected an event after rename onto the watched file")
	abs, _ := filepath.Abs(target)
	assert.Equal(t, abs, ev.Path)
}

func TestShouldSkipEvent(t *testing.T) {
	tests := []struct {
		path string
		skip bool
	}{
		{"/etc/gateway/gateway.yaml", false},
		{"/etc/gateway/gateway.json", false},
		{"/etc/gateway/gateway.yaml.swp", true},
		{"/etc/gateway/gateway.tmp", true},
		{"/etc/gateway/.gateway.yaml", true},
		{"/etc/gateway/~gateway.yaml", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.skip, shouldSkipEvent(tt.path))
		})
	}
}
