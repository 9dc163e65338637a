package hotreload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leslieo2/prononciation-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReloadable struct {
	name   string
	err    error
	mu     sync.Mutex
	levels []string
}

func (r *recordingReloadable) Reload(_ context.Context, cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, cfg.Observability.Logging.Level)
	return r.err
}

func (r *recordingReloadable) Name() string { return r.name }

func (r *recordingReloadable) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.levels...)
}

func loaderWithLevel(level string, loads *atomic.Int32) Loader {
	return func() (*config.Config, error) {
		loads.Add(1)
		cfg := config.DefaultConfig()
		cfg.Observability.Logging.Level = level
		return cfg, nil
	}
}

func TestCoordinator_RegisterUnregister(t *testing.T) {
	c := NewCoordinator(make(chan Event), nil, nil)

	r := &recordingReloadable{name: "logger"}
	require.NoError(t, c.Register(r))
	assert.Error(t, c.Register(r), "duplicate names are rejected")

	c.Unregister("logger")
	assert.Empty(t, c.order)
	c.Unregister("logger")
}

func TestCoordinator_StartStop(t *testing.T) {
	c := NewCoordinator(make(chan Event), nil, nil)

	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	assert.Error(t, c.Start())

	c.Stop()
	assert.False(t, c.IsRunning())
	c.Stop()

	assert.Error(t, c.Start(), "a stopped coordinator cannot be restarted")
}

func TestCoordinator_DebouncesBurst(t *testing.T) {
	events := make(chan Event, 10)
	var loads atomic.Int32
	c := NewCoordinator(events, loaderWithLevel("debug", &loads), nil)
	c.SetDebounceTime(50 * time.Millisecond)

	r := &recordingReloadable{name: "logger"}
	require.NoError(t, c.Register(r))
	require.NoError(t, c.Start())
	defer c.Stop()

	for i := 0; i < 5; i++ {
		events <- Event{Path: "gateway.yaml", Op: fsnotify.Write}
	}

	require.Eventually(t, func() bool { return c.Reloads() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, []string{"debug"}, r.calls())
}

func TestCoordinator_LoadErrorKeepsComponentsUntouched(t *testing.T) {
	events := make(chan Event, 1)
	var attempts atomic.Int32
	load := func() (*config.Config, error) {
		attempts.Add(1)
		return nil, errors.New("invalid yaml")
	}
	c := NewCoordinator(events, load, nil)
	c.SetDebounceTime(10 * time.Millisecond)

	r := &recordingReloadable{name: "logger"}
	require.NoError(t, c.Register(r))
	require.NoError(t, c.Start())
	defer c.Stop()

	events <- Event{Path: "gateway.yaml", Op: fsnotify.Write}

	require.Eventually(t, func() bool { return attempts.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, r.calls())
	assert.Zero(t, c.Reloads())
}

func TestCoordinator_ReloadNow(t *testing.T) {
	var loads atomic.Int32
	c := NewCoordinator(nil, loaderWithLevel("warn", &loads), nil)

	var order []string
	first := ReloadableFunc("first", func(_ context.Context, cfg *config.Config) error {
		order = append(order, "first:"+cfg.Observability.Logging.Level)
		return nil
	})
	second := ReloadableFunc("second", func(_ context.Context, _ *config.Config) error {
		order = append(order, "second")
		return errors.New("boom")
	})
	third := ReloadableFunc("third", func(_ context.Context, _ *config.Config) error {
		order = append(order, "third")
		return nil
	})
	require.NoError(t, c.Register(first))
	require.NoError(t, c.Register(second))
	require.NoError(t, c.Register(third))

	err := c.ReloadNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reload second")
	assert.Equal(t, []string{"first:warn", "second", "third"}, order, "a failing component does not stop the others")
	assert.Equal(t, 1, c.Reloads())
}

func TestCoordinator_ClosedEventsFlushPendingBurst(t *testing.T) {
	events := make(chan Event, 1)
	var loads atomic.Int32
	c := NewCoordinator(events, loaderWithLevel("error", &loads), nil)
	c.SetDebounceTime(20 * time.Millisecond)
	require.NoError(t, c.Start())
	defer c.Stop()

	events <- Event{Path: "gateway.yaml", Op: fsnotify.Create}
	close(events)

	require.Eventually(t, func() bool { return loads.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}
