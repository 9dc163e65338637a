package hotreload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leslieo2/prononciation-gateway/internal/config"
	"go.uber.org/zap"
)

// Reloadable is a component that re-applies settings from a freshly loaded
// configuration.
type Reloadable interface {
	Reload(ctx context.Context, cfg *config.Config) error
	Name() string
}

// Loader produces the configuration to apply after a change.
type Loader func() (*config.Config, error)

type reloadableFunc struct {
	name string
	fn   func(ctx context.Context, cfg *config.Config) error
}

func (r reloadableFunc) Reload(ctx context.Context, cfg *config.Config) error { return r.fn(ctx, cfg) }
func (r reloadableFunc) Name() string                                         { return r.name }

// ReloadableFunc adapts a function into a Reloadable.
func ReloadableFunc(name string, fn func(ctx context.Context, cfg *config.Config) error) Reloadable {
	return reloadableFunc{name: name, fn: fn}
}

// Coordinator debounces change events, loads the configuration once per
// burst and hands it to every registered component.
type Coordinator struct {
	events       <-chan Event
	load         Loader
	logger       *zap.Logger
	reloadables  map[string]Reloadable
	order        []string
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	debounceTime time.Duration
	wg           sync.WaitGroup
	isRunning    bool
	reloads      int
}

// NewCoordinator creates a coordinator reading from events.
func NewCoordinator(events <-chan Event, load Loader, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		events:       events,
		load:         load,
		logger:       logger,
		reloadables:  make(map[string]Reloadable),
		ctx:          ctx,
		cancel:       cancel,
		debounceTime: 500 * time.Millisecond,
	}
}

// Register adds a reloadable component. Components are reloaded in
// registration order.
func (c *Coordinator) Register(reloadable Reloadable) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := reloadable.Name()
	if _, exists := c.reloadables[name]; exists {
		return fmt.Errorf("reloadable %s already registered", name)
	}

	c.reloadables[name] = reloadable
	c.order = append(c.order, name)
	c.logger.Debug("Registered reloadable component", zap.String("name", name))
	return nil
}

// Unregister removes a reloadable component.
func (c *Coordinator) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.reloadables[name]; !ok {
		return
	}
	delete(c.reloadables, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.logger.Debug("Unregistered reloadable component", zap.String("name", name))
}

// Start begins consuming events.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return fmt.Errorf("coordinator already running")
	}
	if c.ctx.Err() != nil {
		return fmt.Errorf("coordinator already stopped")
	}
	c.isRunning = true

	c.wg.Add(1)
	go c.coordinateReloads(c.debounceTime)
	return nil
}

// Stop stops event processing. Pending debounced events are dropped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) coordinateReloads(debounce time.Duration) {
	defer c.wg.Done()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending []Event
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	events := c.events
	for {
		select {
		case <-c.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				// Keep waiting so a pending burst still gets applied.
				events = nil
				if len(pending) == 0 {
					return
				}
				continue
			}
			pending = append(pending, event)
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			c.triggerReload(pending)
			pending = pending[:0]
			timer = nil
			fire = nil
			if events == nil {
				return
			}
		}
	}
}

// ReloadNow loads the configuration and applies it immediately.
func (c *Coordinator) ReloadNow(ctx context.Context) error {
	return c.apply(ctx)
}

func (c *Coordinator) triggerReload(events []Event) {
	for _, event := range events {
		c.logger.Debug("Reload triggered by",
			zap.String("path", event.Path),
			zap.String("operation", event.Op.String()))
	}

	if err := c.apply(c.ctx); err != nil {
		c.logger.Error("Hot reload failed, keeping previous settings",
			zap.Int("events", len(events)), zap.Error(err))
		return
	}
	c.logger.Info("Hot reload completed", zap.Int("events", len(events)))
}

func (c *Coordinator) apply(ctx context.Context) error {
	cfg, err := c.load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	c.mu.RLock()
	reloadables := make([]Reloadable, 0, len(c.order))
	for _, name := range c.order {
		reloadables = append(reloadables, c.reloadables[name])
	}
	c.mu.RUnlock()

	var errs []error
	for _, r := range reloadables {
		if err := r.Reload(ctx, cfg); err != nil {
			errs = append(errs, fmt.Errorf("failed to reload %s: %w", r.Name(), err))
			continue
		}
		c.logger.Debug("Reloaded component", zap.String("name", r.Name()))
	}

	c.mu.Lock()
	c.reloads++
	c.mu.Unlock()

	return errors.Join(errs...)
}

// SetDebounceTime sets the debounce window. It takes effect on the next
// Start.
func (c *Coordinator) SetDebounceTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debounceTime = d
}

// IsRunning returns whether the coordinator is currently running.
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// Reloads returns how many times a loaded configuration was applied.
func (c *Coordinator) Reloads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reloads
}
