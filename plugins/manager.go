package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/types"
)

// ErrInvalidPlugin is returned for nil plugins or plugins without a name.
var ErrInvalidPlugin = errors.New("invalid plugin")

// Manager is the plugin registry and hook dispatcher. It is safe for
// concurrent use; hooks are invoked outside the registry lock.
type Manager struct {
	plugins map[string]*PluginInfo
	order   []string
	mu      sync.RWMutex
	bus     *events.Bus
	logger  *zap.Logger

	observer func(hook Hook, elapsed time.Duration)
}

// ObserveHooks installs fn to receive the wall time of every ExecuteHook
// call. Passing nil removes it.
func (m *Manager) ObserveHooks(fn func(hook Hook, elapsed time.Duration)) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// NewManager creates an empty manager. bus may be nil.
func NewManager(bus *events.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Manager{
		plugins: make(map[string]*PluginInfo),
		bus:     bus,
		logger:  logger.With(zap.String("component", "plugin_manager")),
	}
}

// RegisterPlugin initializes and stores p. Registering a name that is
// already present is a logged no-op. If Initialize fails the plugin is not
// stored and a PLUGIN_INIT_FAILED error is returned.
func (m *Manager) RegisterPlugin(ctx context.Context, p Plugin, opts map[string]any) error {
	if p == nil {
		return fmt.Errorf("%w: plugin must not be nil", ErrInvalidPlugin)
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("%w: plugin name must not be empty", ErrInvalidPlugin)
	}

	m.mu.Lock()
	if _, exists := m.plugins[name]; exists {
		m.mu.Unlock()
		m.logger.Warn("plugin already registered, skipping", zap.String("name", name))
		return nil
	}
	info := newPluginInfo(p)
	m.plugins[name] = info
	m.mu.Unlock()

	if init, ok := p.(Initializer); ok {
		if err := init.Initialize(ctx, opts); err != nil {
			m.mu.Lock()
			info.State = PluginStateFailed
			delete(m.plugins, name)
			m.mu.Unlock()

			m.logger.Error("plugin initialize failed",
				zap.String("name", name),
				zap.Error(err))
			return types.WrapError(types.ErrPluginInit,
				fmt.Sprintf("Failed to initialize plugin '%s'", name), err)
		}
	}

	m.mu.Lock()
	info.State = PluginStateActive
	info.RegisteredAt = time.Now()
	m.order = append(m.order, name)
	m.mu.Unlock()

	m.logger.Debug("plugin registered",
		zap.String("name", name),
		zap.String("version", info.Version))

	if _, err := m.bus.EmitAsync(ctx, events.PluginRegistered, &events.PluginEvent{
		Name:    name,
		Version: info.Version,
		Options: opts,
	}); err != nil {
		m.logger.Warn("plugin registered listener failed", zap.Error(err))
	}
	return nil
}

// UnregisterPlugin runs the plugin's Cleanup and removes it. It returns
// false when no active plugin has that name. Cleanup errors are logged only.
func (m *Manager) UnregisterPlugin(ctx context.Context, name string) bool {
	m.mu.Lock()
	info, exists := m.plugins[name]
	if !exists || info.State != PluginStateActive {
		m.mu.Unlock()
		return false
	}
	info.State = PluginStateCleaningUp
	m.mu.Unlock()

	if c, ok := info.Plugin.(Cleaner); ok {
		if err := c.Cleanup(ctx); err != nil {
			m.logger.Error("plugin cleanup failed",
				zap.String("name", name),
				zap.Error(err))
		}
	}

	m.mu.Lock()
	delete(m.plugins, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	info.State = PluginStateUnregistered
	m.mu.Unlock()

	m.logger.Debug("plugin unregistered", zap.String("name", name))

	if _, err := m.bus.EmitAsync(ctx, events.PluginUnregistered, &events.PluginEvent{
		Name:    name,
		Version: info.Version,
	}); err != nil {
		m.logger.Warn("plugin unregistered listener failed", zap.Error(err))
	}
	return true
}

// GetPlugin returns the active plugin registered under name.
func (m *Manager) GetPlugin(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.plugins[name]
	if !ok || info.State != PluginStateActive {
		return nil, false
	}
	return info.Plugin, true
}

// GetAllPlugins returns the active plugins in registration order.
func (m *Manager) GetAllPlugins() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Plugin, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.plugins[name].Plugin)
	}
	return out
}

// List returns a snapshot of the active plugins' info in registration order.
func (m *Manager) List() []PluginInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PluginInfo, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.plugins[name])
	}
	return out
}

// ClearAllPlugins unregisters every plugin, one at a time, in registration order.
func (m *Manager) ClearAllPlugins(ctx context.Context) {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		m.UnregisterPlugin(ctx, name)
	}
}

// Bus returns the event bus the manager reports on.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

func (m *Manager) snapshot() []*PluginInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PluginInfo, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.plugins[name])
	}
	return out
}
