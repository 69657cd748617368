package browser

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/types"
)

var tracer = otel.Tracer("github.com/BaSui01/browserflow/browser")

// InstanceInfo describes a live browser instance.
type InstanceInfo struct {
	ID         string    `json:"id"`
	Headless   bool      `json:"headless"`
	Pages      int       `json:"pages"`
	LaunchedAt time.Time `json:"launched_at"`
}

// Manager creates, reuses and closes named browser instances. Every
// browser and page it hands out is wrapped so that lifecycle transitions
// run through the plugin hooks and the event bus.
type Manager struct {
	launcher  types.Launcher
	plugins   *plugins.Manager
	bus       *events.Bus
	logger    *zap.Logger
	instances map[string]*ManagedBrowser
	mu        sync.RWMutex
	group     singleflight.Group
}

// NewManager creates a Manager. Events go to the plugin manager's bus.
func NewManager(launcher types.Launcher, pm *plugins.Manager, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pm == nil {
		pm = plugins.NewManager(nil, logger)
	}
	return &Manager{
		launcher:  launcher,
		plugins:   pm,
		bus:       pm.Bus(),
		logger:    logger.With(zap.String("component", "browser_manager")),
		instances: make(map[string]*ManagedBrowser),
	}
}

// GetBrowser returns the instance keyed by opts.InstanceID ("default" when
// empty), launching it on first use. Concurrent first calls for the same
// key share a single launch.
func (m *Manager) GetBrowser(ctx context.Context, opts types.LaunchOptions) (*ManagedBrowser, error) {
	id := opts.ResolvedInstanceID()

	if b, ok := m.Get(id); ok {
		return b, nil
	}

	v, err, shared := m.group.Do(id, func() (any, error) {
		if b, ok := m.Get(id); ok {
			return b, nil
		}
		return m.launch(ctx, id, opts.Clone())
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("browser launch shared", zap.String("instance_id", id))
	}
	return v.(*ManagedBrowser), nil
}

func (m *Manager) launch(ctx context.Context, id string, opts types.LaunchOptions) (*ManagedBrowser, error) {
	ctx, span := tracer.Start(ctx, "browser.launch")
	defer span.End()
	span.SetAttributes(
		attribute.String("instance_id", id),
		attribute.Bool("headless", opts.Headless),
	)

	opts.InstanceID = id
	pc := &plugins.Context{Options: &opts}
	m.plugins.ExecuteHook(ctx, plugins.HookBeforeBrowserLaunch, pc, plugins.HookArgs{LaunchOptions: &opts})

	if opts.Debug {
		m.logger.Debug("starting browser",
			zap.String("instance_id", id),
			zap.String("user_data_dir", opts.UserDataDir))
	}

	raw, err := m.launcher.Launch(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error("browser launch failed",
			zap.String("instance_id", id),
			zap.Error(err))

		m.emit(ctx, events.BrowserError, &events.BrowserEvent{InstanceID: id, Options: &opts, Err: err})
		m.plugins.ExecuteErrorHook(ctx, err, pc)
		return nil, types.WrapError(types.ErrLaunchFailed, "Failed to launch browser", err)
	}

	b := newManagedBrowser(id, raw, opts, m)

	m.mu.Lock()
	m.instances[id] = b
	m.mu.Unlock()

	m.logger.Info("browser launched",
		zap.String("instance_id", id),
		zap.Bool("headless", opts.Headless))

	m.emit(ctx, events.BrowserCreated, &events.BrowserEvent{InstanceID: id, Browser: b, Options: &opts})
	pc.Browser = b
	m.plugins.ExecuteHook(ctx, plugins.HookAfterBrowserLaunch, pc, plugins.HookArgs{Browser: b})

	go m.watchDisconnect(b)
	return b, nil
}

// watchDisconnect notifies and evicts b once its connection goes away,
// whether it was closed through the manager or crashed.
func (m *Manager) watchDisconnect(b *ManagedBrowser) {
	<-b.raw.Disconnected()
	if b.opts.Debug {
		m.logger.Debug("browser disconnected", zap.String("instance_id", b.id))
	}
	b.notifyClosed(context.Background())
	m.evict(b)
}

func (m *Manager) evict(b *ManagedBrowser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.instances[b.id]; ok && cur == b {
		delete(m.instances, b.id)
	}
}

// Get returns a live instance without launching.
func (m *Manager) Get(id string) (*ManagedBrowser, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.instances[id]
	return b, ok
}

// CloseBrowser closes the instance with the given id ("default" when
// empty). Closing an unknown id is a no-op.
func (m *Manager) CloseBrowser(ctx context.Context, id string) error {
	if id == "" {
		id = types.DefaultInstanceID
	}
	b, ok := m.Get(id)
	if !ok {
		return nil
	}
	return m.closeManaged(ctx, b)
}

func (m *Manager) closeManaged(ctx context.Context, b *ManagedBrowser) error {
	b.notifyClosed(ctx)
	err := b.raw.Close(ctx)
	m.evict(b)
	if err != nil {
		m.logger.Warn("browser close failed",
			zap.String("instance_id", b.id),
			zap.Error(err))
		return types.WrapError(types.ErrCleanupFailed, "Failed to close browser "+b.id, err)
	}
	m.logger.Info("browser closed", zap.String("instance_id", b.id))
	return nil
}

// CloseAllBrowsers closes every live instance and returns the joined close errors.
func (m *Manager) CloseAllBrowsers(ctx context.Context) error {
	m.mu.RLock()
	all := make([]*ManagedBrowser, 0, len(m.instances))
	for _, b := range m.instances {
		all = append(all, b)
	}
	m.mu.RUnlock()

	var errs []error
	for _, b := range all {
		if err := m.closeManaged(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Instances describes the live instances sorted by id.
func (m *Manager) Instances() []InstanceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]InstanceInfo, 0, len(m.instances))
	for _, b := range m.instances {
		out = append(out, b.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live instances.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// Plugins returns the plugin manager hooks are dispatched through.
func (m *Manager) Plugins() *plugins.Manager {
	return m.plugins
}

func (m *Manager) emit(ctx context.Context, name events.Name, payload any) {
	if _, err := m.bus.EmitAsync(ctx, name, payload); err != nil {
		m.logger.Warn("event listener failed",
			zap.String("event", string(name)),
			zap.Error(err))
	}
}
