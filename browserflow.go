// Package browserflow is the application root: it owns the event bus, the
// plugin registry, the browser manager and the navigator, and registers the
// built-in plugins that the configuration enables.
//
// Usage:
//
//	cfg, _ := config.NewLoader().WithConfigPath("browserflow.yaml").Load()
//	app, err := browserflow.New(ctx, cfg, logger)
//	defer app.Close(ctx)
//	res, err := app.Fetch(ctx, "https://example.com", browserflow.FetchOptions{})
package browserflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/browser"
	"github.com/BaSui01/browserflow/config"
	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/navigation"
	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/plugins/builtin"
	"github.com/BaSui01/browserflow/session"
	"github.com/BaSui01/browserflow/types"
)

// ErrClosed is returned by operations on a closed App.
var ErrClosed = errors.New("browserflow: app is closed")

// App wires the lifecycle components together. It holds no package-level
// state; several Apps can coexist in one process.
type App struct {
	logger    *zap.Logger
	bus       *events.Bus
	plugins   *plugins.Manager
	browsers  *browser.Manager
	navigator *navigation.Navigator
	store     session.Store
	ownsStore bool

	mu     sync.RWMutex
	launch types.LaunchOptions
	nav    types.NavigationOptions
	sess   session.Options

	observeNavigation func(success bool, elapsed time.Duration)
	closed            atomic.Bool
}

// Option configures New.
type Option func(*appOptions)

type appOptions struct {
	launcher          types.Launcher
	store             session.Store
	bus               *events.Bus
	skipBuiltins      bool
	observeNavigation func(bool, time.Duration)
}

// WithLauncher replaces the chromedp launcher, e.g. with a fake in tests.
func WithLauncher(l types.Launcher) Option {
	return func(o *appOptions) { o.launcher = l }
}

// WithSessionStore uses s instead of building one from the configuration.
// The App does not close a store it did not create.
func WithSessionStore(s session.Store) Option {
	return func(o *appOptions) { o.store = s }
}

// WithBus uses an existing bus.
func WithBus(bus *events.Bus) Option {
	return func(o *appOptions) { o.bus = bus }
}

// WithoutBuiltinPlugins skips registering the session, proxy and captcha
// plugins.
func WithoutBuiltinPlugins() Option {
	return func(o *appOptions) { o.skipBuiltins = true }
}

// WithNavigationObserver receives the outcome and wall time of every Fetch
// navigation, retries included.
func WithNavigationObserver(fn func(success bool, elapsed time.Duration)) Option {
	return func(o *appOptions) { o.observeNavigation = fn }
}

// New builds an App from cfg. A nil cfg means config.DefaultConfig().
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	bus := o.bus
	if bus == nil {
		bus = events.NewBus(logger, events.WithMaxListeners(cfg.Events.MaxListeners))
	}
	if o.launcher == nil {
		o.launcher = browser.NewChromeLauncher(logger)
	}

	pm := plugins.NewManager(bus, logger)
	a := &App{
		logger:            logger.With(zap.String("component", "app")),
		bus:               bus,
		plugins:           pm,
		browsers:          browser.NewManager(o.launcher, pm, logger),
		navigator:         navigation.NewNavigator(pm, logger),
		launch:            cfg.Browser.LaunchOptions(),
		nav:               cfg.Navigation.Options(),
		sess:              cfg.Session.Options(),
		observeNavigation: o.observeNavigation,
	}

	a.store = o.store
	if a.store == nil && cfg.Session.Enabled {
		store, err := session.NewStore(ctx, cfg.Session.StoreConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("create session store: %w", err)
		}
		a.store = store
		a.ownsStore = true
	}

	if !o.skipBuiltins {
		if err := a.registerBuiltins(ctx, cfg); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}

	a.logger.Info("browserflow initialized",
		zap.Int("plugins", len(pm.List())),
		zap.Bool("session_store", a.store != nil))
	return a, nil
}

func (a *App) registerBuiltins(ctx context.Context, cfg *config.Config) error {
	if cfg.Session.Enabled && a.store != nil {
		p := builtin.NewSessionPlugin(ctx, cfg.Session.PluginOptions(), a.logger,
			session.WithStore(a.store), session.WithBus(a.bus))
		if err := a.plugins.RegisterPlugin(ctx, p, nil); err != nil {
			return err
		}
	}

	if cfg.Proxy.Enabled {
		popts, err := cfg.Proxy.PluginOptions()
		if err != nil {
			return err
		}
		p, err := builtin.NewProxyPlugin(popts, a.logger)
		if err != nil {
			return err
		}
		if err := a.plugins.RegisterPlugin(ctx, p, nil); err != nil {
			return err
		}
	}

	if cfg.Captcha.Enabled {
		p, err := builtin.NewCaptchaPlugin(cfg.Captcha.HelperConfig(), a.bus, a.logger)
		if err != nil {
			return err
		}
		if err := a.plugins.RegisterPlugin(ctx, p, nil); err != nil {
			return err
		}
	}
	return nil
}

// Use registers p with opts passed to its Initialize.
func (a *App) Use(ctx context.Context, p plugins.Plugin, opts map[string]any) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.plugins.RegisterPlugin(ctx, p, opts)
}

// Bus returns the event bus.
func (a *App) Bus() *events.Bus { return a.bus }

// Plugins returns the plugin registry.
func (a *App) Plugins() *plugins.Manager { return a.plugins }

// Browsers returns the browser lifecycle manager.
func (a *App) Browsers() *browser.Manager { return a.browsers }

// Navigator returns the navigation controller.
func (a *App) Navigator() *navigation.Navigator { return a.navigator }

// SessionStore returns the session store, or nil when sessions are disabled.
func (a *App) SessionStore() session.Store { return a.store }

// NavigationDefaults returns the options Fetch starts from.
func (a *App) NavigationDefaults() types.NavigationOptions {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nav.WithDefaults()
}

// LaunchDefaults returns the options used for browsers Fetch launches.
func (a *App) LaunchDefaults() types.LaunchOptions {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.launch.Clone()
}

// ApplyConfig applies the hot-reloadable parts of cfg: navigation defaults,
// the listener warning threshold, the captcha auto-handling switches and
// the proxy rotation flags. Launch options only affect later launches.
func (a *App) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	if a.closed.Load() {
		return ErrClosed
	}
	a.mu.Lock()
	a.nav = cfg.Navigation.Options()
	a.launch = cfg.Browser.LaunchOptions()
	a.mu.Unlock()

	a.bus.SetMaxListeners(cfg.Events.MaxListeners)

	var errs []error
	if p, ok := a.plugins.GetPlugin(builtin.CaptchaPluginName); ok && cfg.Captcha.Enabled {
		errs = append(errs, p.(plugins.Initializer).Initialize(ctx, map[string]any{
			"auto_detect": cfg.Captcha.AutoDetect,
			"auto_solve":  cfg.Captcha.AutoSolve,
			"ignore_urls": cfg.Captcha.IgnoreURLs,
		}))
	}
	if p, ok := a.plugins.GetPlugin(builtin.ProxyPluginName); ok && cfg.Proxy.Enabled {
		errs = append(errs, p.(plugins.Initializer).Initialize(ctx, map[string]any{
			"rotate_on_navigation": cfg.Proxy.RotateOnNavigation,
			"rotate_on_error":      cfg.Proxy.RotateOnError,
		}))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("apply plugin config: %w", err)
	}
	a.logger.Info("configuration applied")
	return nil
}

// Close closes every browser, cleans up all plugins and closes the
// session store when the App created it. Later calls are no-ops.
func (a *App) Close(ctx context.Context) error {
	if a.closed.Swap(true) {
		return nil
	}
	var errs []error
	if err := a.browsers.CloseAllBrowsers(ctx); err != nil {
		errs = append(errs, err)
	}
	a.plugins.ClearAllPlugins(ctx)
	if a.ownsStore && a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
	}
	a.logger.Info("browserflow closed")
	return errors.Join(errs...)
}
