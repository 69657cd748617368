package builtin

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/session"
	"github.com/BaSui01/browserflow/types"
)

const (
	SessionPluginName    = "session-plugin"
	SessionPluginVersion = "1.0.0"
)

// SessionPluginOptions extends session.Options with the navigation toggles.
type SessionPluginOptions struct {
	session.Options
	ExtractAfterNavigation bool `json:"extract_after_navigation" yaml:"extract_after_navigation"`
	ApplyBeforeNavigation  bool `json:"apply_before_navigation" yaml:"apply_before_navigation"`
}

// DefaultSessionPluginOptions enables both navigation toggles.
func DefaultSessionPluginOptions() SessionPluginOptions {
	return SessionPluginOptions{
		Options:                session.DefaultOptions(),
		ExtractAfterNavigation: true,
		ApplyBeforeNavigation:  true,
	}
}

// SessionPlugin keeps pages in sync with a session.Manager.
type SessionPlugin struct {
	logger   *zap.Logger
	sessOpts []session.Option

	mu      sync.RWMutex
	opts    SessionPluginOptions
	manager *session.Manager
}

var (
	_ plugins.Initializer          = (*SessionPlugin)(nil)
	_ plugins.PageCreatedHook      = (*SessionPlugin)(nil)
	_ plugins.BeforeNavigationHook = (*SessionPlugin)(nil)
	_ plugins.AfterNavigationHook  = (*SessionPlugin)(nil)
	_ plugins.BeforePageCloseHook  = (*SessionPlugin)(nil)
	_ plugins.Cleaner              = (*SessionPlugin)(nil)
)

// NewSessionPlugin loads the session named by opts. sessOpts (store, bus,
// logger) are reused whenever Initialize rebuilds the manager.
func NewSessionPlugin(ctx context.Context, opts SessionPluginOptions, logger *zap.Logger, sessOpts ...session.Option) *SessionPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = session.DefaultName
	}
	p := &SessionPlugin{
		logger:   logger.With(zap.String("component", "plugin"), zap.String("plugin", SessionPluginName)),
		sessOpts: append([]session.Option{session.WithLogger(logger)}, sessOpts...),
		opts:     opts,
	}
	p.manager = session.NewManager(ctx, opts.Options, p.sessOpts...)
	return p
}

func (p *SessionPlugin) Name() string    { return SessionPluginName }
func (p *SessionPlugin) Version() string { return SessionPluginVersion }

// Initialize overlays opts and, when any were given, rebuilds the manager.
func (p *SessionPlugin) Initialize(ctx context.Context, opts map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(opts) > 0 {
		next := p.opts
		next.Domains = append([]string(nil), p.opts.Domains...)
		if err := mergeOptions(&next, opts); err != nil {
			return err
		}
		p.opts = next
		p.manager = session.NewManager(ctx, next.Options, p.sessOpts...)
	}
	p.logger.Debug("session plugin initialized", zap.String("session", p.opts.Name))
	return nil
}

// SessionManager returns the current manager.
func (p *SessionPlugin) SessionManager() *session.Manager {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.manager
}

// Options returns the current options.
func (p *SessionPlugin) Options() SessionPluginOptions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

// applyIfPresent applies the session when it holds cookies or localStorage.
func (p *SessionPlugin) applyIfPresent(ctx context.Context, page types.Page) error {
	m := p.SessionManager()
	data := m.GetSessionData()
	if len(data.Cookies) == 0 && len(data.Storage.LocalStorage) == 0 {
		return nil
	}
	return m.ApplySession(ctx, page)
}

func (p *SessionPlugin) OnPageCreated(ctx context.Context, page types.Page, _ *plugins.Context) error {
	p.logger.Debug("applying session data to new page")
	return p.applyIfPresent(ctx, page)
}

func (p *SessionPlugin) OnBeforeNavigation(ctx context.Context, page types.Page, url string, _ *types.NavigationOptions, _ *plugins.Context) error {
	if !p.Options().ApplyBeforeNavigation {
		return nil
	}
	p.logger.Debug("applying session data before navigation", zap.String("url", url))
	return p.applyIfPresent(ctx, page)
}

func (p *SessionPlugin) OnAfterNavigation(ctx context.Context, page types.Page, url string, success bool, _ *plugins.Context) error {
	if !success || !p.Options().ExtractAfterNavigation {
		return nil
	}
	p.logger.Debug("extracting session data after navigation", zap.String("url", url))
	return p.SessionManager().ExtractSession(ctx, page)
}

// OnBeforePageClose saves the page state before it goes away.
func (p *SessionPlugin) OnBeforePageClose(ctx context.Context, page types.Page, _ *plugins.Context) error {
	p.logger.Debug("saving session data before page close")
	return p.SessionManager().ExtractSession(ctx, page)
}

func (p *SessionPlugin) Cleanup(context.Context) error {
	p.logger.Debug("session plugin cleanup complete")
	return nil
}

// ClearSession empties the current session.
func (p *SessionPlugin) ClearSession(ctx context.Context) error {
	return p.SessionManager().ClearSession(ctx)
}

// DeleteSession removes the current session from its store.
func (p *SessionPlugin) DeleteSession(ctx context.Context) error {
	return p.SessionManager().DeleteSession(ctx)
}
