package browser

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/types"
)

// ManagedBrowser decorates an engine browser so page creation and close
// run through the plugin pipeline.
type ManagedBrowser struct {
	id         string
	raw        types.Browser
	opts       types.LaunchOptions
	mgr        *Manager
	launchedAt time.Time

	mu    sync.Mutex
	pages map[*ManagedPage]struct{}

	closeOnce sync.Once
}

var _ types.Browser = (*ManagedBrowser)(nil)

func newManagedBrowser(id string, raw types.Browser, opts types.LaunchOptions, mgr *Manager) *ManagedBrowser {
	return &ManagedBrowser{
		id:         id,
		raw:        raw,
		opts:       opts,
		mgr:        mgr,
		launchedAt: time.Now(),
		pages:      make(map[*ManagedPage]struct{}),
	}
}

// ID returns the instance id.
func (b *ManagedBrowser) ID() string { return b.id }

// Options returns the options the browser was launched with, after
// onBeforeBrowserLaunch hooks ran.
func (b *ManagedBrowser) Options() types.LaunchOptions { return b.opts.Clone() }

// Unwrap returns the engine browser.
func (b *ManagedBrowser) Unwrap() types.Browser { return b.raw }

// Info describes the instance.
func (b *ManagedBrowser) Info() InstanceInfo {
	b.mu.Lock()
	n := len(b.pages)
	b.mu.Unlock()
	return InstanceInfo{
		ID:         b.id,
		Headless:   b.opts.Headless,
		Pages:      n,
		LaunchedAt: b.launchedAt,
	}
}

// NewPage opens a tab, emits page:created and runs onPageCreated hooks.
// Runtime errors raised by the page are routed to the error hooks.
func (b *ManagedBrowser) NewPage(ctx context.Context) (types.Page, error) {
	return b.OpenPage(ctx)
}

// OpenPage is NewPage returning the concrete decorator.
func (b *ManagedBrowser) OpenPage(ctx context.Context) (*ManagedPage, error) {
	raw, err := b.raw.NewPage(ctx)
	if err != nil {
		b.mgr.logger.Error("page creation failed",
			zap.String("instance_id", b.id),
			zap.Error(err))
		return nil, types.WrapError(types.ErrPageOperation, "Failed to create page", err)
	}

	p := &ManagedPage{Page: raw, browser: b}
	b.mu.Lock()
	b.pages[p] = struct{}{}
	b.mu.Unlock()

	pm := b.mgr.plugins
	p.removeOnError = raw.OnError(func(err error) {
		ctx := context.Background()
		b.mgr.emit(ctx, events.PageError, &events.PageEvent{InstanceID: b.id, Page: p, Browser: b, Err: err})
		pm.ExecuteErrorHook(ctx, err, p.pluginContext())
	})

	b.mgr.emit(ctx, events.PageCreated, &events.PageEvent{InstanceID: b.id, Page: p, Browser: b})
	pm.ExecuteHook(ctx, plugins.HookPageCreated, p.pluginContext(), plugins.HookArgs{Page: p})
	return p, nil
}

// Close closes the browser through its manager.
func (b *ManagedBrowser) Close(ctx context.Context) error {
	return b.mgr.closeManaged(ctx, b)
}

// Disconnected is closed once the engine connection is gone.
func (b *ManagedBrowser) Disconnected() <-chan struct{} {
	return b.raw.Disconnected()
}

// notifyClosed emits browser:closed and runs onBeforeBrowserClose once.
func (b *ManagedBrowser) notifyClosed(ctx context.Context) {
	b.closeOnce.Do(func() {
		b.mgr.emit(ctx, events.BrowserClosed, &events.BrowserEvent{InstanceID: b.id, Browser: b})
		pc := &plugins.Context{Browser: b, Options: &b.opts}
		b.mgr.plugins.ExecuteHook(ctx, plugins.HookBeforeBrowserClose, pc, plugins.HookArgs{Browser: b})
	})
}

func (b *ManagedBrowser) forget(p *ManagedPage) {
	b.mu.Lock()
	delete(b.pages, p)
	b.mu.Unlock()
}

// ManagedPage decorates an engine page. Only Close differs from the
// embedded page: it emits page:closed and runs onBeforePageClose first.
type ManagedPage struct {
	types.Page
	browser *ManagedBrowser

	removeOnError func()
	closeOnce     sync.Once
	closeErr      error
}

var _ types.Page = (*ManagedPage)(nil)

// Browser returns the owning browser.
func (p *ManagedPage) Browser() *ManagedBrowser { return p.browser }

// Unwrap returns the engine page.
func (p *ManagedPage) Unwrap() types.Page { return p.Page }

func (p *ManagedPage) pluginContext() *plugins.Context {
	return &plugins.Context{Browser: p.browser, Page: p, Options: &p.browser.opts}
}

// Close is idempotent; later calls return the first result.
func (p *ManagedPage) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		b := p.browser
		b.mgr.emit(ctx, events.PageClosed, &events.PageEvent{InstanceID: b.id, Page: p, Browser: b})
		b.mgr.plugins.ExecuteHook(ctx, plugins.HookBeforePageClose, p.pluginContext(), plugins.HookArgs{Page: p})

		if p.removeOnError != nil {
			p.removeOnError()
		}
		b.forget(p)
		if err := p.Page.Close(ctx); err != nil {
			p.closeErr = types.WrapError(types.ErrPageOperation, "Failed to close page", err)
		}
	})
	return p.closeErr
}
