package plugins

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/types"
)

// ExecuteHook invokes hook on every active plugin that implements it, in
// registration order. A failing plugin is reported and then skipped; the
// remaining plugins still run and nothing is returned to the caller.
func (m *Manager) ExecuteHook(ctx context.Context, hook Hook, pc *Context, args HookArgs) {
	if pc == nil {
		pc = &Context{}
	}
	m.mu.RLock()
	observe := m.observer
	m.mu.RUnlock()
	if observe != nil {
		start := time.Now()
		defer func() { observe(hook, time.Since(start)) }()
	}

	for _, info := range m.snapshot() {
		called, err := m.callHook(ctx, info.Plugin, hook, pc, args)
		if !called || err == nil {
			continue
		}

		name := info.Name
		hookErr := types.WrapError(types.ErrHookFailed,
			fmt.Sprintf("plugin '%s' hook '%s' failed", name, hook), err)
		m.logger.Error("hook execution failed",
			zap.String("plugin", name),
			zap.String("hook", string(hook)),
			zap.Error(err))

		if _, emitErr := m.bus.EmitAsync(ctx, events.Error, &events.ErrorEvent{
			Err:     err,
			Source:  "plugin:" + name,
			Context: map[string]any{"hook": string(hook), "args": args},
		}); emitErr != nil {
			m.logger.Warn("error listener failed", zap.Error(emitErr))
		}

		if hook == HookError {
			continue
		}
		if eh, ok := info.Plugin.(ErrorHook); ok {
			if _, err := safeOnError(ctx, eh, hookErr, pc); err != nil {
				m.logger.Error("plugin error handler failed",
					zap.String("plugin", name),
					zap.Error(err))
			}
		}
	}
}

// ExecuteErrorHook reports err on the bus and offers it to every plugin's
// ErrorHook. It returns true when at least one plugin handled it. A plugin
// whose handler fails is cleaned up.
func (m *Manager) ExecuteErrorHook(ctx context.Context, err error, pc *Context) bool {
	if pc == nil {
		pc = &Context{}
	}
	if _, emitErr := m.bus.EmitAsync(ctx, events.Error, &events.ErrorEvent{
		Err:     err,
		Source:  "plugin-manager",
		Context: pc,
	}); emitErr != nil {
		m.logger.Warn("error listener failed", zap.Error(emitErr))
	}

	handled := false
	for _, info := range m.snapshot() {
		eh, ok := info.Plugin.(ErrorHook)
		if !ok {
			continue
		}
		result, hookErr := safeOnError(ctx, eh, err, pc)
		if hookErr != nil {
			m.logger.Error("plugin error handler failed",
				zap.String("plugin", info.Name),
				zap.Error(hookErr))
			if c, ok := info.Plugin.(Cleaner); ok {
				if cleanupErr := c.Cleanup(ctx); cleanupErr != nil {
					m.logger.Error("plugin cleanup failed",
						zap.String("plugin", info.Name),
						zap.Error(cleanupErr))
				}
			}
			continue
		}
		handled = handled || result
	}
	return handled
}

func (m *Manager) callHook(ctx context.Context, p Plugin, hook Hook, pc *Context, a HookArgs) (called bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			called = true
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()

	switch hook {
	case HookBeforeBrowserLaunch:
		if h, ok := p.(BeforeBrowserLaunchHook); ok {
			return true, h.OnBeforeBrowserLaunch(ctx, a.LaunchOptions, pc)
		}
	case HookAfterBrowserLaunch:
		if h, ok := p.(AfterBrowserLaunchHook); ok {
			return true, h.OnAfterBrowserLaunch(ctx, a.Browser, pc)
		}
	case HookBeforeBrowserClose:
		if h, ok := p.(BeforeBrowserCloseHook); ok {
			return true, h.OnBeforeBrowserClose(ctx, a.Browser, pc)
		}
	case HookPageCreated:
		if h, ok := p.(PageCreatedHook); ok {
			return true, h.OnPageCreated(ctx, a.Page, pc)
		}
	case HookBeforePageClose:
		if h, ok := p.(BeforePageCloseHook); ok {
			return true, h.OnBeforePageClose(ctx, a.Page, pc)
		}
	case HookBeforeNavigation:
		if h, ok := p.(BeforeNavigationHook); ok {
			return true, h.OnBeforeNavigation(ctx, a.Page, a.URL, a.NavigationOptions, pc)
		}
	case HookAfterNavigation:
		if h, ok := p.(AfterNavigationHook); ok {
			return true, h.OnAfterNavigation(ctx, a.Page, a.URL, a.Success, pc)
		}
	case HookError:
		if h, ok := p.(ErrorHook); ok {
			_, err := h.OnError(ctx, a.Err, pc)
			return true, err
		}
	}
	return false, nil
}

func safeOnError(ctx context.Context, h ErrorHook, err error, pc *Context) (handled bool, hookErr error) {
	defer func() {
		if r := recover(); r != nil {
			handled = false
			hookErr = fmt.Errorf("error hook panicked: %v", r)
		}
	}()
	return h.OnError(ctx, err, pc)
}
