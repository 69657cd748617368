package plugins

import (
	"context"
	"time"

	"github.com/BaSui01/browserflow/types"
)

// PluginState represents the lifecycle state of a plugin.
type PluginState string

const (
	PluginStateInitializing PluginState = "initializing"
	PluginStateActive       PluginState = "active"
	PluginStateCleaningUp   PluginState = "cleaning_up"
	PluginStateUnregistered PluginState = "unregistered"
	PluginStateFailed       PluginState = "failed"
)

// Plugin is the minimal extension contract. Everything else is optional.
type Plugin interface {
	// Name returns the unique plugin name.
	Name() string
}

// Versioned plugins report a version string.
type Versioned interface {
	Version() string
}

// Initializer is called once during registration. A returned error aborts
// the registration.
type Initializer interface {
	Initialize(ctx context.Context, opts map[string]any) error
}

// Cleaner is called when the plugin is unregistered.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Context carries the references available at a hook call site. It is
// built fresh for every call and never stored.
type Context struct {
	Browser types.Browser
	Page    types.Page
	Options any
}

// BeforeBrowserLaunchHook may mutate opts before the engine starts.
type BeforeBrowserLaunchHook interface {
	OnBeforeBrowserLaunch(ctx context.Context, opts *types.LaunchOptions, pc *Context) error
}

type AfterBrowserLaunchHook interface {
	OnAfterBrowserLaunch(ctx context.Context, browser types.Browser, pc *Context) error
}

type BeforeBrowserCloseHook interface {
	OnBeforeBrowserClose(ctx context.Context, browser types.Browser, pc *Context) error
}

type PageCreatedHook interface {
	OnPageCreated(ctx context.Context, page types.Page, pc *Context) error
}

type BeforePageCloseHook interface {
	OnBeforePageClose(ctx context.Context, page types.Page, pc *Context) error
}

// BeforeNavigationHook runs before every navigation attempt.
type BeforeNavigationHook interface {
	OnBeforeNavigation(ctx context.Context, page types.Page, url string, opts *types.NavigationOptions, pc *Context) error
}

// AfterNavigationHook runs once per navigation with its final outcome.
type AfterNavigationHook interface {
	OnAfterNavigation(ctx context.Context, page types.Page, url string, success bool, pc *Context) error
}

// ErrorHook reports whether the plugin handled err. Returning true from a
// navigation failure lets the navigator retry without waiting.
type ErrorHook interface {
	OnError(ctx context.Context, err error, pc *Context) (bool, error)
}

// Hook names a dispatchable extension point.
type Hook string

const (
	HookBeforeBrowserLaunch Hook = "onBeforeBrowserLaunch"
	HookAfterBrowserLaunch  Hook = "onAfterBrowserLaunch"
	HookBeforeBrowserClose  Hook = "onBeforeBrowserClose"
	HookPageCreated         Hook = "onPageCreated"
	HookBeforePageClose     Hook = "onBeforePageClose"
	HookBeforeNavigation    Hook = "onBeforeNavigation"
	HookAfterNavigation     Hook = "onAfterNavigation"
	HookError               Hook = "onError"
)

// Hooks lists every hook in pipeline order.
var Hooks = []Hook{
	HookBeforeBrowserLaunch,
	HookAfterBrowserLaunch,
	HookBeforeBrowserClose,
	HookPageCreated,
	HookBeforePageClose,
	HookBeforeNavigation,
	HookAfterNavigation,
	HookError,
}

// HookArgs holds the positional arguments of a hook call. Each hook reads
// only the fields it needs.
type HookArgs struct {
	LaunchOptions     *types.LaunchOptions
	Browser           types.Browser
	Page              types.Page
	URL               string
	NavigationOptions *types.NavigationOptions
	Success           bool
	Err               error
}

// Supports reports whether p implements hook.
func Supports(p Plugin, hook Hook) bool {
	switch hook {
	case HookBeforeBrowserLaunch:
		_, ok := p.(BeforeBrowserLaunchHook)
		return ok
	case HookAfterBrowserLaunch:
		_, ok := p.(AfterBrowserLaunchHook)
		return ok
	case HookBeforeBrowserClose:
		_, ok := p.(BeforeBrowserCloseHook)
		return ok
	case HookPageCreated:
		_, ok := p.(PageCreatedHook)
		return ok
	case HookBeforePageClose:
		_, ok := p.(BeforePageCloseHook)
		return ok
	case HookBeforeNavigation:
		_, ok := p.(BeforeNavigationHook)
		return ok
	case HookAfterNavigation:
		_, ok := p.(AfterNavigationHook)
		return ok
	case HookError:
		_, ok := p.(ErrorHook)
		return ok
	default:
		return false
	}
}

// VersionOf returns p's version, or "" when it does not report one.
func VersionOf(p Plugin) string {
	if v, ok := p.(Versioned); ok {
		return v.Version()
	}
	return ""
}

// PluginInfo bundles a plugin instance with its registration state.
type PluginInfo struct {
	Plugin       Plugin      `json:"-"`
	Name         string      `json:"name"`
	Version      string      `json:"version,omitempty"`
	State        PluginState `json:"state"`
	Hooks        []Hook      `json:"hooks"`
	RegisteredAt time.Time   `json:"registered_at"`
}

func newPluginInfo(p Plugin) *PluginInfo {
	info := &PluginInfo{
		Plugin:  p,
		Name:    p.Name(),
		Version: VersionOf(p),
		State:   PluginStateInitializing,
	}
	for _, h := range Hooks {
		if Supports(p, h) {
			info.Hooks = append(info.Hooks, h)
		}
	}
	return info
}
