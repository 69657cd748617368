package builtin

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/types"
)

const (
	ProxyPluginName    = "proxy-plugin"
	ProxyPluginVersion = "1.0.0"
)

// ErrNoProxies is returned when a ProxyPlugin is configured without proxies.
var ErrNoProxies = errors.New("ProxyPlugin requires at least one proxy")

// Proxy is one upstream proxy server.
type Proxy struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password"`
	// Protocol is http, https, socks4 or socks5. Empty means http.
	Protocol string `json:"protocol,omitempty" yaml:"protocol"`
}

// URL renders proto://[user:pass@]host:port. Credentials are included only
// when both are set.
func (p Proxy) URL() string {
	u := url.URL{
		Scheme: p.Protocol,
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if p.Username != "" && p.Password != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// ParseProxy parses proto://[user:pass@]host:port. A missing scheme means
// http.
func ParseProxy(raw string) (Proxy, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Proxy{}, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || u.Hostname() == "" {
		return Proxy{}, fmt.Errorf("invalid proxy %q: host and port are required", raw)
	}
	p := Proxy{Host: u.Hostname(), Port: port, Protocol: u.Scheme}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// RotationStrategy selects the next proxy.
type RotationStrategy string

const (
	RotationSequential RotationStrategy = "sequential"
	RotationRandom     RotationStrategy = "random"
)

type ProxyPluginOptions struct {
	Proxies            []Proxy          `json:"proxies" yaml:"proxies"`
	RotationStrategy   RotationStrategy `json:"rotation_strategy" yaml:"rotation_strategy"`
	RotateOnNavigation bool             `json:"rotate_on_navigation" yaml:"rotate_on_navigation"`
	RotateOnError      bool             `json:"rotate_on_error" yaml:"rotate_on_error"`
}

// DefaultProxyPluginOptions rotates sequentially on navigation and errors.
func DefaultProxyPluginOptions() ProxyPluginOptions {
	return ProxyPluginOptions{
		RotationStrategy:   RotationSequential,
		RotateOnNavigation: true,
		RotateOnError:      true,
	}
}

// ProxyPlugin points new browsers at the current proxy and rotates it.
// Rotation takes effect on the next browser launch.
type ProxyPlugin struct {
	logger *zap.Logger

	mu    sync.Mutex
	opts  ProxyPluginOptions
	index int
}

var (
	_ plugins.BeforeBrowserLaunchHook = (*ProxyPlugin)(nil)
	_ plugins.BeforeNavigationHook    = (*ProxyPlugin)(nil)
	_ plugins.ErrorHook               = (*ProxyPlugin)(nil)
)

func NewProxyPlugin(opts ProxyPluginOptions, logger *zap.Logger) (*ProxyPlugin, error) {
	if len(opts.Proxies) == 0 {
		return nil, ErrNoProxies
	}
	if opts.RotationStrategy == "" {
		opts.RotationStrategy = RotationSequential
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProxyPlugin{
		logger: logger.With(zap.String("component", "plugin"), zap.String("plugin", ProxyPluginName)),
		opts:   opts,
	}, nil
}

func (p *ProxyPlugin) Name() string    { return ProxyPluginName }
func (p *ProxyPlugin) Version() string { return ProxyPluginVersion }

func (p *ProxyPlugin) Initialize(_ context.Context, opts map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.opts
	next.Proxies = append([]Proxy(nil), p.opts.Proxies...)
	if err := mergeOptions(&next, opts); err != nil {
		return err
	}
	if len(next.Proxies) == 0 {
		return ErrNoProxies
	}
	p.opts = next
	if p.index >= len(next.Proxies) {
		p.index = 0
	}
	p.logger.Debug("proxy plugin initialized", zap.Int("proxies", len(next.Proxies)))
	return nil
}

// OnBeforeBrowserLaunch adds or replaces --proxy-server.
func (p *ProxyPlugin) OnBeforeBrowserLaunch(_ context.Context, opts *types.LaunchOptions, _ *plugins.Context) error {
	proxy := p.CurrentProxy()
	opts.SetArg("proxy-server", proxy.URL())
	p.logger.Debug("using proxy", zap.String("host", proxy.Host), zap.Int("port", proxy.Port))
	return nil
}

func (p *ProxyPlugin) OnBeforeNavigation(_ context.Context, _ types.Page, url string, _ *types.NavigationOptions, pc *plugins.Context) error {
	p.mu.Lock()
	rotate := p.opts.RotateOnNavigation
	p.mu.Unlock()
	if rotate && pc != nil && pc.Browser != nil {
		p.Rotate()
		p.logger.Debug("rotated proxy before navigation", zap.String("url", url))
	}
	return nil
}

// OnError rotates and reports the error handled for net:: failures.
func (p *ProxyPlugin) OnError(_ context.Context, err error, pc *plugins.Context) (bool, error) {
	p.mu.Lock()
	rotate := p.opts.RotateOnError
	p.mu.Unlock()
	if !rotate || err == nil || pc == nil || pc.Browser == nil || !strings.Contains(err.Error(), "net::") {
		return false, nil
	}
	p.Rotate()
	p.logger.Debug("rotated proxy after error", zap.Error(err))
	return true, nil
}

func (p *ProxyPlugin) Cleanup(context.Context) error {
	p.logger.Debug("proxy plugin cleanup complete")
	return nil
}

// CurrentProxy returns the proxy the next launch will use.
func (p *ProxyPlugin) CurrentProxy() Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Proxies[p.index]
}

// Rotate advances to the next proxy and returns it.
func (p *ProxyPlugin) Rotate() Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.opts.Proxies)
	if p.opts.RotationStrategy == RotationRandom {
		p.index = rand.IntN(n)
	} else {
		p.index = (p.index + 1) % n
	}
	return p.opts.Proxies[p.index]
}
