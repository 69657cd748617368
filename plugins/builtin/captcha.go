package builtin

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/captcha"
	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/types"
)

const (
	CaptchaPluginName    = "captcha-plugin"
	CaptchaPluginVersion = "1.0.0"
)

var ErrCaptchaServiceRequired = errors.New("Captcha service is required")

// CaptchaPluginOptions is the helper configuration of the plugin.
type CaptchaPluginOptions = captcha.HelperConfig

// DefaultCaptchaPluginOptions enables detection and solving.
func DefaultCaptchaPluginOptions() CaptchaPluginOptions {
	return CaptchaPluginOptions{
		Service:    captcha.ServiceTwoCaptcha,
		AutoDetect: true,
		AutoSolve:  true,
		Timeout:    captcha.DefaultSolverConfig().DefaultTimeout,
	}
}

// CaptchaPlugin wires captcha.Helper into the page and navigation hooks.
//
// Pages it saw created are handled by the helper's load listener; the
// after-navigation hook covers pages created elsewhere so a captcha is
// never solved twice for one load.
type CaptchaPlugin struct {
	bus        *events.Bus
	logger     *zap.Logger
	helperOpts []captcha.HelperOption

	mu       sync.Mutex
	opts     CaptchaPluginOptions
	helper   *captcha.Helper
	handlers map[string]func()
}

var (
	_ plugins.Initializer         = (*CaptchaPlugin)(nil)
	_ plugins.PageCreatedHook     = (*CaptchaPlugin)(nil)
	_ plugins.BeforePageCloseHook = (*CaptchaPlugin)(nil)
	_ plugins.AfterNavigationHook = (*CaptchaPlugin)(nil)
	_ plugins.Cleaner             = (*CaptchaPlugin)(nil)
)

// NewCaptchaPlugin validates opts. Events go to bus.
func NewCaptchaPlugin(opts CaptchaPluginOptions, bus *events.Bus, logger *zap.Logger, helperOpts ...captcha.HelperOption) (*CaptchaPlugin, error) {
	if opts.APIKey == "" {
		return nil, captcha.ErrAPIKeyRequired
	}
	if opts.Service == "" {
		return nil, ErrCaptchaServiceRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	p := &CaptchaPlugin{
		bus:        bus,
		logger:     logger.With(zap.String("component", "plugin"), zap.String("plugin", CaptchaPluginName)),
		helperOpts: append([]captcha.HelperOption{captcha.WithBus(bus), captcha.WithLogger(logger)}, helperOpts...),
		opts:       opts,
		handlers:   make(map[string]func()),
	}
	p.helper = captcha.NewHelper(opts, p.helperOpts...)
	return p, nil
}

func (p *CaptchaPlugin) Name() string    { return CaptchaPluginName }
func (p *CaptchaPlugin) Version() string { return CaptchaPluginVersion }

// Initialize overlays opts, checks the balance and emits
// captcha:initialized. A failed balance check is logged only.
func (p *CaptchaPlugin) Initialize(ctx context.Context, opts map[string]any) error {
	p.mu.Lock()
	if len(opts) > 0 {
		next := p.opts
		next.IgnoreURLs = append([]string(nil), p.opts.IgnoreURLs...)
		if err := mergeOptions(&next, opts); err != nil {
			p.mu.Unlock()
			return err
		}
		p.opts = next
		p.helper = captcha.NewHelper(next, p.helperOpts...)
	}
	helper := p.helper
	service := p.opts.Service
	p.mu.Unlock()

	balance, err := helper.GetBalance(ctx)
	if err != nil {
		p.logger.Error("error initializing captcha plugin", zap.Error(err))
		return nil
	}
	p.logger.Debug("captcha plugin initialized", zap.String("service", string(service)), zap.Float64("balance", balance))
	p.bus.Emit(ctx, events.CaptchaInitialized, &events.CaptchaEvent{Service: string(service), Balance: balance})
	return nil
}

// Helper returns the current helper.
func (p *CaptchaPlugin) Helper() *captcha.Helper {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.helper
}

func (p *CaptchaPlugin) Options() CaptchaPluginOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts
}

// GetBalance returns the account balance.
func (p *CaptchaPlugin) GetBalance(ctx context.Context) (float64, error) {
	return p.Helper().GetBalance(ctx)
}

// OnPageCreated installs automatic handling when AutoDetect is on.
func (p *CaptchaPlugin) OnPageCreated(ctx context.Context, page types.Page, _ *plugins.Context) error {
	if !p.Options().AutoDetect {
		return nil
	}
	p.logger.Debug("setting up captcha handling for new page", zap.String("page", page.ID()))
	remove := p.Helper().SetupAutomaticHandling(ctx, page)

	p.mu.Lock()
	if old, ok := p.handlers[page.ID()]; ok {
		old()
	}
	p.handlers[page.ID()] = remove
	p.mu.Unlock()
	return nil
}

func (p *CaptchaPlugin) OnBeforePageClose(_ context.Context, page types.Page, _ *plugins.Context) error {
	p.mu.Lock()
	remove, ok := p.handlers[page.ID()]
	delete(p.handlers, page.ID())
	p.mu.Unlock()
	if ok {
		remove()
	}
	return nil
}

// OnAfterNavigation detects and, with AutoSolve, solves reCAPTCHA v2 and
// hCaptcha on pages without automatic handling.
func (p *CaptchaPlugin) OnAfterNavigation(ctx context.Context, page types.Page, url string, success bool, _ *plugins.Context) error {
	opts := p.Options()
	if !success || !opts.AutoDetect {
		return nil
	}
	p.mu.Lock()
	_, handled := p.handlers[page.ID()]
	p.mu.Unlock()
	if handled {
		return nil
	}
	if opts.Ignores(url) {
		p.logger.Debug("skipping captcha detection for ignored URL", zap.String("url", url))
		return nil
	}

	helper := p.Helper()
	p.logger.Debug("checking for captchas after navigation", zap.String("url", url))
	det, err := helper.DetectCaptchas(ctx, page)
	if err != nil {
		return err
	}
	if n := det.Count(); n > 0 {
		p.logger.Debug("found captchas on page", zap.Int("count", n))
		if opts.AutoSolve {
			helper.SolveDetected(ctx, page, det)
		}
	}
	return nil
}

// Cleanup removes every automatic handler still installed.
func (p *CaptchaPlugin) Cleanup(context.Context) error {
	p.mu.Lock()
	handlers := p.handlers
	p.handlers = make(map[string]func())
	p.mu.Unlock()
	for _, remove := range handlers {
		remove()
	}
	p.logger.Debug("captcha plugin cleanup complete")
	return nil
}
