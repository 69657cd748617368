package captcha

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/types"
)

// injectTokenScript writes token into the first element matching selector,
// or appends a hidden textarea carrying name (and id when set).
const injectTokenScript = `(selector, name, id, token) => {
  const el = document.querySelector(selector);
  if (el) { el.value = token; return true; }
  const ta = document.createElement("textarea");
  if (id) ta.id = id;
  ta.name = name;
  ta.value = token;
  ta.style.display = "none";
  document.body.appendChild(ta);
  return true;
}`

// hcaptchaCallbackScript hands the token to the first hCaptcha widget.
const hcaptchaCallbackScript = `(token) => {
  if (typeof window.hcaptcha === "undefined") return false;
  const ids = window.hcaptcha.getWidgetIDs ? window.hcaptcha.getWidgetIDs() : [];
  if (!ids || ids.length === 0) return false;
  try { window.hcaptcha.execute(ids[0], { token }); return true; } catch (e) { return false; }
}`

// tokenTarget describes where a solved token lands in the DOM.
type tokenTarget struct {
	selector string
	name     string
	id       string
}

var (
	recaptchaTarget = tokenTarget{
		selector: "textarea#g-recaptcha-response, input#g-recaptcha-response",
		name:     "g-recaptcha-response",
		id:       "g-recaptcha-response",
	}
	hcaptchaTarget = tokenTarget{
		selector: `textarea[name="h-captcha-response"], input[name="h-captcha-response"]`,
		name:     "h-captcha-response",
	}
	turnstileTarget = tokenTarget{
		selector: `input[name="cf-turnstile-response"], textarea[name="cf-turnstile-response"]`,
		name:     "cf-turnstile-response",
	}
	funcaptchaTarget = tokenTarget{
		selector: `input#FunCaptcha-Token, input[name="fc-token"]`,
		name:     "fc-token",
		id:       "FunCaptcha-Token",
	}
)

// HelperConfig configures a Helper.
type HelperConfig struct {
	Service         Service       `json:"service" yaml:"service"`
	APIKey          string        `json:"api_key" yaml:"api_key"`
	APIURL          string        `json:"api_url,omitempty" yaml:"api_url"`
	AutoDetect      bool          `json:"auto_detect" yaml:"auto_detect"`
	AutoSolve       bool          `json:"auto_solve" yaml:"auto_solve"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	PollingInterval time.Duration `json:"polling_interval,omitempty" yaml:"polling_interval"`
	RateLimit       float64       `json:"rate_limit,omitempty" yaml:"rate_limit"`
	// IgnoreURLs disables automatic handling on URLs containing any entry.
	IgnoreURLs []string `json:"ignore_urls,omitempty" yaml:"ignore_urls"`
}

// Ignores reports whether url matches IgnoreURLs.
func (c HelperConfig) Ignores(url string) bool {
	for _, pattern := range c.IgnoreURLs {
		if pattern != "" && strings.Contains(url, pattern) {
			return true
		}
	}
	return false
}

// SolverConfig derives the solver configuration.
func (c HelperConfig) SolverConfig() SolverConfig {
	return SolverConfig{
		APIKey:          c.APIKey,
		APIURL:          c.APIURL,
		DefaultTimeout:  c.Timeout,
		PollingInterval: c.PollingInterval,
		RateLimit:       c.RateLimit,
	}
}

// Helper detects captchas on pages, solves them and injects the tokens.
type Helper struct {
	cfg      HelperConfig
	factory  *Factory
	detector *Detector
	bus      *events.Bus
	logger   *zap.Logger
}

// HelperOption configures a Helper.
type HelperOption func(*Helper)

// WithFactory shares a solver cache between helpers.
func WithFactory(f *Factory) HelperOption {
	return func(h *Helper) { h.factory = f }
}

func WithBus(bus *events.Bus) HelperOption {
	return func(h *Helper) { h.bus = bus }
}

func WithLogger(logger *zap.Logger) HelperOption {
	return func(h *Helper) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHelper creates a Helper. Without WithBus events go to a private bus.
func NewHelper(cfg HelperConfig, opts ...HelperOption) *Helper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSolverConfig().DefaultTimeout
	}
	h := &Helper{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(zap.String("component", "captcha_helper"))
	if h.bus == nil {
		h.bus = events.NewBus(h.logger)
	}
	if h.factory == nil {
		h.factory = NewFactory(h.logger)
	}
	h.detector = NewDetector(h.bus, h.logger)
	return h
}

// Config returns the helper configuration.
func (h *Helper) Config() HelperConfig { return h.cfg }

func (h *Helper) solver() (Solver, error) {
	return h.factory.GetSolver(h.cfg.Service, h.cfg.SolverConfig())
}

// GetBalance returns the account balance of the configured service.
func (h *Helper) GetBalance(ctx context.Context) (float64, error) {
	s, err := h.solver()
	if err != nil {
		return 0, err
	}
	return s.GetBalance(ctx)
}

// DetectCaptchas finds every captcha on page.
func (h *Helper) DetectCaptchas(ctx context.Context, page types.Page) (Detection, error) {
	return h.detector.Detect(ctx, page)
}

// solve runs the solver and emits captcha:solved.
func (h *Helper) solve(ctx context.Context, pageURL string, opts Options) (Solution, error) {
	s, err := h.solver()
	if err != nil {
		return Solution{}, err
	}
	typ := opts.CaptchaType()
	h.logger.Debug("solving captcha", zap.String("type", string(typ)), zap.String("url", pageURL))

	sol, err := s.Solve(ctx, NewRequest(opts))
	if err != nil {
		return Solution{}, err
	}
	if _, err := h.bus.EmitAsync(ctx, events.CaptchaSolved, &events.CaptchaEvent{
		URL:      pageURL,
		Type:     string(typ),
		Solution: sol.Token,
		Service:  s.Name(),
	}); err != nil {
		h.logger.Warn("captcha:solved listener failed", zap.Error(err))
	}
	return sol, nil
}

func (h *Helper) inject(ctx context.Context, page types.Page, t tokenTarget, token string) error {
	var ok bool
	if err := page.Evaluate(ctx, injectTokenScript, &ok, t.selector, t.name, t.id, token); err != nil {
		return types.WrapError(types.ErrCaptchaFailed, "Failed to apply captcha solution", err)
	}
	h.logger.Debug("captcha solution applied", zap.String("field", t.name), zap.String("token", preview(token)))
	return nil
}

// SolveRecaptchaV2 solves and writes the token into g-recaptcha-response.
func (h *Helper) SolveRecaptchaV2(ctx context.Context, page types.Page, opts RecaptchaV2Options) (Solution, error) {
	sol, err := h.solve(ctx, opts.URL, opts)
	if err != nil {
		return Solution{}, err
	}
	return sol, h.inject(ctx, page, recaptchaTarget, sol.Token)
}

// SolveRecaptchaV3 only returns the token; v3 tokens are consumed by site
// callbacks, not form fields.
func (h *Helper) SolveRecaptchaV3(ctx context.Context, page types.Page, opts RecaptchaV3Options) (Solution, error) {
	return h.solve(ctx, opts.URL, opts)
}

// SolveHCaptcha solves, writes h-captcha-response and triggers the widget
// callback when the hcaptcha global is present.
func (h *Helper) SolveHCaptcha(ctx context.Context, page types.Page, opts HCaptchaOptions) (Solution, error) {
	sol, err := h.solve(ctx, opts.URL, opts)
	if err != nil {
		return Solution{}, err
	}
	if err := h.inject(ctx, page, hcaptchaTarget, sol.Token); err != nil {
		return sol, err
	}
	var called bool
	if err := page.Evaluate(ctx, hcaptchaCallbackScript, &called, sol.Token); err != nil {
		h.logger.Warn("failed to execute hcaptcha callback", zap.Error(err))
	}
	return sol, nil
}

// SolveImageCaptcha solves an image given as a URL or base64 data.
func (h *Helper) SolveImageCaptcha(ctx context.Context, opts ImageCaptchaOptions) (Solution, error) {
	sol, err := h.solve(ctx, "", opts)
	if err != nil {
		return Solution{}, err
	}
	h.logger.Debug("image captcha solved", zap.String("text", sol.Token))
	return sol, nil
}

func (h *Helper) SolveFunCaptcha(ctx context.Context, page types.Page, opts FunCaptchaOptions) (Solution, error) {
	sol, err := h.solve(ctx, opts.URL, opts)
	if err != nil {
		return Solution{}, err
	}
	return sol, h.inject(ctx, page, funcaptchaTarget, sol.Token)
}

func (h *Helper) SolveTurnstile(ctx context.Context, page types.Page, opts TurnstileOptions) (Solution, error) {
	sol, err := h.solve(ctx, opts.URL, opts)
	if err != nil {
		return Solution{}, err
	}
	return sol, h.inject(ctx, page, turnstileTarget, sol.Token)
}

// SolveDetected solves the reCAPTCHA v2 and hCaptcha entries of det.
// Other variants usually need site specific callbacks and are left alone.
// Failures are logged and do not stop the remaining captchas; the number
// solved is returned.
func (h *Helper) SolveDetected(ctx context.Context, page types.Page, det Detection) int {
	solved := 0
	for _, o := range det.RecaptchaV2 {
		if _, err := h.SolveRecaptchaV2(ctx, page, o); err != nil {
			h.logger.Error("error solving reCAPTCHA v2", zap.String("url", o.URL), zap.Error(err))
			continue
		}
		solved++
	}
	for _, o := range det.HCaptcha {
		if _, err := h.SolveHCaptcha(ctx, page, o); err != nil {
			h.logger.Error("error solving hCaptcha", zap.String("url", o.URL), zap.Error(err))
			continue
		}
		solved++
	}
	return solved
}

// SetupAutomaticHandling detects (and with AutoSolve, solves) captchas on
// every load of page. It is a no-op unless AutoDetect is set. The returned
// function stops the handling.
func (h *Helper) SetupAutomaticHandling(ctx context.Context, page types.Page) func() {
	if !h.cfg.AutoDetect {
		return func() {}
	}
	bg := context.WithoutCancel(ctx)
	remove := page.OnLoad(func() {
		// load handlers run on the engine's event loop; page calls from
		// there would block it.
		go h.detectAndSolve(bg, page)
	})
	if u := page.URL(); u != "" && u != "about:blank" {
		h.detectAndSolve(ctx, page)
	}
	return remove
}

func (h *Helper) detectAndSolve(ctx context.Context, page types.Page) {
	if u := page.URL(); h.cfg.Ignores(u) {
		h.logger.Debug("skipping captcha detection for ignored URL", zap.String("url", u))
		return
	}
	det, err := h.DetectCaptchas(ctx, page)
	if err != nil {
		h.logger.Error("error in automatic captcha handling", zap.Error(err))
		return
	}
	if len(det.RecaptchaV2)+len(det.HCaptcha) == 0 || !h.cfg.AutoSolve {
		return
	}
	h.SolveDetected(ctx, page, det)
}

// ReportIncorrect reports a bad solution for a refund.
func (h *Helper) ReportIncorrect(ctx context.Context, id string) (bool, error) {
	s, err := h.solver()
	if err != nil {
		return false, err
	}
	return s.ReportIncorrect(ctx, id)
}

func preview(token string) string {
	if len(token) > 15 {
		return token[:15] + "..."
	}
	return token
}
