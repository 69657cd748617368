package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Type identifies a captcha variant.
type Type string

const (
	TypeRecaptchaV2 Type = "recaptcha_v2"
	TypeRecaptchaV3 Type = "recaptcha_v3"
	TypeHCaptcha    Type = "hcaptcha"
	TypeImage       Type = "image_captcha"
	TypeFunCaptcha  Type = "funcaptcha"
	TypeTurnstile   Type = "turnstile"
)

// Service names a supported solving service.
type Service string

const (
	ServiceTwoCaptcha  Service = "2captcha"
	ServiceAntiCaptcha Service = "anticaptcha"
)

// Valid reports whether s names a supported service.
func (s Service) Valid() bool {
	return s == ServiceTwoCaptcha || s == ServiceAntiCaptcha
}

// SolutionTTL is how long a solved token is considered valid.
const SolutionTTL = 2 * time.Minute

var (
	ErrUnsupportedType    = errors.New("captcha: unsupported captcha type")
	ErrUnsupportedService = errors.New("captcha: unsupported captcha service")
	ErrAPIKeyRequired     = errors.New("captcha: API key is required")
)

// Options is implemented by the per-variant option structs.
type Options interface {
	CaptchaType() Type
}

// RecaptchaV2Options describes a reCAPTCHA v2 widget.
type RecaptchaV2Options struct {
	URL        string `json:"url"`
	SiteKey    string `json:"sitekey"`
	S          string `json:"s,omitempty"`
	Invisible  bool   `json:"invisible,omitempty"`
	Enterprise bool   `json:"enterprise,omitempty"`
}

// RecaptchaV3Options describes a reCAPTCHA v3 site.
type RecaptchaV3Options struct {
	URL        string  `json:"url"`
	SiteKey    string  `json:"sitekey"`
	Action     string  `json:"action"`
	Score      float64 `json:"score,omitempty"` // 0.0 - 1.0
	Enterprise bool    `json:"enterprise,omitempty"`
}

type HCaptchaOptions struct {
	URL        string `json:"url"`
	SiteKey    string `json:"sitekey"`
	Enterprise bool   `json:"enterprise,omitempty"`
}

// ImageCaptchaOptions holds a base64 image (optionally a data URL) or an
// http(s) URL to one.
type ImageCaptchaOptions struct {
	Image         string `json:"image"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	CharType      string `json:"char_type,omitempty"`
	Length        int    `json:"length,omitempty"`
}

// FunCaptchaOptions describes an Arkose Labs challenge.
type FunCaptchaOptions struct {
	URL       string            `json:"url"`
	PublicKey string            `json:"public_key"`
	Data      map[string]string `json:"data,omitempty"`
}

// TurnstileOptions describes a Cloudflare Turnstile widget.
type TurnstileOptions struct {
	URL     string `json:"url"`
	SiteKey string `json:"sitekey"`
	Action  string `json:"action,omitempty"`
}

func (RecaptchaV2Options) CaptchaType() Type  { return TypeRecaptchaV2 }
func (RecaptchaV3Options) CaptchaType() Type  { return TypeRecaptchaV3 }
func (HCaptchaOptions) CaptchaType() Type     { return TypeHCaptcha }
func (ImageCaptchaOptions) CaptchaType() Type { return TypeImage }
func (FunCaptchaOptions) CaptchaType() Type   { return TypeFunCaptcha }
func (TurnstileOptions) CaptchaType() Type    { return TypeTurnstile }

// Request is a type-tagged solve request.
type Request struct {
	Type    Type    `json:"type"`
	Options Options `json:"options"`
}

// NewRequest tags opts with its own type.
func NewRequest(opts Options) Request {
	return Request{Type: opts.CaptchaType(), Options: opts}
}

// validate fills an empty Type and rejects a Type that disagrees with Options.
func (r *Request) validate() error {
	if r.Options == nil {
		return fmt.Errorf("%w: %q has no options", ErrUnsupportedType, r.Type)
	}
	if r.Type == "" {
		r.Type = r.Options.CaptchaType()
	}
	if r.Type != r.Options.CaptchaType() {
		return fmt.Errorf("%w: %q with %T", ErrUnsupportedType, r.Type, r.Options)
	}
	return nil
}

// Solution is a solved token or text.
type Solution struct {
	Token      string    `json:"token"`
	ID         string    `json:"id,omitempty"`
	Expiration time.Time `json:"expiration,omitempty"`
}

// Expired reports whether the solution is past its expiration.
func (s Solution) Expired() bool {
	return !s.Expiration.IsZero() && time.Now().After(s.Expiration)
}

// Solver is a captcha solving service.
type Solver interface {
	Name() string
	GetBalance(ctx context.Context) (float64, error)
	Solve(ctx context.Context, req Request) (Solution, error)
	// ReportIncorrect reports a bad solution for a refund.
	ReportIncorrect(ctx context.Context, id string) (bool, error)
}

// SolverConfig configures a Solver.
type SolverConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
	// APIURL overrides the service base URL.
	APIURL          string        `json:"api_url,omitempty" yaml:"api_url"`
	DefaultTimeout  time.Duration `json:"default_timeout" yaml:"default_timeout"`
	PollingInterval time.Duration `json:"polling_interval" yaml:"polling_interval"`
	// RateLimit caps outgoing requests per second; 0 means unlimited.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit"`
	// MaxRetries is the transport-level retry budget for 5xx and connection errors.
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	RetryWaitMin time.Duration `json:"retry_wait_min" yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `json:"retry_wait_max" yaml:"retry_wait_max"`
}

// DefaultSolverConfig returns the defaults for everything except APIKey.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		DefaultTimeout:  120 * time.Second,
		PollingInterval: 5 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    5 * time.Second,
	}
}

func (c SolverConfig) withDefaults() SolverConfig {
	d := DefaultSolverConfig()
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = d.PollingInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = d.RetryWaitMin
	}
	if c.RetryWaitMax <= 0 {
		c.RetryWaitMax = d.RetryWaitMax
	}
	return c
}
