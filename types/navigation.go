package types

import (
	"maps"
	"time"
)

// Navigation defaults.
const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultMaxRetries        = 1
	DefaultRetryDelay        = 5 * time.Second
)

// DefaultWaitUntil is used when NavigationOptions.WaitUntil is empty.
var DefaultWaitUntil = []WaitUntil{WaitLoad, WaitNetworkIdle0}

// NavigationOptions configures a navigation with retries.
type NavigationOptions struct {
	WaitUntil []WaitUntil   `json:"wait_until,omitempty" yaml:"wait_until"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	// NoTimeout runs each attempt without a deadline. A zero Timeout alone
	// means the default.
	NoTimeout bool `json:"no_timeout,omitempty" yaml:"no_timeout"`
	// Headers are merged over the outgoing request's own headers.
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers"`
	MaxRetries int               `json:"max_retries,omitempty" yaml:"max_retries"`
	// NoRetry forces a single attempt regardless of MaxRetries.
	NoRetry    bool          `json:"no_retry,omitempty" yaml:"no_retry"`
	RetryDelay time.Duration `json:"retry_delay,omitempty" yaml:"retry_delay"`
	// NoRetryDelay retries immediately regardless of RetryDelay.
	NoRetryDelay bool `json:"no_retry_delay,omitempty" yaml:"no_retry_delay"`
	Debug        bool `json:"debug,omitempty" yaml:"debug"`
}

// WithDefaults returns a copy with zero fields filled in.
func (o NavigationOptions) WithDefaults() NavigationOptions {
	out := o
	if len(out.WaitUntil) == 0 {
		out.WaitUntil = append([]WaitUntil(nil), DefaultWaitUntil...)
	}
	switch {
	case out.NoTimeout:
		out.Timeout = 0
	case out.Timeout <= 0:
		out.Timeout = DefaultNavigationTimeout
	}
	switch {
	case out.NoRetry:
		out.MaxRetries = 0
	case out.MaxRetries <= 0:
		out.MaxRetries = DefaultMaxRetries
	}
	switch {
	case out.NoRetryDelay:
		out.RetryDelay = 0
	case out.RetryDelay <= 0:
		out.RetryDelay = DefaultRetryDelay
	}
	out.Headers = maps.Clone(o.Headers)
	return out
}

// Goto returns the per-attempt engine options. A zero Timeout means no deadline.
func (o NavigationOptions) Goto() GotoOptions {
	return GotoOptions{WaitUntil: o.WaitUntil, Timeout: o.Timeout}
}
