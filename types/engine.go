package types

import (
	"context"
	"time"
)

// Launcher starts browser processes. It is the only entry point into the
// underlying engine.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a handle to a running browser process.
type Browser interface {
	// NewPage opens a new tab.
	NewPage(ctx context.Context) (Page, error)
	// Close terminates the browser process.
	Close(ctx context.Context) error
	// Disconnected is closed once the connection to the browser is lost,
	// whether by Close or by the process going away.
	Disconnected() <-chan struct{}
}

// WaitUntil names a navigation completion condition.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle0     WaitUntil = "networkidle0"
	WaitNetworkIdle2     WaitUntil = "networkidle2"
)

// Valid reports whether w is one of the known conditions.
func (w WaitUntil) Valid() bool {
	switch w {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle0, WaitNetworkIdle2:
		return true
	}
	return false
}

// GotoOptions configures a single engine navigation.
type GotoOptions struct {
	WaitUntil []WaitUntil
	// Timeout bounds the attempt. Zero means no deadline.
	Timeout time.Duration
}

// SelectorOptions configures WaitForSelector.
type SelectorOptions struct {
	Visible bool
	Timeout time.Duration
}

// Request is an intercepted network request. Exactly one of Continue or
// Abort must be called while interception is enabled.
type Request interface {
	URL() string
	Method() string
	Headers() map[string]string
	// Continue resumes the request, replacing its headers when headers is non-nil.
	Continue(headers map[string]string) error
	Abort() error
}

// RequestHandler receives intercepted requests.
type RequestHandler func(req Request)

// Page is a handle to a single tab.
type Page interface {
	ID() string
	URL() string

	Goto(ctx context.Context, url string, opts GotoOptions) error
	WaitForNavigation(ctx context.Context, opts GotoOptions) error
	WaitForSelector(ctx context.Context, selector string, opts SelectorOptions) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Content(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	// Evaluate calls the JavaScript function source fn with args (JSON
	// encoded) and decodes the result into out when out is non-nil.
	Evaluate(ctx context.Context, fn string, out any, args ...any) error

	Cookies(ctx context.Context, urls ...string) ([]Cookie, error)
	SetCookie(ctx context.Context, cookies ...Cookie) error
	SetUserAgent(ctx context.Context, userAgent string) error

	SetRequestInterception(ctx context.Context, enabled bool) error
	// OnRequest registers h for intercepted requests and returns a function
	// that unregisters it.
	OnRequest(h RequestHandler) (remove func())
	// OnError registers h for page runtime errors.
	OnError(h func(err error)) (remove func())
	// OnLoad registers h for the page load event.
	OnLoad(h func()) (remove func())

	Close(ctx context.Context) error
}
