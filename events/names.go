package events

// Name is an event key on the bus.
type Name string

// Browser events
const (
	BrowserCreated Name = "browser:created"
	BrowserClosed  Name = "browser:closed"
	BrowserError   Name = "browser:error"
)

// Page events
const (
	PageCreated Name = "page:created"
	PageClosed  Name = "page:closed"
	PageError   Name = "page:error"
)

// Navigation events
const (
	NavigationStarted   Name = "navigation:started"
	NavigationSucceeded Name = "navigation:succeeded"
	NavigationFailed    Name = "navigation:failed"
	NavigationError     Name = "navigation:error"
)

// Error is the global error event.
const Error Name = "error"

// Session events
const (
	SessionApplied   Name = "session:applied"
	SessionExtracted Name = "session:extracted"
	SessionCleared   Name = "session:cleared"
)

// Plugin events
const (
	PluginRegistered   Name = "plugin:registered"
	PluginUnregistered Name = "plugin:unregistered"
)

// Captcha events
const (
	CaptchaInitialized Name = "captcha:initialized"
	CaptchaDetected    Name = "captcha:detected"
	CaptchaSolved      Name = "captcha:solved"
)

// All lists every event emitted by this module.
var All = []Name{
	BrowserCreated, BrowserClosed, BrowserError,
	PageCreated, PageClosed, PageError,
	NavigationStarted, NavigationSucceeded, NavigationFailed, NavigationError,
	Error,
	SessionApplied, SessionExtracted, SessionCleared,
	PluginRegistered, PluginUnregistered,
	CaptchaInitialized, CaptchaDetected, CaptchaSolved,
}
