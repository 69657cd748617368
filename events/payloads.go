package events

import (
	"time"

	"github.com/BaSui01/browserflow/types"
)

// BrowserEvent is the payload of browser:* events.
type BrowserEvent struct {
	InstanceID string               `json:"instance_id"`
	Browser    types.Browser        `json:"-"`
	Options    *types.LaunchOptions `json:"options,omitempty"`
	Err        error                `json:"-"`
}

// PageEvent is the payload of page:* events.
type PageEvent struct {
	InstanceID string        `json:"instance_id,omitempty"`
	Page       types.Page    `json:"-"`
	Browser    types.Browser `json:"-"`
	Err        error         `json:"-"`
}

// NavigationEvent is the payload of navigation:* events.
type NavigationEvent struct {
	Page    types.Page `json:"-"`
	URL     string     `json:"url"`
	Attempt int        `json:"attempt"`
	Options any        `json:"options,omitempty"`
	Err     error      `json:"-"`
}

// ErrorEvent is the payload of the global error event.
type ErrorEvent struct {
	Err     error  `json:"-"`
	Source  string `json:"source"`
	Context any    `json:"-"`
}

// SessionEvent is the payload of session:* events.
type SessionEvent struct {
	SessionName  string        `json:"session_name"`
	Page         types.Page    `json:"-"`
	Browser      types.Browser `json:"-"`
	Cookies      int           `json:"cookies"`
	StorageItems int           `json:"storage_items"`
}

// PluginEvent is the payload of plugin:* events.
type PluginEvent struct {
	Name    string         `json:"name"`
	Version string         `json:"version,omitempty"`
	Options map[string]any `json:"-"`
}

// CaptchaEvent is the payload of captcha:* events.
type CaptchaEvent struct {
	URL      string  `json:"url,omitempty"`
	Type     string  `json:"type,omitempty"`
	Count    int     `json:"count,omitempty"`
	Solution string  `json:"solution,omitempty"`
	Service  string  `json:"service,omitempty"`
	Balance  float64 `json:"balance,omitempty"`
	Details  any     `json:"details,omitempty"`
}

// Envelope is a serializable view of an emitted event, used by the
// event stream endpoint.
type Envelope struct {
	Name      Name      `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewEnvelope wraps payload, lifting any error it carries into Error.
// Payloads are emitted as pointers.
func NewEnvelope(name Name, payload any) Envelope {
	env := Envelope{Name: name, Timestamp: time.Now(), Payload: payload}
	var err error
	switch p := payload.(type) {
	case *BrowserEvent:
		err = p.Err
	case *PageEvent:
		err = p.Err
	case *NavigationEvent:
		err = p.Err
	case *ErrorEvent:
		err = p.Err
	}
	if err != nil {
		env.Error = err.Error()
	}
	return env
}
