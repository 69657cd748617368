package types

import (
	"strings"
	"time"
)

// DefaultInstanceID is the key used when LaunchOptions.InstanceID is empty.
const DefaultInstanceID = "default"

// DefaultUserDataDir is the profile directory used when none is configured.
const DefaultUserDataDir = "tmp/puppeteer-extends"

// DefaultBrowserArgs are the Chromium switches every browser starts with
// unless LaunchOptions.Args overrides them.
var DefaultBrowserArgs = []string{
	"--no-sandbox",
	"--disable-web-security",
	"--disable-setuid-sandbox",
	"--aggressive-cache-discard",
	"--disable-cache",
	"--disable-infobars",
	"--disable-application-cache",
	"--window-position=0,0",
	"--disable-offline-load-stale-cache",
	"--disk-cache-size=0",
	"--disable-background-networking",
	"--disable-default-apps",
	"--disable-extensions",
	"--disable-sync",
	"--disable-translate",
	"--hide-scrollbars",
	"--metrics-recording-only",
	"--mute-audio",
	"--no-first-run",
	"--safebrowsing-disable-auto-update",
	"--ignore-certificate-errors",
	"--ignore-ssl-errors",
	"--ignore-certificate-errors-spki-list",
}

// LaunchOptions configures a browser launch.
type LaunchOptions struct {
	InstanceID     string         `json:"instance_id,omitempty" yaml:"instance_id"`
	Headless       bool           `json:"headless" yaml:"headless"`
	Debug          bool           `json:"debug,omitempty" yaml:"debug"`
	UserDataDir    string         `json:"user_data_dir,omitempty" yaml:"user_data_dir"`
	ExecutablePath string         `json:"executable_path,omitempty" yaml:"executable_path"`
	Args           []string       `json:"args,omitempty" yaml:"args"`
	Timeout        time.Duration  `json:"timeout,omitempty" yaml:"timeout"`
	Extra          map[string]any `json:"extra,omitempty" yaml:"-"`
}

// DefaultLaunchOptions returns headless options with the default args.
func DefaultLaunchOptions() LaunchOptions {
	return LaunchOptions{
		InstanceID:  DefaultInstanceID,
		Headless:    true,
		UserDataDir: DefaultUserDataDir,
		Args:        append([]string(nil), DefaultBrowserArgs...),
		Timeout:     30 * time.Second,
	}
}

// ResolvedInstanceID returns InstanceID or DefaultInstanceID.
func (o LaunchOptions) ResolvedInstanceID() string {
	if o.InstanceID == "" {
		return DefaultInstanceID
	}
	return o.InstanceID
}

// Clone returns a deep copy so hooks can mutate args safely.
func (o LaunchOptions) Clone() LaunchOptions {
	c := o
	c.Args = append([]string(nil), o.Args...)
	if o.Extra != nil {
		c.Extra = make(map[string]any, len(o.Extra))
		for k, v := range o.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// SetArg adds "--name=value", replacing any existing switch with the same name.
func (o *LaunchOptions) SetArg(name, value string) {
	prefix := "--" + strings.TrimPrefix(name, "--") + "="
	arg := prefix + value
	for i, a := range o.Args {
		if strings.HasPrefix(a, prefix) {
			o.Args[i] = arg
			return
		}
	}
	o.Args = append(o.Args, arg)
}

// Arg returns the value of "--name=value" if present.
func (o LaunchOptions) Arg(name string) (string, bool) {
	prefix := "--" + strings.TrimPrefix(name, "--") + "="
	for _, a := range o.Args {
		if strings.HasPrefix(a, prefix) {
			return strings.TrimPrefix(a, prefix), true
		}
	}
	return "", false
}
