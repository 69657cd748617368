package session

import "path/filepath"

// DefaultDir is where file-backed sessions live unless configured otherwise.
const DefaultDir = "tmp/puppeteer-extends/sessions"

// DefaultName is the session name used when Options.Name is empty.
const DefaultName = "default"

// Options configures what a Manager persists.
type Options struct {
	SessionDir            string   `json:"session_dir" yaml:"session_dir"`
	Name                  string   `json:"name" yaml:"name"`
	PersistCookies        bool     `json:"persist_cookies" yaml:"persist_cookies"`
	PersistLocalStorage   bool     `json:"persist_local_storage" yaml:"persist_local_storage"`
	PersistSessionStorage bool     `json:"persist_session_storage" yaml:"persist_session_storage"`
	PersistUserAgent      bool     `json:"persist_user_agent" yaml:"persist_user_agent"`
	Domains               []string `json:"domains,omitempty" yaml:"domains"`
}

// DefaultOptions persists cookies, localStorage and the user agent of the
// "default" session.
func DefaultOptions() Options {
	return Options{
		SessionDir:            DefaultDir,
		Name:                  DefaultName,
		PersistCookies:        true,
		PersistLocalStorage:   true,
		PersistSessionStorage: false,
		PersistUserAgent:      true,
	}
}

func (o Options) withDefaults() Options {
	if o.SessionDir == "" {
		o.SessionDir = DefaultDir
	}
	if o.Name == "" {
		o.Name = DefaultName
	}
	return o
}

// FilePath returns <SessionDir>/<Name>.json.
func (o Options) FilePath() string {
	o = o.withDefaults()
	return filepath.Join(o.SessionDir, o.Name+".json")
}
