package session

import (
	"maps"
	"slices"
	"time"

	"github.com/BaSui01/browserflow/types"
)

// Storage holds the web storage areas of a session.
type Storage struct {
	LocalStorage   map[string]string `json:"localStorage" bson:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage" bson:"sessionStorage"`
}

// Data is the persisted state of one named session.
type Data struct {
	Cookies   []types.Cookie `json:"cookies" bson:"cookies"`
	Storage   Storage        `json:"storage" bson:"storage"`
	UserAgent string         `json:"userAgent,omitempty" bson:"userAgent,omitempty"`
	// LastAccessed is milliseconds since the Unix epoch.
	LastAccessed int64 `json:"lastAccessed" bson:"lastAccessed"`
}

// NewData returns an empty session stamped with the current time.
func NewData() *Data {
	return &Data{
		Cookies: []types.Cookie{},
		Storage: Storage{
			LocalStorage:   map[string]string{},
			SessionStorage: map[string]string{},
		},
		LastAccessed: nowMillis(),
	}
}

// Clone returns a deep copy.
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	c := *d
	c.Cookies = slices.Clone(d.Cookies)
	c.Storage.LocalStorage = maps.Clone(d.Storage.LocalStorage)
	c.Storage.SessionStorage = maps.Clone(d.Storage.SessionStorage)
	return &c
}

// LastAccessedTime converts LastAccessed to a time.Time.
func (d *Data) LastAccessedTime() time.Time {
	return time.UnixMilli(d.LastAccessed)
}

// normalize fills nil collections left by a decoder.
func (d *Data) normalize() {
	if d.Cookies == nil {
		d.Cookies = []types.Cookie{}
	}
	if d.Storage.LocalStorage == nil {
		d.Storage.LocalStorage = map[string]string{}
	}
	if d.Storage.SessionStorage == nil {
		d.Storage.SessionStorage = map[string]string{}
	}
}

// Patch is a partial update for Manager.SetSessionData. Nil fields are
// left unchanged.
type Patch struct {
	Cookies   []types.Cookie
	Storage   *Storage
	UserAgent *string
}

func (p Patch) apply(d *Data) {
	if p.Cookies != nil {
		d.Cookies = slices.Clone(p.Cookies)
	}
	if p.Storage != nil {
		d.Storage.LocalStorage = maps.Clone(p.Storage.LocalStorage)
		d.Storage.SessionStorage = maps.Clone(p.Storage.SessionStorage)
	}
	if p.UserAgent != nil {
		d.UserAgent = *p.UserAgent
	}
	d.normalize()
}

// FilterCookies keeps the cookies whose domain contains d or ".d" for some
// d in domains. An empty domains list keeps everything.
func FilterCookies(cookies []types.Cookie, domains []string) []types.Cookie {
	if len(domains) == 0 {
		return slices.Clone(cookies)
	}
	out := make([]types.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if slices.ContainsFunc(domains, c.MatchesDomain) {
			out = append(out, c)
		}
	}
	return out
}

func nowMillis() int64 { return time.Now().UnixMilli() }
