package types

import "strings"

// SameSite is the cookie SameSite attribute.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// Cookie mirrors the cookie shape stored in session files.
type Cookie struct {
	Name     string   `json:"name" bson:"name"`
	Value    string   `json:"value" bson:"value"`
	Domain   string   `json:"domain,omitempty" bson:"domain,omitempty"`
	Path     string   `json:"path,omitempty" bson:"path,omitempty"`
	Expires  float64  `json:"expires,omitempty" bson:"expires,omitempty"` // seconds since epoch, -1 for session cookies
	HTTPOnly bool     `json:"httpOnly,omitempty" bson:"httpOnly,omitempty"`
	Secure   bool     `json:"secure,omitempty" bson:"secure,omitempty"`
	SameSite SameSite `json:"sameSite,omitempty" bson:"sameSite,omitempty"`
}

// MatchesDomain reports whether the cookie domain contains domain or ".domain".
func (c Cookie) MatchesDomain(domain string) bool {
	return strings.Contains(c.Domain, domain) || strings.Contains(c.Domain, "."+domain)
}
