// Package cookies holds the cookie jar shared by every bypass strategy and
// the Netscape cookie-file format used to hand cookies from the harvest
// worker to the cascade session.
package cookies

import (
	"net/http"
	"strings"
	"time"
)

// Cookie is one name/value pair plus the metadata the Netscape format
// carries. Expires is a unix timestamp in seconds; 0 means a session cookie.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"http_only,omitempty"`
}

// HostOnly reports whether the cookie is bound to exactly its domain, which
// is the case when the domain does not start with a dot.
func (c Cookie) HostOnly() bool {
	return !strings.HasPrefix(c.Domain, ".")
}

// Expired reports whether a persistent cookie is past its expiry at now.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && now.Unix() >= c.Expires
}

// MatchesDomain reports whether the cookie belongs to the given domain
// filter. An empty filter matches every cookie.
func (c Cookie) MatchesDomain(filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Domain), strings.ToLower(filter))
}

// HTTP converts the cookie to a net/http cookie.
func (c Cookie) HTTP() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if c.Expires > 0 {
		hc.Expires = time.Unix(c.Expires, 0)
	}
	return hc
}

// FromHTTP converts a net/http cookie. fallbackDomain is used when the
// cookie carries no Domain attribute (host-only cookies set by a response).
func FromHTTP(hc *http.Cookie, fallbackDomain string) Cookie {
	c := Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Domain:   hc.Domain,
		Path:     hc.Path,
		Secure:   hc.Secure,
		HTTPOnly: hc.HttpOnly,
	}
	if c.Domain == "" {
		c.Domain = fallbackDomain
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if !hc.Expires.IsZero() {
		c.Expires = hc.Expires.Unix()
	} else if hc.MaxAge > 0 {
		c.Expires = time.Now().Add(time.Duration(hc.MaxAge) * time.Second).Unix()
	}
	return c
}

// Header renders cookies as the value of a Cookie request header.
func Header(cs []Cookie) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		if c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Names returns the cookie names in input order.
func Names(cs []Cookie) []string {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.Name)
	}
	return names
}

// FilterDomain returns the cookies matching the domain filter.
func FilterDomain(cs []Cookie, filter string) []Cookie {
	if filter == "" {
		return cs
	}
	out := make([]Cookie, 0, len(cs))
	for _, c := range cs {
		if c.MatchesDomain(filter) {
			out = append(out, c)
		}
	}
	return out
}
