package cookies

import (
	"io"
	"sort"
	"strings"
	"sync"
)

// Jar is the shared cookie store of one site session. Cookies are unique by
// name; merging is last-write-wins. The jar also carries the user agent the
// cookies were issued to, so later requests present the same fingerprint.
//
// A Jar is safe for concurrent use.
type Jar struct {
	mu        sync.RWMutex
	cookies   map[string]Cookie
	userAgent string
}

// NewJar returns an empty jar.
func NewJar() *Jar {
	return &Jar{cookies: make(map[string]Cookie)}
}

// Set stores c, replacing any cookie with the same name.
func (j *Jar) Set(c Cookie) {
	if c.Name == "" {
		return
	}
	j.mu.Lock()
	j.cookies[c.Name] = c
	j.mu.Unlock()
}

// Merge stores every cookie in cs and, when ua is non-empty, replaces the
// captured user agent. The whole merge happens under one lock.
func (j *Jar) Merge(cs []Cookie, ua string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cs {
		if c.Name == "" {
			continue
		}
		j.cookies[c.Name] = c
	}
	if ua != "" {
		j.userAgent = ua
	}
}

// Get returns the cookie with the given name.
func (j *Jar) Get(name string) (Cookie, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	c, ok := j.cookies[name]
	return c, ok
}

// Delete removes the named cookie.
func (j *Jar) Delete(name string) {
	j.mu.Lock()
	delete(j.cookies, name)
	j.mu.Unlock()
}

// Len returns the number of cookies held.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.cookies)
}

// Snapshot returns a copy of the cookies sorted by name.
func (j *Jar) Snapshot() []Cookie {
	j.mu.RLock()
	out := make([]Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		out = append(out, c)
	}
	j.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Map returns the cookies as a name→value map.
func (j *Jar) Map() map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	m := make(map[string]string, len(j.cookies))
	for name, c := range j.cookies {
		m[name] = c.Value
	}
	return m
}

// Header renders the jar as a Cookie header value.
func (j *Jar) Header() string {
	return Header(j.Snapshot())
}

// UserAgent returns the captured user agent, if any.
func (j *Jar) UserAgent() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.userAgent
}

// SetUserAgent replaces the captured user agent.
func (j *Jar) SetUserAgent(ua string) {
	j.mu.Lock()
	j.userAgent = ua
	j.mu.Unlock()
}

// Clear empties the jar and forgets the user agent.
func (j *Jar) Clear() {
	j.mu.Lock()
	j.cookies = make(map[string]Cookie)
	j.userAgent = ""
	j.mu.Unlock()
}

// ImportNetscape parses a Netscape cookie file and merges it into the jar.
// It returns the number of cookies imported.
func (j *Jar) ImportNetscape(r io.Reader, ua string) (int, error) {
	cs, err := ParseNetscape(r)
	if err != nil {
		return 0, err
	}
	j.Merge(cs, ua)
	return len(cs), nil
}

// ImportNetscapeString is ImportNetscape over a string.
func (j *Jar) ImportNetscapeString(s, ua string) (int, error) {
	return j.ImportNetscape(strings.NewReader(s), ua)
}

// ExportNetscape renders the jar as a Netscape cookie file.
func (j *Jar) ExportNetscape() string {
	return MarshalNetscape(j.Snapshot())
}
