package models

import "github.com/use-agent/clearance/cookies"

// FetchRequest is the payload for POST /api/v1/fetch.
type FetchRequest struct {
	// URL is the target page. Required.
	URL string `json:"url" binding:"required,url"`

	// Method is "GET" (default) or "POST".
	Method string `json:"method,omitempty" binding:"omitempty,oneof=GET POST"`

	// Headers are sent with every strategy attempt.
	Headers map[string]string `json:"headers,omitempty"`

	// Form is sent as an urlencoded POST body. Ignored when Body is set.
	Form map[string]string `json:"form,omitempty"`

	// Body is a raw POST body.
	Body string `json:"body,omitempty"`

	// Cookies are merged over the session jar for this request only.
	Cookies []cookies.Cookie `json:"cookies,omitempty"`

	// Format renders an HTML body as "raw" (default), "html", "markdown"
	// or "text". Non-HTML bodies are always returned raw.
	Format string `json:"format,omitempty" binding:"omitempty,oneof=raw html markdown text"`

	// Selector keeps only the elements matching a CSS selector.
	Selector string `json:"selector,omitempty"`

	// Readability extracts the main content before conversion.
	Readability bool `json:"readability,omitempty"`

	// MaxAge allows a cached GET response younger than this many
	// milliseconds to be returned. 0 disables the cache.
	MaxAge int `json:"max_age,omitempty" binding:"omitempty,min=0"`

	// Timeout bounds the whole cascade in seconds.
	// Default: 120. Max: 600.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=600"`
}

// Defaults applies default values to unset fields.
func (r *FetchRequest) Defaults() {
	if r.Method == "" {
		r.Method = "GET"
	}
	if r.Timeout == 0 {
		r.Timeout = 120
	}
}

// CookiesRequest is the payload for PUT /api/v1/cookies. Either Netscape
// or Cookies must be set.
type CookiesRequest struct {
	// Netscape is the text of a Netscape cookie file.
	Netscape string `json:"netscape,omitempty"`

	Cookies []cookies.Cookie `json:"cookies,omitempty"`

	// UserAgent is the user agent the cookies were issued to.
	UserAgent string `json:"user_agent,omitempty"`

	// Replace clears the jar before importing.
	Replace bool `json:"replace,omitempty"`
}

// HarvestRequest is the payload for POST /api/v1/harvest. Unset fields
// fall back to the server's harvest configuration.
type HarvestRequest struct {
	OriginURL       string   `json:"origin_url,omitempty" binding:"omitempty,url"`
	ChallengeURL    string   `json:"challenge_url,omitempty" binding:"omitempty,url"`
	CookieDomain    string   `json:"cookie_domain,omitempty"`
	RequiredCookies []string `json:"required_cookies,omitempty"`

	// ConsentCookie is "name=value", injected before the challenge wait.
	ConsentCookie string `json:"consent_cookie,omitempty"`

	// MaxWait bounds the harvest in seconds. Max: 1800.
	MaxWait int `json:"max_wait,omitempty" binding:"omitempty,min=1,max=1800"`

	// Headless overrides the configured browser mode.
	Headless *bool `json:"headless,omitempty"`

	// Apply imports the harvested cookies into the server session.
	// Default: true.
	Apply *bool `json:"apply,omitempty"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// ShouldApply reports whether harvested cookies go into the session.
func (r *HarvestRequest) ShouldApply() bool {
	return r.Apply == nil || *r.Apply
}
