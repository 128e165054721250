package engine

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/use-agent/clearance/cookies"
)

// Strategy is one bypass technique. Attempt never returns an error: every
// result is classified into an Outcome so the cascade can move on.
type Strategy interface {
	// Name returns the strategy identifier (e.g. "impersonate", "browser").
	Name() string

	// Attempt tries to fetch req once with this technique.
	Attempt(ctx context.Context, req *Request) Outcome
}

// Request is one fetch through the cascade. The session clones it for
// every attempt, so strategies may not retain or modify it.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Form    url.Values

	// Cookies are filled from the session jar before each attempt.
	Cookies []cookies.Cookie
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	c := &Request{
		Method: r.Method,
		URL:    r.URL,
	}
	if r.Headers != nil {
		c.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			c.Headers[k] = v
		}
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	if r.Form != nil {
		c.Form = make(url.Values, len(r.Form))
		for k, v := range r.Form {
			c.Form[k] = append([]string(nil), v...)
		}
	}
	if r.Cookies != nil {
		c.Cookies = append([]cookies.Cookie(nil), r.Cookies...)
	}
	return c
}

// Header returns the value of the named header, matched case-insensitively.
func (r *Request) Header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// SetHeader sets a header, replacing any existing key that differs only
// in case.
func (r *Request) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	for k := range r.Headers {
		if strings.EqualFold(k, name) {
			delete(r.Headers, k)
		}
	}
	r.Headers[name] = value
}

// method returns the request method, defaulting to GET.
func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// payload returns the request body and its content type. Form data wins
// over a raw body when both are set.
func (r *Request) payload() ([]byte, string) {
	if len(r.Form) > 0 {
		return []byte(r.Form.Encode()), "application/x-www-form-urlencoded"
	}
	if r.Body != nil {
		return r.Body, r.Header("Content-Type")
	}
	return nil, ""
}

// host returns the request URL's hostname.
func (r *Request) host() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Response is a fully read response. Body is never a stream, so strategies
// are interchangeable from the caller's point of view.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string

	// Strategy names the strategy that produced the response.
	Strategy string
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// OutcomeKind classifies an attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeBlocked
	OutcomeUnavailable
	OutcomeTransportError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeTransportError:
		return "transport_error"
	}
	return "unknown"
}

// Outcome is the tagged result of one Attempt. Only the fields matching
// Kind are meaningful, except Cookies and UserAgent which any attempt that
// reached the origin may carry.
type Outcome struct {
	Kind     OutcomeKind
	Response *Response // Success
	Status   int       // Blocked
	Reason   string    // Unavailable
	Err      error     // TransportError

	Cookies   []cookies.Cookie
	UserAgent string
}

// Success returns a successful outcome.
func Success(resp *Response, cs []cookies.Cookie, ua string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Response: resp, Cookies: cs, UserAgent: ua}
}

// Blocked returns an outcome for an origin that rejected the attempt.
func Blocked(status int, cs []cookies.Cookie, ua string) Outcome {
	return Outcome{Kind: OutcomeBlocked, Status: status, Cookies: cs, UserAgent: ua}
}

// Unavailable returns an outcome for a strategy that cannot run.
func Unavailable(reason string) Outcome {
	return Outcome{Kind: OutcomeUnavailable, Reason: reason}
}

// TransportError returns an outcome for a network or infrastructure fault.
func TransportError(err error) Outcome {
	return Outcome{Kind: OutcomeTransportError, Err: err}
}

// changedCookies returns the cookies in after that are new or carry a
// different value than in before. Client jars only report name and value,
// so unchanged cookies are dropped to keep the metadata already held.
func changedCookies(before, after []cookies.Cookie) []cookies.Cookie {
	known := make(map[string]string, len(before))
	for _, c := range before {
		known[c.Name] = c.Value
	}
	var out []cookies.Cookie
	for _, c := range after {
		if v, ok := known[c.Name]; ok && v == c.Value {
			continue
		}
		out = append(out, c)
	}
	return out
}
