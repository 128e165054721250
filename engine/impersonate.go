package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"

	"github.com/use-agent/clearance/cookies"
)

func init() {
	Register(Registration{
		Name:     NameImpersonate,
		Priority: 10,
		Available: func(opts Options) (bool, string) {
			if len(resolveProfiles(opts.Impersonate, opts.Profiles)) == 0 {
				return false, "no known TLS profile configured"
			}
			return true, ""
		},
		New: func(opts Options) (Strategy, error) {
			return NewImpersonate(opts.Impersonate, opts.Profiles, opts.timeout()), nil
		},
	})
}

// DefaultProfiles is the fingerprint fallback order after the configured
// profile.
var DefaultProfiles = []string{
	"chrome_131", "chrome_124", "chrome_120", "chrome_117", "chrome_112",
	"chrome_110", "chrome_107", "chrome_104", "firefox_120", "safari_16_0",
}

// profileUserAgents maps a profile family to the user agent it presents
// when the request carries none.
var profileUserAgents = map[string]string{
	"chrome":  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36",
	"firefox": "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:%s.0) Gecko/20100101 Firefox/%s.0",
	"safari":  "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15",
}

// resolveProfiles returns preferred followed by the fallback list (or
// DefaultProfiles), deduplicated and restricted to profiles tls-client
// knows.
func resolveProfiles(preferred string, fallback []string) []string {
	if len(fallback) == 0 {
		fallback = DefaultProfiles
	}
	seen := make(map[string]bool)
	var out []string
	for _, name := range append([]string{preferred}, fallback...) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := profiles.MappedTLSClients[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// profileUserAgent derives a user agent matching a profile name such as
// "chrome_124" or "safari_16_0".
func profileUserAgent(name string) string {
	family, version, ok := strings.Cut(name, "_")
	if !ok {
		return randomUserAgent()
	}
	tmpl, ok := profileUserAgents[family]
	if !ok {
		return randomUserAgent()
	}
	version = strings.SplitN(version, "_psk", 2)[0]
	switch family {
	case "firefox":
		return fmt.Sprintf(tmpl, version, version)
	case "safari":
		return fmt.Sprintf(tmpl, strings.ReplaceAll(version, "_", "."))
	}
	return fmt.Sprintf(tmpl, version)
}

// tlsDoer is the subset of tls_client.HttpClient the strategy uses.
type tlsDoer interface {
	Do(req *fhttp.Request) (*fhttp.Response, error)
	GetCookies(u *url.URL) []*fhttp.Cookie
}

// Impersonate fetches with a client presenting a real browser's TLS and
// HTTP/2 fingerprint, walking a list of profiles until one is not blocked.
type Impersonate struct {
	profiles  []string
	timeout   time.Duration
	newClient func(profile string, timeout time.Duration) (tlsDoer, error)
}

// NewImpersonate creates the impersonation strategy.
func NewImpersonate(preferred string, fallback []string, timeout time.Duration) *Impersonate {
	return &Impersonate{
		profiles:  resolveProfiles(preferred, fallback),
		timeout:   timeout,
		newClient: newTLSClient,
	}
}

func newTLSClient(profile string, timeout time.Duration) (tlsDoer, error) {
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(timeout.Seconds())),
		tls_client.WithClientProfile(profiles.MappedTLSClients[profile]),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	}
	return tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
}

func (s *Impersonate) Name() string { return NameImpersonate }

// Profiles returns the profile names in the order they are tried.
func (s *Impersonate) Profiles() []string { return append([]string(nil), s.profiles...) }

func (s *Impersonate) Attempt(ctx context.Context, req *Request) Outcome {
	target, err := url.Parse(req.URL)
	if err != nil {
		return TransportError(fmt.Errorf("impersonate: parse url: %w", err))
	}

	var (
		lastStatus int
		lastErr    error
		collected  []cookies.Cookie
	)
	for _, profile := range s.profiles {
		if ctx.Err() != nil {
			break
		}
		out, status, err := s.tryProfile(ctx, profile, target, req)
		if err != nil {
			lastErr = err
			continue
		}
		if out.Kind == OutcomeSuccess {
			return out
		}
		lastStatus = status
		collected = append(collected, out.Cookies...)
	}

	if lastStatus != 0 {
		return Blocked(lastStatus, collected, "")
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("impersonate: no profile could be tried")
	}
	return TransportError(lastErr)
}

// tryProfile performs one request with a fresh client for profile. A
// non-nil error means the profile never got a response.
func (s *Impersonate) tryProfile(ctx context.Context, profile string, target *url.URL, req *Request) (Outcome, int, error) {
	client, err := s.newClient(profile, s.timeout)
	if err != nil {
		return Outcome{}, 0, fmt.Errorf("impersonate: %s: new client: %w", profile, err)
	}

	body, contentType := req.payload()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := fhttp.NewRequestWithContext(ctx, req.method(), req.URL, rd)
	if err != nil {
		return Outcome{}, 0, fmt.Errorf("impersonate: build request: %w", err)
	}

	ua := req.Header("User-Agent")
	if ua == "" {
		ua = profileUserAgent(profile)
	}
	httpReq.Header.Set("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	httpReq.Header.Set("accept-language", "en-US,en;q=0.9")
	httpReq.Header.Set("accept-encoding", "gzip, deflate, br")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("user-agent", ua)
	if contentType != "" {
		httpReq.Header.Set("content-type", contentType)
	}
	if h := cookies.Header(req.Cookies); h != "" {
		httpReq.Header.Set("cookie", h)
	}
	httpReq.Header[fhttp.HeaderOrderKey] = []string{
		"accept",
		"accept-language",
		"accept-encoding",
		"content-type",
		"referer",
		"cookie",
		"user-agent",
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Outcome{}, 0, fmt.Errorf("impersonate: %s: %w", profile, err)
	}
	defer resp.Body.Close()

	rc := fhttp.DecompressBody(resp)
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxBody))
	if err != nil {
		return Outcome{}, 0, fmt.Errorf("impersonate: %s: read body: %w", profile, err)
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	got := changedCookies(req.Cookies, jarCookies(client.GetCookies(final), final.Hostname()))

	if resp.StatusCode != fhttp.StatusOK {
		return Blocked(resp.StatusCode, got, ""), resp.StatusCode, nil
	}
	return Success(&Response{
		StatusCode: resp.StatusCode,
		Header:     toNetHeader(resp.Header),
		Body:       data,
		FinalURL:   final.String(),
	}, got, ua), resp.StatusCode, nil
}

func jarCookies(in []*fhttp.Cookie, host string) []cookies.Cookie {
	out := make([]cookies.Cookie, 0, len(in))
	for _, c := range in {
		ck := cookies.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if ck.Domain == "" {
			ck.Domain = host
		}
		if ck.Path == "" {
			ck.Path = "/"
		}
		if !c.Expires.IsZero() {
			ck.Expires = c.Expires.Unix()
		}
		out = append(out, ck)
	}
	return out
}

func toNetHeader(h fhttp.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if k == fhttp.HeaderOrderKey || k == fhttp.PHeaderOrderKey {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}
