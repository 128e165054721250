// Package browser discovers, launches and drives a real browser for the
// strategies and the cookie harvest that need one.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/use-agent/clearance/cookies"
)

// Driver is an automatable browser page. Methods other than Close must be
// called from a single goroutine; Close may be called from any goroutine
// and more than once.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	URL() (string, error)
	HTML() (string, error)
	Title() (string, error)
	Cookies() ([]cookies.Cookie, error)
	SetCookies(cs []cookies.Cookie) error
	SetHeaders(h map[string]string) error
	UserAgent() (string, error)
	Close() error
	Engine() string
}

// rodDriver is a Driver backed by one go-rod page.
type rodDriver struct {
	engine   string
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher // nil when attached to a remote browser
	router   *rod.HijackRouter  // nil when nothing is blocked

	closeOnce sync.Once
	closeErr  error
}

func (d *rodDriver) Engine() string { return d.engine }

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		slog.Debug("page load wait failed", "url", url, "error", err)
	}
	return nil
}

func (d *rodDriver) URL() (string, error) {
	info, err := d.page.Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

func (d *rodDriver) Title() (string, error) {
	info, err := d.page.Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.Title, nil
}

func (d *rodDriver) HTML() (string, error) {
	html, err := d.page.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: html: %w", err)
	}
	return html, nil
}

func (d *rodDriver) Cookies() ([]cookies.Cookie, error) {
	raw, err := d.page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	out := make([]cookies.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := cookies.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			cookie.Expires = int64(c.Expires)
		}
		out = append(out, cookie)
	}
	return out, nil
}

func (d *rodDriver) SetCookies(cs []cookies.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cs))
	for _, c := range cs {
		if c.Name == "" || c.Domain == "" {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		params = append(params, p)
	}
	if len(params) == 0 {
		return nil
	}
	if err := d.page.SetCookies(params); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}

func (d *rodDriver) SetHeaders(h map[string]string) error {
	if len(h) == 0 {
		return nil
	}
	headers := make(proto.NetworkHeaders, len(h))
	for k, v := range h {
		// The user agent must go through the emulation domain to also
		// change navigator.userAgent.
		if strings.EqualFold(k, "User-Agent") {
			if err := (proto.NetworkSetUserAgentOverride{UserAgent: v}).Call(d.page); err != nil {
				return fmt.Errorf("browser: set user agent: %w", err)
			}
			continue
		}
		headers[k] = gson.New(v)
	}
	if len(headers) == 0 {
		return nil
	}
	if err := (proto.NetworkSetExtraHTTPHeaders{Headers: headers}).Call(d.page); err != nil {
		return fmt.Errorf("browser: set headers: %w", err)
	}
	return nil
}

func (d *rodDriver) UserAgent() (string, error) {
	res, err := d.page.Eval(`() => navigator.userAgent`)
	if err != nil {
		return "", fmt.Errorf("browser: user agent: %w", err)
	}
	return res.Value.Str(), nil
}

// Close tears the browser down. A local browser process is killed and its
// profile directory removed; a remote browser only loses our page.
func (d *rodDriver) Close() error {
	d.closeOnce.Do(func() {
		if d.router != nil {
			_ = d.router.Stop()
		}
		if d.launcher == nil {
			d.closeErr = d.page.Close()
			return
		}
		errc := make(chan error, 1)
		go func() { errc <- d.browser.Close() }()
		select {
		case d.closeErr = <-errc:
		case <-time.After(5 * time.Second):
			slog.Warn("browser close timed out, killing process", "engine", d.engine)
		}
		d.launcher.Kill()
		d.launcher.Cleanup()
	})
	return d.closeErr
}

// challengeTitles are page titles shown while an anti-bot check runs.
var challengeTitles = []string{
	"just a moment",
	"checking your browser",
	"attention required",
	"ddos-guard",
	"please wait",
	"bot kontrol",
}

// IsChallengeTitle reports whether title looks like an anti-bot
// interstitial.
func IsChallengeTitle(title string) bool {
	t := strings.ToLower(title)
	for _, ct := range challengeTitles {
		if strings.Contains(t, ct) {
			return true
		}
	}
	return false
}
