// Package browsertest provides a scripted browser.Driver for tests.
package browsertest

import (
	"context"
	"sync"

	"github.com/use-agent/clearance/browser"
	"github.com/use-agent/clearance/cookies"
	"github.com/use-agent/clearance/models"
)

// Frame is what the fake browser shows at one point in time.
type Frame struct {
	URL     string
	Title   string
	HTML    string
	Cookies []cookies.Cookie
}

// Driver replays Frames. Every Cookies call moves to the next frame and
// stays on the last one; URL, Title and HTML report the current frame.
type Driver struct {
	mu sync.Mutex

	Frames      []Frame
	UA          string
	NavigateErr error

	// OnCookies, if set, is called with the zero-based index of each
	// Cookies call before it returns.
	OnCookies func(n int)

	cur         int
	calls       int
	closed      int
	navigations []string
	setCookies  []cookies.Cookie
	headers     map[string]string
}

var _ browser.Driver = (*Driver)(nil)

func (d *Driver) Engine() string { return "fake" }

func (d *Driver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed > 0 {
		return models.ErrBrowserClosed
	}
	d.navigations = append(d.navigations, url)
	return d.NavigateErr
}

func (d *Driver) frame() (Frame, error) {
	if d.closed > 0 {
		return Frame{}, models.ErrBrowserClosed
	}
	if len(d.Frames) == 0 {
		return Frame{}, nil
	}
	return d.Frames[d.cur], nil
}

func (d *Driver) URL() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.frame()
	return f.URL, err
}

func (d *Driver) Title() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.frame()
	return f.Title, err
}

func (d *Driver) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.frame()
	return f.HTML, err
}

func (d *Driver) Cookies() ([]cookies.Cookie, error) {
	d.mu.Lock()
	if d.closed > 0 {
		d.mu.Unlock()
		return nil, models.ErrBrowserClosed
	}
	n := d.calls
	d.calls++
	if n < len(d.Frames) {
		d.cur = n
	}
	f, _ := d.frame()
	hook := d.OnCookies
	d.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return append(append([]cookies.Cookie(nil), f.Cookies...), d.SetCookieLog()...), nil
}

func (d *Driver) SetCookies(cs []cookies.Cookie) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed > 0 {
		return models.ErrBrowserClosed
	}
	d.setCookies = append(d.setCookies, cs...)
	return nil
}

func (d *Driver) SetHeaders(h map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headers = h
	return nil
}

func (d *Driver) UserAgent() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed > 0 {
		return "", models.ErrBrowserClosed
	}
	return d.UA, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
	return nil
}

// Closed reports whether Close was called at least once.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed > 0
}

// Navigations returns the URLs passed to Navigate.
func (d *Driver) Navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigations...)
}

// SetCookieLog returns cookies passed to SetCookies.
func (d *Driver) SetCookieLog() []cookies.Cookie {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]cookies.Cookie(nil), d.setCookies...)
}

// Headers returns the last headers passed to SetHeaders.
func (d *Driver) Headers() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.headers
}

// Polls returns how many times Cookies was called.
func (d *Driver) Polls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Factory hands out a fixed driver, or Err.
type Factory struct {
	Driver *Driver
	Err    error

	mu      sync.Mutex
	creates int
	last    browser.Options
}

func (f *Factory) Create(_ context.Context, opts browser.Options, _ func(string)) (browser.Driver, error) {
	f.mu.Lock()
	f.creates++
	f.last = opts
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Driver, nil
}

// LastOptions returns the options of the latest Create call.
func (f *Factory) LastOptions() browser.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Creates returns the number of Create calls.
func (f *Factory) Creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}
