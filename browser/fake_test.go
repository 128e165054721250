package browser

import (
	"context"

	"github.com/use-agent/clearance/cookies"
)

type nopDriver struct{ engine string }

func (d *nopDriver) Navigate(context.Context, string) error { return nil }
func (d *nopDriver) URL() (string, error) { return "", nil }
func (d *nopDriver) HTML() (string, error) { return "", nil }
func (d *nopDriver) Title() (string, error) { return "", nil }
func (d *nopDriver) Cookies() ([]cookies.Cookie, error) { return nil, nil }
func (d *nopDriver) SetCookies([]cookies.Cookie) error { return nil }
func (d *nopDriver) SetHeaders(map[string]string) error { return nil }
func (d *nopDriver) UserAgent() (string, error) { return "", nil }
func (d *nopDriver) Close() error { return nil }
func (d *nopDriver) Engine() string { return d.engine }
