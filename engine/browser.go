package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/clearance/browser"
	"github.com/use-agent/clearance/cookies"
)

func init() {
	Register(Registration{
		Name:     NameBrowser,
		Priority: 40,
		Available: func(opts Options) (bool, string) {
			if opts.Browser == nil {
				return false, "no browser factory configured"
			}
			return true, ""
		},
		New: func(opts Options) (Strategy, error) {
			launch := browser.Options{
				Headless:      opts.Headless,
				Block:         opts.BrowserBlock,
				BlockTrackers: opts.BrowserBlockTrackers,
			}
			return NewBrowser(opts.Browser, launch, opts.BrowserSettle, opts.BrowserChallengeWait), nil
		},
	})
}

// Browser fetches pages with a real browser. The browser is started on
// first use and kept until Close; launch failure makes the strategy
// unavailable for the rest of the session.
type Browser struct {
	factory       DriverFactory
	launch        browser.Options
	settle        time.Duration
	challengeWait time.Duration
	pollEvery     time.Duration
	sleep         func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	driver    browser.Driver
	launchErr error
}

// NewBrowser creates the browser strategy. launch is passed to the factory
// whenever a browser is started.
func NewBrowser(f DriverFactory, launch browser.Options, settle, challengeWait time.Duration) *Browser {
	return &Browser{
		factory:       f,
		launch:        launch,
		settle:        settle,
		challengeWait: challengeWait,
		pollEvery:     500 * time.Millisecond,
		sleep:         sleepCtx,
	}
}

func (b *Browser) Name() string { return NameBrowser }

func (b *Browser) Attempt(ctx context.Context, req *Request) Outcome {
	if req.method() != http.MethodGet {
		return Unavailable("browser strategy supports GET only")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	d, err := b.ensure(ctx)
	if err != nil {
		return Unavailable(fmt.Sprintf("no browser: %v", err))
	}

	host := req.host()
	seed := make([]cookies.Cookie, 0, len(req.Cookies))
	for _, c := range req.Cookies {
		if c.Domain == "" {
			c.Domain = host
		}
		seed = append(seed, c)
	}
	if err := d.SetCookies(seed); err != nil {
		return b.fail(fmt.Errorf("browser: %w", err))
	}
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		if strings.EqualFold(k, "Cookie") || strings.EqualFold(k, "Host") {
			continue
		}
		headers[k] = v
	}
	if err := d.SetHeaders(headers); err != nil {
		return b.fail(fmt.Errorf("browser: %w", err))
	}

	if err := d.Navigate(ctx, req.URL); err != nil {
		return b.fail(err)
	}
	if err := b.sleep(ctx, b.settle); err != nil {
		return TransportError(fmt.Errorf("browser: %w", err))
	}

	challenged, err := b.waitChallenge(ctx, d)
	if err != nil {
		return b.fail(err)
	}

	got, err := d.Cookies()
	if err != nil {
		return b.fail(err)
	}
	ua, _ := d.UserAgent()
	if challenged {
		return Blocked(http.StatusForbidden, got, "")
	}

	html, err := d.HTML()
	if err != nil {
		return b.fail(err)
	}
	final, err := d.URL()
	if err != nil || final == "" {
		final = req.URL
	}
	// A rendered page has no status line; reaching it counts as 200.
	return Success(&Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(html),
		FinalURL:   final,
	}, got, ua)
}

// waitChallenge polls the title until it stops looking like an anti-bot
// interstitial or challengeWait passes. It reports whether the challenge
// is still showing.
func (b *Browser) waitChallenge(ctx context.Context, d browser.Driver) (bool, error) {
	deadline := time.Now().Add(b.challengeWait)
	for {
		title, err := d.Title()
		if err != nil {
			return false, err
		}
		if !browser.IsChallengeTitle(title) {
			return false, nil
		}
		if !time.Now().Before(deadline) {
			return true, nil
		}
		if err := b.sleep(ctx, b.pollEvery); err != nil {
			return true, nil
		}
	}
}

// ensure returns the running driver, launching it on first use.
func (b *Browser) ensure(ctx context.Context) (browser.Driver, error) {
	if b.driver != nil {
		return b.driver, nil
	}
	if b.launchErr != nil {
		return nil, b.launchErr
	}
	d, err := b.factory.Create(ctx, b.launch, nil)
	if err != nil {
		// An interrupted launch says nothing about the machine; only real
		// launch failures disable the strategy.
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			b.launchErr = err
		}
		return nil, err
	}
	b.driver = d
	return d, nil
}

// fail discards the driver after a browser error so the next attempt
// starts a fresh one.
func (b *Browser) fail(err error) Outcome {
	if b.driver != nil {
		_ = b.driver.Close()
		b.driver = nil
	}
	return TransportError(err)
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.driver == nil {
		return nil
	}
	err := b.driver.Close()
	b.driver = nil
	return err
}
