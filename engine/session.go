package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/use-agent/clearance/browser"
	"github.com/use-agent/clearance/config"
	"github.com/use-agent/clearance/cookies"
	"github.com/use-agent/clearance/models"
)

// SessionConfig controls retry behaviour of a Session.
type SessionConfig struct {
	// MaxRetries is the number of full rounds over every strategy.
	MaxRetries int // default: 3

	// RetryDelay is the base delay between rounds. The wait before round
	// n+1 is RetryDelay*(n+1) plus jitter in [0, RetryDelay/2).
	RetryDelay time.Duration

	// Sticky tries the strategy that last succeeded for a host first.
	Sticky bool

	// Jar is the cookie jar to share. Nil creates a fresh one.
	Jar *cookies.Jar
}

// Session runs a request through an ordered list of strategies, sharing
// one cookie jar across every attempt and every call.
//
// A Session is safe for concurrent use; cookie merges happen under the
// jar's lock.
type Session struct {
	strategies []Strategy
	caps       []Capability
	jar        *cookies.Jar
	maxRetries int
	retryDelay time.Duration
	memory     *HostMemory

	mu         sync.Mutex
	lastMethod string

	// test seams
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// NewSession creates a Session over strategies, which are tried in the
// given order.
func NewSession(cfg SessionConfig, strategies ...Strategy) *Session {
	s := &Session{
		strategies: strategies,
		jar:        cfg.Jar,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		sleep:      sleepCtx,
		jitter:     randomJitter,
	}
	if s.jar == nil {
		s.jar = cookies.NewJar()
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 3
	}
	if cfg.Sticky {
		s.memory = NewHostMemory(time.Hour)
	}
	for _, st := range strategies {
		s.caps = append(s.caps, Capability{Name: st.Name(), Available: true})
	}
	return s
}

// NewSessionFromConfig builds the registered strategies from cfg and
// returns a Session over them.
func NewSessionFromConfig(cfg *config.Config, f DriverFactory) *Session {
	strategies, caps := Build(OptionsFromConfig(cfg, f))
	s := NewSession(SessionConfig{
		MaxRetries: cfg.Bypass.MaxRetries,
		RetryDelay: cfg.Bypass.RetryDelay,
		Sticky:     cfg.Bypass.StickyStrategy,
	}, strategies...)
	s.caps = caps
	return s
}

var (
	defaultOnce    sync.Once
	defaultSession *Session
)

// Default returns a process-wide Session built from config.Load on first
// use. Callers that need isolation should construct their own Session.
func Default() *Session {
	defaultOnce.Do(func() {
		cfg := config.Load()
		defaultSession = NewSessionFromConfig(cfg, browser.NewFactory(cfg.Browser))
	})
	return defaultSession
}

// Fetch sends req through the cascade. It returns the first 200 response,
// or a *models.BypassFailure once every strategy has been tried in every
// round. ctx is checked between attempts and during inter-round waits.
func (s *Session) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == "" {
		return nil, models.NewCodedError(models.ErrCodeInvalidInput, "request URL is required", nil)
	}
	if u, err := url.Parse(req.URL); err != nil || u.Host == "" {
		return nil, models.NewCodedError(models.ErrCodeInvalidInput, "invalid request URL "+req.URL, err)
	}

	start := time.Now()
	host := req.host()
	var attempts []models.AttemptRecord

	for round := 0; round < s.maxRetries; round++ {
		for _, st := range s.order(host, round) {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("engine: fetch %s: %w", req.URL, err)
			}

			out := st.Attempt(ctx, s.prepare(req))
			if out.Kind == OutcomeSuccess && (out.Response == nil || out.Response.StatusCode != http.StatusOK) {
				status := 0
				if out.Response != nil {
					status = out.Response.StatusCode
				}
				out = Blocked(status, out.Cookies, out.UserAgent)
			}

			rec := models.AttemptRecord{Round: round + 1, Strategy: st.Name(), Outcome: out.Kind.String()}
			switch out.Kind {
			case OutcomeSuccess:
				s.jar.Merge(out.Cookies, out.UserAgent)
				resp := out.Response
				resp.Strategy = st.Name()
				s.setLastMethod(st.Name())
				if s.memory != nil {
					s.memory.Set(host, st.Name())
				}
				slog.Info("bypass succeeded", "url", req.URL, "strategy", st.Name(), "round", round+1,
					"elapsed", time.Since(start))
				return resp, nil

			case OutcomeBlocked:
				s.jar.Merge(out.Cookies, out.UserAgent)
				rec.Status = out.Status
				if out.Err != nil {
					rec.Detail = out.Err.Error()
				}
				attempts = append(attempts, rec)
				slog.Debug("strategy blocked", "url", req.URL, "strategy", st.Name(), "round", round+1, "status", out.Status)

			case OutcomeUnavailable:
				slog.Debug("strategy unavailable", "url", req.URL, "strategy", st.Name(), "reason", out.Reason)

			case OutcomeTransportError:
				if out.Err != nil {
					rec.Detail = out.Err.Error()
				}
				attempts = append(attempts, rec)
				slog.Warn("strategy transport error", "url", req.URL, "strategy", st.Name(), "round", round+1, "error", out.Err)
			}
		}

		if s.memory != nil && round == 0 {
			s.memory.Delete(host)
		}
		if round < s.maxRetries-1 {
			if err := s.sleep(ctx, s.backoff(round)); err != nil {
				return nil, fmt.Errorf("engine: fetch %s: %w", req.URL, err)
			}
		}
	}

	failure := &models.BypassFailure{
		URL:      req.URL,
		Rounds:   s.maxRetries,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
	slog.Error("bypass failed", "url", req.URL, "rounds", s.maxRetries, "strategies", failure.Strategies(),
		"elapsed", failure.Elapsed)
	return nil, failure
}

// Get fetches rawURL with GET.
func (s *Session) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return s.Fetch(ctx, &Request{Method: http.MethodGet, URL: rawURL, Headers: headers})
}

// Post fetches rawURL with a url-encoded form POST.
func (s *Session) Post(ctx context.Context, rawURL string, headers map[string]string, form url.Values) (*Response, error) {
	return s.Fetch(ctx, &Request{Method: http.MethodPost, URL: rawURL, Headers: headers, Form: form})
}

// backoff returns the wait after the zero-based round.
func (s *Session) backoff(round int) time.Duration {
	if s.retryDelay <= 0 {
		return 0
	}
	return s.retryDelay*time.Duration(round+1) + s.jitter(s.retryDelay/2)
}

// order returns the strategies for one round. A sticky session moves the
// remembered strategy to the front of the first round only.
func (s *Session) order(host string, round int) []Strategy {
	if s.memory == nil || round > 0 {
		return s.strategies
	}
	name := s.memory.Get(host)
	if name == "" {
		return s.strategies
	}
	ordered := make([]Strategy, 0, len(s.strategies))
	for _, st := range s.strategies {
		if st.Name() == name {
			ordered = append(ordered, st)
		}
	}
	for _, st := range s.strategies {
		if st.Name() != name {
			ordered = append(ordered, st)
		}
	}
	return ordered
}

// prepare clones req for one attempt and applies the jar. Cookies the
// caller set explicitly win over jar cookies of the same name.
func (s *Session) prepare(req *Request) *Request {
	r := req.Clone()
	r.Method = req.method()

	merged := cookies.NewJar()
	merged.Merge(s.jar.Snapshot(), "")
	merged.Merge(req.Cookies, "")
	r.Cookies = merged.Snapshot()

	if r.Header("User-Agent") == "" {
		if ua := s.jar.UserAgent(); ua != "" {
			r.SetHeader("User-Agent", ua)
		}
	}
	return r
}

func (s *Session) setLastMethod(name string) {
	s.mu.Lock()
	s.lastMethod = name
	s.mu.Unlock()
}

// LastMethod returns the name of the strategy that produced the most
// recent successful response.
func (s *Session) LastMethod() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMethod
}

// Jar returns the session's cookie jar.
func (s *Session) Jar() *cookies.Jar { return s.jar }

// Cookies returns a snapshot of the collected cookies.
func (s *Session) Cookies() []cookies.Cookie { return s.jar.Snapshot() }

// UserAgent returns the user agent captured into the jar.
func (s *Session) UserAgent() string { return s.jar.UserAgent() }

// Strategies returns the active strategy names in cascade order.
func (s *Session) Strategies() []string {
	names := make([]string, 0, len(s.strategies))
	for _, st := range s.strategies {
		names = append(names, st.Name())
	}
	return names
}

// Capabilities returns the availability of every known strategy as
// evaluated when the session was built.
func (s *Session) Capabilities() []Capability {
	return append([]Capability(nil), s.caps...)
}

// ImportNetscape merges a Netscape cookie file and its user agent into
// the jar.
func (s *Session) ImportNetscape(text, userAgent string) (int, error) {
	return s.jar.ImportNetscapeString(text, userAgent)
}

// ExportNetscape renders the jar as a Netscape cookie file.
func (s *Session) ExportNetscape() string {
	return s.jar.ExportNetscape()
}

// Close releases strategy resources such as a running browser.
func (s *Session) Close() error {
	if s.memory != nil {
		s.memory.Stop()
	}
	var firstErr error
	for _, st := range s.strategies {
		if c, ok := st.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
