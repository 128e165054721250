package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/use-agent/clearance/cookies"
	"github.com/use-agent/clearance/models"
)

// fakeStrategy replays outcomes in order; the last one repeats.
type fakeStrategy struct {
	name     string
	outcomes []Outcome
	hook     func(req *Request)

	mu     sync.Mutex
	seen   []*Request
	closed bool
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Attempt(_ context.Context, req *Request) Outcome {
	f.mu.Lock()
	n := len(f.seen)
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(req)
	}
	if n >= len(f.outcomes) {
		n = len(f.outcomes) - 1
	}
	return f.outcomes[n]
}

func (f *fakeStrategy) Close() error {
	f.closed = true
	return nil
}

func (f *fakeStrategy) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *fakeStrategy) request(i int) *Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[i]
}

func okResponse(body string) *Response {
	return &Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(body)}
}

func newTestSession(cfg SessionConfig, strategies ...Strategy) (*Session, *[]time.Duration) {
	s := NewSession(cfg, strategies...)
	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	s.jitter = func(max time.Duration) time.Duration { return max / 4 }
	return s, &sleeps
}

func cookieNames(cs []cookies.Cookie) []string {
	return cookies.Names(cs)
}

func TestSessionFetch_BlockedThenSuccess(t *testing.T) {
	a := &fakeStrategy{name: "a", outcomes: []Outcome{
		Blocked(http.StatusForbidden, []cookies.Cookie{{Name: "__cf_bm", Value: "x", Domain: "example.com", Path: "/"}}, ""),
	}}
	b := &fakeStrategy{name: "b", outcomes: []Outcome{
		Success(okResponse("hello"), []cookies.Cookie{{Name: "cf_clearance", Value: "y", Domain: ".example.com", Path: "/"}}, "UA/1"),
	}}
	s, sleeps := newTestSession(SessionConfig{MaxRetries: 3, RetryDelay: time.Second}, a, b)

	resp, err := s.Get(context.Background(), "https://example.com/", nil)
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Text())
	require.Equal(t, "b", resp.Strategy)
	require.Equal(t, "b", s.LastMethod())
	require.Empty(t, *sleeps)

	// a's cookie was visible to b in the same call.
	require.Equal(t, []string{"__cf_bm"}, cookieNames(b.request(0).Cookies))
	require.Equal(t, []string{"__cf_bm", "cf_clearance"}, cookieNames(s.Cookies()))
	require.Equal(t, "UA/1", s.UserAgent())
}

func TestSessionFetch_ExhaustsEveryRound(t *testing.T) {
	a := &fakeStrategy{name: "a", outcomes: []Outcome{Blocked(http.StatusForbidden, nil, "")}}
	b := &fakeStrategy{name: "b", outcomes: []Outcome{TransportError(errors.New("connection reset"))}}
	s, sleeps := newTestSession(SessionConfig{MaxRetries: 3, RetryDelay: time.Second}, a, b)

	_, err := s.Get(context.Background(), "https://example.com/", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, models.ErrBypassFailed)

	var bf *models.BypassFailure
	require.ErrorAs(t, err, &bf)
	require.Equal(t, 3, bf.Rounds)
	require.Len(t, bf.Attempts, 6)
	require.Equal(t, []string{"a", "b"}, bf.Strategies())
	require.Equal(t, "connection reset", bf.Attempts[1].Detail)
	require.Equal(t, http.StatusForbidden, bf.Attempts[0].Status)
	require.Equal(t, 3, bf.Attempts[5].Round)

	require.Equal(t, 3, a.calls())
	require.Equal(t, 3, b.calls())

	// No wait after the last round; waits grow round over round.
	require.Equal(t, []time.Duration{
		time.Second + 125*time.Millisecond,
		2*time.Second + 125*time.Millisecond,
	}, *sleeps)
	require.Empty(t, s.LastMethod())
}

func TestSessionFetch_NonOKSuccessIsBlocked(t *testing.T) {
	a := &fakeStrategy{name: "a", outcomes: []Outcome{
		Success(&Response{StatusCode: http.StatusServiceUnavailable}, nil, ""),
	}}
	b := &fakeStrategy{name: "b", outcomes: []Outcome{Success(okResponse("ok"), nil, "")}}
	s, _ := newTestSession(SessionConfig{MaxRetries: 1}, a, b)

	resp, err := s.Get(context.Background(), "https://example.com/", nil)
	require.NoError(t, err)
	require.Equal(t, "b", resp.Strategy)
}

func TestSessionFetch_UnavailableNotRecorded(t *testing.T) {
	a := &fakeStrategy{name: "a", outcomes: []Outcome{Unavailable("not installed")}}
	b := &fakeStrategy{name: "b", outcomes: []Outcome{Blocked(http.StatusTooManyRequests, nil, "")}}
	s, _ := newTestSession(SessionConfig{MaxRetries: 2}, a, b)

	_, err := s.Get(context.Background(), "https://example.com/", nil)
	var bf *models.BypassFailure
	require.ErrorAs(t, err, &bf)
	require.Equal(t, []string{"b"}, bf.Strategies())
	require.Len(t, bf.Attempts, 2)
	require.Equal(t, 2, a.calls())
}

func TestSessionFetch_CookiesPersistAcrossCalls(t *testing.T) {
	a := &fakeStrategy{name: "a", outcomes: []Outcome{
		Success(okResponse("first"), []cookies.Cookie{{Name: "sid", Value: "1", Domain: "example.com", Path: "/"}}, "UA/2"),
		Success(okResponse("second"), nil, ""),
	}}
	s, _ := newTestSession(SessionConfig{MaxRetries: 1}, a)

	_, err := s.Get(context.Background(), "https://example.com/a", nil)
	require.NoError(t, err)
	_, err = s.Fetch(context.Background(), &Request{
		URL:     "https://example.com/b",
		Cookies: []cookies.Cookie{{Name: "pref", Value: "dark"}},
	})
	require.NoError(t, err)

	second := a.request(1)
	require.Equal(t, []string{"pref", "sid"}, cookieNames(second.Cookies))
	require.Equal(t, "UA/2", second.Header("User-Agent"))
	require.Equal(t, http.MethodGet, second.Method)
}

func TestSessionFetch_CallerCookieWins(t *testing.T) {
	a := &fakeStrategy{name: "a", outcomes: []Outcome{Success(okResponse(""), nil, "")}}
	jar := cookies.NewJar()
	jar.Set(cookies.Cookie{Name: "sid", Value: "old"})
	s, _ := newTestSession(SessionConfig{MaxRetries: 1, Jar: jar}, a)

	_, err := s.Fetch(context.Background(), &Request{
		URL:     "https://example.com/",
		Cookies: []cookies.Cookie{{Name: "sid", Value: "new"}},
		Headers: map[string]string{"user-agent": "Mine/1"},
	})
	require.NoError(t, err)
	got := a.request(0)
	require.Equal(t, "new", got.Cookies[0].Value)
	require.Equal(t, "Mine/1", got.Header("User-Agent"))
}

func TestSessionFetch_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeStrategy{name: "a", outcomes: []Outcome{Blocked(http.StatusForbidden, nil, "")}, hook: func(*Request) { cancel() }}
	b := &fakeStrategy{name: "b", outcomes: []Outcome{Success(okResponse(""), nil, "")}}
	s, _ := newTestSession(SessionConfig{MaxRetries: 3}, a, b)

	_, err := s.Get(ctx, "https://example.com/", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, b.calls())
}

func TestSessionFetch_InvalidURL(t *testing.T) {
	s, _ := newTestSession(SessionConfig{})
	for _, raw := range []string{"", "not a url", "/relative"} {
		_, err := s.Get(context.Background(), raw, nil)
		var ce *models.CodedError
		require.ErrorAs(t, err, &ce, raw)
		require.Equal(t, models.ErrCodeInvalidInput, ce.Code)
	}
}

func TestSessionFetch_StickyStrategy(t *testing.T) {
	a := &fakeStrategy{name: "a", outcomes: []Outcome{Blocked(http.StatusForbidden, nil, "")}}
	b := &fakeStrategy{name: "b", outcomes: []Outcome{Success(okResponse(""), nil, "")}}
	s, _ := newTestSession(SessionConfig{MaxRetries: 2, Sticky: true}, a, b)
	defer s.Close()

	_, err := s.Get(context.Background(), "https://example.com/1", nil)
	require.NoError(t, err)
	require.Equal(t, 1, a.calls())

	_, err = s.Get(context.Background(), "https://example.com/2", nil)
	require.NoError(t, err)
	require.Equal(t, 1, a.calls(), "remembered strategy runs first")
	require.Equal(t, 2, b.calls())

	// Other hosts keep the configured order.
	_, err = s.Get(context.Background(), "https://other.example/", nil)
	require.NoError(t, err)
	require.Equal(t, 2, a.calls())
}

func TestSessionNetscapeRoundTrip(t *testing.T) {
	s, _ := newTestSession(SessionConfig{})
	n, err := s.ImportNetscape(".example.com\tFALSE\t/\tTRUE\t0\tcf_clearance\tabc\n", "UA/3")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "UA/3", s.UserAgent())
	require.Contains(t, s.ExportNetscape(), "cf_clearance\tabc")
}

func TestSessionClose(t *testing.T) {
	a := &fakeStrategy{name: "a", outcomes: []Outcome{Unavailable("")}}
	s, _ := newTestSession(SessionConfig{}, a)
	require.NoError(t, s.Close())
	require.True(t, a.closed)
	require.Equal(t, []string{"a"}, s.Strategies())
}
