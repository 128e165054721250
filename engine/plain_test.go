package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/use-agent/clearance/cookies"
)

func TestPlainAttempt_BlockedThenCleared(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("__cf_bm"); err == nil && c.Value == "abc" {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>welcome</html>"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "__cf_bm", Value: "abc", Path: "/", HttpOnly: true})
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewPlain(5 * time.Second)
	out := p.Attempt(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/"})
	require.Equal(t, OutcomeBlocked, out.Kind)
	require.Equal(t, http.StatusForbidden, out.Status)
	require.Len(t, out.Cookies, 1)
	require.Equal(t, "__cf_bm", out.Cookies[0].Name)
	require.True(t, out.Cookies[0].HTTPOnly)
	require.Equal(t, "127.0.0.1", out.Cookies[0].Domain)
	require.Empty(t, out.UserAgent)

	out = p.Attempt(context.Background(), &Request{
		Method:  http.MethodGet,
		URL:     srv.URL + "/",
		Headers: map[string]string{"User-Agent": "UA/plain"},
		Cookies: out.Cookies,
	})
	require.Equal(t, OutcomeSuccess, out.Kind)
	require.Equal(t, "<html>welcome</html>", out.Response.Text())
	require.Equal(t, srv.URL+"/", out.Response.FinalURL)
	require.Equal(t, "UA/plain", out.UserAgent)
}

func TestPlainAttempt_FormPost(t *testing.T) {
	var got url.Values
	var gotUA, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		gotUA = r.UserAgent()
		gotType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	out := NewPlain(5*time.Second).Attempt(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Form:   url.Values{"q": {"clearance"}},
	})
	require.Equal(t, OutcomeSuccess, out.Kind)
	require.Equal(t, "clearance", got.Get("q"))
	require.Equal(t, "application/x-www-form-urlencoded", gotType)
	require.Contains(t, userAgents, gotUA)
	require.Equal(t, gotUA, out.UserAgent)
}

func TestPlainAttempt_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	out := NewPlain(time.Second).Attempt(context.Background(), &Request{URL: target})
	require.Equal(t, OutcomeTransportError, out.Kind)
	require.Error(t, out.Err)
}

func TestPlainAttempt_SendsCookieHeader(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Cookie")
	}))
	defer srv.Close()

	NewPlain(time.Second).Attempt(context.Background(), &Request{
		URL:     srv.URL,
		Cookies: []cookies.Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}},
	})
	require.Equal(t, "a=1; b=2", header)
}
