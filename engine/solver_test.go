package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/use-agent/clearance/cookies"
)

// fakeSolver serves the FlareSolverr v1 endpoint with a canned reply.
func fakeSolver(t *testing.T, status int, reply map[string]any, seen *solverRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func okSolution() map[string]any {
	return map[string]any{
		"status":  "ok",
		"message": "Challenge solved!",
		"solution": map[string]any{
			"url":       "https://example.com/landing",
			"status":    200,
			"headers":   map[string]string{"X-Origin": "edge"},
			"response":  "<html>solved</html>",
			"userAgent": "Mozilla/5.0 Solver",
			"cookies": []map[string]any{
				{"name": "cf_clearance", "value": "tok", "domain": ".example.com", "path": "/", "expires": 1893456000.5, "secure": true, "httpOnly": true},
				{"name": "empty", "value": "", "domain": ".example.com", "path": "/"},
			},
		},
	}
}

func TestSolverAttempt_Get(t *testing.T) {
	var seen solverRequest
	srv := fakeSolver(t, http.StatusOK, okSolution(), &seen)

	s := NewSolver(srv.URL+"/", 30*time.Second)
	out := s.Attempt(context.Background(), &Request{
		Method:  http.MethodGet,
		URL:     "https://example.com/",
		Cookies: []cookies.Cookie{{Name: "sid", Value: "1", Domain: "example.com", Path: "/"}},
	})
	require.Equal(t, OutcomeSuccess, out.Kind)

	require.Equal(t, "request.get", seen.Cmd)
	require.Equal(t, "https://example.com/", seen.URL)
	require.Equal(t, int64(30000), seen.MaxTimeout)
	require.Equal(t, []solverRequestCookie{{Name: "sid", Value: "1", Domain: "example.com", Path: "/"}}, seen.Cookies)

	resp := out.Response
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>solved</html>", resp.Text())
	require.Equal(t, "https://example.com/landing", resp.FinalURL)
	require.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Equal(t, "edge", resp.Header.Get("X-Origin"))

	require.Equal(t, "Mozilla/5.0 Solver", out.UserAgent)
	require.Equal(t, []cookies.Cookie{{
		Name: "cf_clearance", Value: "tok", Domain: ".example.com", Path: "/",
		Expires: 1893456000, Secure: true, HTTPOnly: true,
	}}, out.Cookies)
}

func TestSolverAttempt_Post(t *testing.T) {
	var seen solverRequest
	srv := fakeSolver(t, http.StatusOK, okSolution(), &seen)

	out := NewSolver(srv.URL, 0).Attempt(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    "https://example.com/search",
		Form:   url.Values{"q": {"a b"}},
	})
	require.Equal(t, OutcomeSuccess, out.Kind)
	require.Equal(t, "request.post", seen.Cmd)
	require.Equal(t, "q=a+b", seen.PostData)
	require.Equal(t, int64(60000), seen.MaxTimeout)
}

func TestSolverAttempt_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  map[string]any
	}{
		{"status error", http.StatusOK, map[string]any{"status": "error", "message": "Timeout after 60.0 seconds."}},
		{"origin blocked", http.StatusOK, map[string]any{"status": "ok", "solution": map[string]any{"status": 403}}},
		{"http 500", http.StatusInternalServerError, map[string]any{"status": "error", "message": "Error solving the challenge."}},
		{"http 500 empty", http.StatusInternalServerError, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeSolver(t, tt.status, tt.reply, nil)
			out := NewSolver(srv.URL, time.Second).Attempt(context.Background(), &Request{URL: "https://example.com/"})
			require.Equal(t, OutcomeTransportError, out.Kind)
			require.True(t, errors.Is(out.Err, ErrSolverFailed), "got %v", out.Err)
		})
	}
}

func TestSolverAttempt_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	out := NewSolver(base, time.Second).Attempt(context.Background(), &Request{URL: "https://example.com/"})
	require.Equal(t, OutcomeTransportError, out.Kind)
	require.False(t, errors.Is(out.Err, ErrSolverFailed))
}

func TestSolverAttempt_UnsupportedMethod(t *testing.T) {
	out := NewSolver("http://127.0.0.1:1", time.Second).Attempt(context.Background(), &Request{Method: http.MethodPut, URL: "https://example.com/"})
	require.Equal(t, OutcomeUnavailable, out.Kind)
}
