package main

import (
	"bytes"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/clearance/config"
	"github.com/use-agent/clearance/cookies"
	"github.com/use-agent/clearance/engine"
	"github.com/use-agent/clearance/harvest"
)

var sample = []cookies.Cookie{
	{Name: "cf_clearance", Value: "abc", Domain: ".example.com", Path: "/", Expires: 1900000000, Secure: true, HTTPOnly: true},
	{Name: "sid", Value: "xyz", Domain: "www.example.com", Path: "/"},
}

func TestCookieFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, writeCookieFile(path, sample, "Mozilla/5.0 Test"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), uaPrefix+"Mozilla/5.0 Test\n"))

	cs, ua, err := readCookieFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Mozilla/5.0 Test", ua)
	assert.Equal(t, sample, cs)
}

func TestFileUserAgent(t *testing.T) {
	assert.Empty(t, fileUserAgent("# Netscape HTTP Cookie File\n.a.com\tFALSE\t/\tFALSE\t0\tn\tv\n"))
	assert.Equal(t, "UA", fileUserAgent("# Netscape HTTP Cookie File\n# User-Agent: UA\r\n"))
	assert.Empty(t, fileUserAgent(".a.com\tFALSE\t/\tFALSE\t0\tn\tv\n# User-Agent: late\n"))
}

func TestReadCookieFile_Errors(t *testing.T) {
	_, _, err := readCookieFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("only\ttwo\n"), 0o600))
	_, _, err = readCookieFile(bad)
	assert.ErrorContains(t, err, "bad.txt")
}

func TestPrintCookies(t *testing.T) {
	var buf bytes.Buffer
	now := time.Unix(1950000000, 0)
	require.NoError(t, printCookies(&buf, sample, "UA", now))

	out := buf.String()
	assert.Contains(t, out, "user agent: UA")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "expired")
	assert.Contains(t, out, "session")
}

func TestCookiesShowCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, writeCookieFile(path, sample, "UA/3"))

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{"cookies", "show", "--json", path})
	require.NoError(t, root.Execute())

	assert.Contains(t, stdout.String(), `"user_agent": "UA/3"`)
	assert.Contains(t, stdout.String(), `"cf_clearance"`)
}

func TestFetchFlags_Request(t *testing.T) {
	f := &fetchFlags{method: "get", headers: []string{"Accept-Language: de", "X-Empty:"}, data: []string{"q=a b", "flag"}}
	req, err := f.request("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method, "form data implies POST")
	assert.Equal(t, "de", req.Headers["Accept-Language"])
	assert.Equal(t, "", req.Headers["X-Empty"])
	assert.Equal(t, "a b", req.Form.Get("q"))
	assert.True(t, req.Form.Has("flag"))

	_, err = (&fetchFlags{method: "GET", headers: []string{"nocolon"}}).request("https://example.com/")
	assert.Error(t, err)

	_, err = (&fetchFlags{method: "DELETE"}).request("https://example.com/")
	assert.Error(t, err)
}

func TestFetchFlags_Render(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	resp := &engine.Response{StatusCode: 200, Header: h, Body: []byte(`<html><body><h1>Title</h1><p>Hello</p></body></html>`), FinalURL: "https://example.com/"}

	body, err := (&fetchFlags{}).render(resp)
	require.NoError(t, err)
	assert.Equal(t, resp.Text(), body)

	body, err = (&fetchFlags{format: "text", selector: "p"}).render(resp)
	require.NoError(t, err)
	assert.Equal(t, "Hello", body)

	h.Set("Content-Type", "application/json")
	body, err = (&fetchFlags{format: "markdown"}).render(resp)
	require.NoError(t, err)
	assert.Equal(t, resp.Text(), body, "non-HTML bodies pass through")
}

func TestHarvestFlags_Apply(t *testing.T) {
	opts, err := harvest.OptionsFromConfig(config.HarvestConfig{
		OriginURL:       "https://a.test/",
		ChallengeURL:    "https://a.test/challenge",
		RequiredCookies: []string{"cf_clearance"},
		MaxWait:         time.Minute,
	}, nil)
	require.NoError(t, err)

	f := &harvestFlags{origin: "https://b.test/", consent: "ok=1", maxWait: time.Hour, anyURL: true}
	require.NoError(t, f.apply(&opts))
	assert.Equal(t, "https://b.test/", opts.OriginURL)
	assert.Empty(t, opts.ChallengeURL)
	assert.Equal(t, time.Hour, opts.MaxWait)
	assert.True(t, opts.SkipURLChange)
	assert.False(t, opts.Headless)
	require.NotNil(t, opts.ConsentCookie)
	assert.Equal(t, "ok", opts.ConsentCookie.Name)

	assert.Error(t, (&harvestFlags{consent: "novalue"}).apply(&opts))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestNewLogHandler_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clearance.log")
	h := newLogHandler(config.LogConfig{Level: "info", Format: "text", File: path, MaxSizeMB: 1}, os.Stderr)
	slog.New(h).Info("hello", "k", "v")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "msg=hello")
}
