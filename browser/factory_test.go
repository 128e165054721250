package browser

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/use-agent/clearance/config"
	"github.com/use-agent/clearance/models"
)

func fakeLocator(installed map[string]string, rodPath string) locator {
	return locator{
		goos:   "linux",
		getenv: func(string) string { return "" },
		lookPath: func(name string) (string, error) {
			if p, ok := installed[name]; ok {
				return p, nil
			}
			return "", exec.ErrNotFound
		},
		exists: func(string) bool { return false },
		rodLookPath: func() (string, bool) {
			return rodPath, rodPath != ""
		},
	}
}

func TestCandidates_Order(t *testing.T) {
	l := fakeLocator(map[string]string{
		"chromium":       "/usr/bin/chromium",
		"microsoft-edge": "/usr/bin/microsoft-edge",
		"google-chrome":  "/usr/bin/google-chrome",
	}, "/usr/bin/google-chrome")

	got := l.candidates("/opt/custom/chrome", "http://127.0.0.1:9222")
	require.Equal(t, []candidate{
		{Engine: EngineOverride, Bin: "/opt/custom/chrome"},
		{Engine: EngineChrome, Bin: "/usr/bin/google-chrome"},
		{Engine: EngineEdge, Bin: "/usr/bin/microsoft-edge"},
		{Engine: EngineRemote, CDPURL: "http://127.0.0.1:9222"},
		{Engine: EngineChromium, Bin: "/usr/bin/chromium"},
	}, got)
}

func TestCandidates_SnapChromium(t *testing.T) {
	l := fakeLocator(nil, "")
	l.exists = func(p string) bool { return p == "/snap/bin/chromium" }
	require.Equal(t, []candidate{{Engine: EngineChromium, Bin: "/snap/bin/chromium"}}, l.candidates("", ""))
}

func TestCreate_FallsThroughEngines(t *testing.T) {
	f := NewFactory(config.BrowserConfig{})
	f.locate = fakeLocator(map[string]string{
		"google-chrome":  "/usr/bin/google-chrome",
		"microsoft-edge": "/usr/bin/microsoft-edge",
	}, "")

	var tried []string
	f.launch = func(_ context.Context, spec launchSpec) (Driver, error) {
		tried = append(tried, spec.Engine)
		if spec.Engine == EngineChrome {
			return nil, errors.New("chrome crashed")
		}
		return &nopDriver{engine: spec.Engine}, nil
	}

	var statuses []string
	d, err := f.Create(context.Background(), Options{Headless: true}, func(s string) { statuses = append(statuses, s) })
	require.NoError(t, err)
	require.Equal(t, EngineEdge, d.Engine())
	require.Equal(t, []string{EngineChrome, EngineEdge}, tried)
	require.Len(t, statuses, 2)
}

func TestCreate_SandboxRetry(t *testing.T) {
	f := NewFactory(config.BrowserConfig{})
	f.locate = fakeLocator(map[string]string{"chromium": "/usr/bin/chromium"}, "")

	var sandboxFlags []bool
	f.launch = func(_ context.Context, spec launchSpec) (Driver, error) {
		require.Equal(t, []string{"font"}, spec.Block)
		sandboxFlags = append(sandboxFlags, spec.NoSandbox)
		if !spec.NoSandbox {
			return nil, errors.New("No usable sandbox! Update your kernel")
		}
		return &nopDriver{engine: spec.Engine}, nil
	}

	_, err := f.Create(context.Background(), Options{Block: []string{"font"}}, nil)
	require.NoError(t, err)
	require.Equal(t, []bool{false, true}, sandboxFlags)
}

func TestCreate_DownloadFallback(t *testing.T) {
	f := NewFactory(config.BrowserConfig{AllowDownload: true})
	f.locate = fakeLocator(nil, "")
	f.download = func(context.Context) (string, error) { return "/cache/chromium-1321438/chrome", nil }

	var bins []string
	f.launch = func(_ context.Context, spec launchSpec) (Driver, error) {
		bins = append(bins, spec.Bin)
		return &nopDriver{engine: spec.Engine}, nil
	}

	d, err := f.Create(context.Background(), Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, EngineDownload, d.Engine())
	require.Equal(t, []string{"/cache/chromium-1321438/chrome"}, bins)
}

func TestCreate_NothingAvailable(t *testing.T) {
	f := NewFactory(config.BrowserConfig{AllowDownload: false})
	f.locate = fakeLocator(nil, "")
	downloaded := false
	f.download = func(context.Context) (string, error) { downloaded = true; return "", nil }
	f.launch = func(context.Context, launchSpec) (Driver, error) {
		t.Fatal("launch must not be called")
		return nil, nil
	}

	d, err := f.Create(context.Background(), Options{}, nil)
	require.Nil(t, d)
	require.False(t, downloaded)
	require.ErrorIs(t, err, models.ErrDriverLaunch)

	var ce *models.CodedError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, models.ErrCodeDriverLaunch, ce.Code)
}

func TestCreate_DownloadFails(t *testing.T) {
	f := NewFactory(config.BrowserConfig{AllowDownload: true})
	f.locate = fakeLocator(map[string]string{"chromium": "/usr/bin/chromium"}, "")
	f.launch = func(context.Context, launchSpec) (Driver, error) { return nil, errors.New("exit status 1") }
	f.download = func(context.Context) (string, error) { return "", errors.New("network unreachable") }

	_, err := f.Create(context.Background(), Options{}, nil)
	require.ErrorIs(t, err, models.ErrDriverLaunch)
	require.Contains(t, err.Error(), "network unreachable")
	require.Contains(t, err.Error(), "exit status 1")
}

func TestIsChallengeTitle(t *testing.T) {
	require.True(t, IsChallengeTitle("Just a moment..."))
	require.True(t, IsChallengeTitle("Bot Kontrol"))
	require.False(t, IsChallengeTitle("Episode 12"))
}
