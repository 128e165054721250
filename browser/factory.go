package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/use-agent/clearance/config"
	"github.com/use-agent/clearance/models"
)

// Options are the per-driver launch options.
type Options struct {
	Headless bool

	// Block lists resource types the page never loads: "image",
	// "stylesheet", "font" or "media".
	Block []string

	// BlockTrackers fails requests to well-known ad and analytics hosts.
	BlockTrackers bool
}

// launchSpec is everything needed to start one engine.
type launchSpec struct {
	candidate
	Options
	NoSandbox bool
}

// Factory produces Drivers, trying each installed engine in turn and
// optionally downloading Chromium when none works.
type Factory struct {
	cfg config.BrowserConfig

	locate   locator
	launch   func(ctx context.Context, spec launchSpec) (Driver, error)
	download func(ctx context.Context) (string, error)
}

// NewFactory creates a Factory from the browser configuration.
func NewFactory(cfg config.BrowserConfig) *Factory {
	f := &Factory{cfg: cfg, locate: systemLocator()}
	f.launch = launchRod
	f.download = f.downloadChromium
	return f
}

// Create returns a driver from the first engine that launches. status, if
// non-nil, receives human-readable progress. The error is a
// *models.CodedError wrapping models.ErrDriverLaunch when every engine and
// the download fallback fail.
func (f *Factory) Create(ctx context.Context, opts Options, status func(string)) (Driver, error) {
	report := func(msg string) {
		slog.Debug("browser factory", "status", msg)
		if status != nil {
			status(msg)
		}
	}

	var errs []error
	for _, c := range f.locate.candidates(f.cfg.BrowserBin, f.cfg.CDPURL) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report("starting " + c.Engine + " browser")
		d, err := f.tryLaunch(ctx, launchSpec{candidate: c, Options: opts, NoSandbox: f.cfg.NoSandbox})
		if err == nil {
			slog.Info("browser ready", "engine", c.Engine, "bin", c.Bin)
			return d, nil
		}
		slog.Warn("browser engine failed", "engine", c.Engine, "bin", c.Bin, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", c.Engine, err))
	}

	if f.cfg.AllowDownload {
		report("downloading Chromium, this may take a while")
		bin, err := f.download(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EngineDownload, err))
		} else {
			report("starting downloaded Chromium")
			c := candidate{Engine: EngineDownload, Bin: bin}
			d, err := f.tryLaunch(ctx, launchSpec{candidate: c, Options: opts, NoSandbox: f.cfg.NoSandbox})
			if err == nil {
				slog.Info("browser ready", "engine", c.Engine, "bin", bin)
				return d, nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", EngineDownload, err))
		}
	} else if len(errs) == 0 {
		errs = append(errs, errors.New("no supported browser is installed and download is not allowed"))
	}

	return nil, models.NewCodedError(models.ErrCodeDriverLaunch, "no browser engine could be launched",
		fmt.Errorf("%w: %w", models.ErrDriverLaunch, errors.Join(errs...)))
}

// tryLaunch launches spec and retries once without the sandbox when the
// failure looks sandbox related.
func (f *Factory) tryLaunch(ctx context.Context, spec launchSpec) (Driver, error) {
	d, err := f.launch(ctx, spec)
	if err == nil || spec.NoSandbox || spec.CDPURL != "" || !isSandboxError(err) {
		return d, err
	}
	slog.Warn("browser sandbox unavailable, retrying with --no-sandbox", "engine", spec.Engine)
	spec.NoSandbox = true
	return f.launch(ctx, spec)
}

func isSandboxError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sandbox") || strings.Contains(msg, "running as root")
}

// downloadChromium fetches the pinned Chromium revision into CacheDir and
// returns the executable path. Each revision gets its own directory.
func (f *Factory) downloadChromium(ctx context.Context) (string, error) {
	b := launcher.NewBrowser()
	b.Context = ctx
	if f.cfg.Revision > 0 {
		b.Revision = f.cfg.Revision
	}
	dir := f.cfg.CacheDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "clearance", "browser")
	}
	// launcher.Browser keys its install directory by revision under RootDir.
	b.RootDir = dir
	if err := os.MkdirAll(b.RootDir, 0o755); err != nil {
		return "", fmt.Errorf("browser: cache dir: %w", err)
	}
	bin, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("browser: download revision %d: %w", b.Revision, err)
	}
	return bin, nil
}

// launchRod starts (or attaches to) a browser with go-rod and opens one
// stealth page on it.
func launchRod(_ context.Context, spec launchSpec) (Driver, error) {
	var (
		l          *launcher.Launcher
		controlURL string
		err        error
	)
	if spec.CDPURL != "" {
		controlURL, err = launcher.ResolveURL(spec.CDPURL)
		if err != nil {
			return nil, fmt.Errorf("resolve cdp url: %w", err)
		}
	} else {
		// The browser outlives ctx, so the launcher is not bound to it.
		l = applyLaunchFlags(launcher.New().Bin(spec.Bin), spec.Headless, spec.NoSandbox)
		controlURL, err = l.Launch()
		if err != nil {
			l.Cleanup()
			return nil, fmt.Errorf("launch: %w", err)
		}
	}

	b := rod.New().ControlURL(controlURL)
	if !spec.Headless {
		// Keep the real window size for a maximized window.
		b = b.NoDefaultDevice()
	}
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
			l.Cleanup()
		}
		return nil, fmt.Errorf("connect: %w", err)
	}

	page, err := stealth.Page(b)
	if err == nil {
		_, err = page.EvalOnNewDocument(fingerprintJS)
	}
	if err != nil {
		if l != nil {
			_ = b.Close()
			l.Kill()
			l.Cleanup()
		}
		return nil, fmt.Errorf("stealth page: %w", err)
	}
	return &rodDriver{
		engine:   spec.Engine,
		browser:  b,
		page:     page,
		launcher: l,
		router:   blockRequests(page, spec.Block, spec.BlockTrackers),
	}, nil
}
