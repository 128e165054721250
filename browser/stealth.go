package browser

import (
	"runtime"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

// fingerprintJS runs before any page script and covers the properties
// go-rod/stealth leaves to the embedder.
const fingerprintJS = `(() => {
	try {
		Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	} catch (e) {}
	try {
		if (!window.chrome) { window.chrome = { runtime: {} }; }
	} catch (e) {}
	try {
		if (!navigator.plugins || navigator.plugins.length === 0) {
			Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
		}
	} catch (e) {}
	try {
		Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
	} catch (e) {}
})();`

// applyLaunchFlags sets the window and anti-automation flags on l.
func applyLaunchFlags(l *launcher.Launcher, headless, noSandbox bool) *launcher.Launcher {
	l = l.Headless(headless).NoSandbox(noSandbox)
	if !headless {
		l.Set(flags.Flag("start-maximized"))
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("no-default-browser-check"))
	if runtime.GOOS == "linux" {
		l.Set(flags.Flag("disable-dev-shm-usage"))
	}
	return l
}
