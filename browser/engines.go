package browser

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"
)

// Engine names, in the order Create tries them.
const (
	EngineOverride = "override"
	EngineChrome   = "chrome"
	EngineEdge     = "edge"
	EngineRemote   = "remote"
	EngineChromium = "chromium"
	EngineDownload = "download"
)

// candidate is one engine Create can try: a local binary or a remote CDP
// endpoint.
type candidate struct {
	Engine string
	Bin    string
	CDPURL string
}

// locator finds installed browsers. Its functions are swapped in tests.
type locator struct {
	goos        string
	getenv      func(string) string
	lookPath    func(string) (string, error)
	exists      func(string) bool
	rodLookPath func() (string, bool)
}

func systemLocator() locator {
	return locator{
		goos:     runtime.GOOS,
		getenv:   os.Getenv,
		lookPath: exec.LookPath,
		exists: func(p string) bool {
			st, err := os.Stat(p)
			return err == nil && !st.IsDir()
		},
		rodLookPath: launcher.LookPath,
	}
}

// candidates returns the engines to try in order: the configured binary,
// Chrome, Edge, a remote CDP endpoint, then packaged Chromium. Engines
// that are not installed are left out; the same binary never appears twice.
func (l locator) candidates(bin, cdpURL string) []candidate {
	var out []candidate
	seen := make(map[string]bool)
	add := func(engine, path string) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		out = append(out, candidate{Engine: engine, Bin: path})
	}

	add(EngineOverride, bin)
	add(EngineChrome, l.find(l.chromePaths(), []string{"google-chrome", "google-chrome-stable", "chrome"}))
	add(EngineEdge, l.find(l.edgePaths(), []string{"microsoft-edge", "microsoft-edge-stable", "msedge"}))
	if cdpURL != "" {
		out = append(out, candidate{Engine: EngineRemote, CDPURL: cdpURL})
	}
	add(EngineChromium, l.find(l.chromiumPaths(), []string{"chromium-browser", "chromium"}))
	if p, ok := l.rodLookPath(); ok {
		add(EngineChromium, p)
	}
	return out
}

// find returns the first existing absolute path, else the first name
// resolvable on PATH.
func (l locator) find(paths, names []string) string {
	for _, p := range paths {
		if p != "" && l.exists(p) {
			return p
		}
	}
	for _, n := range names {
		if p, err := l.lookPath(n); err == nil {
			return p
		}
	}
	return ""
}

func (l locator) chromePaths() []string {
	switch l.goos {
	case "windows":
		return l.windowsPaths(`Google\Chrome\Application\chrome.exe`)
	case "darwin":
		return []string{"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"}
	}
	return []string{"/opt/google/chrome/chrome"}
}

func (l locator) edgePaths() []string {
	switch l.goos {
	case "windows":
		return l.windowsPaths(`Microsoft\Edge\Application\msedge.exe`)
	case "darwin":
		return []string{"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"}
	}
	return []string{"/opt/microsoft/msedge/msedge"}
}

func (l locator) chromiumPaths() []string {
	switch l.goos {
	case "windows":
		return l.windowsPaths(`Chromium\Application\chrome.exe`)
	case "darwin":
		return []string{"/Applications/Chromium.app/Contents/MacOS/Chromium"}
	}
	return []string{"/snap/bin/chromium", "/usr/lib/chromium/chromium", "/usr/lib/chromium-browser/chromium-browser"}
}

func (l locator) windowsPaths(rel string) []string {
	var out []string
	for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)", "LocalAppData"} {
		if base := l.getenv(env); base != "" {
			out = append(out, filepath.Join(base, rel))
		}
	}
	return out
}
