package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Bypass    BypassConfig
	Browser   BrowserConfig
	Harvest   HarvestConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BypassConfig controls the strategy cascade.
type BypassConfig struct {
	// Impersonate is the preferred TLS fingerprint profile. It is tried
	// before the built-in profile list.
	Impersonate string // default: "chrome_131"

	// Profiles overrides the built-in profile fallback list.
	Profiles []string

	// Timeout is the per-request timeout of every strategy.
	Timeout time.Duration // default: 30s

	// MaxRetries is the number of full cascade rounds.
	MaxRetries int // default: 3

	// RetryDelay is the base inter-round delay. Round n waits
	// RetryDelay*(n+1) plus jitter.
	RetryDelay time.Duration // default: 2s

	// SolverURL is the remote solver base URL. Empty disables the strategy.
	SolverURL string // default: "http://localhost:8191"

	// SolverMaxTimeout is the maxTimeout sent to the solver.
	SolverMaxTimeout time.Duration // default: 60s

	// ChallengeDelay is how long the challenge strategy waits before
	// submitting a solved challenge form.
	ChallengeDelay time.Duration // default: 4s

	// BrowserSettle is the fixed wait after browser navigation.
	BrowserSettle time.Duration // default: 3s

	// BrowserChallengeWait bounds the wait for a challenge page to clear.
	BrowserChallengeWait time.Duration // default: 15s

	// BrowserBlock lists resource types the browser strategy does not
	// load. Harvest windows always load everything.
	BrowserBlock []string // default: ["image", "font", "media"]

	// BrowserBlockTrackers blocks ad and analytics hosts in the browser
	// strategy.
	BrowserBlockTrackers bool // default: true

	// StickyStrategy tries the last successful strategy for a host first.
	StickyStrategy bool // default: false

	// DisabledStrategies lists strategy names left out of the cascade.
	DisabledStrategies []string
}

// BrowserConfig controls browser discovery and launch.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the browser binary path.
	BrowserBin string

	// CDPURL connects to an already running browser instead of launching.
	CDPURL string

	// AllowDownload permits fetching a Chromium build when none is installed.
	AllowDownload bool // default: false

	// CacheDir is where downloaded browsers are kept, one directory per revision.
	CacheDir string // default: $XDG_CACHE_HOME/clearance/browser

	// Revision pins the downloaded Chromium build. 0 uses rod's default.
	Revision int
}

// HarvestConfig controls the interactive cookie harvest.
type HarvestConfig struct {
	OriginURL        string
	ChallengeURL     string
	CookieDomain     string
	RequiredCookies  []string      // default: ["cf_clearance"]
	ConsentCookie    string        // "name=value", injected best-effort
	OriginSettle     time.Duration // default: 3s
	ChallengeSettle  time.Duration // default: 2s
	PollInterval     time.Duration // default: 2s
	MaxWait          time.Duration // default: 5m
	RequireURLChange bool          // default: true
}

// CacheConfig controls the fetch response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"

	// File redirects logs to a rotated file instead of stderr.
	File       string
	MaxSizeMB  int // default: 50
	MaxBackups int // default: 3
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("CLEARANCE_HOST", "0.0.0.0"),
			Port: envIntOr("CLEARANCE_PORT", 8080),
			Mode: envOr("CLEARANCE_MODE", "release"),
		},
		Bypass: BypassConfig{
			Impersonate:          envOr("CLEARANCE_IMPERSONATE", "chrome_131"),
			Profiles:             envSliceOr("CLEARANCE_PROFILES", nil),
			Timeout:              envDurationOr("CLEARANCE_TIMEOUT", 30*time.Second),
			MaxRetries:           envIntOr("CLEARANCE_MAX_RETRIES", 3),
			RetryDelay:           envDurationOr("CLEARANCE_RETRY_DELAY", 2*time.Second),
			SolverURL:            envOrEmpty("CLEARANCE_SOLVER_URL", "http://localhost:8191"),
			SolverMaxTimeout:     envDurationOr("CLEARANCE_SOLVER_MAX_TIMEOUT", 60*time.Second),
			ChallengeDelay:       envDurationOr("CLEARANCE_CHALLENGE_DELAY", 4*time.Second),
			BrowserSettle:        envDurationOr("CLEARANCE_BROWSER_SETTLE", 3*time.Second),
			BrowserChallengeWait: envDurationOr("CLEARANCE_BROWSER_CHALLENGE_WAIT", 15*time.Second),
			BrowserBlock:         envSliceOr("CLEARANCE_BROWSER_BLOCK", []string{"image", "font", "media"}),
			BrowserBlockTrackers: envBoolOr("CLEARANCE_BROWSER_BLOCK_TRACKERS", true),
			StickyStrategy:       envBoolOr("CLEARANCE_STICKY_STRATEGY", false),
			DisabledStrategies:   envSliceOr("CLEARANCE_DISABLED_STRATEGIES", nil),
		},
		Browser: BrowserConfig{
			Headless:      envBoolOr("CLEARANCE_HEADLESS", true),
			NoSandbox:     envBoolOr("CLEARANCE_NO_SANDBOX", false),
			BrowserBin:    os.Getenv("CLEARANCE_BROWSER_BIN"),
			CDPURL:        os.Getenv("CLEARANCE_BROWSER_CDP_URL"),
			AllowDownload: envBoolOr("CLEARANCE_ALLOW_BROWSER_DOWNLOAD", false),
			CacheDir:      envOr("CLEARANCE_BROWSER_CACHE_DIR", defaultCacheDir()),
			Revision:      envIntOr("CLEARANCE_BROWSER_REVISION", 0),
		},
		Harvest: HarvestConfig{
			OriginURL:        os.Getenv("CLEARANCE_HARVEST_ORIGIN_URL"),
			ChallengeURL:     os.Getenv("CLEARANCE_HARVEST_CHALLENGE_URL"),
			CookieDomain:     os.Getenv("CLEARANCE_HARVEST_COOKIE_DOMAIN"),
			RequiredCookies:  envSliceOr("CLEARANCE_HARVEST_REQUIRED_COOKIES", []string{"cf_clearance"}),
			ConsentCookie:    os.Getenv("CLEARANCE_HARVEST_CONSENT_COOKIE"),
			OriginSettle:     envDurationOr("CLEARANCE_HARVEST_ORIGIN_SETTLE", 3*time.Second),
			ChallengeSettle:  envDurationOr("CLEARANCE_HARVEST_CHALLENGE_SETTLE", 2*time.Second),
			PollInterval:     envDurationOr("CLEARANCE_HARVEST_POLL_INTERVAL", 2*time.Second),
			MaxWait:          envDurationOr("CLEARANCE_HARVEST_MAX_WAIT", 5*time.Minute),
			RequireURLChange: envBoolOr("CLEARANCE_HARVEST_REQUIRE_URL_CHANGE", true),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("CLEARANCE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("CLEARANCE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("CLEARANCE_RATE_RPS", 5.0),
			Burst:             envIntOr("CLEARANCE_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("CLEARANCE_CACHE_MAX_ENTRIES", 1000),
		},
		Log: LogConfig{
			Level:      envOr("CLEARANCE_LOG_LEVEL", "info"),
			Format:     envOr("CLEARANCE_LOG_FORMAT", "json"),
			File:       os.Getenv("CLEARANCE_LOG_FILE"),
			MaxSizeMB:  envIntOr("CLEARANCE_LOG_MAX_SIZE_MB", 50),
			MaxBackups: envIntOr("CLEARANCE_LOG_MAX_BACKUPS", 3),
		},
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "clearance", "browser")
}

// envOrEmpty is envOr except that an explicitly empty variable wins over
// the fallback, so a default can be switched off.
func envOrEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
