package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/use-agent/clearance/browser"
	"github.com/use-agent/clearance/config"
)

// Strategy names, in cascade order.
const (
	NameImpersonate  = "impersonate"
	NameChallenge    = "challenge"
	NameFlareSolverr = "flaresolverr"
	NameBrowser      = "browser"
	NamePlain        = "plain"
)

// KnownStrategies lists every strategy this module can provide, whether or
// not it was compiled in.
var KnownStrategies = []string{NameImpersonate, NameChallenge, NameFlareSolverr, NameBrowser, NamePlain}

// DriverFactory produces browser drivers. *browser.Factory implements it.
type DriverFactory interface {
	Create(ctx context.Context, opts browser.Options, status func(string)) (browser.Driver, error)
}

// Options configure strategy construction.
type Options struct {
	Impersonate          string
	Profiles             []string
	Timeout              time.Duration
	SolverURL            string
	SolverMaxTimeout     time.Duration
	ChallengeDelay       time.Duration
	BrowserSettle        time.Duration
	BrowserChallengeWait time.Duration
	BrowserBlock         []string
	BrowserBlockTrackers bool
	Headless             bool
	Disabled             []string

	// Browser is used by the browser strategy. Nil makes it unavailable.
	Browser DriverFactory
}

// OptionsFromConfig maps the bypass and browser configuration onto Options.
func OptionsFromConfig(cfg *config.Config, f DriverFactory) Options {
	return Options{
		Impersonate:          cfg.Bypass.Impersonate,
		Profiles:             cfg.Bypass.Profiles,
		Timeout:              cfg.Bypass.Timeout,
		SolverURL:            cfg.Bypass.SolverURL,
		SolverMaxTimeout:     cfg.Bypass.SolverMaxTimeout,
		ChallengeDelay:       cfg.Bypass.ChallengeDelay,
		BrowserSettle:        cfg.Bypass.BrowserSettle,
		BrowserChallengeWait: cfg.Bypass.BrowserChallengeWait,
		BrowserBlock:         cfg.Bypass.BrowserBlock,
		BrowserBlockTrackers: cfg.Bypass.BrowserBlockTrackers,
		Headless:             cfg.Browser.Headless,
		Disabled:             cfg.Bypass.DisabledStrategies,
		Browser:              f,
	}
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return o.Timeout
}

// Registration describes a strategy implementation. Implementations
// register themselves from init.
type Registration struct {
	Name     string
	Priority int // lower runs first

	// Available reports whether the strategy can run with opts, and why not.
	Available func(opts Options) (bool, string)

	New func(opts Options) (Strategy, error)
}

// Capability is the availability of one strategy as evaluated by Build.
type Capability struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register adds a strategy implementation. It panics if the name is
// registered twice.
func Register(r Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if r.Name == "" || r.New == nil {
		panic("engine: Register requires a name and constructor")
	}
	if _, dup := registry[r.Name]; dup {
		panic("engine: Register called twice for " + r.Name)
	}
	registry[r.Name] = r
}

// Registered returns the registrations sorted by priority.
func Registered() []Registration {
	registryMu.RLock()
	regs := make([]Registration, 0, len(registry))
	for _, r := range registry {
		regs = append(regs, r)
	}
	registryMu.RUnlock()
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].Priority != regs[j].Priority {
			return regs[i].Priority < regs[j].Priority
		}
		return regs[i].Name < regs[j].Name
	})
	return regs
}

// Build evaluates every registration's availability exactly once and
// constructs the available strategies in priority order. The returned
// capabilities also cover known strategies that were not compiled in.
func Build(opts Options) ([]Strategy, []Capability) {
	regs := Registered()
	var (
		strategies []Strategy
		caps       []Capability
		seen       = make(map[string]bool, len(regs))
	)
	for _, r := range regs {
		seen[r.Name] = true
		c := Capability{Name: r.Name, Priority: r.Priority}

		switch {
		case slices.Contains(opts.Disabled, r.Name):
			c.Reason = "disabled by configuration"
		case r.Available != nil:
			c.Available, c.Reason = r.Available(opts)
		default:
			c.Available = true
		}

		if c.Available {
			s, err := r.New(opts)
			if err != nil {
				c.Available = false
				c.Reason = fmt.Sprintf("construct: %v", err)
				slog.Warn("strategy construction failed", "strategy", r.Name, "error", err)
			} else {
				strategies = append(strategies, s)
			}
		}
		if !c.Available {
			slog.Debug("strategy unavailable", "strategy", r.Name, "reason", c.Reason)
		}
		caps = append(caps, c)
	}
	for _, name := range KnownStrategies {
		if !seen[name] {
			caps = append(caps, Capability{Name: name, Reason: "not compiled in"})
		}
	}
	return strategies, caps
}
