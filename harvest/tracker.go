package harvest

import (
	"fmt"
	"strings"
	"time"

	"github.com/use-agent/clearance/cookies"
)

// maxListedNames caps the cookie names shown in a status line.
const maxListedNames = 5

// Observation is one poll of the browser.
type Observation struct {
	URL     string
	Cookies []cookies.Cookie
	Elapsed time.Duration
}

// Decision is the tracker's verdict on one observation.
type Decision struct {
	// Accept is set once the required cookies are present and, unless the
	// guard is disabled, the page has navigated away from the challenge.
	Accept bool

	// Cookies are the observed cookies that match the domain filter.
	Cookies []cookies.Cookie

	// Status is the progress line for this poll, or empty when it matches
	// the previous one.
	Status string
}

// Tracker decides, poll by poll, whether the harvested cookies are final.
// It performs no I/O.
//
// The URL-change guard is a heuristic: origins often set the clearance
// cookie a moment before redirecting, and the pre-redirect token is not
// always valid. Once the URL has differed from the baseline the guard
// stays released.
type Tracker struct {
	baseline         string
	required         []string
	domain           string
	requireURLChange bool
	maxWait          time.Duration

	urlChanged bool
	lastStatus string
}

// NewTracker creates a tracker for a challenge page loaded at baselineURL.
func NewTracker(baselineURL string, required []string, domain string, requireURLChange bool, maxWait time.Duration) *Tracker {
	return &Tracker{
		baseline:         baselineURL,
		required:         required,
		domain:           domain,
		requireURLChange: requireURLChange,
		maxWait:          maxWait,
	}
}

// URLChanged reports whether the guard has been released.
func (t *Tracker) URLChanged() bool { return t.urlChanged }

// Observe records one poll and returns the decision.
func (t *Tracker) Observe(o Observation) Decision {
	if !t.urlChanged && o.URL != "" && o.URL != t.baseline {
		t.urlChanged = true
	}

	cs := cookies.FilterDomain(o.Cookies, t.domain)
	missing := t.missing(cs)
	d := Decision{Cookies: cs}
	if len(missing) == 0 && (t.urlChanged || !t.requireURLChange) {
		d.Accept = true
		return d
	}

	status := t.status(cs, missing, o.Elapsed)
	if status != t.lastStatus {
		t.lastStatus = status
		d.Status = status
	}
	return d
}

func (t *Tracker) missing(cs []cookies.Cookie) []string {
	have := make(map[string]bool, len(cs))
	for _, c := range cs {
		have[c.Name] = true
	}
	var missing []string
	for _, name := range t.required {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func (t *Tracker) status(cs []cookies.Cookie, missing []string, elapsed time.Duration) string {
	remaining := t.maxWait - elapsed
	if remaining < 0 {
		remaining = 0
	}
	var b strings.Builder
	if len(missing) == 0 {
		fmt.Fprintf(&b, "required cookies present, waiting for the page to redirect (%ds left)", int(remaining.Seconds()))
	} else {
		fmt.Fprintf(&b, "waiting for the challenge to be solved (%ds left)\ncookies: %d\nrequired: %s",
			int(remaining.Seconds()), len(cs), strings.Join(missing, ", "))
	}
	if names := cookies.Names(cs); len(names) > 0 {
		if len(names) > maxListedNames {
			names = names[:maxListedNames]
		}
		fmt.Fprintf(&b, "\nfound: %s", strings.Join(names, ", "))
	}
	return b.String()
}
