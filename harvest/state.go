// Package harvest drives a real browser through an anti-bot challenge,
// waits for a human to clear it and captures the resulting cookies as a
// Netscape cookie file.
package harvest

// State is a step of one harvest run.
type State int

const (
	StateInitializing State = iota
	StateLaunchingBrowser
	StateNavigatingOrigin
	StateNavigatingChallenge
	StateAwaitingResolution
	StatePolling
	StateSucceeded
	StateTimedOut
	StateCancelled
	StateFailed
)

var stateNames = [...]string{
	StateInitializing:        "initializing",
	StateLaunchingBrowser:    "launching_browser",
	StateNavigatingOrigin:    "navigating_origin",
	StateNavigatingChallenge: "navigating_challenge",
	StateAwaitingResolution:  "awaiting_resolution",
	StatePolling:             "polling",
	StateSucceeded:           "succeeded",
	StateTimedOut:            "timed_out",
	StateCancelled:           "cancelled",
	StateFailed:              "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateTimedOut, StateCancelled, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether the machine may move from s to next.
// Transitions only go forward, except that Polling may repeat and any
// live state may be cancelled or fail.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StateCancelled, StateFailed:
		return true
	case StatePolling:
		return s == StateAwaitingResolution || s == StatePolling
	case StateSucceeded, StateTimedOut:
		return s == StateAwaitingResolution || s == StatePolling
	}
	return next == s+1
}
