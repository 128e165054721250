package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/clearance/browser"
	"github.com/use-agent/clearance/config"
	"github.com/use-agent/clearance/cookies"
	"github.com/use-agent/clearance/models"
)

// DriverFactory produces the browser a run drives. *browser.Factory
// implements it.
type DriverFactory interface {
	Create(ctx context.Context, opts browser.Options, status func(string)) (browser.Driver, error)
}

// Options configure one harvest run.
type Options struct {
	// OriginURL is opened first so the origin can set baseline cookies.
	// Optional.
	OriginURL string

	// ChallengeURL is a page known to trigger the challenge. Defaults to
	// OriginURL.
	ChallengeURL string

	// CookieDomain keeps only cookies whose domain contains it.
	CookieDomain string

	// RequiredCookies must all be present for the harvest to succeed.
	RequiredCookies []string

	// ConsentCookie, if set, is injected after the challenge page loads.
	// Failure to set it is ignored.
	ConsentCookie *cookies.Cookie

	OriginSettle    time.Duration
	ChallengeSettle time.Duration
	PollInterval    time.Duration // default: 2s
	MaxWait         time.Duration // default: 5m

	// SkipURLChange accepts the required cookies without waiting for the
	// page to navigate away from the challenge.
	SkipURLChange bool

	// Headless runs the browser without a window. A human can only solve
	// a challenge in a headed browser.
	Headless bool

	Factory DriverFactory

	// Callbacks. OnSuccess and OnError are terminal; at most one of them
	// fires, and neither fires after Stop.
	OnStatus  func(msg string)
	OnSuccess func(Result)
	OnError   func(err error)

	// Dispatch, if set, runs every callback. Use it to deliver callbacks
	// on a goroutine of the caller's choosing.
	Dispatch func(fn func())

	// Events, if set, receives every status and terminal event. The
	// channel must be drained; the worker blocks on it until Stop.
	Events chan<- Event
}

// OptionsFromConfig maps the harvest configuration onto Options.
func OptionsFromConfig(cfg config.HarvestConfig, f DriverFactory) (Options, error) {
	opts := Options{
		OriginURL:       cfg.OriginURL,
		ChallengeURL:    cfg.ChallengeURL,
		CookieDomain:    cfg.CookieDomain,
		RequiredCookies: cfg.RequiredCookies,
		OriginSettle:    cfg.OriginSettle,
		ChallengeSettle: cfg.ChallengeSettle,
		PollInterval:    cfg.PollInterval,
		MaxWait:         cfg.MaxWait,
		SkipURLChange:   !cfg.RequireURLChange,
		Factory:         f,
	}
	if cfg.ConsentCookie != "" {
		c, err := ParseConsentCookie(cfg.ConsentCookie)
		if err != nil {
			return Options{}, err
		}
		opts.ConsentCookie = c
	}
	return opts, nil
}

// ParseConsentCookie parses a "name=value" pair.
func ParseConsentCookie(s string) (*cookies.Cookie, error) {
	name, value, ok := strings.Cut(strings.TrimSpace(s), "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil, models.NewCodedError(models.ErrCodeInvalidInput, fmt.Sprintf("consent cookie %q is not name=value", s), nil)
	}
	return &cookies.Cookie{Name: name, Value: strings.TrimSpace(value), Path: "/"}, nil
}

// Result is the outcome of a successful harvest.
type Result struct {
	CookieFile string           `json:"cookie_file"`
	Cookies    []cookies.Cookie `json:"cookies"`
	UserAgent  string           `json:"user_agent"`
	FinalURL   string           `json:"final_url"`
	Elapsed    time.Duration    `json:"elapsed"`
}

// EventKind classifies an Event.
type EventKind string

const (
	EventStatus  EventKind = "status"
	EventSuccess EventKind = "success"
	EventError   EventKind = "error"
)

// Event is one message from a running harvest.
type Event struct {
	Kind    EventKind
	State   State
	Message string
	Result  *Result
	Err     error
	Time    time.Time
}

// step runs one state and returns the next.
type step func(ctx context.Context) (State, error)

// Worker runs one harvest. All browser calls happen on the goroutine
// executing Run; Stop may be called from any goroutine.
type Worker struct {
	opts  Options
	steps map[State]step

	mu         sync.Mutex
	state      State
	status     string
	driver     browser.Driver
	started    bool
	stopped    bool
	cancel     context.CancelFunc
	runCtx     context.Context
	result     *Result
	err        error
	pollStart  time.Time
	tracker    *Tracker
	runStarted time.Time

	done chan struct{}
	quit chan struct{}

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates opts and returns an idle worker.
func New(opts Options) (*Worker, error) {
	if opts.Factory == nil {
		return nil, models.NewCodedError(models.ErrCodeInvalidInput, "harvest requires a browser factory", nil)
	}
	if opts.ChallengeURL == "" {
		opts.ChallengeURL = opts.OriginURL
	}
	if opts.ChallengeURL == "" {
		return nil, models.NewCodedError(models.ErrCodeInvalidInput, "harvest requires an origin or challenge URL", nil)
	}
	for _, raw := range []string{opts.OriginURL, opts.ChallengeURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			return nil, models.NewCodedError(models.ErrCodeInvalidInput, "invalid harvest URL "+raw, err)
		}
	}
	if len(opts.RequiredCookies) == 0 {
		return nil, models.NewCodedError(models.ErrCodeInvalidInput, "harvest requires at least one cookie name", nil)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 5 * time.Minute
	}

	w := &Worker{
		opts:  opts,
		state: StateInitializing,
		done:  make(chan struct{}),
		quit:  make(chan struct{}),
		now:   time.Now,
		sleep: sleepCtx,
	}
	w.steps = map[State]step{
		StateInitializing:        w.initialize,
		StateLaunchingBrowser:    w.launch,
		StateNavigatingOrigin:    w.navigateOrigin,
		StateNavigatingChallenge: w.navigateChallenge,
		StateAwaitingResolution:  w.awaitResolution,
		StatePolling:             w.poll,
	}
	return w, nil
}

// Start runs the harvest on a new goroutine. Calling it again, or after
// Run, does nothing.
func (w *Worker) Start() {
	if !w.claim() {
		return
	}
	go func() { _, _ = w.run(context.Background()) }()
}

// Run executes the harvest on the calling goroutine and returns its
// result. Cancelling ctx has the same effect as Stop.
func (w *Worker) Run(ctx context.Context) (*Result, error) {
	if !w.claim() {
		return nil, models.NewCodedError(models.ErrCodeInvalidInput, "harvest already started", nil)
	}
	return w.run(ctx)
}

func (w *Worker) claim() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return false
	}
	w.started = true
	return true
}

// Stop cancels the run and closes the browser right away. No callback
// fires after Stop returns. Stopping a worker that never started ends it
// as Cancelled, so Done and Wait return and Start and Run do nothing.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	d := w.driver
	w.driver = nil
	cancel := w.cancel
	close(w.quit)
	idle := !w.started
	if idle {
		w.started = true
		w.state = StateCancelled
		w.err = models.NewCodedError(models.ErrCodeHarvestCancel, "harvest cancelled", models.ErrHarvestCancelled)
	}
	w.mu.Unlock()

	if idle {
		close(w.done)
		return
	}

	if cancel != nil {
		cancel()
	}
	if d != nil {
		if err := d.Close(); err != nil {
			slog.Debug("harvest: close browser on stop", "error", err)
		}
	}
}

// Done is closed when the run has ended and the browser is closed.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Wait blocks until the run ends and returns its result.
func (w *Worker) Wait() (*Result, error) {
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result, w.err
}

// State returns the current state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Status returns the last progress message.
func (w *Worker) Status() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *Worker) run(parent context.Context) (res *Result, err error) {
	ctx, cancel := context.WithCancel(parent)
	w.mu.Lock()
	w.cancel = cancel
	w.runCtx = ctx
	w.runStarted = w.now()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		cancel()
	}

	defer close(w.done)
	defer cancel()

	state := StateInitializing
	var stepErr error
	for !state.Terminal() {
		next, serr := w.runStep(ctx, state)
		if w.isStopped() || ctx.Err() != nil {
			next, serr = StateCancelled, nil
		}
		if !state.CanTransition(next) {
			next, serr = StateFailed, fmt.Errorf("harvest: invalid transition %s -> %s", state, next)
		}
		slog.Debug("harvest state", "from", state.String(), "to", next.String())
		state, stepErr = next, serr
		w.mu.Lock()
		w.state = state
		w.mu.Unlock()
	}

	w.teardown()
	return w.finish(state, stepErr)
}

// runStep runs the step for state, turning a panic into Failed.
func (w *Worker) runStep(ctx context.Context, state State) (next State, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("harvest: step panicked", "state", state.String(), "panic", r)
			next, err = StateFailed, fmt.Errorf("harvest: %s: panic: %v", state, r)
		}
	}()
	fn, ok := w.steps[state]
	if !ok {
		return StateFailed, fmt.Errorf("harvest: no step for state %s", state)
	}
	return fn(ctx)
}

// finish records the terminal outcome and fires the terminal callback.
func (w *Worker) finish(state State, stepErr error) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch state {
	case StateSucceeded:
		w.mu.Lock()
		res = w.result
		w.mu.Unlock()
	case StateCancelled:
		err = models.NewCodedError(models.ErrCodeHarvestCancel, "harvest cancelled", models.ErrHarvestCancelled)
	case StateTimedOut:
		err = models.NewCodedError(models.ErrCodeHarvestTimeout,
			fmt.Sprintf("no clearance cookies after %s", w.opts.MaxWait), models.ErrHarvestTimeout)
	default:
		var ce *models.CodedError
		if errors.As(stepErr, &ce) {
			err = stepErr
		} else {
			if stepErr == nil {
				stepErr = errors.New("harvest failed")
			}
			err = models.NewCodedError(models.ErrCodeHarvestFailed, "harvest failed", stepErr)
		}
	}

	w.mu.Lock()
	w.result, w.err = res, err
	w.mu.Unlock()

	switch state {
	case StateSucceeded:
		slog.Info("harvest succeeded", "cookies", len(res.Cookies), "elapsed", res.Elapsed)
		r := *res
		w.deliver(Event{Kind: EventSuccess, State: state, Result: res}, func() {
			if w.opts.OnSuccess != nil {
				w.opts.OnSuccess(r)
			}
		})
	case StateTimedOut, StateFailed:
		slog.Warn("harvest ended", "state", state.String(), "error", err)
		w.deliver(Event{Kind: EventError, State: state, Err: err, Message: err.Error()}, func() {
			if w.opts.OnError != nil {
				w.opts.OnError(err)
			}
		})
	default:
		slog.Info("harvest cancelled")
	}
	return res, err
}

// teardown closes the browser unless Stop already did.
func (w *Worker) teardown() {
	w.mu.Lock()
	d := w.driver
	w.driver = nil
	w.mu.Unlock()
	if d == nil {
		return
	}
	if err := d.Close(); err != nil {
		slog.Debug("harvest: close browser", "error", err)
	}
}

func (w *Worker) emitStatus(msg string) {
	w.mu.Lock()
	w.status = msg
	state := w.state
	w.mu.Unlock()
	slog.Debug("harvest status", "state", state.String(), "status", msg)
	w.deliver(Event{Kind: EventStatus, State: state, Message: msg}, func() {
		if w.opts.OnStatus != nil {
			w.opts.OnStatus(msg)
		}
	})
}

// deliver sends ev and runs cb, through Dispatch when set. Nothing is
// delivered after Stop or once the run context is done, and callback
// panics are swallowed.
func (w *Worker) deliver(ev Event, cb func()) {
	if w.isStopped() {
		return
	}
	w.mu.Lock()
	ctx := w.runCtx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	ev.Time = w.now()
	if w.opts.Events != nil {
		select {
		case w.opts.Events <- ev:
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		}
	}

	guarded := func() {
		if w.isStopped() {
			return
		}
		safeCall(cb)
	}
	if w.opts.Dispatch != nil {
		safeCall(func() { w.opts.Dispatch(guarded) })
		return
	}
	guarded()
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("harvest: callback panicked", "panic", r)
		}
	}()
	fn()
}

func (w *Worker) currentDriver() browser.Driver {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.driver
}

// --- steps ---

func (w *Worker) initialize(context.Context) (State, error) {
	w.emitStatus("looking for a browser to launch")
	return StateLaunchingBrowser, nil
}

func (w *Worker) launch(ctx context.Context) (State, error) {
	d, err := w.opts.Factory.Create(ctx, browser.Options{Headless: w.opts.Headless}, w.emitStatus)
	if err != nil {
		return StateFailed, err
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		_ = d.Close()
		return StateCancelled, nil
	}
	w.driver = d
	w.mu.Unlock()

	w.emitStatus(fmt.Sprintf("%s browser started", d.Engine()))
	return StateNavigatingOrigin, nil
}

func (w *Worker) navigateOrigin(ctx context.Context) (State, error) {
	if w.opts.OriginURL == "" || w.opts.OriginURL == w.opts.ChallengeURL {
		return StateNavigatingChallenge, nil
	}
	d := w.currentDriver()
	if d == nil {
		return StateCancelled, nil
	}
	w.emitStatus("opening " + w.opts.OriginURL)
	if err := d.Navigate(ctx, w.opts.OriginURL); err != nil {
		return StateFailed, fmt.Errorf("harvest: open origin: %w", err)
	}
	if err := w.sleep(ctx, w.opts.OriginSettle); err != nil {
		return StateCancelled, nil
	}
	return StateNavigatingChallenge, nil
}

func (w *Worker) navigateChallenge(ctx context.Context) (State, error) {
	d := w.currentDriver()
	if d == nil {
		return StateCancelled, nil
	}
	w.emitStatus("opening challenge page " + w.opts.ChallengeURL)
	if err := d.Navigate(ctx, w.opts.ChallengeURL); err != nil {
		return StateFailed, fmt.Errorf("harvest: open challenge page: %w", err)
	}
	if err := w.sleep(ctx, w.opts.ChallengeSettle); err != nil {
		return StateCancelled, nil
	}

	if c := w.opts.ConsentCookie; c != nil {
		ck := *c
		if ck.Domain == "" {
			if u, err := url.Parse(w.opts.ChallengeURL); err == nil {
				ck.Domain = u.Hostname()
			}
		}
		if err := d.SetCookies([]cookies.Cookie{ck}); err != nil {
			slog.Debug("harvest: consent cookie not set", "cookie", ck.Name, "error", err)
		}
	}

	baseline, err := d.URL()
	if err != nil {
		return StateFailed, fmt.Errorf("harvest: read url: %w", models.ErrBrowserClosed)
	}
	w.mu.Lock()
	w.tracker = NewTracker(baseline, w.opts.RequiredCookies, w.opts.CookieDomain, !w.opts.SkipURLChange, w.opts.MaxWait)
	w.mu.Unlock()

	if challenged(d) {
		w.emitStatus("challenge detected: solve it in the browser window, cookies are saved automatically")
	} else {
		w.emitStatus("page loaded, checking cookies")
	}
	return StateAwaitingResolution, nil
}

// challenged reports whether the current page looks like an interstitial.
func challenged(d browser.Driver) bool {
	if title, err := d.Title(); err == nil && browser.IsChallengeTitle(title) {
		return true
	}
	html, err := d.HTML()
	if err != nil {
		return false
	}
	html = strings.ToLower(html)
	return strings.Contains(html, "captcha") || strings.Contains(html, "bot kontrol")
}

func (w *Worker) awaitResolution(context.Context) (State, error) {
	w.mu.Lock()
	w.pollStart = w.now()
	w.mu.Unlock()
	return StatePolling, nil
}

func (w *Worker) poll(ctx context.Context) (State, error) {
	w.mu.Lock()
	elapsed := w.now().Sub(w.pollStart)
	tracker := w.tracker
	w.mu.Unlock()

	if elapsed > w.opts.MaxWait {
		return StateTimedOut, nil
	}
	d := w.currentDriver()
	if d == nil {
		return StateCancelled, nil
	}

	got, err := d.Cookies()
	if err != nil {
		return StateFailed, fmt.Errorf("harvest: read cookies: %w", models.ErrBrowserClosed)
	}
	current, err := d.URL()
	if err != nil {
		return StateFailed, fmt.Errorf("harvest: read url: %w", models.ErrBrowserClosed)
	}

	dec := tracker.Observe(Observation{URL: current, Cookies: got, Elapsed: elapsed})
	if dec.Accept {
		ua, _ := d.UserAgent()
		w.mu.Lock()
		w.result = &Result{
			CookieFile: cookies.MarshalNetscape(dec.Cookies),
			Cookies:    dec.Cookies,
			UserAgent:  ua,
			FinalURL:   current,
			Elapsed:    w.now().Sub(w.runStarted),
		}
		w.mu.Unlock()
		w.emitStatus(fmt.Sprintf("cookies captured (%d)", len(dec.Cookies)))
		return StateSucceeded, nil
	}
	if dec.Status != "" {
		w.emitStatus(dec.Status)
	}
	if err := w.sleep(ctx, w.opts.PollInterval); err != nil {
		return StateCancelled, nil
	}
	return StatePolling, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
