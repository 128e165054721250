//go:build !nochallenge

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/use-agent/clearance/cookies"
)

func init() {
	Register(Registration{
		Name:     NameChallenge,
		Priority: 20,
		New: func(opts Options) (Strategy, error) {
			return NewChallenge(opts.timeout(), opts.ChallengeDelay), nil
		},
	})
}

// ErrChallenge reports a challenge page that cannot be solved without a
// browser or a human: a captcha, or a script the interpreter cannot run.
var ErrChallenge = errors.New("challenge cannot be solved without a browser")

var (
	captchaMarkers = [][]byte{
		[]byte("cf-turnstile"),
		[]byte("challenges.cloudflare.com/turnstile"),
		[]byte("h-captcha"),
		[]byte("g-recaptcha"),
		[]byte("www.google.com/recaptcha"),
	}
	jsChallengeMarkers = [][]byte{
		[]byte("jschl_vc"),
		[]byte("jschl_answer"),
		[]byte("_cf_chl"),
		[]byte("challenge-form"),
		[]byte("document.cookie"),
	}
)

func containsAny(body []byte, markers [][]byte) bool {
	for _, m := range markers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// Challenge is an HTTP client that runs an origin's lightweight JS
// challenge in an embedded interpreter instead of a browser.
type Challenge struct {
	timeout       time.Duration
	delay         time.Duration
	scriptTimeout time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewChallenge creates the challenge-solving strategy. delay is waited
// before a solved challenge form is submitted, as origins reject instant
// answers.
func NewChallenge(timeout, delay time.Duration) *Challenge {
	return &Challenge{
		timeout:       timeout,
		delay:         delay,
		scriptTimeout: 2 * time.Second,
		sleep:         sleepCtx,
	}
}

func (c *Challenge) Name() string { return NameChallenge }

// newClient returns a resty client with the Cloudflare-friendly transport
// and a public-suffix aware jar seeded with the request cookies.
func (c *Challenge) newClient(target *url.URL, seed []cookies.Cookie) (*resty.Client, http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, nil, err
	}
	hcs := make([]*http.Cookie, 0, len(seed))
	for _, ck := range seed {
		// Jar cookies belong to the request origin.
		hcs = append(hcs, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"})
	}
	jar.SetCookies(target, hcs)

	client := resty.New()
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetTimeout(c.timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	return client, jar, nil
}

func (c *Challenge) Attempt(ctx context.Context, req *Request) Outcome {
	target, err := url.Parse(req.URL)
	if err != nil {
		return TransportError(fmt.Errorf("challenge: parse url: %w", err))
	}
	client, jar, err := c.newClient(target, req.Cookies)
	if err != nil {
		return TransportError(fmt.Errorf("challenge: cookie jar: %w", err))
	}
	ua := req.Header("User-Agent")
	if ua == "" {
		ua = randomUserAgent()
	}

	collect := func() []cookies.Cookie {
		var out []cookies.Cookie
		for _, hc := range jar.Cookies(target) {
			out = append(out, cookies.FromHTTP(hc, target.Hostname()))
		}
		return changedCookies(req.Cookies, out)
	}

	res, err := c.send(ctx, client, req, ua)
	if err != nil {
		return TransportError(fmt.Errorf("challenge: %w", err))
	}
	if res.StatusCode() == http.StatusOK {
		return c.success(res, collect(), ua)
	}

	body := res.Body()
	switch {
	case containsAny(body, captchaMarkers):
		out := Blocked(res.StatusCode(), collect(), "")
		out.Err = fmt.Errorf("captcha: %w", ErrChallenge)
		return out
	case !containsAny(body, jsChallengeMarkers):
		return Blocked(res.StatusCode(), collect(), "")
	}

	if err := c.solve(ctx, client, res, ua); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TransportError(fmt.Errorf("challenge: %w", ctxErr))
		}
		var tErr *transportErr
		if errors.As(err, &tErr) {
			return TransportError(fmt.Errorf("challenge: %w", tErr.err))
		}
		slog.Debug("challenge not solved", "url", req.URL, "error", err)
		out := Blocked(res.StatusCode(), collect(), "")
		out.Err = err
		return out
	}

	res, err = c.send(ctx, client, req, ua)
	if err != nil {
		return TransportError(fmt.Errorf("challenge: retry: %w", err))
	}
	if res.StatusCode() != http.StatusOK {
		return Blocked(res.StatusCode(), collect(), "")
	}
	return c.success(res, collect(), ua)
}

// transportErr marks a network failure during solving.
type transportErr struct{ err error }

func (e *transportErr) Error() string { return e.err.Error() }

func (c *Challenge) send(ctx context.Context, client *resty.Client, req *Request, ua string) (*resty.Response, error) {
	r := client.R().SetContext(ctx)
	r.SetHeader("User-Agent", ua)
	r.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	r.SetHeader("Accept-Language", "en-US,en;q=0.9")
	r.SetHeaders(req.Headers)
	if body, contentType := req.payload(); body != nil {
		r.SetBody(body)
		if contentType != "" {
			r.SetHeader("Content-Type", contentType)
		}
	}
	return r.Execute(req.method(), req.URL)
}

func (c *Challenge) success(res *resty.Response, got []cookies.Cookie, ua string) Outcome {
	final := res.Request.URL
	if raw := res.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL.String()
	}
	return Success(&Response{
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
		FinalURL:   final,
	}, got, ua)
}

// solve runs the page's inline scripts, stores the cookies they set and
// submits the challenge form if the page has one.
func (c *Challenge) solve(ctx context.Context, client *resty.Client, res *resty.Response, ua string) error {
	pageURL := res.RawResponse.Request.URL
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return fmt.Errorf("parse challenge page: %w", err)
	}

	form := findChallengeForm(doc)
	sb := newSandbox(pageURL, ua, form, c.scriptTimeout)
	ran := 0
	var runErr error
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if runErr != nil {
			return
		}
		if _, external := s.Attr("src"); external {
			return
		}
		if t, ok := s.Attr("type"); ok && !isJavaScriptType(t) {
			return
		}
		if strings.TrimSpace(s.Text()) == "" {
			return
		}
		ran++
		runErr = sb.run(s.Text())
	})
	if runErr != nil {
		return fmt.Errorf("%w: %v", ErrChallenge, runErr)
	}
	if ran == 0 {
		return fmt.Errorf("%w: no inline script", ErrChallenge)
	}

	if jar := client.GetClient().Jar; jar != nil {
		set := sb.cookies()
		if len(set) > 0 {
			jar.SetCookies(pageURL, set)
		}
	}
	if form == nil {
		return nil
	}

	if err := c.sleep(ctx, c.delay); err != nil {
		return err
	}
	values := sb.formValues()
	action, err := pageURL.Parse(form.action)
	if err != nil {
		return fmt.Errorf("%w: form action: %v", ErrChallenge, err)
	}

	r := client.R().SetContext(ctx).
		SetHeader("User-Agent", ua).
		SetHeader("Referer", pageURL.String())
	if form.method == http.MethodGet {
		q := action.Query()
		for k, vs := range values {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		action.RawQuery = q.Encode()
		_, err = r.Get(action.String())
	} else {
		_, err = r.SetFormDataFromValues(values).Post(action.String())
	}
	if err != nil {
		return &transportErr{err: fmt.Errorf("submit challenge form: %w", err)}
	}
	return nil
}

func isJavaScriptType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	return t == "" || strings.Contains(t, "javascript") || t == "module" || strings.Contains(t, "ecmascript")
}

// challengeForm is the challenge page's answer form.
type challengeForm struct {
	action string
	method string
	fields []formField
}

type formField struct {
	name  string
	id    string
	value string
}

// findChallengeForm returns the page's challenge form: the element with
// id challenge-form, else the first form carrying hidden inputs.
func findChallengeForm(doc *goquery.Document) *challengeForm {
	sel := doc.Find("form#challenge-form").First()
	if sel.Length() == 0 {
		sel = doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Find(`input[type="hidden"]`).Length() > 0
		}).First()
	}
	if sel.Length() == 0 {
		return nil
	}

	f := &challengeForm{
		action: sel.AttrOr("action", ""),
		method: strings.ToUpper(sel.AttrOr("method", http.MethodPost)),
	}
	sel.Find("input").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		id := s.AttrOr("id", "")
		if name == "" && id == "" {
			return
		}
		f.fields = append(f.fields, formField{name: name, id: id, value: s.AttrOr("value", "")})
	})
	return f
}
