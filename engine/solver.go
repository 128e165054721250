package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/use-agent/clearance/cookies"
)

func init() {
	Register(Registration{
		Name:     NameFlareSolverr,
		Priority: 30,
		Available: func(opts Options) (bool, string) {
			if strings.TrimSpace(opts.SolverURL) == "" {
				return false, "no solver URL configured"
			}
			return true, ""
		},
		New: func(opts Options) (Strategy, error) {
			return NewSolver(opts.SolverURL, opts.SolverMaxTimeout), nil
		},
	})
}

// ErrSolverFailed is wrapped by every error the remote solver reports
// about itself, as opposed to a refused connection.
var ErrSolverFailed = errors.New("solver reported failure")

// solverRequest is the FlareSolverr v1 command body.
type solverRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int64  `json:"maxTimeout"`
	PostData   string `json:"postData,omitempty"`

	Cookies []solverRequestCookie `json:"cookies,omitempty"`
}

type solverRequestCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

type solverCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
}

type solverSolution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Response  string            `json:"response"`
	Cookies   []solverCookie    `json:"cookies"`
	UserAgent string            `json:"userAgent"`
}

type solverResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Solution solverSolution `json:"solution"`
}

// Solver delegates the fetch to a FlareSolverr-compatible service.
type Solver struct {
	client     *resty.Client
	maxTimeout time.Duration
}

// NewSolver creates the remote-solver strategy for the service at baseURL.
func NewSolver(baseURL string, maxTimeout time.Duration) *Solver {
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("content-type", "application/json")
	// The solver itself may take up to maxTimeout.
	client.SetTimeout(maxTimeout + 5*time.Second)
	return &Solver{client: client, maxTimeout: maxTimeout}
}

func (s *Solver) Name() string { return NameFlareSolverr }

func (s *Solver) Attempt(ctx context.Context, req *Request) Outcome {
	cmd := solverRequest{
		Cmd:        "request.get",
		URL:        req.URL,
		MaxTimeout: s.maxTimeout.Milliseconds(),
	}
	switch req.method() {
	case http.MethodGet:
	case http.MethodPost:
		cmd.Cmd = "request.post"
		body, _ := req.payload()
		cmd.PostData = string(body)
	default:
		return Unavailable("solver supports GET and POST only")
	}

	for _, c := range req.Cookies {
		cmd.Cookies = append(cmd.Cookies, solverRequestCookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}

	var out solverResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(cmd).
		SetResult(&out).
		SetError(&out).
		Post("/v1")
	if err != nil {
		return TransportError(fmt.Errorf("flaresolverr: %w", err))
	}
	if res.IsError() && out.Status == "" {
		return TransportError(fmt.Errorf("flaresolverr: http %d: %w", res.StatusCode(), ErrSolverFailed))
	}
	if out.Status != "ok" {
		return TransportError(fmt.Errorf("flaresolverr: status %q: %s: %w", out.Status, out.Message, ErrSolverFailed))
	}
	if out.Solution.Status != http.StatusOK {
		return TransportError(fmt.Errorf("flaresolverr: origin status %d: %w", out.Solution.Status, ErrSolverFailed))
	}

	header := make(http.Header, len(out.Solution.Headers)+1)
	for k, v := range out.Solution.Headers {
		header.Set(k, v)
	}
	// The solver reports the rendered page, whatever the origin served.
	header.Set("Content-Type", "text/html; charset=utf-8")

	finalURL := out.Solution.URL
	if finalURL == "" {
		finalURL = req.URL
	}

	got := make([]cookies.Cookie, 0, len(out.Solution.Cookies))
	for _, c := range out.Solution.Cookies {
		if c.Name == "" || c.Value == "" {
			continue
		}
		ck := cookies.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			ck.Expires = int64(c.Expires)
		}
		got = append(got, ck)
	}

	return Success(&Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       []byte(out.Solution.Response),
		FinalURL:   finalURL,
	}, got, out.Solution.UserAgent)
}
