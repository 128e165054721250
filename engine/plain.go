package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	tls "github.com/refraction-networking/utls"

	"github.com/use-agent/clearance/cookies"
)

func init() {
	Register(Registration{
		Name:     NamePlain,
		Priority: 50,
		New: func(opts Options) (Strategy, error) {
			return NewPlain(opts.timeout()), nil
		},
	})
}

// userAgents is the rotation used when neither the caller nor the jar
// supplies a user agent.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

func randomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// maxBody caps every response body read by a strategy.
const maxBody = 10 << 20

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// Plain is the generic fallback: net/http over a Chrome ClientHello.
type Plain struct {
	client *http.Client
}

// NewPlain creates the plain strategy.
func NewPlain(timeout time.Duration) *Plain {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("plain: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	return &Plain{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

func (p *Plain) Name() string { return NamePlain }

func (p *Plain) Attempt(ctx context.Context, req *Request) Outcome {
	body, contentType := req.payload()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method(), req.URL, rd)
	if err != nil {
		return TransportError(fmt.Errorf("plain: build request: %w", err))
	}

	ua := req.Header("User-Agent")
	if ua == "" {
		ua = randomUserAgent()
	}
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if h := cookies.Header(req.Cookies); h != "" {
		httpReq.Header.Set("Cookie", h)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return TransportError(fmt.Errorf("plain: do request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return TransportError(fmt.Errorf("plain: read body: %w", err))
	}

	host := resp.Request.URL.Hostname()
	got := make([]cookies.Cookie, 0, len(resp.Cookies()))
	for _, c := range resp.Cookies() {
		got = append(got, cookies.FromHTTP(c, host))
	}

	if resp.StatusCode != http.StatusOK {
		return Blocked(resp.StatusCode, got, "")
	}
	return Success(&Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		FinalURL:   resp.Request.URL.String(),
	}, got, ua)
}
