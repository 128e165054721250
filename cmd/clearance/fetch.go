package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/use-agent/clearance/browser"
	"github.com/use-agent/clearance/cleaner"
	"github.com/use-agent/clearance/engine"
	"github.com/use-agent/clearance/models"
)

type fetchFlags struct {
	method      string
	headers     []string
	data        []string
	body        string
	cookieFile  string
	saveCookies string
	userAgent   string
	output      string
	include     bool
	format      string
	selector    string
	readability bool
}

func newFetchCmd(a *app) *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a URL through the bypass strategy cascade.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, a, f, args[0])
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.method, "method", "X", http.MethodGet, "HTTP method (GET or POST).")
	fl.StringArrayVarP(&f.headers, "header", "H", nil, "Extra header as 'Name: value'. Repeatable.")
	fl.StringArrayVarP(&f.data, "data", "d", nil, "Form field as key=value; implies POST. Repeatable.")
	fl.StringVar(&f.body, "body", "", "Raw POST body.")
	fl.StringVarP(&f.cookieFile, "cookies", "b", "", "Netscape cookie file to load before fetching.")
	fl.StringVarP(&f.saveCookies, "save-cookies", "c", "", "Write the session cookies to this file afterwards.")
	fl.StringVar(&f.userAgent, "user-agent", "", "User agent the loaded cookies were issued to.")
	fl.StringVarP(&f.output, "output", "o", "", "Write the body to this file instead of stdout.")
	fl.BoolVarP(&f.include, "include", "i", false, "Print the status line and response headers.")
	fl.StringVarP(&f.format, "format", "f", cleaner.FormatRaw, "Render HTML bodies as raw, html, markdown or text.")
	fl.StringVar(&f.selector, "selector", "", "Keep only the elements matching this CSS selector.")
	fl.BoolVar(&f.readability, "readability", false, "Extract the main article content before rendering.")
	return cmd
}

func runFetch(cmd *cobra.Command, a *app, f *fetchFlags, rawURL string) error {
	req, err := f.request(rawURL)
	if err != nil {
		return err
	}

	sess := engine.NewSessionFromConfig(a.cfg, browser.NewFactory(a.cfg.Browser))
	defer sess.Close()
	slog.Debug("cascade", "strategies", sess.Strategies())

	if f.cookieFile != "" {
		cs, ua, err := readCookieFile(f.cookieFile)
		if err != nil {
			return err
		}
		if f.userAgent != "" {
			ua = f.userAgent
		}
		sess.Jar().Merge(cs, ua)
	}

	resp, err := sess.Fetch(cmd.Context(), req)
	if err != nil {
		var bf *models.BypassFailure
		if errors.As(err, &bf) {
			for _, at := range bf.Attempts {
				fmt.Fprintf(cmd.ErrOrStderr(), "round %d  %-13s %-16s %d %s\n", at.Round, at.Strategy, at.Outcome, at.Status, at.Detail)
			}
		}
		return err
	}

	if f.saveCookies != "" {
		if err := writeCookieFile(f.saveCookies, sess.Cookies(), sess.UserAgent()); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if f.output != "" {
		file, err := os.Create(f.output)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}
	body, err := f.render(resp)
	if err != nil {
		return err
	}
	if f.include {
		writeHead(out, resp)
	}
	_, err = io.WriteString(out, body)
	fmt.Fprintf(cmd.ErrOrStderr(), "%d via %s\n", resp.StatusCode, resp.Strategy)
	return err
}

func (f *fetchFlags) request(rawURL string) (*engine.Request, error) {
	req := &engine.Request{Method: strings.ToUpper(f.method), URL: rawURL, Headers: map[string]string{}}
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, want 'Name: value'", h)
		}
		req.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	if len(f.data) > 0 {
		req.Form = url.Values{}
		for _, kv := range f.data {
			k, v, _ := strings.Cut(kv, "=")
			req.Form.Add(k, v)
		}
	}
	if f.body != "" {
		req.Body = []byte(f.body)
	}
	if (req.Form != nil || req.Body != nil) && req.Method == http.MethodGet {
		req.Method = http.MethodPost
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return nil, fmt.Errorf("unsupported method %s", req.Method)
	}
	return req, nil
}

// render applies --format and --selector to HTML bodies. Other content
// types are written as received.
func (f *fetchFlags) render(resp *engine.Response) (string, error) {
	if (f.format == "" || f.format == cleaner.FormatRaw) && f.selector == "" {
		return resp.Text(), nil
	}
	if !cleaner.IsHTML(resp.Header.Get("Content-Type")) {
		return resp.Text(), nil
	}
	r, err := cleaner.New().Render(resp.Text(), resp.FinalURL, cleaner.Options{
		Format:      f.format,
		Selector:    f.selector,
		Readability: f.readability,
	})
	if err != nil {
		return "", err
	}
	return r.Content, nil
}

func writeHead(w io.Writer, resp *engine.Response) {
	fmt.Fprintf(w, "HTTP %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	_ = resp.Header.Write(w)
	fmt.Fprintln(w)
}
