package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/clearance/browser"
	"github.com/use-agent/clearance/harvest"
)

type harvestFlags struct {
	origin    string
	challenge string
	domain    string
	required  []string
	consent   string
	maxWait   time.Duration
	headless  bool
	anyURL    bool
	output    string
}

func newHarvestCmd(a *app) *cobra.Command {
	f := &harvestFlags{}
	cmd := &cobra.Command{
		Use:   "harvest [-o cookies.txt]",
		Short: "Open a browser, wait for the challenge to be solved and save the clearance cookies.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvest(cmd, a, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.origin, "origin", "", "Origin URL opened first (default CLEARANCE_HARVEST_ORIGIN_URL).")
	fl.StringVar(&f.challenge, "challenge", "", "Page that triggers the challenge (default: origin).")
	fl.StringVar(&f.domain, "domain", "", "Keep only cookies whose domain contains this.")
	fl.StringSliceVar(&f.required, "require", nil, "Cookie names that must all be present.")
	fl.StringVar(&f.consent, "consent", "", "Consent cookie as name=value, set after the challenge page loads.")
	fl.DurationVar(&f.maxWait, "max-wait", 0, "Give up after this long (default CLEARANCE_HARVEST_MAX_WAIT).")
	fl.BoolVar(&f.headless, "headless", false, "Run the browser headless; only useful when challenges clear on their own.")
	fl.BoolVar(&f.anyURL, "no-redirect-check", false, "Accept the cookies without waiting for the page to navigate.")
	fl.StringVarP(&f.output, "output", "o", "cookies.txt", "Where to write the Netscape cookie file.")
	return cmd
}

func (f *harvestFlags) apply(opts *harvest.Options) error {
	if f.origin != "" {
		opts.OriginURL = f.origin
		opts.ChallengeURL = ""
	}
	if f.challenge != "" {
		opts.ChallengeURL = f.challenge
	}
	if f.domain != "" {
		opts.CookieDomain = f.domain
	}
	if len(f.required) > 0 {
		opts.RequiredCookies = f.required
	}
	if f.consent != "" {
		c, err := harvest.ParseConsentCookie(f.consent)
		if err != nil {
			return err
		}
		opts.ConsentCookie = c
	}
	if f.maxWait > 0 {
		opts.MaxWait = f.maxWait
	}
	if f.anyURL {
		opts.SkipURLChange = true
	}
	opts.Headless = f.headless
	return nil
}

func runHarvest(cmd *cobra.Command, a *app, f *harvestFlags) error {
	opts, err := harvest.OptionsFromConfig(a.cfg.Harvest, browser.NewFactory(a.cfg.Browser))
	if err != nil {
		return err
	}
	if err := f.apply(&opts); err != nil {
		return err
	}
	stderr := cmd.ErrOrStderr()
	opts.OnStatus = func(msg string) { fmt.Fprintln(stderr, msg) }

	w, err := harvest.New(opts)
	if err != nil {
		return err
	}
	res, err := w.Run(cmd.Context())
	if err != nil {
		return err
	}

	if err := writeCookieFile(f.output, res.Cookies, res.UserAgent); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %d cookies to %s after %s\n", len(res.Cookies), f.output, res.Elapsed.Round(time.Second))
	return nil
}
