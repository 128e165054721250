package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/clearance/cookies"
)

func newCookiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Inspect Netscape cookie files.",
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <file>",
		Short: "List the cookies in a Netscape cookie file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, ua, err := readCookieFile(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					UserAgent string           `json:"user_agent,omitempty"`
					Cookies   []cookies.Cookie `json:"cookies"`
				}{ua, cs})
			}
			return printCookies(cmd.OutOrStdout(), cs, ua, time.Now())
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table.")

	cmd.AddCommand(show)
	return cmd
}

func printCookies(w io.Writer, cs []cookies.Cookie, ua string, now time.Time) error {
	if ua != "" {
		fmt.Fprintf(w, "user agent: %s\n\n", ua)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDOMAIN\tPATH\tSECURE\tHTTPONLY\tEXPIRES")
	for _, c := range cs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%s\n", c.Name, c.Domain, c.Path, c.Secure, c.HTTPOnly, expiry(c, now))
	}
	return tw.Flush()
}

func expiry(c cookies.Cookie, now time.Time) string {
	switch {
	case c.Expires == 0:
		return "session"
	case c.Expired(now):
		return "expired"
	default:
		return time.Unix(c.Expires, 0).UTC().Format(time.RFC3339)
	}
}
