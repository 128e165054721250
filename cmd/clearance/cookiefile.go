package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/use-agent/clearance/cookies"
)

// uaPrefix marks the comment line holding the user agent the cookies were
// issued to. Netscape readers skip it like any other comment.
const uaPrefix = "# User-Agent: "

// writeCookieFile writes cs as a Netscape cookie file with the user agent
// recorded in a comment.
func writeCookieFile(path string, cs []cookies.Cookie, ua string) error {
	var b strings.Builder
	if err := cookies.WriteNetscape(&b, cs); err != nil {
		return err
	}
	text := b.String()
	if ua != "" {
		text = uaPrefix + ua + "\n" + text
	}
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}
	return nil
}

// readCookieFile loads a Netscape cookie file and the user agent recorded
// by writeCookieFile, if any.
func readCookieFile(path string) ([]cookies.Cookie, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read cookie file: %w", err)
	}
	cs, err := cookies.ParseNetscapeString(string(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return cs, fileUserAgent(string(raw)), nil
}

func fileUserAgent(text string) string {
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if ua, ok := strings.CutPrefix(line, uaPrefix); ok {
			return strings.TrimSpace(ua)
		}
		if !strings.HasPrefix(line, "#") && strings.TrimSpace(line) != "" {
			break
		}
	}
	return ""
}
