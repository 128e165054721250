package cookies

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	httpOnlyPrefix = "#HttpOnly_"
	netscapeHeader = "# Netscape HTTP Cookie File\n# This file was generated by clearance. Edit at your own risk.\n\n"
)

// FlagMode selects how the second Netscape column is written.
type FlagMode int

const (
	// FlagHostOnly writes TRUE when the cookie domain has no leading dot.
	FlagHostOnly FlagMode = iota
	// FlagIncludeSubdomains writes TRUE when the domain has a leading dot,
	// which is what curl and most browser exporters emit.
	FlagIncludeSubdomains
)

// ParseError reports a malformed cookie line.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cookies: line %d: %s", e.Line, e.Reason)
}

// Flag returns the value of the flag column for c under mode.
func (m FlagMode) Flag(c Cookie) bool {
	if m == FlagIncludeSubdomains {
		return !c.HostOnly()
	}
	return c.HostOnly()
}

// WriteNetscape writes cs in Netscape cookie-file format using the
// host-only flag convention.
func WriteNetscape(w io.Writer, cs []Cookie) error {
	return FlagHostOnly.Write(w, cs)
}

// Write writes cs in Netscape cookie-file format.
func (m FlagMode) Write(w io.Writer, cs []Cookie) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(netscapeHeader); err != nil {
		return err
	}
	for _, c := range cs {
		if c.Name == "" {
			continue
		}
		domain := c.Domain
		if c.HTTPOnly {
			domain = httpOnlyPrefix + domain
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			domain, boolField(m.Flag(c)), path, boolField(c.Secure), c.Expires, c.Name, c.Value)
	}
	return bw.Flush()
}

// MarshalNetscape renders cs as a Netscape cookie file.
func MarshalNetscape(cs []Cookie) string {
	var sb strings.Builder
	_ = WriteNetscape(&sb, cs)
	return sb.String()
}

// ParseNetscape reads a Netscape cookie file. Comment and blank lines are
// skipped; a "#HttpOnly_" domain prefix marks the cookie HttpOnly. The flag
// column must be TRUE or FALSE but the domain's leading dot decides whether
// the cookie is host-only, so files written in either flag convention load
// the same way.
func ParseNetscape(r io.Reader) ([]Cookie, error) {
	var out []Cookie
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) == 6 {
			// Empty values are sometimes written without the trailing tab.
			fields = append(fields, "")
		}
		if len(fields) != 7 {
			return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("expected 7 tab-separated fields, got %d", len(fields))}
		}
		if _, err := parseBool(fields[1]); err != nil {
			return nil, &ParseError{Line: lineNo, Reason: "flag: " + err.Error()}
		}
		secure, err := parseBool(fields[3])
		if err != nil {
			return nil, &ParseError{Line: lineNo, Reason: "secure: " + err.Error()}
		}
		expires, err := strconv.ParseInt(strings.TrimSpace(fields[4]), 10, 64)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Reason: "expiry: " + err.Error()}
		}
		if fields[5] == "" {
			return nil, &ParseError{Line: lineNo, Reason: "empty cookie name"}
		}
		out = append(out, Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   secure,
			Expires:  expires,
			Name:     fields[5],
			Value:    fields[6],
			HTTPOnly: httpOnly,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cookies: read: %w", err)
	}
	return out, nil
}

// ParseNetscapeString is ParseNetscape over a string.
func ParseNetscapeString(s string) ([]Cookie, error) {
	return ParseNetscape(strings.NewReader(s))
}

func boolField(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func parseBool(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE":
		return true, nil
	case "FALSE":
		return false, nil
	}
	return false, fmt.Errorf("want TRUE or FALSE, got %q", s)
}
