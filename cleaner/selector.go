package cleaner

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// errNoMatch is returned by selectFragment when the selector is valid but
// matches nothing on the page.
var errNoMatch = errors.New("selector matched no elements")

// selectFragment returns the outer HTML of every element in doc matching
// selector, in document order. Nested matches are kept once, inside their
// outermost matching ancestor.
func selectFragment(doc *goquery.Document, selector string) (string, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return "", err
	}

	matches := doc.FindMatcher(m)
	matches = matches.NotSelection(matches.FindMatcher(m))
	if matches.Length() == 0 {
		return "", errNoMatch
	}

	var b strings.Builder
	for i := range matches.Nodes {
		outer, err := goquery.OuterHtml(matches.Eq(i))
		if err != nil {
			return "", err
		}
		b.WriteString(outer)
	}
	return b.String(), nil
}
