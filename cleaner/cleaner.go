// Package cleaner turns a fetched HTML body into the format an API caller
// asked for: the raw page, readability-extracted HTML, Markdown or text.
package cleaner

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/clearance/models"
)

// Output formats.
const (
	FormatRaw      = "raw"
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// Options select how a body is rendered.
type Options struct {
	Format string // default: FormatRaw

	// Selector keeps only the elements matching a CSS selector.
	Selector string

	// Readability extracts the main content before conversion.
	Readability bool
}

// Rendered is a converted body plus the page title.
type Rendered struct {
	Content string
	Title   string
}

// Cleaner renders HTML bodies. The Markdown converter is created once and
// is safe for concurrent use.
type Cleaner struct {
	md *converter.Converter
}

// New returns a Cleaner. Markdown output drops scripts and styles, follows
// CommonMark and keeps tables with minimal cell padding.
func New() *Cleaner {
	return &Cleaner{md: converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal)),
		),
	)}
}

// IsHTML reports whether a Content-Type is worth rendering. An empty type
// is treated as HTML.
func IsHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// Render converts rawHTML according to opts. sourceURL resolves relative
// links in Markdown output.
//
// A selector that matches nothing is an error rather than a silent
// fallback to the whole page.
func (c *Cleaner) Render(rawHTML, sourceURL string, opts Options) (Rendered, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return Rendered{}, models.NewCodedError(models.ErrCodeInternal, "parse html", err)
	}
	out := Rendered{Title: strings.TrimSpace(doc.Find("title").First().Text())}

	body := rawHTML
	if opts.Selector != "" {
		selected, err := selectFragment(doc, opts.Selector)
		switch {
		case errors.Is(err, errNoMatch):
			return Rendered{}, models.NewCodedError(models.ErrCodeNoMatch,
				fmt.Sprintf("css selector %q matched nothing", opts.Selector), err)
		case err != nil:
			return Rendered{}, models.NewCodedError(models.ErrCodeInvalidInput,
				fmt.Sprintf("invalid css selector %q", opts.Selector), err)
		}
		body = selected
	}

	format := opts.Format
	if format == "" {
		format = FormatRaw
	}
	if format == FormatRaw {
		out.Content = body
		return out, nil
	}

	article := fallbackArticle(body)
	if opts.Readability {
		var ok bool
		article, ok = ExtractContent(body, sourceURL)
		if ok && article.Title != "" {
			out.Title = article.Title
		}
	}

	switch format {
	case FormatHTML:
		out.Content = article.Content
	case FormatText:
		if opts.Readability && article.TextContent != article.Content {
			out.Content = strings.TrimSpace(article.TextContent)
		} else {
			out.Content = stripTags(article.Content)
		}
	case FormatMarkdown:
		md, err := c.md.ConvertString(article.Content, converter.WithDomain(sourceURL))
		if err != nil {
			return Rendered{}, models.NewCodedError(models.ErrCodeInternal, "markdown conversion failed", err)
		}
		out.Content = md
	default:
		return Rendered{}, models.NewCodedError(models.ErrCodeInvalidInput, "unknown format "+format, nil)
	}
	return out, nil
}

// stripTags extracts visible text from an HTML fragment.
func stripTags(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, noscript").Remove()
	return strings.TrimSpace(doc.Text())
}
