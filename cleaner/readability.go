package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the shortest extracted text accepted from
// readability. Challenge interstitials and error pages usually fall below
// it.
const minContentLength = 50

// ExtractContent runs the Mozilla Readability algorithm on rawHTML. When
// extraction fails or finds too little text it returns the raw HTML
// wrapped in an Article and false.
func ExtractContent(rawHTML string, sourceURL string) (readability.Article, bool) {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		slog.Debug("readability: invalid source URL, using raw HTML", "url", sourceURL, "error", err)
		return fallbackArticle(rawHTML), false
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		slog.Debug("readability: extraction failed, using raw HTML", "url", sourceURL, "error", err)
		return fallbackArticle(rawHTML), false
	}

	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		slog.Debug("readability: extracted content too short, using raw HTML",
			"url", sourceURL, "length", len(article.TextContent))
		return fallbackArticle(rawHTML), false
	}

	return article, true
}

func fallbackArticle(rawHTML string) readability.Article {
	return readability.Article{
		Content:     rawHTML,
		TextContent: rawHTML,
	}
}
