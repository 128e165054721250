package cleaner

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/clearance/models"
)

const page = `<html><head><title> Episode list </title><script>var x = 1;</script></head>
<body><nav>home | about</nav>
<div id="main"><h1>Episodes</h1><p>First <a href="/ep/1">episode</a></p></div>
<table class="eps"><tr><th>No</th><th>Name</th></tr><tr><td>1</td><td>Pilot</td></tr></table>
</body></html>`

func TestRender_Raw(t *testing.T) {
	r, err := New().Render(page, "https://example.com/list", Options{})
	require.NoError(t, err)
	assert.Equal(t, page, r.Content)
	assert.Equal(t, "Episode list", r.Title)
}

func TestRender_Markdown(t *testing.T) {
	r, err := New().Render(page, "https://example.com/list", Options{Format: FormatMarkdown})
	require.NoError(t, err)
	assert.Contains(t, r.Content, "# Episodes")
	assert.Contains(t, r.Content, "[episode](https://example.com/ep/1)")
	assert.Contains(t, r.Content, "Pilot")
	assert.NotContains(t, r.Content, "var x")
}

func TestRender_TextWithSelector(t *testing.T) {
	r, err := New().Render(page, "https://example.com/list", Options{Format: FormatText, Selector: "#main"})
	require.NoError(t, err)
	assert.Equal(t, "EpisodesFirst episode", strings.Join(strings.Fields(r.Content), " "))
	assert.NotContains(t, r.Content, "home")
	assert.Equal(t, "Episode list", r.Title)
}

func TestRender_SelectorNoMatch(t *testing.T) {
	_, err := New().Render(page, "https://example.com/", Options{Format: FormatHTML, Selector: ".missing"})
	var ce *models.CodedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, models.ErrCodeNoMatch, ce.Code)
}

func TestRender_SelectorKeepsOutermostMatch(t *testing.T) {
	nested := `<div class="c">a<div class="c">b</div></div><p>x</p><div class="c">d</div>`
	r, err := New().Render(nested, "https://example.com/", Options{Selector: "div.c"})
	require.NoError(t, err)
	assert.Equal(t, `<div class="c">a<div class="c">b</div></div><div class="c">d</div>`, r.Content)
}

func TestRender_Errors(t *testing.T) {
	_, err := New().Render(page, "https://example.com/", Options{Selector: "div[", Format: FormatHTML})
	var ce *models.CodedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, models.ErrCodeInvalidInput, ce.Code)

	_, err = New().Render(page, "https://example.com/", Options{Format: "pdf"})
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, models.ErrCodeInvalidInput, ce.Code)
}

func TestRender_ReadabilityFallsBackOnShortPages(t *testing.T) {
	short := "<html><head><title>Just a moment...</title></head><body><p>hi</p></body></html>"
	r, err := New().Render(short, "https://example.com/", Options{Format: FormatHTML, Readability: true})
	require.NoError(t, err)
	assert.Equal(t, short, r.Content)
	assert.Equal(t, "Just a moment...", r.Title)
}

func TestIsHTML(t *testing.T) {
	assert.True(t, IsHTML(""))
	assert.True(t, IsHTML("text/html; charset=utf-8"))
	assert.True(t, IsHTML("application/xhtml+xml"))
	assert.False(t, IsHTML("application/json"))
	assert.False(t, IsHTML(";;"))
}
