package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
  <title>  Example
    Page  </title>
  <meta name="description" content=" A test page. ">
  <meta name="keywords" content="crawling, indexing , search">
  <script>var hidden = "should not appear";</script>
  <style>.x { color: red }</style>
</head>
<body>
  <h1>Welcome</h1>
  <p>Visible   text with	 spacing.</p>
  <noscript>Enable JS</noscript>
  <!-- a comment -->
  <a href="/relative">Relative</a>
  <a href="https://other.test/abs">Absolute</a>
  <a href="/relative">Duplicate</a>
  <a href="#frag">Fragment</a>
  <a href="javascript:void(0)">JS</a>
  <a href="mailto:x@y.test">Mail</a>
  <a href="tel:+1234">Tel</a>
  <a href="">Empty</a>
  <a href="page2#section">WithFragment</a>
</body>
</html>`

func TestParser_Parse(t *testing.T) {
	p := NewParser(nil)

	page := p.Parse(testPageHTML, "https://example.com/dir/index.html")

	assert.Equal(t, "Example Page", page.Title)
	assert.Equal(t, "A test page.", page.MetaDescription)
	assert.Equal(t, []string{"crawling", "indexing", "search"}, page.Keywords)

	assert.Contains(t, page.TextContent, "Welcome")
	assert.Contains(t, page.TextContent, "Visible text with spacing.")
	assert.NotContains(t, page.TextContent, "should not appear")
	assert.NotContains(t, page.TextContent, "color: red")
	assert.NotContains(t, page.TextContent, "Enable JS")
	assert.NotContains(t, page.TextContent, "a comment")

	require.Equal(t, []string{
		"https://example.com/relative",
		"https://other.test/abs",
		"https://example.com/dir/page2",
	}, page.Links)

	assert.Greater(t, page.WordCount, 0)
	assert.Contains(t, page.ContentMarkdown, "Welcome")
}

func TestParser_MalformedHTML(t *testing.T) {
	p := NewParser(nil)

	page := p.Parse("<html><body><p>unclosed<a href='/x'>link", "http://a.test/")
	assert.Contains(t, page.TextContent, "unclosed")
	assert.Equal(t, []string{"http://a.test/x"}, page.Links)
}

func TestParser_EmptyInput(t *testing.T) {
	p := NewParser(nil)

	page := p.Parse("", "http://a.test/")
	assert.Empty(t, page.Title)
	assert.Empty(t, page.Links)
	assert.Equal(t, 0, page.WordCount)
}

func TestParser_MissingDescription(t *testing.T) {
	p := NewParser(nil)

	page := p.Parse("<html><head><title>T</title></head><body>x</body></html>", "http://a.test/")
	assert.Equal(t, "T", page.Title)
	assert.Empty(t, page.MetaDescription)
}

func TestParser_EntityDecoding(t *testing.T) {
	p := NewParser(nil)

	page := p.Parse("<html><body><p>Fish &amp; Chips &lt;daily&gt;</p></body></html>", "http://a.test/")
	assert.Contains(t, page.TextContent, "Fish & Chips <daily>")
}

func TestParser_NonHTTPLinksSkipped(t *testing.T) {
	p := NewParser(nil)

	page := p.Parse(`<html><body><a href="ftp://files.test/x">ftp</a><a href="https://ok.test/">ok</a></body></html>`, "http://a.test/")
	assert.Equal(t, []string{"https://ok.test/"}, page.Links)
}
