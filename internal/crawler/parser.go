// -----------------------------------------------------------------------
// Content Parser - Title, description, text, markdown, and link extraction
// -----------------------------------------------------------------------

package crawler

import (
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// ParsedPage is the extraction result for one HTML document
type ParsedPage struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	TextContent     string   `json:"text_content"`
	ContentMarkdown string   `json:"content_markdown"`
	Keywords        []string `json:"keywords,omitempty"`
	Links           []string `json:"links"`
	WordCount       int      `json:"word_count"`
}

// Parser extracts content and links from HTML. Tolerates malformed input;
// the zero-value ParsedPage is returned on unparseable documents.
type Parser struct {
	logger arbor.ILogger
}

// NewParser creates a parser
func NewParser(logger arbor.ILogger) *Parser {
	return &Parser{logger: logger}
}

var (
	spaceRegex   = regexp.MustCompile(`[ \t]+`)
	newlineRegex = regexp.MustCompile(`\n{3,}`)
)

// Parse extracts title, description, visible text, markdown, and absolute
// outbound links from an HTML document
func (p *Parser) Parse(html string, baseURL string) *ParsedPage {
	page := &ParsedPage{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		if p.logger != nil {
			p.logger.Warn().Err(err).Str("url", baseURL).Msg("Failed to parse HTML")
		}
		return page
	}

	page.Title = collapseWhitespace(doc.Find("title").First().Text())

	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if strings.EqualFold(name, "description") {
			page.MetaDescription, _ = s.Attr("content")
			page.MetaDescription = strings.TrimSpace(page.MetaDescription)
			return false
		}
		return true
	})

	doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if strings.EqualFold(name, "keywords") {
			if content, ok := s.Attr("content"); ok && content != "" {
				for _, kw := range strings.Split(content, ",") {
					if kw = strings.TrimSpace(kw); kw != "" {
						page.Keywords = append(page.Keywords, kw)
					}
				}
			}
		}
	})

	page.Links = p.extractLinks(doc, baseURL)

	// Markdown conversion runs on the original body before text cleanup
	// strips structure
	page.ContentMarkdown = p.convertMarkdown(doc, baseURL)

	page.TextContent = p.extractText(doc)
	page.WordCount = len(strings.Fields(page.TextContent))

	return page
}

// extractText returns visible text with scripts, styles, and noscript
// removed, whitespace collapsed
func (p *Parser) extractText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body.Find("script, style, noscript, template").Remove()

	text := body.Text()
	text = spaceRegex.ReplaceAllString(text, " ")
	text = newlineRegex.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	var kept []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// convertMarkdown renders the body as markdown for storage alongside the
// plain text projection
func (p *Parser) convertMarkdown(doc *goquery.Document, baseURL string) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		return ""
	}
	html, err := body.Html()
	if err != nil {
		return ""
	}

	converter := md.NewConverter(baseURL, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn().Err(err).Msg("Failed to convert HTML to markdown")
		}
		return ""
	}
	return strings.TrimSpace(markdown)
}

// extractLinks resolves every a[href] against the base URL, skipping
// javascript:, mailto:, tel:, data:, empty, and fragment-only hrefs, and
// deduplicates within the page
func (p *Parser) extractLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn().Err(err).Str("base_url", baseURL).Msg("Failed to parse base URL for link resolution")
		}
		base = nil
	}

	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if shouldSkipHref(href) {
			return
		}

		resolved := resolveHref(href, base)
		if resolved == "" {
			return
		}
		if !seen[resolved] {
			seen[resolved] = true
			links = append(links, resolved)
		}
	})

	return links
}

func shouldSkipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "sms:") ||
		strings.HasPrefix(lower, "data:")
}

func resolveHref(href string, base *url.URL) string {
	if base == nil {
		if parsed, err := url.Parse(href); err == nil && parsed.IsAbs() {
			return parsed.String()
		}
		return ""
	}
	resolved, err := base.Parse(href)
	if err != nil {
		return ""
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
