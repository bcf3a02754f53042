// -----------------------------------------------------------------------
// SPA Detection - Heuristics for client-side rendered pages
// -----------------------------------------------------------------------

package crawler

import (
	"regexp"
	"strings"

	"github.com/ternarybob/reperio/internal/models"
)

// spaDetectionThreshold is the confidence at which a page is treated as a
// SPA and routed through headless rendering
const spaDetectionThreshold = 40

// spaMarker is one weighted content pattern
type spaMarker struct {
	indicator string
	weight    int
	match     func(lower string) bool
}

var spaMarkers = []spaMarker{
	{"react_root", 40, func(s string) bool {
		return strings.Contains(s, "data-reactroot") || strings.Contains(s, "data-reactid")
	}},
	{"next_data", 40, func(s string) bool {
		return strings.Contains(s, "__next_data__") || strings.Contains(s, `id="__next"`)
	}},
	{"nuxt", 40, func(s string) bool {
		return strings.Contains(s, "/_nuxt/") || strings.Contains(s, "window.__nuxt__")
	}},
	{"angular", 40, func(s string) bool {
		return strings.Contains(s, "ng-app") || strings.Contains(s, "ng-version")
	}},
	{"vue", 30, func(s string) bool {
		return strings.Contains(s, `id="app"`) && (strings.Contains(s, "vue") || strings.Contains(s, "data-v-"))
	}},
	{"framework_bundle", 25, func(s string) bool {
		return bundlePathRegex.MatchString(s)
	}},
	{"spa_shell", 30, func(s string) bool {
		return emptyAppDivRegex.MatchString(s)
	}},
}

var (
	bundlePathRegex  = regexp.MustCompile(`src="[^"]*(?:/static/js/|/assets/index-|chunk-|bundle\.[0-9a-f]+|\bmain\.[0-9a-f]{8})[^"]*\.js"`)
	emptyAppDivRegex = regexp.MustCompile(`<div id="(?:app|root)">\s*</div>`)
	tagRegex         = regexp.MustCompile(`<[^>]*>`)
)

// DetectSpa scores HTML content against known SPA markers. Confidence is
// the capped sum of matched marker weights; the page is a SPA at or above
// the threshold.
func DetectSpa(content []byte, pageURL string) models.SpaDetection {
	detection := models.SpaDetection{Indicators: []string{}}
	if len(content) == 0 {
		return detection
	}

	lower := strings.ToLower(string(content))

	for _, m := range spaMarkers {
		if m.match(lower) {
			detection.Indicators = append(detection.Indicators, m.indicator)
			detection.Confidence += m.weight
		}
	}

	// Near-empty body with script tags is the classic SPA shell
	if ratio := textMarkupRatio(lower); ratio < 0.05 && strings.Contains(lower, "<script") {
		detection.Indicators = append(detection.Indicators, "low_text_ratio")
		detection.Confidence += 25
	}

	if detection.Confidence > 100 {
		detection.Confidence = 100
	}
	detection.IsSpa = detection.Confidence >= spaDetectionThreshold
	return detection
}

// textMarkupRatio approximates visible text volume relative to document
// size. SPA shells sit near zero.
func textMarkupRatio(html string) float64 {
	if len(html) == 0 {
		return 0
	}
	bodyStart := strings.Index(html, "<body")
	body := html
	if bodyStart >= 0 {
		body = html[bodyStart:]
	}

	// Strip script and style blocks first so bundle code does not count
	// as text
	body = scriptBlockRegex.ReplaceAllString(body, "")
	body = styleBlockRegex.ReplaceAllString(body, "")
	text := tagRegex.ReplaceAllString(body, "")
	text = strings.TrimSpace(text)

	return float64(len(text)) / float64(len(html))
}

var (
	scriptBlockRegex = regexp.MustCompile(`(?s)<script[^>]*>.*?</script>`)
	styleBlockRegex  = regexp.MustCompile(`(?s)<style[^>]*>.*?</style>`)
)
