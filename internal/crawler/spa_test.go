package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectSpa_EmptyAppShell(t *testing.T) {
	html := `<!DOCTYPE html><html><head><title></title></head>
<body><div id="app"></div><script src="/assets/index-abc123.js"></script></body></html>`

	d := DetectSpa([]byte(html), "https://spa.test/")
	assert.True(t, d.IsSpa)
	assert.Contains(t, d.Indicators, "spa_shell")
	assert.GreaterOrEqual(t, d.Confidence, 40)
	assert.LessOrEqual(t, d.Confidence, 100)
}

func TestDetectSpa_FrameworkMarkers(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		indicator string
	}{
		{"react", `<div data-reactroot=""><span>x</span></div>`, "react_root"},
		{"next", `<script id="__NEXT_DATA__" type="application/json">{}</script>`, "next_data"},
		{"nuxt", `<script src="/_nuxt/entry.js"></script>`, "nuxt"},
		{"angular", `<html ng-app="myApp"><body></body></html>`, "angular"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DetectSpa([]byte(tt.html), "https://spa.test/")
			assert.Contains(t, d.Indicators, tt.indicator)
			assert.True(t, d.IsSpa, "confidence %d", d.Confidence)
		})
	}
}

func TestDetectSpa_StaticContentPage(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><head><title>Article</title></head><body><article>")
	for i := 0; i < 80; i++ {
		b.WriteString("<p>Plenty of real visible prose in this paragraph of the article body.</p>")
	}
	b.WriteString("</article></body></html>")

	d := DetectSpa([]byte(b.String()), "https://static.test/")
	assert.False(t, d.IsSpa)
	assert.Less(t, d.Confidence, 40)
}

func TestDetectSpa_EmptyContent(t *testing.T) {
	d := DetectSpa(nil, "https://x.test/")
	assert.False(t, d.IsSpa)
	assert.Equal(t, 0, d.Confidence)
	assert.Empty(t, d.Indicators)
}

func TestDetectSpa_ConfidenceCapped(t *testing.T) {
	html := `<html ng-app><body><div id="app"></div><div data-reactroot></div>
<script id="__NEXT_DATA__"></script><script src="/_nuxt/a.js"></script>
<script src="/static/js/bundle.0a1b2c3d.js"></script></body></html>`

	d := DetectSpa([]byte(html), "https://kitchen-sink.test/")
	assert.True(t, d.IsSpa)
	assert.Equal(t, 100, d.Confidence)
}
