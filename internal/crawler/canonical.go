// -----------------------------------------------------------------------
// URL Canonicalizer - Normalization and dedup key computation
// -----------------------------------------------------------------------

package crawler

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query keys stripped during canonicalization. Membership
// must stay stable across releases or dedup keys shift.
var trackingParams = map[string]bool{
	"fbclid":          true,
	"gclid":           true,
	"gclsrc":          true,
	"dclid":           true,
	"msclkid":         true,
	"mc_cid":          true,
	"mc_eid":          true,
	"li_fat_id":       true,
	"twclid":          true,
	"ttclid":          true,
	"igshid":          true,
	"ref":             true,
	"referrer":        true,
	"source":          true,
	"campaign":        true,
	"medium":          true,
	"affiliate":       true,
	"affiliate_id":    true,
	"partner":         true,
	"session_id":      true,
	"sessionid":       true,
	"sid":             true,
	"ts":              true,
	"timestamp":       true,
	"uid":             true,
	"cid":             true,
	"clickid":         true,
	"click_id":        true,
	"tracking_id":     true,
	"trk":             true,
	"spm":             true,
	"scm":             true,
	"mkt_tok":         true,
	"_hsenc":          true,
	"_hsmi":           true,
	"hsctatracking":   true,
	"vero_id":         true,
	"vero_conv":       true,
	"wickedid":        true,
	"yclid":           true,
	"_openstat":       true,
	"icid":            true,
	"ncid":            true,
	"sr_share":        true,
	"piwik_campaign":  true,
	"piwik_kwd":       true,
	"matomo_campaign": true,
	"matomo_kwd":      true,
}

// defaultPorts maps schemes to ports stripped from canonical hosts
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ftp":   "21",
	"ssh":   "22",
}

// isTrackingParam reports whether a query key is dropped during
// canonicalization. All utm_* keys are tracking params.
func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	return trackingParams[lower]
}

// Canonicalizer normalizes URLs into stable dedup keys. Parse failures
// surface on the warn callback and return the input unchanged.
type Canonicalizer struct {
	warn func(msg string)
}

// NewCanonicalizer creates a canonicalizer. The warn callback may be nil.
func NewCanonicalizer(warn func(msg string)) *Canonicalizer {
	return &Canonicalizer{warn: warn}
}

// Canonicalize normalizes a raw URL string. Rules, in order: default the
// scheme, lowercase scheme and host, strip www. and default ports, clean
// the path, drop tracking params and sort the rest, discard the fragment.
func (c *Canonicalizer) Canonicalize(raw string) string {
	out, err := c.canonicalize(raw)
	if err != nil {
		if c.warn != nil {
			c.warn(fmt.Sprintf("canonicalize failed for %q: %v", raw, err))
		}
		return raw
	}
	return out
}

func (c *Canonicalizer) canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}

	// Inputs starting at the query or fragment get a synthetic path
	if strings.HasPrefix(raw, "?") || strings.HasPrefix(raw, "#") {
		raw = "/" + raw
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in %q", raw)
	}

	scheme := strings.ToLower(u.Scheme)

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		host = host + ":" + port
	}

	path := canonicalPath(u.EscapedPath())
	query := canonicalQuery(u.RawQuery)

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if path != "/" {
		b.WriteString(path)
	}
	if query != "" {
		b.WriteString("?")
		b.WriteString(query)
	}
	return b.String(), nil
}

// canonicalPath percent-decodes, collapses slash runs, and strips a single
// trailing slash (except for the root path)
func canonicalPath(escaped string) string {
	path := escaped
	if decoded, err := url.PathUnescape(escaped); err == nil {
		path = decoded
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

type queryPair struct {
	key   string
	value string
	seq   int
}

// canonicalQuery drops tracking params, decodes both sides, stable-sorts
// by key, and re-encodes with the RFC 3986 unreserved set
func canonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	var pairs []queryPair
	for i, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if dk, err := url.QueryUnescape(key); err == nil {
			key = dk
		}
		if dv, err := url.QueryUnescape(value); err == nil {
			value = dv
		}
		if key == "" || isTrackingParam(key) {
			continue
		}
		pairs = append(pairs, queryPair{key: key, value: value, seq: i})
	}
	if len(pairs) == 0 {
		return ""
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].seq < pairs[j].seq
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteString("&")
		}
		b.WriteString(encodeQueryComponent(p.key))
		b.WriteString("=")
		b.WriteString(encodeQueryComponent(p.value))
	}
	return b.String()
}

// encodeQueryComponent percent-encodes everything outside the RFC 3986
// unreserved set
func encodeQueryComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			b.WriteByte(ch)
		case ch == '-' || ch == '.' || ch == '_' || ch == '~':
			b.WriteByte(ch)
		default:
			fmt.Fprintf(&b, "%%%02X", ch)
		}
	}
	return b.String()
}

// Host returns the canonical host of a URL, empty on parse failure
func (c *Canonicalizer) Host(raw string) string {
	u, err := url.Parse(c.Canonicalize(raw))
	if err != nil {
		return ""
	}
	return u.Host
}

// Path returns the canonical path of a URL
func (c *Canonicalizer) Path(raw string) string {
	u, err := url.Parse(c.Canonicalize(raw))
	if err != nil {
		return ""
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// Query returns the canonical query string of a URL
func (c *Canonicalizer) Query(raw string) string {
	u, err := url.Parse(c.Canonicalize(raw))
	if err != nil {
		return ""
	}
	return u.RawQuery
}

// Hash returns a hex string of a deterministic 64-bit FNV-1a hash of the
// canonical form. Stable across processes given the same tracking set.
func (c *Canonicalizer) Hash(raw string) string {
	h := fnv.New64a()
	h.Write([]byte(c.Canonicalize(raw)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// NormalizedHost lowercases and strips www. from a host for seed-domain
// comparison
func NormalizedHost(host string) string {
	host = strings.ToLower(host)
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}
