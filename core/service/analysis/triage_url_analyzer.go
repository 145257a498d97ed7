package analysis

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"triage_server/core/domain"
)

var shortenerHosts = map[string]struct{}{
	"bit.ly":      {},
	"tinyurl.com": {},
	"goo.gl":      {},
	"t.co":        {},
	"ow.ly":       {},
	"is.gd":       {},
	"buff.ly":     {},
	"rebrand.ly":  {},
	"cutt.ly":     {},
	"rb.gy":       {},
}

var suspiciousTLDs = map[string]struct{}{
	".tk":  {},
	".ml":  {},
	".ga":  {},
	".cf":  {},
	".gq":  {},
	".xyz": {},
	".top": {},
	".win": {},
}

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	anchorPattern = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*["']([^"']+)["'][^>]*>(.*?)</a>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
)

// URLResult carries the URL indicators and the extracted URLs.
type URLResult struct {
	Indicators []domain.ThreatIndicator
	URLs       []string
}

// URLAnalyzer extracts http(s) URLs and flags shorteners, IP hosts,
// suspicious TLDs, user-info disguises, parse failures, and anchor
// display/href mismatches.
type URLAnalyzer struct{}

// NewURLAnalyzer creates a URL analyzer.
func NewURLAnalyzer() *URLAnalyzer {
	return &URLAnalyzer{}
}

// Analyze inspects every URL found in the body.
func (a *URLAnalyzer) Analyze(body string) URLResult {
	var result URLResult

	seen := make(map[string]struct{})
	for _, raw := range urlPattern.FindAllString(body, -1) {
		raw = strings.TrimRight(raw, ".,;:!?")
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		result.URLs = append(result.URLs, raw)
		result.Indicators = append(result.Indicators, a.inspect(raw)...)
	}

	result.Indicators = append(result.Indicators, a.checkAnchors(body)...)
	return result
}

func (a *URLAnalyzer) inspect(raw string) []domain.ThreatIndicator {
	var indicators []domain.ThreatIndicator

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return []domain.ThreatIndicator{newIndicator(
			domain.CategoryURL, domain.SeverityMedium, 0.6,
			"Unparseable URL", raw)}
	}

	host := strings.ToLower(parsed.Hostname())

	if parsed.User != nil {
		indicators = append(indicators, newIndicator(
			domain.CategoryURL, domain.SeverityHigh, 0.85,
			"URL uses user-info to disguise its destination", raw))
	}

	if net.ParseIP(host) != nil {
		indicators = append(indicators, newIndicator(
			domain.CategoryURL, domain.SeverityHigh, 0.85,
			"URL points at a raw IP address", raw))
	}

	if _, ok := shortenerHosts[host]; ok {
		indicators = append(indicators, newIndicator(
			domain.CategoryURL, domain.SeverityMedium, 0.65,
			"URL uses a known link shortener", raw))
	}

	for tld := range suspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			indicators = append(indicators, newIndicator(
				domain.CategoryURL, domain.SeverityMedium, 0.65,
				fmt.Sprintf("URL uses suspicious TLD %s", tld), raw))
			break
		}
	}

	return indicators
}

// checkAnchors flags anchors whose visible text names a different host
// than the href target.
func (a *URLAnalyzer) checkAnchors(body string) []domain.ThreatIndicator {
	var indicators []domain.ThreatIndicator

	for _, m := range anchorPattern.FindAllStringSubmatch(body, -1) {
		href, display := m[1], m[2]

		// Sanitize display text down to plain text.
		display = strings.TrimSpace(tagPattern.ReplaceAllString(display, ""))
		if display == "" {
			continue
		}

		displayHost := hostOf(display)
		if displayHost == "" {
			continue // display text is not URL-shaped
		}
		hrefHost := hostOf(href)
		if hrefHost == "" || displayHost == hrefHost {
			continue
		}

		indicators = append(indicators, newIndicator(
			domain.CategoryURL, domain.SeverityHigh, 0.85,
			"Link display text does not match its destination",
			fmt.Sprintf("shows %q, goes to %q", displayHost, hrefHost)))
	}

	return indicators
}

// hostOf extracts a lower-cased host from URL-shaped text, tolerating a
// missing scheme ("paypal.com/login").
func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		if !strings.Contains(s, ".") || strings.ContainsAny(s, " \t\n") {
			return ""
		}
		s = "http://" + s
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
