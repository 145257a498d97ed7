package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"triage_server/core/domain"
)

// Brand is one entry of the impersonation dictionary.
type Brand struct {
	Name   string
	Domain string
}

// DefaultBrands is the compiled-in impersonation dictionary. Deployments
// extend it through configuration; configured entries are added to it,
// never substituted for it.
var DefaultBrands = []Brand{
	{"PayPal", "paypal.com"},
	{"Microsoft", "microsoft.com"},
	{"Outlook", "outlook.com"},
	{"Apple", "apple.com"},
	{"Amazon", "amazon.com"},
	{"Google", "google.com"},
	{"Netflix", "netflix.com"},
	{"DocuSign", "docusign.com"},
	{"Dropbox", "dropbox.com"},
	{"LinkedIn", "linkedin.com"},
	{"Chase", "chase.com"},
	{"Wells Fargo", "wellsfargo.com"},
	{"Bank of America", "bankofamerica.com"},
	{"DHL", "dhl.com"},
	{"FedEx", "fedex.com"},
	{"UPS", "ups.com"},
}

var urgencyPhrases = []string{
	"urgent", "immediately", "act now", "right away", "expires today",
	"within 24 hours", "will be suspended", "will be closed",
	"final notice", "last warning", "account suspended", "verify now",
}

var credentialPhrases = []string{
	"enter your password", "confirm your password", "verify your password",
	"your password", "login to your account", "log in to verify",
	"verify your identity", "confirm your account", "update your payment",
	"social security", "credit card number", "banking details",
	"security question", "one-time code",
}

var socialEngineeringPhrases = []string{
	"wire transfer", "gift card", "gift cards", "keep this confidential",
	"do not tell", "are you available", "i need a favor",
	"payment is overdue", "invoice attached", "kindly",
}

// ContentResult carries the content subscore, its indicators, and the
// URLs found in the body for reputation lookup.
type ContentResult struct {
	Indicators []domain.ThreatIndicator
	Score      float64 // [0, 10]
	URLs       []string
}

// ContentAnalyzer detects urgency tactics, credential harvesting,
// brand impersonation (including typosquatting against the sender
// domain), social-engineering phrasing, and suspicious URLs.
type ContentAnalyzer struct {
	brands        []Brand
	brandMentions []*regexp.Regexp // word-bounded, parallel to brands
	urls          *URLAnalyzer
}

// NewContentAnalyzer creates a content analyzer. Extra brand entries in
// "Name:domain.com" form are appended to the default dictionary.
func NewContentAnalyzer(extraBrands []string) *ContentAnalyzer {
	brands := make([]Brand, len(DefaultBrands))
	copy(brands, DefaultBrands)

	for _, raw := range extraBrands {
		name, dom, ok := strings.Cut(raw, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		dom = strings.ToLower(strings.TrimSpace(dom))
		if name != "" && dom != "" {
			brands = append(brands, Brand{Name: name, Domain: dom})
		}
	}

	mentions := make([]*regexp.Regexp, len(brands))
	for i, b := range brands {
		mentions[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(b.Name) + `\b`)
	}

	return &ContentAnalyzer{
		brands:        brands,
		brandMentions: mentions,
		urls:          NewURLAnalyzer(),
	}
}

// Analyze inspects the body against the sender domain. Typosquatting is
// matched against the sender domain even when the body is empty.
func (a *ContentAnalyzer) Analyze(msg *domain.EmailMessage) ContentResult {
	var result ContentResult

	lowerBody := strings.ToLower(msg.Subject + "\n" + msg.Body)
	senderDomain := msg.SenderDomain()

	if matched := findPhrases(lowerBody, urgencyPhrases); len(matched) > 0 {
		result.Indicators = append(result.Indicators, newIndicator(
			domain.CategoryContent, domain.SeverityMedium, 0.7,
			"Urgency tactics detected",
			strings.Join(matched, ", ")))
	}

	if matched := findPhrases(lowerBody, credentialPhrases); len(matched) > 0 {
		result.Indicators = append(result.Indicators, newIndicator(
			domain.CategoryContent, domain.SeverityHigh, 0.8,
			"Credential harvesting language detected",
			strings.Join(matched, ", ")))
	}

	if matched := findPhrases(lowerBody, socialEngineeringPhrases); len(matched) > 0 {
		result.Indicators = append(result.Indicators, newIndicator(
			domain.CategoryContent, domain.SeverityMedium, 0.6,
			"Social engineering patterns detected",
			strings.Join(matched, ", ")))
	}

	result.Indicators = append(result.Indicators, a.checkBrands(lowerBody, senderDomain)...)

	urlResult := a.urls.Analyze(msg.Body)
	result.Indicators = append(result.Indicators, urlResult.Indicators...)
	result.URLs = urlResult.URLs

	result.Score = scoreIndicators(result.Indicators)
	return result
}

func (a *ContentAnalyzer) checkBrands(lowerBody, senderDomain string) []domain.ThreatIndicator {
	var indicators []domain.ThreatIndicator

	for i, brand := range a.brands {
		// Typosquatting: sender domain close to, but not equal to, a
		// known brand domain. Checked even for empty bodies.
		if senderDomain != "" && senderDomain != brand.Domain {
			if isTyposquat(senderDomain, brand.Domain) {
				indicators = append(indicators, newIndicator(
					domain.CategorySender, domain.SeverityCritical, 0.95,
					fmt.Sprintf("Typosquatting of %s domain detected", brand.Name),
					fmt.Sprintf("sender domain %q imitates %q", senderDomain, brand.Domain)))
				continue
			}
		}

		// Impersonation: brand named in the body while the sender is
		// unrelated to the brand's domain.
		if lowerBody != "" && a.brandMentions[i].MatchString(lowerBody) {
			if senderDomain != "" && senderDomain != brand.Domain &&
				!strings.HasSuffix(senderDomain, "."+brand.Domain) {
				indicators = append(indicators, newIndicator(
					domain.CategoryContent, domain.SeverityMedium, 0.6,
					fmt.Sprintf("Possible %s brand impersonation", brand.Name),
					fmt.Sprintf("mentions %s, sender domain %q", brand.Name, senderDomain)))
			}
		}
	}

	return indicators
}

// isTyposquat flags near-identical domains: small edit distance on the
// registrable part, or lookalike character substitution (paypa1.com).
func isTyposquat(candidate, brand string) bool {
	c := stripCommonTLD(candidate)
	b := stripCommonTLD(brand)
	if c == b {
		// Same name under a different TLD (paypal.tk) counts, but only
		// for bare two-label domains so brand-owned subdomains under a
		// different registrable domain stay clean.
		return candidate != brand && strings.Count(candidate, ".") == 1
	}

	if normalizeLookalikes(c) == b {
		return true
	}

	distance := levenshtein(c, b)
	maxLen := len(c)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return false
	}
	similarity := (1.0 - float64(distance)/float64(maxLen)) * 100
	return similarity > 85 && similarity < 100
}

func stripCommonTLD(dom string) string {
	if i := strings.IndexByte(dom, '.'); i > 0 {
		return dom[:i]
	}
	return dom
}

var lookalikeReplacer = strings.NewReplacer(
	"0", "o",
	"1", "l",
	"3", "e",
	"5", "s",
	"7", "t",
	"@", "a",
)

func normalizeLookalikes(s string) string {
	return lookalikeReplacer.Replace(s)
}

func findPhrases(haystack string, phrases []string) []string {
	var matched []string
	for _, p := range phrases {
		if strings.Contains(haystack, p) {
			matched = append(matched, p)
		}
	}
	return matched
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
