// Package analysis implements the signal analyzers, the risk scorer,
// and the orchestrator that runs them in order. Analyzers are pure
// over their inputs and perform no I/O.
package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"triage_server/core/domain"
	"triage_server/pkg/redact"
)

// authVerdict is one mechanism's classified outcome.
type authVerdict string

const (
	verdictPass     authVerdict = "pass"
	verdictSoftfail authVerdict = "softfail"
	verdictFail     authVerdict = "fail"
	verdictReject   authVerdict = "reject"
	verdictNone     authVerdict = "none"
)

// HeaderResult carries the header subscore and its indicators.
type HeaderResult struct {
	Indicators []domain.ThreatIndicator
	Score      float64 // [0, 10]
}

// HeaderAnalyzer inspects authentication results: SPF, DKIM, DMARC.
type HeaderAnalyzer struct{}

// NewHeaderAnalyzer creates a header analyzer.
func NewHeaderAnalyzer() *HeaderAnalyzer {
	return &HeaderAnalyzer{}
}

var (
	spfTokenPattern   = regexp.MustCompile(`(?i)\bspf\s*=\s*(\w+)`)
	dkimTokenPattern  = regexp.MustCompile(`(?i)\bdkim\s*=\s*(\w+)`)
	dmarcTokenPattern = regexp.MustCompile(`(?i)\bdmarc\s*=\s*(\w+)`)
	receivedSPFPrefix = regexp.MustCompile(`(?i)^\s*(\w+)`)
)

// Analyze classifies each mechanism and emits one indicator per
// failing mechanism. DMARC reject outweighs DKIM fail, which outweighs
// SPF softfail.
func (a *HeaderAnalyzer) Analyze(msg *domain.EmailMessage) HeaderResult {
	authResults := collectHeaderValues(msg, "Authentication-Results")

	spf := classifyToken(authResults, spfTokenPattern)
	dkim := classifyToken(authResults, dkimTokenPattern)
	dmarc := classifyToken(authResults, dmarcTokenPattern)

	// Received-SPF is the fallback source for SPF when no
	// Authentication-Results verdict exists.
	if spf == verdictNone {
		if rspf := msg.HeaderValue("Received-SPF"); rspf != "" {
			if m := receivedSPFPrefix.FindStringSubmatch(rspf); m != nil {
				spf = normalizeVerdict(m[1])
			}
		}
	}

	var result HeaderResult

	addIndicator := func(severity domain.Severity, confidence float64, desc, evidence string) {
		result.Indicators = append(result.Indicators, newIndicator(
			domain.CategoryHeader, severity, confidence, desc, evidence))
	}

	switch spf {
	case verdictSoftfail:
		addIndicator(domain.SeverityLow, 0.5, "SPF soft failure", "spf=softfail")
	case verdictFail:
		addIndicator(domain.SeverityMedium, 0.7, "SPF authentication failed", "spf=fail")
	}

	switch dkim {
	case verdictFail:
		addIndicator(domain.SeverityHigh, 0.8, "DKIM signature verification failed", "dkim=fail")
	}

	switch dmarc {
	case verdictFail:
		addIndicator(domain.SeverityHigh, 0.85, "DMARC policy check failed", "dmarc=fail")
	case verdictReject:
		addIndicator(domain.SeverityCritical, 0.9, "DMARC policy rejected the message", "dmarc=reject")
	}

	// Nothing to authenticate against is itself a weak signal.
	if spf == verdictNone && dkim == verdictNone && dmarc == verdictNone {
		addIndicator(domain.SeverityLow, 0.4, "No authentication results present",
			"missing Authentication-Results")
	}

	result.Score = scoreIndicators(result.Indicators)
	return result
}

func collectHeaderValues(msg *domain.EmailMessage, name string) string {
	var parts []string
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Name, name) {
			parts = append(parts, h.Value)
		}
	}
	return strings.Join(parts, "; ")
}

func classifyToken(authResults string, pattern *regexp.Regexp) authVerdict {
	m := pattern.FindStringSubmatch(authResults)
	if m == nil {
		return verdictNone
	}
	return normalizeVerdict(m[1])
}

func normalizeVerdict(raw string) authVerdict {
	switch strings.ToLower(raw) {
	case "pass":
		return verdictPass
	case "softfail":
		return verdictSoftfail
	case "fail", "hardfail", "permerror":
		return verdictFail
	case "reject":
		return verdictReject
	default:
		return verdictNone
	}
}

// severityWeight maps indicator severity to its subscore contribution.
func severityWeight(s domain.Severity) float64 {
	switch s {
	case domain.SeverityCritical:
		return 6.5
	case domain.SeverityHigh:
		return 4.0
	case domain.SeverityMedium:
		return 2.5
	case domain.SeverityLow:
		return 1.0
	default:
		return 0
	}
}

// scoreIndicators sums severity weights, clamped to [0, 10].
func scoreIndicators(indicators []domain.ThreatIndicator) float64 {
	var sum float64
	for _, ind := range indicators {
		sum += severityWeight(ind.Severity)
	}
	return domain.ClampScore(sum)
}

// newIndicator builds an indicator with bounded, redacted evidence.
// Evidence is never empty on a stored indicator.
func newIndicator(category domain.IndicatorCategory, severity domain.Severity, confidence float64, desc, evidence string) domain.ThreatIndicator {
	evidence = redact.Evidence(evidence)
	if evidence == "" {
		evidence = fmt.Sprintf("signal: %s", desc)
	}
	return domain.ThreatIndicator{
		Category:    category,
		Severity:    severity,
		Description: desc,
		Evidence:    evidence,
		Confidence:  confidence,
	}
}
