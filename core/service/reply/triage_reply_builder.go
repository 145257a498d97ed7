// Package reply formats and sends the triage verdict back to the
// reporter, gated by the rate limiter.
package reply

import (
	"fmt"
	"html"
	"strings"

	"triage_server/core/domain"
)

const (
	maxReplyIndicators = 5
	maxReplyActions    = 3
)

// BuildReplyHTML renders the verdict reply: a summary banner, the
// score, and bounded lists of the strongest indicators and actions.
func BuildReplyHTML(result *domain.AnalysisResult) string {
	var b strings.Builder

	banner, color := "No phishing indicators found", "#2e7d32"
	if result.IsPhishing {
		banner, color = "Likely phishing", "#c62828"
	}

	b.WriteString("<html><body style=\"font-family:Arial,sans-serif;color:#222\">")
	fmt.Fprintf(&b, "<h2 style=\"color:%s\">%s</h2>", color, banner)
	fmt.Fprintf(&b, "<p>Risk score: <b>%.1f / 10</b> &middot; Severity: <b>%s</b> &middot; Confidence: <b>%.0f%%</b></p>",
		result.RiskScore, html.EscapeString(string(result.Severity)), result.Confidence*100)

	if len(result.Indicators) > 0 {
		b.WriteString("<h3>What we found</h3><ul>")
		for i, ind := range result.Indicators {
			if i >= maxReplyIndicators {
				break
			}
			fmt.Fprintf(&b, "<li><b>%s</b> (%s): %s</li>",
				html.EscapeString(ind.Description),
				html.EscapeString(string(ind.Severity)),
				html.EscapeString(ind.Evidence))
		}
		b.WriteString("</ul>")
	}

	if len(result.RecommendedActions) > 0 {
		b.WriteString("<h3>Recommended next steps</h3><ol>")
		for i, action := range result.RecommendedActions {
			if i >= maxReplyActions {
				break
			}
			fmt.Fprintf(&b, "<li><b>%s</b>: %s</li>",
				html.EscapeString(action.Action),
				html.EscapeString(action.Description))
		}
		b.WriteString("</ol>")
	}

	if result.Explanation != "" {
		fmt.Fprintf(&b, "<h3>Summary</h3><p>%s</p>", html.EscapeString(result.Explanation))
	}

	fmt.Fprintf(&b, "<p style=\"color:#888;font-size:12px\">Reference: %s. Thank you for reporting.</p>",
		html.EscapeString(result.AnalysisID))
	b.WriteString("</body></html>")

	return b.String()
}

// BuildReplySubject prefixes the original subject with the verdict.
func BuildReplySubject(result *domain.AnalysisResult, originalSubject string) string {
	tag := "[Safe]"
	if result.IsPhishing {
		tag = "[Phishing]"
	}
	subject := strings.TrimSpace(originalSubject)
	if subject == "" {
		subject = "your reported email"
	}
	return fmt.Sprintf("%s Analysis of: %s", tag, subject)
}

// BuildErrorReplyHTML is the short apology sent when analysis or the
// main reply failed; it carries a correlation id for support.
func BuildErrorReplyHTML(correlationID string) string {
	return fmt.Sprintf(
		"<html><body style=\"font-family:Arial,sans-serif;color:#222\">"+
			"<p>We received your report but could not complete the automated analysis. "+
			"The security team has been notified and will review it manually.</p>"+
			"<p style=\"color:#888;font-size:12px\">Reference: %s</p>"+
			"</body></html>",
		html.EscapeString(correlationID))
}
