package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage_server/core/domain"
)

type stubEnricher struct {
	indicators   []domain.ThreatIndicator
	contribution float64
	gotURLs      []string
	panics       bool
}

func (s *stubEnricher) Enrich(_ context.Context, _, _ string, urls []string) ([]domain.ThreatIndicator, float64) {
	if s.panics {
		panic("enrichment blew up")
	}
	s.gotURLs = urls
	return s.indicators, s.contribution
}

type stubExplainer struct {
	text string
}

func (s *stubExplainer) Explain(context.Context, *domain.EmailMessage, *domain.AnalysisResult) string {
	return s.text
}

func newTestOrchestrator(enricher Enricher, explainer Explainer) *Orchestrator {
	return NewOrchestrator(NewContentAnalyzer(nil), enricher, explainer)
}

// Safe email: passing authentication, benign body, no attachments.
func TestAnalyzeSafeEmail(t *testing.T) {
	o := newTestOrchestrator(nil, nil)

	result := o.Analyze(context.Background(), &domain.EmailMessage{
		MessageID: "<safe@example>",
		Sender:    "john@example.com",
		Subject:   "Lunch?",
		Body:      "See you at 1.",
		Headers: []domain.Header{{
			Name:  "Authentication-Results",
			Value: "mx.example.com; spf=pass; dkim=pass; dmarc=pass",
		}},
	})

	assert.False(t, result.IsPhishing)
	assert.Less(t, result.RiskScore, 3.0)
	assert.Equal(t, domain.SeverityLow, result.Severity)
	require.Len(t, result.RecommendedActions, 1)
	assert.Equal(t, "monitor", result.RecommendedActions[0].Action)
	assert.NotEmpty(t, result.AnalysisID)
}

// Failed authentication plus an urgency/credential body with an IP URL.
func TestAnalyzePhishingEmail(t *testing.T) {
	o := newTestOrchestrator(nil, nil)

	result := o.Analyze(context.Background(), &domain.EmailMessage{
		MessageID: "<phish@example>",
		Sender:    "attacker@evil.example",
		Subject:   "Account notice",
		Body:      "URGENT: your account will be suspended! Click https://192.168.1.1/claim and enter your password.",
		Headers: []domain.Header{{
			Name:  "Authentication-Results",
			Value: "mx.example.com; spf=fail; dkim=fail; dmarc=fail",
		}},
	})

	assert.True(t, result.IsPhishing)
	assert.GreaterOrEqual(t, result.RiskScore, 6.0)
	assert.Contains(t, []domain.Severity{domain.SeverityHigh, domain.SeverityCritical}, result.Severity)
	assert.NotNil(t, findByDescription(result.Indicators, "Urgency"))
	assert.NotNil(t, findByDescription(result.Indicators, "Credential"))
}

// A typosquatted sender with an empty body is still critical.
func TestAnalyzeTyposquatEmptyBody(t *testing.T) {
	o := newTestOrchestrator(nil, nil)

	result := o.Analyze(context.Background(), &domain.EmailMessage{
		MessageID: "<squat@example>",
		Sender:    "noreply@paypa1.com",
	})

	assert.True(t, result.IsPhishing)
	assert.Equal(t, domain.SeverityCritical, result.Severity)
	ind := findByDescription(result.Indicators, "Typosquatting")
	require.NotNil(t, ind)
	assert.Contains(t, ind.Description, "PayPal")
}

// A double-extension attachment drives a critical verdict with a
// block action.
func TestAnalyzeDoubleExtensionAttachment(t *testing.T) {
	o := newTestOrchestrator(nil, nil)

	result := o.Analyze(context.Background(), &domain.EmailMessage{
		MessageID:   "<attach@example>",
		Sender:      "someone@example.com",
		Subject:     "invoice",
		Body:        "see attached",
		Attachments: []domain.Attachment{{Filename: "invoice.pdf.exe", Size: 4096}},
	})

	assert.Equal(t, domain.SeverityCritical, result.Severity)
	require.NotNil(t, findByDescription(result.Indicators, "Double extension"))

	var blocked bool
	for _, a := range result.RecommendedActions {
		if a.Action == "block_attachment" {
			blocked = true
		}
	}
	assert.True(t, blocked)
}

func TestAnalyzePassesURLsToEnricher(t *testing.T) {
	enricher := &stubEnricher{}
	o := newTestOrchestrator(enricher, nil)

	o.Analyze(context.Background(), &domain.EmailMessage{
		MessageID: "<urls@example>",
		Sender:    "a@b.example",
		Body:      "links http://one.example/a https://two.example/b",
	})

	assert.Len(t, enricher.gotURLs, 2)
}

func TestAnalyzeAppliesIntelContribution(t *testing.T) {
	enricher := &stubEnricher{
		indicators: []domain.ThreatIndicator{{
			Category: domain.CategorySender, Severity: domain.SeverityHigh,
			Description: "Sending IP has an abuse history",
			Evidence:    "203.0.113.9", Confidence: 0.85,
		}},
		contribution: 2.0,
	}
	o := newTestOrchestrator(enricher, nil)

	withIntel := o.Analyze(context.Background(), &domain.EmailMessage{
		MessageID: "<intel@example>",
		Sender:    "a@b.example",
		Headers: []domain.Header{{
			Name: "Authentication-Results", Value: "spf=fail; dkim=fail; dmarc=fail",
		}},
	})

	noIntel := newTestOrchestrator(nil, nil).Analyze(context.Background(), &domain.EmailMessage{
		MessageID: "<nointel@example>",
		Sender:    "a@b.example",
		Headers: []domain.Header{{
			Name: "Authentication-Results", Value: "spf=fail; dkim=fail; dmarc=fail",
		}},
	})

	assert.Greater(t, withIntel.RiskScore, noIntel.RiskScore)
	assert.NotNil(t, findByDescription(withIntel.Indicators, "abuse history"))
}

func TestAnalyzeAttachesExplanation(t *testing.T) {
	o := newTestOrchestrator(nil, &stubExplainer{text: "looks borderline"})

	result := o.Analyze(context.Background(), &domain.EmailMessage{
		MessageID: "<explain@example>",
		Sender:    "a@b.example",
	})

	assert.Equal(t, "looks borderline", result.Explanation)
}

// An internal failure collapses into the safe default result instead
// of propagating.
func TestAnalyzeSafeDefaultOnPanic(t *testing.T) {
	o := newTestOrchestrator(&stubEnricher{panics: true}, nil)

	result := o.Analyze(context.Background(), &domain.EmailMessage{
		MessageID: "<boom@example>",
		Sender:    "a@b.example",
	})

	require.NotNil(t, result)
	assert.False(t, result.IsPhishing)
	assert.Zero(t, result.RiskScore)
	assert.Equal(t, domain.SeverityMedium, result.Severity)
	require.Len(t, result.Indicators, 1)
	assert.Equal(t, domain.CategoryBehavioral, result.Indicators[0].Category)
	require.Len(t, result.RecommendedActions, 1)
	assert.Equal(t, "flag_for_review", result.RecommendedActions[0].Action)
}

func TestExtractSenderIP(t *testing.T) {
	msg := &domain.EmailMessage{Headers: []domain.Header{
		{Name: "Received", Value: "from mx2.example ([198.51.100.7]) by mx.example"},
		{Name: "Received", Value: "from origin.example ([203.0.113.9]) by mx2.example"},
	}}

	// The oldest hop (last header) wins.
	assert.Equal(t, "203.0.113.9", extractSenderIP(msg))

	assert.Empty(t, extractSenderIP(&domain.EmailMessage{}))
}
