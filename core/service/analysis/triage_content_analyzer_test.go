package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage_server/core/domain"
)

func contentMsg(sender, subject, body string) *domain.EmailMessage {
	return &domain.EmailMessage{
		MessageID: "<t@example>",
		Sender:    sender,
		Subject:   subject,
		Body:      body,
	}
}

func findByDescription(indicators []domain.ThreatIndicator, fragment string) *domain.ThreatIndicator {
	for i := range indicators {
		if strings.Contains(indicators[i].Description, fragment) {
			return &indicators[i]
		}
	}
	return nil
}

func TestContentAnalyzerTactics(t *testing.T) {
	analyzer := NewContentAnalyzer(nil)

	result := analyzer.Analyze(contentMsg(
		"attacker@evil.example",
		"URGENT: action required",
		"Your account will be suspended! Enter your password at once. "+
			"Please buy gift cards and keep this confidential.",
	))

	require.NotNil(t, findByDescription(result.Indicators, "Urgency"))
	require.NotNil(t, findByDescription(result.Indicators, "Credential"))
	require.NotNil(t, findByDescription(result.Indicators, "Social engineering"))
	assert.Greater(t, result.Score, 0.0)
}

func TestContentAnalyzerCleanMessage(t *testing.T) {
	analyzer := NewContentAnalyzer(nil)

	result := analyzer.Analyze(contentMsg("john@example.com", "Lunch?", "See you at 1."))

	assert.Empty(t, result.Indicators)
	assert.Zero(t, result.Score)
	assert.Empty(t, result.URLs)
}

// A typosquatted sender domain is flagged even with an empty body.
func TestTyposquattingEmptyBody(t *testing.T) {
	analyzer := NewContentAnalyzer(nil)

	result := analyzer.Analyze(contentMsg("noreply@paypa1.com", "", ""))

	ind := findByDescription(result.Indicators, "Typosquatting")
	require.NotNil(t, ind, "typosquat indicator missing")
	assert.Contains(t, ind.Description, "PayPal")
	assert.Equal(t, domain.SeverityCritical, ind.Severity)
	assert.GreaterOrEqual(t, ind.Confidence, 0.9)
}

func TestTyposquattingVariants(t *testing.T) {
	tests := []struct {
		sender string
		squat  bool
	}{
		{"a@paypa1.com", true},     // lookalike digit
		{"a@paypall.com", true},    // extra character
		{"a@paypal.tk", true},      // brand under another TLD
		{"a@paypal.com", false},    // the real domain
		{"a@unrelated.com", false}, // nothing like a brand
	}

	analyzer := NewContentAnalyzer(nil)
	for _, tt := range tests {
		t.Run(tt.sender, func(t *testing.T) {
			result := analyzer.Analyze(contentMsg(tt.sender, "", ""))
			got := findByDescription(result.Indicators, "Typosquatting") != nil
			assert.Equal(t, tt.squat, got)
		})
	}
}

func TestBrandImpersonationNeedsWordBoundary(t *testing.T) {
	analyzer := NewContentAnalyzer(nil)

	// "groups" must not trigger the UPS brand.
	result := analyzer.Analyze(contentMsg("a@b.example", "team groups", "our groups meet at noon"))
	assert.Nil(t, findByDescription(result.Indicators, "impersonation"))

	// A real brand mention from an unrelated sender does trigger.
	result = analyzer.Analyze(contentMsg("a@b.example", "", "Your PayPal invoice is attached"))
	assert.NotNil(t, findByDescription(result.Indicators, "impersonation"))
}

func TestConfigurableBrandDictionary(t *testing.T) {
	analyzer := NewContentAnalyzer([]string{"Acme Bank:acmebank.example"})

	result := analyzer.Analyze(contentMsg("a@acmebank-secure.example", "", "Acme Bank alert"))
	assert.NotNil(t, findByDescription(result.Indicators, "Acme Bank"))
}

func TestContentAnalyzerCollectsURLs(t *testing.T) {
	analyzer := NewContentAnalyzer(nil)

	result := analyzer.Analyze(contentMsg("a@b.example", "links",
		"see http://one.example/a and https://two.example/b"))

	assert.Len(t, result.URLs, 2)
}
