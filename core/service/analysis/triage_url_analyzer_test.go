package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage_server/core/domain"
)

func TestURLAnalyzer(t *testing.T) {
	analyzer := NewURLAnalyzer()

	tests := []struct {
		name     string
		body     string
		wantDesc string
		wantSev  domain.Severity
	}{
		{
			name:     "ip address host",
			body:     "click https://192.168.1.1/claim now",
			wantDesc: "raw IP address",
			wantSev:  domain.SeverityHigh,
		},
		{
			name:     "link shortener",
			body:     "see https://bit.ly/3xyz",
			wantDesc: "link shortener",
			wantSev:  domain.SeverityMedium,
		},
		{
			name:     "suspicious tld",
			body:     "visit http://login-update.tk/verify",
			wantDesc: "suspicious TLD",
			wantSev:  domain.SeverityMedium,
		},
		{
			name:     "userinfo disguise",
			body:     "go to https://paypal.com@evil.example/login",
			wantDesc: "user-info",
			wantSev:  domain.SeverityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := analyzer.Analyze(tt.body)
			ind := findByDescription(result.Indicators, tt.wantDesc)
			require.NotNil(t, ind, "missing indicator %q", tt.wantDesc)
			assert.Equal(t, tt.wantSev, ind.Severity)
			assert.Equal(t, domain.CategoryURL, ind.Category)
		})
	}
}

func TestURLAnalyzerCleanURL(t *testing.T) {
	analyzer := NewURLAnalyzer()

	result := analyzer.Analyze("docs at https://docs.example.com/guide")
	assert.Empty(t, result.Indicators)
	assert.Equal(t, []string{"https://docs.example.com/guide"}, result.URLs)
}

func TestURLAnalyzerDedupes(t *testing.T) {
	analyzer := NewURLAnalyzer()

	result := analyzer.Analyze("https://a.example/x and again https://a.example/x")
	assert.Len(t, result.URLs, 1)
}

func TestAnchorMismatch(t *testing.T) {
	analyzer := NewURLAnalyzer()

	tests := []struct {
		name     string
		body     string
		mismatch bool
	}{
		{
			name:     "display names another host",
			body:     `<a href="https://evil.example/login"><b>paypal.com/account</b></a>`,
			mismatch: true,
		},
		{
			name:     "display matches href",
			body:     `<a href="https://paypal.com/account">paypal.com/account</a>`,
			mismatch: false,
		},
		{
			name:     "plain-word display text is ignored",
			body:     `<a href="https://anything.example/x">click here</a>`,
			mismatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := analyzer.Analyze(tt.body)
			got := findByDescription(result.Indicators, "display text") != nil
			assert.Equal(t, tt.mismatch, got)
		})
	}
}
