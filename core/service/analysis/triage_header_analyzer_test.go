package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage_server/core/domain"
)

func msgWithHeaders(headers ...domain.Header) *domain.EmailMessage {
	return &domain.EmailMessage{
		MessageID: "<t@example>",
		Sender:    "sender@example.com",
		Headers:   headers,
	}
}

func TestHeaderAnalyzer(t *testing.T) {
	analyzer := NewHeaderAnalyzer()

	tests := []struct {
		name           string
		msg            *domain.EmailMessage
		wantIndicators int
		wantMaxSev     domain.Severity
		wantZeroScore  bool
	}{
		{
			name: "all mechanisms pass",
			msg: msgWithHeaders(domain.Header{
				Name:  "Authentication-Results",
				Value: "mx.example.com; spf=pass; dkim=pass; dmarc=pass",
			}),
			wantIndicators: 0,
			wantZeroScore:  true,
		},
		{
			name: "all mechanisms fail",
			msg: msgWithHeaders(domain.Header{
				Name:  "Authentication-Results",
				Value: "mx.example.com; spf=fail; dkim=fail; dmarc=fail",
			}),
			wantIndicators: 3,
			wantMaxSev:     domain.SeverityHigh,
		},
		{
			name: "dmarc reject is critical",
			msg: msgWithHeaders(domain.Header{
				Name:  "Authentication-Results",
				Value: "mx.example.com; spf=pass; dkim=pass; dmarc=reject",
			}),
			wantIndicators: 1,
			wantMaxSev:     domain.SeverityCritical,
		},
		{
			name: "spf softfail is low",
			msg: msgWithHeaders(domain.Header{
				Name:  "Authentication-Results",
				Value: "mx.example.com; spf=softfail; dkim=pass; dmarc=pass",
			}),
			wantIndicators: 1,
			wantMaxSev:     domain.SeverityLow,
		},
		{
			name: "received-spf fallback",
			msg: msgWithHeaders(
				domain.Header{Name: "Authentication-Results", Value: "mx.example.com; dkim=pass; dmarc=pass"},
				domain.Header{Name: "Received-SPF", Value: "Fail (domain does not designate sender)"},
			),
			wantIndicators: 1,
			wantMaxSev:     domain.SeverityMedium,
		},
		{
			name:           "no authentication headers at all",
			msg:            msgWithHeaders(),
			wantIndicators: 1,
			wantMaxSev:     domain.SeverityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := analyzer.Analyze(tt.msg)

			require.Len(t, result.Indicators, tt.wantIndicators)
			if tt.wantZeroScore {
				assert.Zero(t, result.Score)
			}

			maxSev := domain.Severity("")
			for _, ind := range result.Indicators {
				assert.Equal(t, domain.CategoryHeader, ind.Category)
				assert.NotEmpty(t, ind.Evidence, "indicator evidence must never be empty")
				if ind.Severity.Rank() > maxSev.Rank() {
					maxSev = ind.Severity
				}
			}
			if tt.wantIndicators > 0 {
				assert.Equal(t, tt.wantMaxSev, maxSev)
			}
		})
	}
}

// DMARC reject must outweigh DKIM fail, which outweighs SPF softfail.
func TestHeaderSeverityOrdering(t *testing.T) {
	analyzer := NewHeaderAnalyzer()

	dmarcReject := analyzer.Analyze(msgWithHeaders(domain.Header{
		Name: "Authentication-Results", Value: "spf=pass; dkim=pass; dmarc=reject",
	}))
	dkimFail := analyzer.Analyze(msgWithHeaders(domain.Header{
		Name: "Authentication-Results", Value: "spf=pass; dkim=fail; dmarc=pass",
	}))
	spfSoftfail := analyzer.Analyze(msgWithHeaders(domain.Header{
		Name: "Authentication-Results", Value: "spf=softfail; dkim=pass; dmarc=pass",
	}))

	assert.Greater(t, dmarcReject.Score, dkimFail.Score)
	assert.Greater(t, dkimFail.Score, spfSoftfail.Score)
}
