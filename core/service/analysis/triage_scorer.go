package analysis

import (
	"strings"

	"triage_server/core/domain"
)

// criticalFloorScore is the minimum final score once any critical
// indicator with confidence at least criticalFloorConfidence is present. A confident typosquat or disguised
// executable is a verdict on its own; the weighted average must not
// dilute it below the critical band.
const (
	criticalFloorConfidence = 0.9
	criticalFloorScore      = 8.5
)

// ScoreInput gathers the analyzer outputs for aggregation.
type ScoreInput struct {
	Header         HeaderResult
	Content        ContentResult
	Attachments    AttachmentResult
	HasAttachments bool

	IntelIndicators   []domain.ThreatIndicator
	IntelContribution float64
}

// Verdict is the scorer's aggregated outcome.
type Verdict struct {
	RiskScore  float64
	Severity   domain.Severity
	IsPhishing bool
	Confidence float64
	Indicators []domain.ThreatIndicator
	Actions    []domain.RecommendedAction
}

// Scorer aggregates subscores into the final verdict.
type Scorer struct{}

// NewScorer creates a scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes the weighted aggregate, applies the threat-intel
// contribution and severity override, and derives recommended actions.
func (s *Scorer) Score(in ScoreInput) Verdict {
	var base float64
	if in.HasAttachments {
		base = 0.4*in.Header.Score + 0.3*in.Content.Score + 0.3*in.Attachments.Score
	} else {
		base = 0.6*in.Header.Score + 0.4*in.Content.Score
	}

	indicators := make([]domain.ThreatIndicator, 0,
		len(in.Header.Indicators)+len(in.Content.Indicators)+len(in.Attachments.Indicators)+len(in.IntelIndicators))
	indicators = append(indicators, in.Header.Indicators...)
	indicators = append(indicators, in.Content.Indicators...)
	indicators = append(indicators, in.Attachments.Indicators...)
	indicators = append(indicators, in.IntelIndicators...)

	score := domain.ClampScore(base + in.IntelContribution)

	if hasConfidentCritical(indicators) && score < criticalFloorScore {
		score = criticalFloorScore
	}

	severity := domain.OverrideSeverity(domain.SeverityForScore(score), score, in.IntelContribution)

	verdict := Verdict{
		RiskScore:  score,
		Severity:   severity,
		IsPhishing: score >= domain.PhishingThreshold,
		Confidence: domain.MeanConfidence(indicators),
		Indicators: indicators,
	}
	verdict.Actions = s.recommend(verdict)
	return verdict
}

func hasConfidentCritical(indicators []domain.ThreatIndicator) bool {
	for _, ind := range indicators {
		if ind.Severity == domain.SeverityCritical && ind.Confidence >= criticalFloorConfidence {
			return true
		}
	}
	return false
}

func (s *Scorer) recommend(v Verdict) []domain.RecommendedAction {
	var actions []domain.RecommendedAction
	add := func(a domain.RecommendedAction) {
		for _, existing := range actions {
			if existing.Action == a.Action {
				return
			}
		}
		actions = append(actions, a)
	}

	switch v.Severity {
	case domain.SeverityCritical:
		add(domain.RecommendedAction{
			Priority:    domain.PriorityUrgent,
			Action:      "quarantine_email",
			Description: "Quarantine the reported message and any copies in other mailboxes",
			Automated:   true,
		})
		add(domain.RecommendedAction{
			Priority:    domain.PriorityUrgent,
			Action:      "alert_security_team",
			Description: "Notify the security team of a confirmed high-risk report",
			Automated:   true,
		})
		add(domain.RecommendedAction{
			Priority:    domain.PriorityHigh,
			Action:      "create_incident",
			Description: "Open an incident for tracking and follow-up",
		})
	case domain.SeverityHigh:
		add(domain.RecommendedAction{
			Priority:    domain.PriorityHigh,
			Action:      "flag_for_review",
			Description: "Queue the message for analyst review",
		})
		add(domain.RecommendedAction{
			Priority:    domain.PriorityMedium,
			Action:      "user_education",
			Description: "Send the reporter guidance on recognising this pattern",
			Automated:   true,
		})
	case domain.SeverityMedium:
		add(domain.RecommendedAction{
			Priority:    domain.PriorityMedium,
			Action:      "flag_for_review",
			Description: "Queue the message for analyst review",
		})
		add(domain.RecommendedAction{
			Priority:    domain.PriorityLow,
			Action:      "user_education",
			Description: "Send the reporter guidance on recognising this pattern",
			Automated:   true,
		})
	}

	if v.Severity == domain.SeverityHigh || v.Severity == domain.SeverityCritical {
		if hasCredentialIndicator(v.Indicators) {
			add(domain.RecommendedAction{
				Priority:         domain.PriorityUrgent,
				Action:           "reset_user_credentials",
				Description:      "Reset credentials for any user who interacted with the message",
				RequiresApproval: true,
			})
		}
	}

	if HasDangerousFile(v.Indicators) {
		add(domain.RecommendedAction{
			Priority:    domain.PriorityUrgent,
			Action:      "block_attachment",
			Description: "Block the attachment hash at the gateway",
			Automated:   true,
		})
	} else if HasMacroDocument(v.Indicators) {
		add(domain.RecommendedAction{
			Priority:    domain.PriorityHigh,
			Action:      "strip_macros",
			Description: "Strip macros before any delivery of the document",
			Automated:   true,
		})
	}

	// Non-phishing low-risk reports get a single monitor action.
	if len(actions) == 0 {
		add(domain.RecommendedAction{
			Priority:    domain.PriorityLow,
			Action:      "monitor",
			Description: "No action required; continue monitoring",
			Automated:   true,
		})
	}

	return actions
}

func hasCredentialIndicator(indicators []domain.ThreatIndicator) bool {
	for _, ind := range indicators {
		if strings.Contains(ind.Description, "Credential") {
			return true
		}
	}
	return false
}
