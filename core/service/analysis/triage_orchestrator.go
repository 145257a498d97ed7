package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"triage_server/core/domain"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
)

// Enricher is the threat-intel surface the orchestrator consumes.
// Implementations degrade gracefully: on any failure they return no
// indicators and a zero contribution.
type Enricher interface {
	Enrich(ctx context.Context, senderEmail, senderIP string, urls []string) ([]domain.ThreatIndicator, float64)
}

// Explainer produces an optional natural-language explanation. An empty
// string means skipped or failed; the pipeline continues either way.
type Explainer interface {
	Explain(ctx context.Context, msg *domain.EmailMessage, result *domain.AnalysisResult) string
}

// Orchestrator runs the analyzers in order and aggregates the result.
// It never returns an error: any internal failure collapses into a
// safe default result.
type Orchestrator struct {
	header      *HeaderAnalyzer
	content     *ContentAnalyzer
	attachments *AttachmentAnalyzer
	scorer      *Scorer
	enricher    Enricher  // may be nil
	explainer   Explainer // may be nil
}

// NewOrchestrator wires the analyzers. enricher and explainer may be
// nil when those stages are disabled.
func NewOrchestrator(content *ContentAnalyzer, enricher Enricher, explainer Explainer) *Orchestrator {
	return &Orchestrator{
		header:      NewHeaderAnalyzer(),
		content:     content,
		attachments: NewAttachmentAnalyzer(),
		scorer:      NewScorer(),
		enricher:    enricher,
		explainer:   explainer,
	}
}

var receivedIPPattern = regexp.MustCompile(`\[(\d{1,3}(?:\.\d{1,3}){3})\]`)

// Analyze runs the full pipeline for one admitted message.
func (o *Orchestrator) Analyze(ctx context.Context, msg *domain.EmailMessage) (result *domain.AnalysisResult) {
	start := time.Now()
	analysisID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("analysis_id", analysisID).
				Error("analysis panicked: %v", r)
			result = o.safeDefault(analysisID, msg, fmt.Sprintf("analysis failure: %v", r))
		}
		metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
		metrics.RecordLatency("analysis", time.Since(start))
	}()

	log := logger.WithFields(map[string]any{
		"analysis_id": analysisID,
		"message_id":  msg.MessageID,
	})

	headerResult := o.header.Analyze(msg)
	contentResult := o.content.Analyze(msg)
	attachmentResult := o.attachments.Analyze(msg.Attachments)

	var intelIndicators []domain.ThreatIndicator
	var intelContribution float64
	if o.enricher != nil {
		log.Debug("stage: threat-intel")
		intelIndicators, intelContribution = o.enricher.Enrich(
			ctx, msg.Sender, extractSenderIP(msg), contentResult.URLs)
	}

	log.Debug("stage: risk-scoring")
	verdict := o.scorer.Score(ScoreInput{
		Header:            headerResult,
		Content:           contentResult,
		Attachments:       attachmentResult,
		HasAttachments:    len(msg.Attachments) > 0,
		IntelIndicators:   intelIndicators,
		IntelContribution: intelContribution,
	})

	result = &domain.AnalysisResult{
		AnalysisID:         analysisID,
		MessageID:          msg.MessageID,
		IsPhishing:         verdict.IsPhishing,
		Confidence:         verdict.Confidence,
		RiskScore:          verdict.RiskScore,
		Severity:           verdict.Severity,
		Indicators:         verdict.Indicators,
		RecommendedActions: verdict.Actions,
		AnalyzedAt:         time.Now().UTC(),
	}

	if o.explainer != nil {
		log.Debug("stage: llm-analysis")
		result.Explanation = o.explainer.Explain(ctx, msg, result)
	}

	if result.IsPhishing {
		metrics.PhishingDetected.Inc()
	}

	log.WithFields(map[string]any{
		"is_phishing":     result.IsPhishing,
		"risk_score":      result.RiskScore,
		"severity":        string(result.Severity),
		"indicator_count": len(result.Indicators),
		"attachment_risk": attachmentResult.Score,
		"has_explanation": result.Explanation != "",
	}).Info("analysis completed")

	return result
}

// safeDefault is the result used when analysis itself fails: not
// phishing, zero score, medium severity, one behavioral indicator
// carrying the error, flagged for review.
func (o *Orchestrator) safeDefault(analysisID string, msg *domain.EmailMessage, errMsg string) *domain.AnalysisResult {
	indicator := newIndicator(domain.CategoryBehavioral, domain.SeverityMedium, 0.5,
		"Analysis failed; manual review required", errMsg)

	return &domain.AnalysisResult{
		AnalysisID: analysisID,
		MessageID:  msg.MessageID,
		IsPhishing: false,
		RiskScore:  0,
		Severity:   domain.SeverityMedium,
		Confidence: domain.MeanConfidence([]domain.ThreatIndicator{indicator}),
		Indicators: []domain.ThreatIndicator{indicator},
		RecommendedActions: []domain.RecommendedAction{{
			Priority:    domain.PriorityMedium,
			Action:      "flag_for_review",
			Description: "Automated analysis failed; route to an analyst",
		}},
		AnalyzedAt: time.Now().UTC(),
	}
}

// extractSenderIP pulls the first bracketed IPv4 from the Received
// chain, walking from the oldest hop.
func extractSenderIP(msg *domain.EmailMessage) string {
	for i := len(msg.Headers) - 1; i >= 0; i-- {
		h := msg.Headers[i]
		if !strings.EqualFold(h.Name, "Received") {
			continue
		}
		if m := receivedIPPattern.FindStringSubmatch(h.Value); m != nil {
			return m[1]
		}
	}
	return ""
}
