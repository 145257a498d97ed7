package reply

import (
	"context"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/dedup"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
	"triage_server/pkg/ratelimit"
)

// Dispatcher sends the verdict reply through the provider, gated by
// the rate limiter. Limiter and dedup records are written only after
// the send succeeded, in that order.
type Dispatcher struct {
	provider out.MailProvider
	limiter  *ratelimit.Limiter
	dedup    *dedup.Deduplicator
	audit    out.AuditStore // may be nil
}

// NewDispatcher wires the dispatcher. audit may be nil.
func NewDispatcher(provider out.MailProvider, limiter *ratelimit.Limiter, deduper *dedup.Deduplicator, audit out.AuditStore) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		limiter:  limiter,
		dedup:    deduper,
		audit:    audit,
	}
}

// Dispatch sends the analysis reply for one message. It never returns
// an error to the pipeline; failures are counted, logged, and answered
// with a bounded error reply where possible.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *domain.EmailMessage, result *domain.AnalysisResult) {
	start := time.Now()

	log := logger.WithFields(map[string]any{
		"analysis_id": result.AnalysisID,
		"message_id":  msg.MessageID,
	})

	d.recordAudit(ctx, result)

	if msg.Sender == "" {
		log.Warn("reply: no sender address, skipping")
		return
	}

	if decision := d.limiter.CanSend(ctx); !decision.Allowed {
		metrics.RateLimitHits.WithLabelValues(decision.Reason).Inc()
		log.WithField("reason", decision.Reason).Warn("reply suppressed by rate limiter")
		return
	}

	outgoing := &out.OutgoingMessage{
		To:      msg.Sender,
		Subject: BuildReplySubject(result, msg.Subject),
		HTML:    BuildReplyHTML(result),
	}

	if err := d.provider.Send(ctx, outgoing); err != nil {
		metrics.RepliesFailed.Inc()
		log.WithError(err).Error("reply send failed")
		d.DispatchError(ctx, msg, result.AnalysisID)
		return
	}

	// Ordering per the pipeline contract: record the send first, then
	// mark the content as processed.
	if err := d.limiter.RecordSend(ctx); err != nil {
		log.WithError(err).Warn("reply: failed to record send")
	}
	if err := d.dedup.RecordProcessed(ctx, msg.Sender, msg.Subject, msg.Body); err != nil {
		log.WithError(err).Warn("reply: failed to record dedup state")
	}

	metrics.RepliesSent.Inc()
	metrics.ReplyLatency.Observe(time.Since(start).Seconds())
	metrics.RecordLatency("reply", time.Since(start))
	log.Info("reply sent")
}

// DispatchError sends the short apology reply, bounded by the same
// rate limiter. A failure here is logged and dropped.
func (d *Dispatcher) DispatchError(ctx context.Context, msg *domain.EmailMessage, correlationID string) {
	if msg.Sender == "" {
		return
	}

	if decision := d.limiter.CanSend(ctx); !decision.Allowed {
		metrics.RateLimitHits.WithLabelValues(decision.Reason).Inc()
		return
	}

	outgoing := &out.OutgoingMessage{
		To:      msg.Sender,
		Subject: "We could not analyse your reported email",
		HTML:    BuildErrorReplyHTML(correlationID),
	}

	if err := d.provider.Send(ctx, outgoing); err != nil {
		logger.WithError(err).WithField("analysis_id", correlationID).
			Error("error reply send failed")
		return
	}

	if err := d.limiter.RecordSend(ctx); err != nil {
		logger.WithError(err).Warn("error reply: failed to record send")
	}
}

func (d *Dispatcher) recordAudit(ctx context.Context, result *domain.AnalysisResult) {
	if d.audit == nil {
		return
	}
	if err := d.audit.RecordAnalysis(ctx, result); err != nil {
		logger.WithError(err).WithField("analysis_id", result.AnalysisID).
			Warn("audit store write failed")
	}
}
