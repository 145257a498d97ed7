package worker

import (
	"context"
	"fmt"

	"triage_server/core/port/out"
	"triage_server/core/service/analysis"
	"triage_server/core/service/guard"
	"triage_server/core/service/reply"
	"triage_server/pkg/dedup"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
)

// Processor is the single message-processing path both intake sources
// converge on: fetch, admit, dedup, analyse, reply.
type Processor struct {
	provider     out.MailProvider
	guards       *guard.Chain
	deduper      *dedup.Deduplicator
	orchestrator *analysis.Orchestrator
	dispatcher   *reply.Dispatcher
}

// NewProcessor wires the pipeline stages.
func NewProcessor(provider out.MailProvider, guards *guard.Chain, deduper *dedup.Deduplicator, orchestrator *analysis.Orchestrator, dispatcher *reply.Dispatcher) *Processor {
	return &Processor{
		provider:     provider,
		guards:       guards,
		deduper:      deduper,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
	}
}

// Process handles one job. Guard and dedup denials are clean exits; an
// error return means the job is retryable (the fetch failed).
func (p *Processor) Process(ctx context.Context, job *Message) error {
	switch job.Type {
	case JobProcessMessage:
		return p.processMessage(ctx, job)
	default:
		logger.Warn("unknown job type: %s", job.Type)
		return nil
	}
}

func (p *Processor) processMessage(ctx context.Context, job *Message) error {
	msg, err := p.provider.Get(ctx, job.ProviderID)
	if err != nil {
		return fmt.Errorf("fetch message %s: %w", job.ProviderID, err)
	}

	log := logger.WithFields(map[string]any{
		"message_id": msg.MessageID,
		"source":     job.Source,
	})

	// Guards run before any external I/O beyond the fetch itself.
	if decision := p.guards.Admit(msg); !decision.Allowed {
		metrics.EmailsBlocked.WithLabelValues(decision.Reason).Inc()
		log.WithField("reason", decision.Reason).Warn("message blocked by guard")
		return nil
	}

	if decision := p.deduper.ShouldProcess(ctx, msg.Sender, msg.Subject, msg.Body); !decision.Allowed {
		metrics.EmailsBlocked.WithLabelValues("duplicate-content").Inc()
		log.WithField("reason", decision.Reason).Warn("message blocked as duplicate")
		return nil
	}

	result := p.orchestrator.Analyze(ctx, msg)
	p.dispatcher.Dispatch(ctx, msg, result)

	metrics.EmailsProcessed.Inc()
	return nil
}
