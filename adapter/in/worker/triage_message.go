// Package worker hosts the ingestion coordinator: the worker pool, the
// notification queue fed by webhooks, the periodic and catch-up
// pollers, and the subscription renewal scheduler. Both intake sources
// converge on the same processing path.
package worker

import (
	"time"

	"github.com/google/uuid"
)

// JobType identifies a unit of work.
type JobType = string

const (
	// JobProcessMessage runs the full triage pipeline for one provider
	// message id.
	JobProcessMessage JobType = "mail.process"
)

// Intake sources, recorded on each job for logs and metrics.
const (
	SourceWebhook = "webhook"
	SourcePoller  = "poller"
	SourceCatchup = "catchup"
)

// Message is one queued job.
type Message struct {
	ID        string    `json:"id"`
	Type      JobType   `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Retries   int       `json:"retries"`

	ProviderID string `json:"provider_id"`
	Source     string `json:"source"`
}

// NewProcessMessage creates a triage job for a provider message id.
func NewProcessMessage(providerID, source string) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Type:       JobProcessMessage,
		CreatedAt:  time.Now(),
		ProviderID: providerID,
		Source:     source,
	}
}
