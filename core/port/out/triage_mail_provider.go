// Package out declares the outbound ports the core services depend on.
package out

import (
	"context"
	"time"

	"triage_server/core/domain"
)

// ListOptions narrows a mailbox listing.
type ListOptions struct {
	Since time.Time
	Top   int
	Pages int
}

// OutgoingMessage is a reply to send through the provider.
type OutgoingMessage struct {
	To      string
	Subject string
	HTML    string
}

// Subscription is the provider's push subscription state.
type Subscription struct {
	ID        string
	Resource  string
	ExpiresAt time.Time
}

// MailProvider is the surface the pipeline needs from the mail API:
// list recent messages, fetch one in full, send a reply, and manage
// the push subscription.
type MailProvider interface {
	List(ctx context.Context, opts ListOptions) ([]*domain.EmailMessage, error)
	Get(ctx context.Context, providerID string) (*domain.EmailMessage, error)
	Send(ctx context.Context, msg *OutgoingMessage) error

	Subscribe(ctx context.Context, resource, notificationURL, clientState string, expiresAt time.Time) (*Subscription, error)
	Renew(ctx context.Context, subscriptionID string, expiresAt time.Time) (*Subscription, error)
	Unsubscribe(ctx context.Context, subscriptionID string) error
}
