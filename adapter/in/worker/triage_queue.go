package worker

import (
	"context"
	"sync/atomic"

	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
)

// NotificationQueue is the bounded in-process queue between the webhook
// receiver and the worker pool. Enqueue is synchronous and never
// blocks: when the queue is full the notification is dropped and
// counted, and the next poll cycle picks the message up by id range.
type NotificationQueue struct {
	jobs    chan *Message
	pool    *Pool
	dropped atomic.Int64
	cancel  context.CancelFunc
}

// NewNotificationQueue creates the queue and, when p is non-nil, starts
// its consumer. With a nil pool entries only accumulate.
func NewNotificationQueue(p *Pool, size int) *NotificationQueue {
	if size <= 0 {
		size = 500
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &NotificationQueue{
		jobs:   make(chan *Message, size),
		pool:   p,
		cancel: cancel,
	}
	if p != nil {
		go q.consume(ctx)
	}
	return q
}

// Enqueue accepts a provider id from the webhook receiver. Returns
// false when the entry was dropped.
func (q *NotificationQueue) Enqueue(providerID string) bool {
	select {
	case q.jobs <- NewProcessMessage(providerID, SourceWebhook):
		return true
	default:
		q.dropped.Add(1)
		metrics.QueueDropped.Inc()
		logger.Warn("notification queue full, dropped provider id")
		return false
	}
}

func (q *NotificationQueue) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.jobs:
			if !q.pool.Submit(msg) {
				q.dropped.Add(1)
				metrics.QueueDropped.Inc()
			}
		}
	}
}

// Dropped reports how many notifications were dropped.
func (q *NotificationQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Depth reports the current queue backlog.
func (q *NotificationQueue) Depth() int {
	return len(q.jobs)
}

// Stop stops the consumer. Entries still queued are abandoned; the
// catch-up poller covers them on next start.
func (q *NotificationQueue) Stop() {
	q.cancel()
}
