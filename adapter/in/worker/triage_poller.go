package worker

import (
	"context"
	"sync"
	"time"

	"triage_server/core/port/out"
	"triage_server/pkg/logger"
)

// pollOverlap is subtracted from the last check time so messages that
// arrived while a poll was in flight are not skipped.
const pollOverlap = 30 * time.Second

// Poller is the periodic mailbox poller. It is disabled by
// configuration when webhooks are trusted; the catch-up poller in
// triage_catchup.go, on by default, is the safety net.
type Poller struct {
	provider out.MailProvider
	pool     *Pool
	interval time.Duration
	top      int

	mu        sync.Mutex
	lastCheck time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPoller creates the periodic poller.
func NewPoller(provider out.MailProvider, p *Pool, interval time.Duration, top int) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		provider:  provider,
		pool:      p,
		interval:  interval,
		top:       top,
		lastCheck: time.Now().Add(-pollOverlap),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the poll loop.
func (p *Poller) Start() {
	logger.Info("[Poller] starting with interval %v", p.interval)
	go p.run()
}

// Stop stops the poll loop.
func (p *Poller) Stop() {
	p.cancel()
}

func (p *Poller) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			logger.Info("[Poller] stopped")
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	p.mu.Lock()
	since := p.lastCheck.Add(-pollOverlap)
	p.lastCheck = time.Now()
	p.mu.Unlock()

	pollCtx, cancel := context.WithTimeout(p.ctx, p.interval)
	defer cancel()

	submitted, err := SubmitRange(pollCtx, p.provider, p.pool, since, p.top, SourcePoller)
	if err != nil {
		logger.WithError(err).Error("[Poller] poll failed")
		return
	}
	if submitted > 0 {
		logger.Info("[Poller] submitted %d messages", submitted)
	}
}

// SubmitRange lists messages received since the given time and submits
// each through the pool. The guard chain's message-id cache makes
// resubmission of already-seen messages harmless.
func SubmitRange(ctx context.Context, provider out.MailProvider, p *Pool, since time.Time, top int, source string) (int, error) {
	messages, err := provider.List(ctx, out.ListOptions{Since: since, Top: top})
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, msg := range messages {
		if p.Submit(NewProcessMessage(msg.ProviderID, source)) {
			submitted++
		}
	}
	return submitted, nil
}
