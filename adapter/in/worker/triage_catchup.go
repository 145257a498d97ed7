package worker

import (
	"context"
	"time"

	"triage_server/core/port/out"
	"triage_server/pkg/logger"
)

// CatchupPoller is the slow safety-net poller that closes webhook gaps.
// It is started when MAIL_MONITOR_ENABLED is set (the default) and runs
// at a longer interval than the main poller, re-listing a lookback
// window; duplicates fall out at the guard chain.
type CatchupPoller struct {
	provider out.MailProvider
	pool     *Pool
	interval time.Duration
	lookback time.Duration
	top      int

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
}

// NewCatchupPoller creates the catch-up poller.
func NewCatchupPoller(provider out.MailProvider, p *Pool, interval, lookback time.Duration, top int) *CatchupPoller {
	ctx, cancel := context.WithCancel(context.Background())
	return &CatchupPoller{
		provider: provider,
		pool:     p,
		interval: interval,
		lookback: lookback,
		top:      top,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
	}
}

// Start starts the catch-up loop.
func (c *CatchupPoller) Start() {
	logger.Info("[CatchupPoller] starting with interval %v, lookback %v", c.interval, c.lookback)
	go c.run()
}

// Stop stops the catch-up loop.
func (c *CatchupPoller) Stop() {
	c.cancel()
}

// Trigger requests an immediate catch-up pass, used after persistent
// subscription renewal failures.
func (c *CatchupPoller) Trigger() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *CatchupPoller) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			logger.Info("[CatchupPoller] stopped")
			return
		case <-ticker.C:
			c.sweep()
		case <-c.wake:
			c.sweep()
		}
	}
}

func (c *CatchupPoller) sweep() {
	sweepCtx, cancel := context.WithTimeout(c.ctx, c.interval)
	defer cancel()

	submitted, err := SubmitRange(sweepCtx, c.provider, c.pool, time.Now().Add(-c.lookback), c.top, SourceCatchup)
	if err != nil {
		logger.WithError(err).Error("[CatchupPoller] sweep failed")
		return
	}
	if submitted > 0 {
		logger.Info("[CatchupPoller] submitted %d messages", submitted)
	}
}
