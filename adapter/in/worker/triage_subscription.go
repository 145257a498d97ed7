package worker

import (
	"context"
	"sync"
	"time"

	"triage_server/core/port/out"
	"triage_server/pkg/logger"
	"triage_server/pkg/resilience"
)

// Graph caps mail subscriptions at a little over 3 days; renew inside
// that ceiling.
const subscriptionLifetime = 71 * time.Hour

// SubscriptionConfig holds the push subscription parameters.
type SubscriptionConfig struct {
	Resource        string
	NotificationURL string
	ClientState     string
	RenewalMargin   time.Duration
}

// SubscriptionScheduler creates the provider push subscription at
// startup and renews it ahead of expiry. Persistent renewal failures
// trigger a catch-up poll so no messages are lost while push is down.
type SubscriptionScheduler struct {
	provider out.MailProvider
	catchup  *CatchupPoller
	cfg      SubscriptionConfig

	mu  sync.Mutex
	sub *out.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
}

// NewSubscriptionScheduler creates the scheduler.
func NewSubscriptionScheduler(provider out.MailProvider, catchup *CatchupPoller, cfg SubscriptionConfig) *SubscriptionScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.RenewalMargin <= 0 {
		cfg.RenewalMargin = 30 * time.Minute
	}
	return &SubscriptionScheduler{
		provider: provider,
		catchup:  catchup,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start creates the subscription and schedules its renewal. A startup
// failure is reported; the pollers keep the pipeline alive without
// push.
func (s *SubscriptionScheduler) Start() error {
	createCtx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	sub, err := s.provider.Subscribe(createCtx,
		s.cfg.Resource, s.cfg.NotificationURL, s.cfg.ClientState,
		time.Now().Add(subscriptionLifetime))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	logger.Info("[Subscription] created %s, expires %s", sub.ID, sub.ExpiresAt.Format(time.RFC3339))
	s.scheduleRenewal(sub.ExpiresAt)
	return nil
}

// Stop cancels the renewal timer and best-effort deletes the
// subscription.
func (s *SubscriptionScheduler) Stop() {
	s.cancel()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	sub := s.sub
	s.mu.Unlock()

	if sub == nil {
		return
	}

	deleteCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.provider.Unsubscribe(deleteCtx, sub.ID); err != nil {
		logger.WithError(err).Warn("[Subscription] delete failed on shutdown")
	}
}

// Current returns the active subscription, or nil.
func (s *SubscriptionScheduler) Current() *out.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

// RenewNow forces an immediate renewal, used by the admin endpoint.
func (s *SubscriptionScheduler) RenewNow() error {
	return s.renew()
}

func (s *SubscriptionScheduler) scheduleRenewal(expiresAt time.Time) {
	delay := time.Until(expiresAt.Add(-s.cfg.RenewalMargin))
	if delay < time.Minute {
		delay = time.Minute
	}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() {
		if s.ctx.Err() != nil {
			return
		}
		if err := s.renew(); err != nil {
			logger.WithError(err).Warn("[Subscription] renewal failed persistently, triggering catch-up poll")
			s.catchup.Trigger()
			// Recreate from scratch on the next margin interval.
			retry := time.AfterFunc(s.cfg.RenewalMargin, func() { s.recreate() })
			s.mu.Lock()
			s.timer = retry
			s.mu.Unlock()
		}
	})
	s.mu.Unlock()

	logger.Info("[Subscription] renewal scheduled in %v", delay.Round(time.Second))
}

func (s *SubscriptionScheduler) renew() error {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return s.Start()
	}

	var renewed *out.Subscription
	err := resilience.Retry(s.ctx, resilience.DefaultRetry(), func(ctx context.Context) error {
		renewCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		var err error
		renewed, err = s.provider.Renew(renewCtx, sub.ID, time.Now().Add(subscriptionLifetime))
		return err
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sub = renewed
	s.mu.Unlock()

	logger.Info("[Subscription] renewed %s, expires %s", renewed.ID, renewed.ExpiresAt.Format(time.RFC3339))
	s.scheduleRenewal(renewed.ExpiresAt)
	return nil
}

func (s *SubscriptionScheduler) recreate() {
	if s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	s.sub = nil
	s.mu.Unlock()

	if err := s.Start(); err != nil {
		logger.WithError(err).Error("[Subscription] recreate failed, will rely on pollers")
		s.catchup.Trigger()
	}
}
