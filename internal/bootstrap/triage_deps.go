// Package bootstrap wires configuration into running components and
// builds the HTTP app.
package bootstrap

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpin "triage_server/adapter/in/http"
	"triage_server/adapter/in/worker"
	intelout "triage_server/adapter/out/intel"
	"triage_server/adapter/out/persistence"
	"triage_server/adapter/out/provider"
	"triage_server/config"
	"triage_server/core/port/out"
	"triage_server/core/service/analysis"
	"triage_server/core/service/guard"
	"triage_server/core/service/intel"
	"triage_server/core/service/llm"
	"triage_server/core/service/reply"
	"triage_server/pkg/cache"
	"triage_server/pkg/dedup"
	"triage_server/pkg/logger"
	"triage_server/pkg/ratelimit"
)

// Dependencies holds every wired component.
type Dependencies struct {
	Config *config.Config

	Store cache.Cache
	Audit out.AuditStore // nil when DATABASE_URL is unset

	Provider out.MailProvider
	Guards   *guard.Chain
	Deduper  *dedup.Deduplicator
	Limiter  *ratelimit.Limiter
	Intel    *intel.Service
	LLM      *llm.Explainer // nil when no API key

	Orchestrator *analysis.Orchestrator
	Dispatcher   *reply.Dispatcher
	Processor    *worker.Processor

	Pool         *worker.Pool
	Queue        *worker.NotificationQueue
	Poller       *worker.Poller // nil when polling is disabled
	Catchup      *worker.CatchupPoller
	Subscription *worker.SubscriptionScheduler // nil when push is disabled

	Webhooks *httpin.WebhookHandler
}

// NewDependencies wires the full dependency graph.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Cache: Redis when configured and reachable, in-memory otherwise.
	deps.Store = newStore(cfg)
	cleanups = append(cleanups, func() { _ = deps.Store.Close() })

	// Optional audit store.
	if cfg.DatabaseURL != "" {
		audit, err := persistence.NewAuditStore(context.Background(), cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Audit = audit
		cleanups = append(cleanups, audit.Close)
	}

	// Mail provider.
	deps.Provider = provider.NewGraphAdapter(provider.GraphConfig{
		ClientID:     cfg.MicrosoftClientID,
		ClientSecret: cfg.MicrosoftClientSecret,
		TenantID:     cfg.MicrosoftTenantID,
		Mailbox:      cfg.MailboxAddress,
		MaxPages:     cfg.MaxPages,
	})

	// Admission and limits.
	deps.Guards = guard.NewChain(guard.Config{
		MailboxAddress:  cfg.MailboxAddress,
		AllowedEmails:   cfg.AllowedSenderEmails,
		AllowedDomains:  cfg.AllowedSenderDomains,
		FailOpenNoAllow: !cfg.IsProduction(),
	})
	deps.Deduper = dedup.New(deps.Store, dedup.Config{
		Enabled:        cfg.DeduplicationEnabled,
		ContentTTL:     cfg.DeduplicationTTL,
		SenderCooldown: cfg.SenderCooldown,
	})
	deps.Limiter = ratelimit.New(deps.Store, ratelimit.Config{
		Enabled:        cfg.RateLimitEnabled,
		MaxPerHour:     cfg.MaxEmailsPerHour,
		MaxPerDay:      cfg.MaxEmailsPerDay,
		BurstThreshold: cfg.CircuitBreakerBursts,
		BurstWindow:    cfg.CircuitBreakerWindow,
	})

	// Threat intel: clients only exist when their key is configured.
	var urlClient out.URLReputationClient
	if cfg.VirusTotalAPIKey != "" {
		urlClient = intelout.NewVirusTotalClient(cfg.VirusTotalAPIKey, "")
	}
	var ipClient out.IPReputationClient
	if cfg.AbuseIPDBAPIKey != "" {
		ipClient = intelout.NewAbuseIPDBClient(cfg.AbuseIPDBAPIKey, "")
	}
	deps.Intel = intel.NewService(intel.Config{
		Enabled:     cfg.ThreatIntelEnabled,
		CallTimeout: cfg.ThreatIntelTimeout,
		CacheTTL:    cfg.ThreatIntelCacheTTL,
	}, deps.Store, urlClient, ipClient, intelout.NewDomainAgeClient(""))

	// Optional LLM explainer. The typed nil must not leak into the
	// orchestrator's interface field.
	deps.LLM = llm.NewExplainer(llm.Config{
		APIKey:      cfg.AnthropicAPIKey,
		Model:       cfg.LLMModel,
		DemoMode:    cfg.LLMDemoMode,
		Timeout:     cfg.LLMTimeout,
		Retries:     cfg.LLMRetryAttempts,
		ErrorRate:   cfg.LLMBreakerErrorRate,
		OpenTimeout: cfg.LLMBreakerOpenTimeout,
	})
	var explainer analysis.Explainer
	if deps.LLM != nil {
		explainer = deps.LLM
	}

	deps.Orchestrator = analysis.NewOrchestrator(
		analysis.NewContentAnalyzer(cfg.BrandDomains),
		deps.Intel,
		explainer,
	)
	deps.Dispatcher = reply.NewDispatcher(deps.Provider, deps.Limiter, deps.Deduper, deps.Audit)
	deps.Processor = worker.NewProcessor(deps.Provider, deps.Guards, deps.Deduper, deps.Orchestrator, deps.Dispatcher)

	// Ingestion: pool, queue, pollers, subscription.
	poolLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	deps.Pool = worker.NewPool(deps.Processor, &worker.PoolConfig{
		Workers: cfg.ParallelLimit,
	}, poolLog)
	deps.Queue = worker.NewNotificationQueue(deps.Pool, cfg.WebhookQueueSize)
	cleanups = append(cleanups, deps.Queue.Stop)

	if cfg.PollingEnabled {
		deps.Poller = worker.NewPoller(deps.Provider, deps.Pool, cfg.CheckInterval, 25)
	}
	deps.Catchup = worker.NewCatchupPoller(deps.Provider, deps.Pool, cfg.MonitorInterval, cfg.MonitorLookback, 50)

	if cfg.WebhooksConfigured() {
		deps.Subscription = worker.NewSubscriptionScheduler(deps.Provider, deps.Catchup, worker.SubscriptionConfig{
			Resource:        cfg.WebhookSubscriptionResource,
			NotificationURL: cfg.WebhookNotificationURL,
			ClientState:     cfg.WebhookClientState,
			RenewalMargin:   cfg.WebhookRenewalMargin,
		})
	}

	deps.Webhooks = httpin.NewWebhookHandler(deps.Queue, cfg.WebhookClientState)

	return deps, cleanup, nil
}

// BreakerStates reports all per-API breaker states for the stats view.
func (d *Dependencies) BreakerStates() map[string]string {
	states := d.Intel.BreakerStates()
	if d.LLM != nil {
		states["llm"] = d.LLM.BreakerState()
	}
	return states
}

func newStore(cfg *config.Config) cache.Cache {
	if cfg.RedisURL == "" {
		logger.Info("cache: using in-memory store")
		return cache.NewMemoryCache()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("cache: invalid REDIS_URL, falling back to in-memory store")
		return cache.NewMemoryCache()
	}

	store := cache.NewRedisCache(redis.NewClient(opts), cfg.RedisKeyPrefix)
	if !store.Ready(context.Background()) {
		logger.Warn("cache: redis not reachable at startup, falling back to in-memory store")
		_ = store.Close()
		return cache.NewMemoryCache()
	}

	logger.Info("cache: using redis store")
	return store
}
