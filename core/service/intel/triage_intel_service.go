// Package intel enriches analysis with external reputation lookups:
// URL scanning, IP abuse scores, and domain age. Each API sits behind
// its own circuit breaker with retries, and validated responses are
// cached. Any failure degrades to an empty enrichment.
package intel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/cache"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
	"triage_server/pkg/resilience"
)

const (
	maxURLLookups   = 3
	maxContribution = 3.0
)

// Config holds enrichment tuning.
type Config struct {
	Enabled     bool
	CallTimeout time.Duration // per external call (default 5s)
	CacheTTL    time.Duration // validated response cache (default 5m)
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// Service fans lookups out in parallel and merges the results into
// indicators plus a numeric risk contribution capped at +3.0.
type Service struct {
	cfg   Config
	store cache.Cache

	urls    out.URLReputationClient // nil disables URL lookups
	ips     out.IPReputationClient  // nil disables IP lookups
	domains out.DomainAgeClient     // nil disables domain-age lookups

	urlBreaker    *resilience.Breaker
	ipBreaker     *resilience.Breaker
	domainBreaker *resilience.Breaker

	retry resilience.RetryConfig
}

// NewService creates the enrichment service. Nil clients disable their
// lookup without disabling the rest.
func NewService(cfg Config, store cache.Cache, urls out.URLReputationClient, ips out.IPReputationClient, domains out.DomainAgeClient) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:           cfg,
		store:         store,
		urls:          urls,
		ips:           ips,
		domains:       domains,
		urlBreaker:    resilience.NewBreaker(resilience.BreakerConfig{Name: "intel-url"}),
		ipBreaker:     resilience.NewBreaker(resilience.BreakerConfig{Name: "intel-ip"}),
		domainBreaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "intel-domain"}),
		retry:         resilience.DefaultRetry(),
	}
}

// Enrich looks up at most three URLs, the sender IP, and the sender
// domain age in parallel, then merges. It never fails the pipeline.
func (s *Service) Enrich(ctx context.Context, senderEmail, senderIP string, urls []string) ([]domain.ThreatIndicator, float64) {
	if !s.cfg.Enabled {
		return nil, 0
	}

	if len(urls) > maxURLLookups {
		urls = urls[:maxURLLookups]
	}

	var (
		mu           sync.Mutex
		indicators   []domain.ThreatIndicator
		contribution float64
		wg           sync.WaitGroup
	)

	merge := func(inds []domain.ThreatIndicator, contrib float64) {
		mu.Lock()
		defer mu.Unlock()
		indicators = append(indicators, inds...)
		contribution += contrib
	}

	if s.urls != nil {
		for _, u := range urls {
			wg.Add(1)
			go func(target string) {
				defer wg.Done()
				if rep := s.lookupURL(ctx, target); rep != nil {
					merge(urlSignals(rep))
				}
			}(u)
		}
	}

	if s.ips != nil && senderIP != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rep := s.lookupIP(ctx, senderIP); rep != nil {
				merge(ipSignals(rep))
			}
		}()
	}

	if s.domains != nil {
		if senderDomain := domain.AddressDomain(senderEmail); senderDomain != "" {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if info := s.lookupDomain(ctx, senderDomain); info != nil {
					merge(domainSignals(info))
				}
			}()
		}
	}

	wg.Wait()

	if contribution > maxContribution {
		contribution = maxContribution
	}
	return indicators, contribution
}

func (s *Service) lookupURL(ctx context.Context, target string) *out.URLReputation {
	var rep out.URLReputation
	if s.cached(ctx, "vt-url-"+target, &rep) {
		metrics.IntelLookups.WithLabelValues("virustotal", "cache_hit").Inc()
		return &rep
	}

	var result *out.URLReputation
	err := s.urlBreaker.ExecuteWithRetry(ctx, s.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		var err error
		result, err = s.urls.Lookup(callCtx, target)
		return err
	})
	if err != nil {
		metrics.IntelLookups.WithLabelValues("virustotal", "error").Inc()
		logger.WithError(err).Warn("intel: URL reputation lookup failed")
		return nil
	}

	metrics.IntelLookups.WithLabelValues("virustotal", "ok").Inc()
	s.storeCached(ctx, "vt-url-"+target, result)
	return result
}

func (s *Service) lookupIP(ctx context.Context, ip string) *out.IPReputation {
	var rep out.IPReputation
	if s.cached(ctx, "abuseipdb-"+ip, &rep) {
		metrics.IntelLookups.WithLabelValues("abuseipdb", "cache_hit").Inc()
		return &rep
	}

	var result *out.IPReputation
	err := s.ipBreaker.ExecuteWithRetry(ctx, s.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		var err error
		result, err = s.ips.Lookup(callCtx, ip)
		return err
	})
	if err != nil {
		metrics.IntelLookups.WithLabelValues("abuseipdb", "error").Inc()
		logger.WithError(err).Warn("intel: IP reputation lookup failed")
		return nil
	}

	metrics.IntelLookups.WithLabelValues("abuseipdb", "ok").Inc()
	s.storeCached(ctx, "abuseipdb-"+ip, result)
	return result
}

func (s *Service) lookupDomain(ctx context.Context, dom string) *out.DomainInfo {
	var info out.DomainInfo
	if s.cached(ctx, "domain-age-"+dom, &info) {
		metrics.IntelLookups.WithLabelValues("domain-age", "cache_hit").Inc()
		return &info
	}

	var result *out.DomainInfo
	err := s.domainBreaker.ExecuteWithRetry(ctx, s.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		var err error
		result, err = s.domains.Lookup(callCtx, dom)
		return err
	})
	if err != nil {
		metrics.IntelLookups.WithLabelValues("domain-age", "error").Inc()
		logger.WithError(err).Warn("intel: domain age lookup failed")
		return nil
	}

	metrics.IntelLookups.WithLabelValues("domain-age", "ok").Inc()
	s.storeCached(ctx, "domain-age-"+dom, result)
	return result
}

func (s *Service) cached(ctx context.Context, raw string, dest any) bool {
	val, ok, err := s.store.Get(ctx, cache.Key(cache.NamespaceIntel, raw))
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal([]byte(val), dest) == nil
}

func (s *Service) storeCached(ctx context.Context, raw string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, cache.Key(cache.NamespaceIntel, raw), string(data), s.cfg.CacheTTL); err != nil {
		logger.WithError(err).Warn("intel: cache write failed")
	}
}

// BreakerStates exposes the breaker states for the stats surface.
func (s *Service) BreakerStates() map[string]string {
	return map[string]string{
		s.urlBreaker.Name():    s.urlBreaker.State(),
		s.ipBreaker.Name():     s.ipBreaker.State(),
		s.domainBreaker.Name(): s.domainBreaker.State(),
	}
}

// signal derivation

func urlSignals(rep *out.URLReputation) ([]domain.ThreatIndicator, float64) {
	if rep.MaliciousCount == 0 && rep.SuspiciousCount == 0 {
		return nil, 0
	}

	severity := domain.SeverityMedium
	confidence := 0.6
	contribution := 0.5 * float64(rep.MaliciousCount)
	if contribution > 2.5 {
		contribution = 2.5
	}
	if rep.MaliciousCount >= 3 {
		severity = domain.SeverityHigh
		confidence = 0.85
	}

	ind := domain.ThreatIndicator{
		Category:    domain.CategoryURL,
		Severity:    severity,
		Description: "URL flagged by reputation scanning",
		Evidence: fmt.Sprintf("%s: %d/%d engines malicious",
			rep.URL, rep.MaliciousCount, rep.TotalEngines),
		Confidence: confidence,
	}
	return []domain.ThreatIndicator{ind}, contribution
}

func ipSignals(rep *out.IPReputation) ([]domain.ThreatIndicator, float64) {
	if rep.AbuseScore < 50 {
		return nil, 0
	}

	severity := domain.SeverityMedium
	confidence := 0.6
	contribution := 1.0
	if rep.AbuseScore >= 80 {
		severity = domain.SeverityHigh
		confidence = 0.85
		contribution = 2.0
	}

	ind := domain.ThreatIndicator{
		Category:    domain.CategorySender,
		Severity:    severity,
		Description: "Sending IP has an abuse history",
		Evidence: fmt.Sprintf("%s: abuse confidence %d%%, %d reports",
			rep.IP, rep.AbuseScore, rep.TotalReports),
		Confidence: confidence,
	}
	return []domain.ThreatIndicator{ind}, contribution
}

func domainSignals(info *out.DomainInfo) ([]domain.ThreatIndicator, float64) {
	if info.RegisteredAt.IsZero() {
		return nil, 0
	}

	age := time.Since(info.RegisteredAt)
	switch {
	case age < 7*24*time.Hour:
		ind := domain.ThreatIndicator{
			Category:    domain.CategorySender,
			Severity:    domain.SeverityHigh,
			Description: "Sender domain registered within the last week",
			Evidence:    fmt.Sprintf("%s registered %s", info.Domain, info.RegisteredAt.Format("2006-01-02")),
			Confidence:  0.85,
		}
		return []domain.ThreatIndicator{ind}, 2.0
	case age < 30*24*time.Hour:
		ind := domain.ThreatIndicator{
			Category:    domain.CategorySender,
			Severity:    domain.SeverityMedium,
			Description: "Sender domain registered within the last month",
			Evidence:    fmt.Sprintf("%s registered %s", info.Domain, info.RegisteredAt.Format("2006-01-02")),
			Confidence:  0.7,
		}
		return []domain.ThreatIndicator{ind}, 1.0
	}
	return nil, 0
}
