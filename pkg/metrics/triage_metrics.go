// Package metrics exposes the service counters on a dedicated
// Prometheus registry plus a latency tracker with percentiles for the
// JSON metrics view.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the service-wide Prometheus registry. A dedicated
// registry keeps tests isolated from the global default.
var Registry = prometheus.NewRegistry()

var (
	EmailsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phishtriage_emails_processed_total",
		Help: "Messages that completed the analysis pipeline.",
	})

	EmailsBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishtriage_emails_blocked_total",
		Help: "Messages dropped before analysis, by guard reason.",
	}, []string{"reason"})

	PhishingDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phishtriage_phishing_detected_total",
		Help: "Analyses that concluded isPhishing.",
	})

	RepliesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phishtriage_replies_sent_total",
		Help: "Successful reply sends.",
	})

	RepliesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phishtriage_replies_failed_total",
		Help: "Reply sends that errored after analysis.",
	})

	RateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishtriage_rate_limit_hits_total",
		Help: "Replies suppressed by the rate limiter, by reason.",
	}, []string{"reason"})

	QueueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phishtriage_queue_dropped_total",
		Help: "Webhook notifications dropped because the queue was full.",
	})

	IntelLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishtriage_intel_lookups_total",
		Help: "Threat-intel lookups by API and outcome (ok, error, cache_hit).",
	}, []string{"api", "outcome"})

	LLMExplanations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phishtriage_llm_explanations_total",
		Help: "LLM explanation attempts by outcome (ok, skipped, error).",
	}, []string{"outcome"})

	AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phishtriage_analysis_duration_seconds",
		Help:    "Wall time of a full message analysis.",
		Buckets: prometheus.DefBuckets,
	})

	ReplyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phishtriage_reply_latency_seconds",
		Help:    "Time from the start of reply dispatch to reply sent.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		EmailsProcessed,
		EmailsBlocked,
		PhishingDetected,
		RepliesSent,
		RepliesFailed,
		RateLimitHits,
		QueueDropped,
		IntelLookups,
		LLMExplanations,
		AnalysisDuration,
		ReplyLatency,
	)
}
