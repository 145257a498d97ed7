package http

import (
	"strings"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"triage_server/adapter/in/worker"
	"triage_server/core/service/guard"
	"triage_server/pkg/metrics"
)

// StatsHandler serves the JSON stats view, the metrics endpoint, and
// the service banner.
type StatsHandler struct {
	pool     *worker.Pool
	queue    *worker.NotificationQueue
	guards   *guard.Chain
	webhooks *WebhookHandler
	breakers func() map[string]string // per-API breaker states
	promText fiber.Handler
}

// NewStatsHandler creates the handler. breakers may be nil.
func NewStatsHandler(pool *worker.Pool, queue *worker.NotificationQueue, guards *guard.Chain, webhooks *WebhookHandler, breakers func() map[string]string) *StatsHandler {
	return &StatsHandler{
		pool:     pool,
		queue:    queue,
		guards:   guards,
		webhooks: webhooks,
		breakers: breakers,
		promText: adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})),
	}
}

// Banner is the unauthenticated service banner.
func (h *StatsHandler) Banner(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "phishtriage",
		"status":  "running",
	})
}

// Metrics serves Prometheus text by default, or the JSON latency view
// when the client asks for application/json.
func (h *StatsHandler) Metrics(c *fiber.Ctx) error {
	if strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON) {
		latencies := make(fiber.Map)
		for name, stats := range metrics.GetAllLatencyStats() {
			latencies[name] = stats.ToMap()
		}
		return c.JSON(fiber.Map{"latency": latencies})
	}
	return h.promText(c)
}

// Stats is the JSON operational snapshot.
func (h *StatsHandler) Stats(c *fiber.Ctx) error {
	poolMetrics := h.pool.GetMetrics()
	webhookMetrics := h.webhooks.GetMetrics()

	stats := fiber.Map{
		"pool": fiber.Map{
			"processed":  poolMetrics.JobsProcessed,
			"failed":     poolMetrics.JobsFailed,
			"retried":    poolMetrics.JobsRetried,
			"queue_size": poolMetrics.QueueSize,
		},
		"webhooks": fiber.Map{
			"received":  webhookMetrics.Received,
			"accepted":  webhookMetrics.Accepted,
			"rejected":  webhookMetrics.Rejected,
			"enqueued":  webhookMetrics.Enqueued,
			"dropped":   webhookMetrics.Dropped,
			"validated": webhookMetrics.Validated,
		},
		"queue": fiber.Map{
			"depth":   h.queue.Depth(),
			"dropped": h.queue.Dropped(),
		},
		"guard": fiber.Map{
			"seen_message_ids": h.guards.SeenCount(),
		},
	}

	if h.breakers != nil {
		stats["breakers"] = h.breakers()
	}

	latencies := make(fiber.Map)
	for name, lstats := range metrics.GetAllLatencyStats() {
		latencies[name] = lstats.ToMap()
	}
	stats["latency"] = latencies

	return c.JSON(stats)
}
