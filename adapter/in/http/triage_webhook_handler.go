// Package http implements the inbound HTTP surface: the provider
// webhook endpoint and the operational endpoints (health, readiness,
// metrics, stats).
package http

import (
	"crypto/subtle"
	"regexp"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"

	"triage_server/adapter/in/worker"
	"triage_server/pkg/logger"
)

// validationTokenPattern is the safe-token shape echoed back during
// the provider's endpoint validation handshake.
var validationTokenPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]{1,256}$`)

// WebhookMetrics counts webhook intake outcomes.
type WebhookMetrics struct {
	Received  int64
	Accepted  int64
	Rejected  int64
	Enqueued  int64
	Dropped   int64
	Validated int64
}

// WebhookHandler receives change notifications and feeds the
// notification queue. The 202 is written before queue submission
// completes; enqueue itself is synchronous and non-blocking.
type WebhookHandler struct {
	queue       *worker.NotificationQueue
	clientState []byte
	metrics     WebhookMetrics
}

// NewWebhookHandler creates the handler.
func NewWebhookHandler(queue *worker.NotificationQueue, clientState string) *WebhookHandler {
	return &WebhookHandler{
		queue:       queue,
		clientState: []byte(clientState),
	}
}

// Register mounts the webhook routes.
func (h *WebhookHandler) Register(app *fiber.App) {
	app.Get("/webhooks/mail", h.Validation)
	app.Post("/webhooks/mail", h.Notification)
}

// mailNotification is the provider's change-notification batch shape.
type mailNotification struct {
	Value []struct {
		SubscriptionID string `json:"subscriptionId"`
		ClientState    string `json:"clientState"`
		ChangeType     string `json:"changeType"`
		Resource       string `json:"resource"`
		ResourceData   struct {
			ID      string `json:"id"`
			ODataID string `json:"@odata.id"`
		} `json:"resourceData"`
	} `json:"value"`
}

// Validation answers the endpoint validation handshake: the token is
// echoed byte-identical as text/plain, and anything outside the safe
// shape is rejected.
func (h *WebhookHandler) Validation(c *fiber.Ctx) error {
	token := c.Query("validationToken")
	if token == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if !validationTokenPattern.MatchString(token) {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	atomic.AddInt64(&h.metrics.Validated, 1)
	c.Set("Content-Type", "text/plain")
	return c.SendString(token)
}

// Notification accepts a notification batch. Valid batches get an
// immediate 202 with each resource id enqueued; processing happens
// asynchronously on the worker pool.
func (h *WebhookHandler) Notification(c *fiber.Ctx) error {
	// The provider may revalidate on the POST route.
	if token := c.Query("validationToken"); token != "" {
		return h.Validation(c)
	}

	atomic.AddInt64(&h.metrics.Received, 1)

	var notification mailNotification
	if err := c.BodyParser(&notification); err != nil {
		atomic.AddInt64(&h.metrics.Rejected, 1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "invalid body"})
	}
	if len(notification.Value) == 0 {
		atomic.AddInt64(&h.metrics.Rejected, 1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "empty notification"})
	}

	// Every notification in the batch must carry the shared secret.
	for _, change := range notification.Value {
		if subtle.ConstantTimeCompare([]byte(change.ClientState), h.clientState) != 1 {
			atomic.AddInt64(&h.metrics.Rejected, 1)
			logger.Warn("[Webhook] clientState mismatch on subscription %s", change.SubscriptionID)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"status": "forbidden"})
		}
	}

	for _, change := range notification.Value {
		if change.ResourceData.ID == "" {
			continue
		}
		if h.queue.Enqueue(change.ResourceData.ID) {
			atomic.AddInt64(&h.metrics.Enqueued, 1)
		} else {
			atomic.AddInt64(&h.metrics.Dropped, 1)
		}
	}

	atomic.AddInt64(&h.metrics.Accepted, 1)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// GetMetrics returns a snapshot of the intake counters.
func (h *WebhookHandler) GetMetrics() WebhookMetrics {
	return WebhookMetrics{
		Received:  atomic.LoadInt64(&h.metrics.Received),
		Accepted:  atomic.LoadInt64(&h.metrics.Accepted),
		Rejected:  atomic.LoadInt64(&h.metrics.Rejected),
		Enqueued:  atomic.LoadInt64(&h.metrics.Enqueued),
		Dropped:   atomic.LoadInt64(&h.metrics.Dropped),
		Validated: atomic.LoadInt64(&h.metrics.Validated),
	}
}
