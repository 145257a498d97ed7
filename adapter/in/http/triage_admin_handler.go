package http

import (
	"github.com/gofiber/fiber/v2"

	"triage_server/adapter/in/worker"
	"triage_server/pkg/response"
)

// AdminHandler exposes subscription lifecycle controls behind the API
// key.
type AdminHandler struct {
	subscription *worker.SubscriptionScheduler // nil when push is disabled
}

// NewAdminHandler creates the handler. subscription may be nil.
func NewAdminHandler(subscription *worker.SubscriptionScheduler) *AdminHandler {
	return &AdminHandler{subscription: subscription}
}

// GetSubscription reports the active push subscription.
func (h *AdminHandler) GetSubscription(c *fiber.Ctx) error {
	if h.subscription == nil {
		return response.Error(c, fiber.StatusServiceUnavailable, "NOT_CONFIGURED", "push notifications are not configured")
	}

	sub := h.subscription.Current()
	if sub == nil {
		return response.OK(c, fiber.Map{"active": false})
	}
	return response.OK(c, fiber.Map{
		"active":     true,
		"id":         sub.ID,
		"resource":   sub.Resource,
		"expires_at": sub.ExpiresAt,
	})
}

// RenewSubscription forces an immediate renewal.
func (h *AdminHandler) RenewSubscription(c *fiber.Ctx) error {
	if h.subscription == nil {
		return response.Error(c, fiber.StatusServiceUnavailable, "NOT_CONFIGURED", "push notifications are not configured")
	}

	if err := h.subscription.RenewNow(); err != nil {
		return response.Error(c, fiber.StatusBadGateway, "RENEWAL_FAILED", err.Error())
	}
	return h.GetSubscription(c)
}
