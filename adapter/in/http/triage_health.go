package http

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"triage_server/core/port/out"
	"triage_server/pkg/cache"
)

// HealthHandler serves liveness, the cached deep check, and readiness.
type HealthHandler struct {
	store    cache.Cache
	audit    out.AuditStore // may be nil
	cacheTTL time.Duration

	mu         sync.Mutex
	lastDeep   fiber.Map
	lastStatus int
	lastAt     time.Time
}

// NewHealthHandler creates the handler. audit may be nil.
func NewHealthHandler(store cache.Cache, audit out.AuditStore, cacheTTL time.Duration) *HealthHandler {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &HealthHandler{
		store:    store,
		audit:    audit,
		cacheTTL: cacheTTL,
	}
}

// Health is the uncached liveness probe.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthDeep runs per-component checks, cached for the configured TTL.
func (h *HealthHandler) HealthDeep(c *fiber.Ctx) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if time.Since(h.lastAt) < h.cacheTTL && h.lastDeep != nil {
		return c.Status(h.lastStatus).JSON(h.lastDeep)
	}

	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks := make(fiber.Map)
	healthy := true

	if h.store.Ready(ctx) {
		checks["cache"] = "healthy"
	} else {
		checks["cache"] = "unhealthy"
		healthy = false
	}

	if h.audit != nil {
		if err := h.audit.Ping(ctx); err != nil {
			checks["audit_store"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			checks["audit_store"] = "healthy"
		}
	} else {
		checks["audit_store"] = "not configured"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := "ok"
	statusCode := fiber.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	h.lastDeep = fiber.Map{
		"status": status,
		"checks": checks,
		"memory": fiber.Map{
			"alloc_mb":      mem.Alloc / 1024 / 1024,
			"sys_mb":        mem.Sys / 1024 / 1024,
			"num_gc":        mem.NumGC,
			"num_goroutine": runtime.NumGoroutine(),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	h.lastStatus = statusCode
	h.lastAt = time.Now()

	return c.Status(statusCode).JSON(h.lastDeep)
}

// Ready reports whether dependencies are reachable.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	if !h.store.Ready(ctx) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
