package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpin "triage_server/adapter/in/http"
	"triage_server/infra/middleware"
)

// NewAPI builds the fiber app over the wired dependencies. Everything
// except the webhook endpoint and the banner sits behind an API key;
// production fails closed when no key is configured.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		BodyLimit:             cfg.BodyLimit,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	app.Use(recover.New())
	if cfg.HelmetEnabled {
		app.Use(helmet.New())
	}

	stats := httpin.NewStatsHandler(deps.Pool, deps.Queue, deps.Guards, deps.Webhooks, deps.BreakerStates)
	health := httpin.NewHealthHandler(deps.Store, deps.Audit, cfg.HealthCacheTTL)
	admin := httpin.NewAdminHandler(deps.Subscription)

	// Public surface.
	app.Get("/", stats.Banner)
	deps.Webhooks.Register(app)

	// Health endpoints.
	healthAuth := middleware.RequireAPIKey(cfg.HealthKey(), cfg.IsProduction())
	app.Get("/health", healthAuth, health.Health)
	app.Get("/health/deep", healthAuth, health.HealthDeep)
	app.Get("/ready", healthAuth, health.Ready)

	// Metrics.
	app.Get("/metrics", middleware.RequireAPIKey(cfg.MetricsKey(), cfg.IsProduction()), stats.Metrics)

	// Operator surface.
	opsAuth := middleware.RequireAPIKey(cfg.APIKey, cfg.IsProduction())
	app.Get("/stats", opsAuth, stats.Stats)
	app.Get("/admin/subscription", opsAuth, admin.GetSubscription)
	app.Post("/admin/subscription/renew", opsAuth, admin.RenewSubscription)

	return app
}
