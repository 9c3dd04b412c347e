package routes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/npd-bank/npd_bank/internal/config"
	"github.com/npd-bank/npd_bank/internal/identity"
	"github.com/npd-bank/npd_bank/internal/ledger"
	"github.com/npd-bank/npd_bank/internal/logging"
	"github.com/npd-bank/npd_bank/internal/metrics"
	"github.com/npd-bank/npd_bank/internal/middleware"
)

// Deps aggregates shared dependencies required to wire the gateway routes.
type Deps struct {
	Cfg     config.Config
	Cache   *redis.Client
	Gateway Invoker
	Checks  map[string]Check
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Setup configures middlewares and the gateway routes. Every /api call is
// forwarded to a consumer; nothing below /api is served locally.
func Setup(app *fiber.App, d Deps) error {
	if d.Gateway == nil {
		return fmt.Errorf("gateway is required")
	}
	if d.Cache == nil && !d.Cfg.IsDev() {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	if d.Cache != nil {
		if _, ok := d.Checks["redis"]; !ok {
			if d.Checks == nil {
				d.Checks = map[string]Check{}
			}
			d.Checks["redis"] = func(ctx context.Context) error { return d.Cache.Ping(ctx).Err() }
		}
	}
	RegisterHealthRoutes(app, "gateway", d.Checks)
	RegisterMetricsRoute(app, d.Metrics)

	forward := Forward(d.Gateway, d.Logger)
	api := app.Group(APIPrefix)
	api.Post("/"+pathFor(identity.ActionLogin), middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimit), forward)
	api.Post("/"+pathFor(ledger.ActionTransfer), middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger), forward)
	api.All("/*", forward)
	return nil
}

func pathFor(action string) string {
	return strings.ReplaceAll(action, ".", "/")
}
