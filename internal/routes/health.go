package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/npd-bank/npd_bank/internal/metrics"
)

// Check probes one dependency and returns nil when it is usable.
type Check func(ctx context.Context) error

// RegisterHealthRoutes adds a /health endpoint reporting every named check.
func RegisterHealthRoutes(app fiber.Router, service string, checks map[string]Check) {
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		report := fiber.Map{}
		status, overall := http.StatusOK, "healthy"
		for name, check := range checks {
			if err := check(ctx); err != nil {
				report[name] = err.Error()
				status, overall = http.StatusServiceUnavailable, "unhealthy"
				continue
			}
			report[name] = "ok"
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    overall,
			"service":   service,
			"checks":    report,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

// RegisterMetricsRoute exposes m at /metrics. A nil m registers nothing.
func RegisterMetricsRoute(app fiber.Router, m *metrics.Metrics) {
	if m == nil {
		return
	}
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
