package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ActionLocal is the fiber local under which handlers record the logical
// action a request was mapped to.
const ActionLocal = "action"

// Audit emits one structured log line per request.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID := RequestIDFrom(c); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if action, _ := c.Locals(ActionLocal).(string); action != "" {
			attrs = append(attrs, slog.String("action", action))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			logger.Error("http_request", attrs...)
			return err
		}

		logger.Info("http_request", attrs...)
		return nil
	}
}
