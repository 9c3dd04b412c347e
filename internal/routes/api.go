package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/bridge"
	"github.com/npd-bank/npd_bank/internal/middleware"
)

// Invoker forwards one action to its consumer and returns the correlated response.
type Invoker interface {
	Invoke(ctx context.Context, action string, payload json.RawMessage, headers bridge.Headers) (bridge.Response, error)
}

// ActionFor maps an API path below /api to its logical action:
// "account/admin/stats" becomes "account.admin.stats".
func ActionFor(path string) string {
	path = strings.Trim(path, "/")
	return strings.ReplaceAll(path, "/", ".")
}

// APIPrefix is the path every forwarded call lives under.
const APIPrefix = "/api"

// Forward returns the handler that reduces an HTTP call to (action, payload,
// headers), invokes it and passes the consumer's status and body through.
// The action comes from the request path, so the handler serves fixed and
// wildcard routes alike.
func Forward(inv Invoker, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		action := ActionFor(strings.TrimPrefix(c.Path(), APIPrefix))
		if action == "" {
			return c.Status(http.StatusNotFound).JSON(apperr.Body{Reason: "unknown_action", Detail: "Not found"})
		}
		c.Locals(middleware.ActionLocal, action)

		headers := bridge.FilterHeaders(map[string]string{
			bridge.HeaderSession:     c.Get(bridge.HeaderSession),
			bridge.HeaderAdminSecret: c.Get(bridge.HeaderAdminSecret),
		})

		resp, err := inv.Invoke(c.UserContext(), action, payload(c), headers)
		if err != nil {
			status, body := apperr.Render(err)
			if status >= http.StatusInternalServerError {
				logger.Warn("gateway_error",
					slog.String("action", action),
					slog.String("request_id", middleware.RequestIDFrom(c)),
					slog.String("error", err.Error()))
			}
			return c.Status(status).JSON(body)
		}

		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(resp.Status).Send(resp.Body)
	}
}

// payload builds the envelope payload: query parameters for reads, the JSON
// body otherwise. A missing or malformed body becomes an empty object.
func payload(c *fiber.Ctx) json.RawMessage {
	switch c.Method() {
	case fiber.MethodGet, fiber.MethodHead, fiber.MethodDelete:
		raw, err := json.Marshal(c.Queries())
		if err != nil {
			return json.RawMessage(`{}`)
		}
		return raw
	}
	body := c.Body()
	if len(body) == 0 || !json.Valid(body) {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), body...)
}
