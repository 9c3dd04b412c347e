package realtime

import (
	"context"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/metrics"
	"github.com/npd-bank/npd_bank/internal/routes"
)

const accountLocal = "account_id"

// SessionResolver maps a session token to its account.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (int64, error)
}

// Server exposes the hub over websocket.
type Server struct {
	app *fiber.App
	hub *Hub
	// base is cancelled on shutdown and ends every open connection.
	base   context.Context
	cancel context.CancelFunc
}

// ServerConfig wires a realtime server.
type ServerConfig struct {
	AppName  string
	Hub      *Hub
	Sessions SessionResolver
	Cache    *redis.Client
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewServer builds the websocket app: /ws?session=<token>, /health, /metrics.
func NewServer(cfg ServerConfig) *Server {
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		app:    fiber.New(fiber.Config{AppName: cfg.AppName, DisableStartupMessage: true}),
		hub:    cfg.Hub,
		base:   base,
		cancel: cancel,
	}

	s.app.Use(recover.New())
	checks := map[string]routes.Check{}
	if cfg.Cache != nil {
		checks["redis"] = func(ctx context.Context) error { return cfg.Cache.Ping(ctx).Err() }
	}
	routes.RegisterHealthRoutes(s.app, "realtime", checks)
	routes.RegisterMetricsRoute(s.app, cfg.Metrics)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		accountID, err := cfg.Sessions.Resolve(c.UserContext(), c.Query("session"))
		if err != nil {
			status, body := apperr.Render(err)
			return c.Status(status).JSON(body)
		}
		c.Locals(accountLocal, accountID)
		return c.Next()
	})
	s.app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		accountID, _ := conn.Locals(accountLocal).(int64)
		if err := s.hub.Serve(s.base, accountID, conn); err != nil && cfg.Logger != nil {
			cfg.Logger.Warn("ws_error", slog.Int64("user_id", accountID), slog.String("error", err.Error()))
		}
	}))
	return s
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the HTTP server.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown closes open connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.app.ShutdownWithContext(ctx)
}
