// Package worker wires a consumer process: one role, one queue, one
// dispatcher, plus a small health server.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/npd-bank/npd_bank/internal/bridge"
	"github.com/npd-bank/npd_bank/internal/config"
	"github.com/npd-bank/npd_bank/internal/directory"
	"github.com/npd-bank/npd_bank/internal/identity"
	"github.com/npd-bank/npd_bank/internal/ledger"
	"github.com/npd-bank/npd_bank/internal/metrics"
	"github.com/npd-bank/npd_bank/internal/notification"
	"github.com/npd-bank/npd_bank/internal/routes"
	"github.com/npd-bank/npd_bank/internal/session"
)

// Role selects which consumer a worker process runs.
type Role string

const (
	RoleIdentity     Role = "identity"
	RoleLedger       Role = "ledger"
	RoleDirectory    Role = "directory"
	RoleNotification Role = "notification"
)

// Roles lists every consumer role.
func Roles() []Role {
	return []Role{RoleIdentity, RoleLedger, RoleDirectory, RoleNotification}
}

// ParseRole validates a role name.
func ParseRole(name string) (Role, error) {
	for _, r := range Roles() {
		if string(r) == name {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown worker role %q", name)
}

type roleWiring struct {
	queue   string
	service string
	health  string
}

var roleTable = map[Role]roleWiring{
	RoleIdentity:     {bridge.QueueIdentity, "auth", identity.ActionHealth},
	RoleLedger:       {bridge.QueueLedger, "transfer", ledger.ActionHealth},
	RoleDirectory:    {bridge.QueueDirectory, "account", directory.ActionHealth},
	RoleNotification: {bridge.QueueNotification, "notification", notification.ActionHealth},
}

// Queue returns the queue consumed by the role.
func (r Role) Queue() string { return roleTable[r].queue }

// ServiceName returns the name a role reports in health responses.
func (r Role) ServiceName() string { return roleTable[r].service }

// LedgerStore is the ledger backend: transactional writes plus reporting.
type LedgerStore interface {
	ledger.Store
	ledger.History
}

// Components are the persistent repositories handlers run against.
type Components struct {
	Accounts      identity.Repository
	Ledger        LedgerStore
	Notifications notification.Repository
}

// PostgresComponents builds every repository on one shared pool.
func PostgresComponents(db *pgxpool.Pool) Components {
	return Components{
		Accounts:      identity.NewPostgresRepository(db),
		Ledger:        ledger.NewPostgresStore(db),
		Notifications: notification.NewPostgresRepository(db),
	}
}

// Deps are the shared clients of a worker process.
type Deps struct {
	Config  config.Config
	Cache   *redis.Client
	Checks  map[string]routes.Check
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewDispatcher builds the dispatcher of role with every action registered,
// including the role's health action.
func NewDispatcher(role Role, deps Deps, comps Components) (*bridge.Dispatcher, error) {
	rs, ok := roleTable[role]
	if !ok {
		return nil, fmt.Errorf("unknown worker role %q", role)
	}
	cfg := deps.Config
	logger := deps.Logger.With(slog.String("role", string(role)))

	responses := bridge.NewResponseStore(deps.Cache, cfg.ResponseTTL)
	sessions := session.NewManager(deps.Cache, cfg.SessionTTL, cfg.PresenceTTL)
	d := bridge.NewDispatcher(rs.queue, responses, logger, deps.Metrics)

	switch role {
	case RoleIdentity:
		identity.NewHandler(identity.NewService(comps.Accounts, sessions, logger)).Register(d)
	case RoleLedger:
		engine := ledger.NewEngine(comps.Ledger, notification.NewPublisher(deps.Cache, logger), logger, deps.Metrics)
		ledger.NewHandler(engine, sessions).Register(d)
	case RoleDirectory:
		svc := directory.NewService(directory.Config{
			Accounts:      comps.Accounts,
			Presence:      sessions,
			History:       comps.Ledger,
			Notifications: comps.Notifications,
			AdminSecret:   cfg.AdminSecret,
			Logger:        logger,
		})
		directory.NewHandler(svc, sessions).Register(d)
	case RoleNotification:
		notification.NewHandler(comps.Notifications, sessions).Register(d)
	}
	d.Handle(rs.health, HealthAction(rs.service, deps.Checks))
	return d, nil
}

// HealthAction answers a queue-level health probe with the state of each check.
func HealthAction(service string, checks map[string]routes.Check) bridge.HandlerFunc {
	return func(ctx context.Context, _ bridge.Request) (bridge.Response, error) {
		body := map[string]string{"service": service, "status": "healthy"}
		status := http.StatusOK
		for name, check := range checks {
			body[name] = "ok"
			if err := check(ctx); err != nil {
				body[name] = "error"
				body["status"] = "unhealthy"
				status = http.StatusServiceUnavailable
			}
		}
		return bridge.JSON(status, body)
	}
}

// NewHealthApp builds the worker's /health and /metrics server.
func NewHealthApp(service string, checks map[string]routes.Check, m *metrics.Metrics) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	routes.RegisterHealthRoutes(app, service, checks)
	routes.RegisterMetricsRoute(app, m)
	return app
}

// Consumer feeds deliveries of a queue to a handler.
type Consumer interface {
	Consume(ctx context.Context, queue string, prefetch int, handle func(context.Context, bridge.Delivery)) error
}

// Run consumes the dispatcher's queue and serves the health app until ctx is
// cancelled or either fails.
func Run(ctx context.Context, d *bridge.Dispatcher, consumer Consumer, prefetch int, health *fiber.App, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Consume(gctx, d.Queue(), prefetch, d.Process)
	})
	g.Go(func() error {
		if err := health.Listener(ln); err != nil && gctx.Err() == nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = health.Shutdown()
		// Closing the listener also stops a server that had not started serving yet.
		_ = ln.Close()
		return nil
	})
	return g.Wait()
}
