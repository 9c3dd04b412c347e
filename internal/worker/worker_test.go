package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/npd-bank/npd_bank/internal/bridge"
	"github.com/npd-bank/npd_bank/internal/config"
	"github.com/npd-bank/npd_bank/internal/identity"
	"github.com/npd-bank/npd_bank/internal/ledger"
	"github.com/npd-bank/npd_bank/internal/logging"
	"github.com/npd-bank/npd_bank/internal/notification"
	"github.com/npd-bank/npd_bank/internal/routes"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })
	return Deps{
		Config: config.Config{ResponseTTL: time.Minute, SessionTTL: time.Hour, PresenceTTL: time.Minute},
		Cache:  cache,
		Checks: map[string]routes.Check{
			"redis": func(ctx context.Context) error { return cache.Ping(ctx).Err() },
		},
		Logger: logging.Discard(),
	}
}

func memoryComponents() Components {
	return Components{
		Accounts:      identity.NewMemoryRepository(),
		Ledger:        ledger.NewMemoryStore(),
		Notifications: notification.NewMemoryRepository(),
	}
}

func TestDispatchersMatchRoutingTable(t *testing.T) {
	deps := testDeps(t)
	table := routes.ActionTable()
	served := map[string]bool{}

	for _, role := range Roles() {
		d, err := NewDispatcher(role, deps, memoryComponents())
		require.NoError(t, err)
		require.Equal(t, role.Queue(), d.Queue())
		for _, action := range d.Actions() {
			queue, ok := table.Queue(action)
			require.True(t, ok, "action %s missing from routing table", action)
			require.Equal(t, d.Queue(), queue, "action %s routed to wrong queue", action)
			served[action] = true
		}
	}
	for action := range table {
		require.True(t, served[action], "routed action %s has no handler", action)
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("ledger")
	require.NoError(t, err)
	require.Equal(t, bridge.QueueLedger, role.Queue())

	_, err = ParseRole("payments")
	require.Error(t, err)
}

func TestHealthAction(t *testing.T) {
	ok := HealthAction("transfer", map[string]routes.Check{
		"redis": func(context.Context) error { return nil },
	})
	resp, err := ok(context.Background(), bridge.Request{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.JSONEq(t, `{"service":"transfer","status":"healthy","redis":"ok"}`, string(resp.Body))

	failing := HealthAction("transfer", map[string]routes.Check{
		"database": func(context.Context) error { return errors.New("down") },
	})
	resp, err = failing(context.Background(), bridge.Request{})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.Status)
	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	require.Equal(t, "unhealthy", body["status"])
}

func TestHealthApp(t *testing.T) {
	deps := testDeps(t)
	app := NewHealthApp("transfer", deps.Checks, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type fakeConsumer struct {
	started chan string
}

func (f fakeConsumer) Consume(ctx context.Context, queue string, prefetch int, _ func(context.Context, bridge.Delivery)) error {
	f.started <- queue
	<-ctx.Done()
	return nil
}

func TestRunStopsOnCancel(t *testing.T) {
	deps := testDeps(t)
	d, err := NewDispatcher(RoleNotification, deps, memoryComponents())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	consumer := fakeConsumer{started: make(chan string, 1)}
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, d, consumer, 5, NewHealthApp("notification", nil, nil), "127.0.0.1:0")
	}()

	require.Equal(t, bridge.QueueNotification, <-consumer.started)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not stop")
	}
}
