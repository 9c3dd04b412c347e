package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/npd-bank/npd_bank/internal/logging"
)

func setupTestApp(t *testing.T, status int) (*fiber.App, *atomic.Int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	calls := &atomic.Int32{}
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(status).JSON(fiber.Map{"ok": true, "call": n})
	})
	return app, calls
}

func post(t *testing.T, app *fiber.App, key, session string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusCreated)

	post(t, app, "", "s1")
	post(t, app, "", "s1")
	if calls.Load() != 2 {
		t.Fatalf("expected handler to run twice, ran %d", calls.Load())
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusCreated)

	status, payload := post(t, app, "abc123", "s1")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// Second request should return the cached response without invoking handler again.
	status, cached := post(t, app, "abc123", "s1")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times", calls.Load())
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyKeysAreScopedToSession(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusCreated)

	post(t, app, "same", "alice")
	post(t, app, "same", "bob")
	if calls.Load() != 2 {
		t.Fatalf("expected separate executions per session, got %d", calls.Load())
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusGatewayTimeout)

	post(t, app, "retry-me", "s1")
	post(t, app, "retry-me", "s1")
	if calls.Load() != 2 {
		t.Fatalf("expected retry after 504 to execute again, got %d", calls.Load())
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New()
	app.Post("/login", LoginRateLimit(cache, 2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	login := func(phone string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"phone":"`+phone+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if status := login("0901"); status != fiber.StatusOK {
			t.Fatalf("attempt %d rejected with %d", i+1, status)
		}
	}
	if status := login("0901"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if status := login("0902"); status != fiber.StatusOK {
		t.Fatalf("other phone must not be limited, got %d", status)
	}

	mr.FastForward(time.Minute)
	if status := login("0901"); status != fiber.StatusOK {
		t.Fatalf("window should reset, got %d", status)
	}
}

func TestRequestIDKeepsCallerValue(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "req-1" || resp.Header.Get(RequestIDHeader) != "req-1" {
		t.Fatalf("unexpected request id %q / %q", body, resp.Header.Get(RequestIDHeader))
	}
}

func TestIdempotencyMarksReplays(t *testing.T) {
	app, _ := setupTestApp(t, fiber.StatusCreated)

	send := func() *http.Response {
		req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
		req.Header.Set(IdempotencyKeyHeader, "mark-me")
		req.Header.Set(sessionHeader, "s1")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp
	}

	if first := send(); first.Header.Get(IdempotentReplayHeader) != "" {
		t.Fatalf("first response must not be marked as replay")
	}
	second := send()
	if second.Header.Get(IdempotentReplayHeader) != "true" {
		t.Fatalf("expected replay marker on repeated request")
	}
	if ct := second.Header.Get(fiber.HeaderContentType); ct != fiber.MIMEApplicationJSON {
		t.Fatalf("expected replayed content type %q, got %q", fiber.MIMEApplicationJSON, ct)
	}
}
