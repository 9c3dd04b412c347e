package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/npd-bank/npd_bank/internal/bridge"
	"github.com/npd-bank/npd_bank/internal/logging"
)

type recordingInvoker struct {
	actions []string
}

func (r *recordingInvoker) Invoke(_ context.Context, action string, _ json.RawMessage, _ bridge.Headers) (bridge.Response, error) {
	r.actions = append(r.actions, action)
	return bridge.Response{Status: http.StatusOK, Body: json.RawMessage(`{}`)}, nil
}

func TestActionFor(t *testing.T) {
	cases := map[string]string{
		"/transfer":            "transfer",
		"auth/login":           "auth.login",
		"/account/admin/stats": "account.admin.stats",
		"/":                    "",
	}
	for path, want := range cases {
		if got := ActionFor(path); got != want {
			t.Fatalf("ActionFor(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestForwardResolvesActionOnFixedAndWildcardRoutes(t *testing.T) {
	inv := &recordingInvoker{}
	forward := Forward(inv, logging.Discard())

	app := fiber.New()
	api := app.Group(APIPrefix)
	api.Post("/transfer", forward)
	api.All("/*", forward)

	for _, path := range []string{"/api/transfer", "/api/account/me"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, path, nil))
		if err != nil {
			t.Fatalf("app.Test(%s): %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d %s", path, resp.StatusCode, body)
		}
	}

	if len(inv.actions) != 2 || inv.actions[0] != "transfer" || inv.actions[1] != "account.me" {
		t.Fatalf("unexpected forwarded actions %v", inv.actions)
	}
}
