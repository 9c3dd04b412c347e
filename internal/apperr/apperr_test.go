package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestRenderTypedError(t *testing.T) {
	err := fmt.Errorf("transfer: %w", InsufficientFunds("insufficient_balance", "Insufficient balance"))

	status, body := Render(err)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if body.Reason != "insufficient_balance" {
		t.Fatalf("unexpected reason %q", body.Reason)
	}
	if !IsKind(err, KindInsufficientFunds) {
		t.Fatalf("expected kind to survive wrapping")
	}
}

func TestRenderHidesInternalCause(t *testing.T) {
	status, body := Render(errors.New("pq: connection refused at 10.0.0.3"))
	if status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
	if body.Detail != "internal error" || body.Reason != ReasonInternal {
		t.Fatalf("internal detail leaked: %+v", body)
	}

	status, body = Render(Unavailable("store_unavailable", "Service unavailable", errors.New("dial tcp: refused")))
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if body.Detail != "Service unavailable" {
		t.Fatalf("cause leaked into detail: %+v", body)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:   http.StatusBadRequest,
		KindUnauthorized: http.StatusUnauthorized,
		KindForbidden:    http.StatusForbidden,
		KindNotFound:     http.StatusNotFound,
		KindConflict:     http.StatusConflict,
		KindTimeout:      http.StatusGatewayTimeout,
	}
	for kind, want := range cases {
		if got := Status(kind); got != want {
			t.Fatalf("kind %d: expected %d, got %d", kind, want, got)
		}
	}
}
