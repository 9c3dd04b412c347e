package session

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/bridge"
)

func setup(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewManager(client, time.Hour, time.Minute)
}

func TestCreateAndResolve(t *testing.T) {
	_, m := setup(t)
	ctx := context.Background()

	token, err := m.Create(ctx, 42)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(token) != 32 {
		t.Fatalf("expected 32 char token, got %q", token)
	}

	id, err := m.Authenticate(ctx, bridge.Headers{bridge.HeaderSession: token})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected account 42, got %d", id)
	}

	other, _ := m.Create(ctx, 42)
	if other == token {
		t.Fatalf("tokens must be unique")
	}
}

func TestResolveRejectsMissingAndUnknownTokens(t *testing.T) {
	_, m := setup(t)
	ctx := context.Background()

	if _, err := m.Resolve(ctx, "  "); !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized for empty token, got %v", err)
	}
	if _, err := m.Resolve(ctx, "deadbeef"); !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized for unknown token, got %v", err)
	}
}

func TestResolveDoesNotRefreshTTL(t *testing.T) {
	mr, m := setup(t)
	ctx := context.Background()

	token, _ := m.Create(ctx, 1)
	mr.FastForward(40 * time.Minute)
	if _, err := m.Resolve(ctx, token); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ttl := mr.TTL(Key(token)); ttl != 20*time.Minute {
		t.Fatalf("ttl must not be refreshed by reads, got %s", ttl)
	}

	mr.FastForward(21 * time.Minute)
	if _, err := m.Resolve(ctx, token); !apperr.IsKind(err, apperr.KindUnauthorized) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestPresenceLifecycle(t *testing.T) {
	mr, m := setup(t)
	ctx := context.Background()

	if err := m.SetPresence(ctx, 9, true); err != nil {
		t.Fatalf("set online: %v", err)
	}
	if online, _ := m.Online(ctx, 9); !online {
		t.Fatalf("expected account to be online")
	}
	if ttl := mr.TTL(PresenceKey(9)); ttl != time.Minute {
		t.Fatalf("expected 1m presence ttl, got %s", ttl)
	}

	if err := m.SetPresence(ctx, 9, false); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	if mr.Exists(PresenceKey(9)) {
		t.Fatalf("offline must delete the marker immediately")
	}

	_ = m.SetPresence(ctx, 9, true)
	mr.FastForward(61 * time.Second)
	if online, _ := m.Online(ctx, 9); online {
		t.Fatalf("presence must expire without refresh")
	}
}
