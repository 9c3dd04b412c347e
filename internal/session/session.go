// Package session issues opaque session tokens and maintains presence markers
// in the cache. Both are TTL-bound; nothing here survives its expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/bridge"
)

const (
	sessionPrefix  = "session:"
	presencePrefix = "presence:"
	presenceValue  = "online"
)

// Key returns the cache key of a session token.
func Key(token string) string { return sessionPrefix + token }

// PresenceKey returns the cache key of an account's presence marker.
func PresenceKey(accountID int64) string {
	return presencePrefix + strconv.FormatInt(accountID, 10)
}

// Manager creates and resolves sessions and toggles presence.
type Manager struct {
	client      *redis.Client
	sessionTTL  time.Duration
	presenceTTL time.Duration
}

// NewManager builds a manager with the given lifetimes.
func NewManager(client *redis.Client, sessionTTL, presenceTTL time.Duration) *Manager {
	return &Manager{client: client, sessionTTL: sessionTTL, presenceTTL: presenceTTL}
}

// Create stores a fresh token for accountID and returns it.
func (m *Manager) Create(ctx context.Context, accountID int64) (string, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := m.client.Set(ctx, Key(token), strconv.FormatInt(accountID, 10), m.sessionTTL).Err(); err != nil {
		return "", apperr.Unavailable("session_unavailable", "Service unavailable", fmt.Errorf("store session: %w", err))
	}
	return token, nil
}

// Resolve returns the account a token belongs to. Reads never extend the TTL.
func (m *Manager) Resolve(ctx context.Context, token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, apperr.Unauthorized("missing_session", "Missing session")
	}
	v, err := m.client.Get(ctx, Key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, apperr.Unauthorized("invalid_session", "Invalid/expired session")
	}
	if err != nil {
		return 0, apperr.Unavailable("session_unavailable", "Service unavailable", fmt.Errorf("resolve session: %w", err))
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, apperr.Unauthorized("invalid_session", "Invalid/expired session")
	}
	return id, nil
}

// Authenticate resolves the session carried by request headers.
func (m *Manager) Authenticate(ctx context.Context, headers bridge.Headers) (int64, error) {
	return m.Resolve(ctx, headers.Session())
}

// SetPresence marks accountID online for the presence TTL, or clears the marker.
func (m *Manager) SetPresence(ctx context.Context, accountID int64, online bool) error {
	key := PresenceKey(accountID)
	var err error
	if online {
		err = m.client.Set(ctx, key, presenceValue, m.presenceTTL).Err()
	} else {
		err = m.client.Del(ctx, key).Err()
	}
	if err != nil {
		return fmt.Errorf("set presence %d: %w", accountID, err)
	}
	return nil
}

// Online reports whether accountID has a live presence marker.
func (m *Manager) Online(ctx context.Context, accountID int64) (bool, error) {
	n, err := m.client.Exists(ctx, PresenceKey(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("check presence %d: %w", accountID, err)
	}
	return n == 1, nil
}
