package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// IdempotencyKeyHeader names the optional client-chosen retry key.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader is set on responses served from the store.
	IdempotentReplayHeader = "Idempotent-Replayed"

	idempotencyPrefix = "idempotency:v2:"
	inProgressMarker  = "__in_progress__"
	sessionHeader     = "X-Session"
	storeTimeout      = 2 * time.Second
)

var errInProgress = errors.New("duplicate request currently processing")

// replay is the stored outcome of one keyed request.
type replay struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

type idempotencyStore struct {
	cache *redis.Client
	ttl   time.Duration
}

// lookup returns the stored replay for key, nil when the key is unseen, or
// errInProgress while the first request is still running.
func (s idempotencyStore) lookup(ctx context.Context, key string) (*replay, error) {
	raw, err := s.cache.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if string(raw) == inProgressMarker {
		return nil, errInProgress
	}
	var r replay
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("idempotency decode: %w", err)
	}
	return &r, nil
}

// reserve claims key for the current request. Losing the race to a
// concurrent duplicate yields errInProgress.
func (s idempotencyStore) reserve(ctx context.Context, key string) error {
	ok, err := s.cache.SetNX(ctx, key, inProgressMarker, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency reserve: %w", err)
	}
	if !ok {
		return errInProgress
	}
	return nil
}

func (s idempotencyStore) save(ctx context.Context, key string, r replay) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency persist: %w", err)
	}
	return nil
}

func (s idempotencyStore) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	s.cache.Del(ctx, key)
}

// Idempotency replays the stored response of an unsafe request that repeats
// an Idempotency-Key already seen for the same session. Requests without the
// header pass through untouched. Only responses below 500 are stored, so a
// gateway timeout or outage can be retried with the same key.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	store := idempotencyStore{cache: cache, ttl: ttl}

	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		clientKey := strings.TrimSpace(c.Get(IdempotencyKeyHeader))
		if clientKey == "" || cache == nil {
			return c.Next()
		}
		key := idempotencyPrefix + scopeKey(c.Get(sessionHeader), clientKey)

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		stored, err := store.lookup(ctx, key)
		switch {
		case errors.Is(err, errInProgress):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case err != nil:
			logger.Error("idempotency_lookup_failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store failure")
		case stored != nil:
			if stored.ContentType != "" {
				c.Set(fiber.HeaderContentType, stored.ContentType)
			}
			c.Set(IdempotentReplayHeader, "true")
			return c.Status(stored.Status).Send(stored.Body)
		}

		if err := store.reserve(ctx, key); err != nil {
			if errors.Is(err, errInProgress) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			logger.Error("idempotency_reservation_failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store failure")
		}

		if err := c.Next(); err != nil || c.Response().StatusCode() >= fiber.StatusInternalServerError {
			store.release(key)
			return err
		}

		outcome := replay{
			Status:      c.Response().StatusCode(),
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		saveCtx, saveCancel := context.WithTimeout(context.Background(), storeTimeout)
		defer saveCancel()
		if err := store.save(saveCtx, key, outcome); err != nil {
			// The request already ran; dropping the key only loses replay.
			logger.Error("idempotency_persist_failed", slog.Any("error", err))
			store.release(key)
		}
		return nil
	}
}

// scopeKey binds a client key to the caller's session so two accounts can
// never replay each other's responses.
func scopeKey(session, key string) string {
	sum := sha256.Sum256([]byte(session + "\x00" + key))
	return hex.EncodeToString(sum[:])
}
