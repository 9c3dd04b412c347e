// Package realtime holds long-lived client connections, forwards each
// account's notification channel to its socket and keeps the account's
// presence marker alive while the socket is open.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/npd-bank/npd_bank/internal/logging"
	"github.com/npd-bank/npd_bank/internal/metrics"
	"github.com/npd-bank/npd_bank/internal/notification"
)

const teardownTimeout = 5 * time.Second

var errDisconnected = errors.New("connection closed")

// Conn is the client socket. Only one goroutine writes to it at a time.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Presence toggles an account's liveness marker.
type Presence interface {
	SetPresence(ctx context.Context, accountID int64, online bool) error
}

// Hub serves realtime connections.
type Hub struct {
	client   *redis.Client
	presence Presence
	refresh  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// HubConfig wires a Hub.
type HubConfig struct {
	Client *redis.Client
	// Presence is refreshed every Refresh, which must be shorter than its TTL.
	Presence Presence
	Refresh  time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// NewHub builds a hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Hub{
		client:   cfg.Client,
		presence: cfg.Presence,
		refresh:  cfg.Refresh,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Serve runs the connection of accountID until the client disconnects or
// ctx is cancelled. The presence marker is cleared and the subscription
// closed on every exit path.
func (h *Hub) Serve(ctx context.Context, accountID int64, conn Conn) error {
	defer h.metrics.ConnectionOpened()()
	log := h.logger.With(slog.Int64("user_id", accountID))

	pubsub := h.client.Subscribe(ctx, notification.Channel(accountID))
	defer pubsub.Close()
	defer h.clearPresence(ctx, accountID, log)

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %d: %w", accountID, err)
	}
	if err := h.presence.SetPresence(ctx, accountID, true); err != nil {
		log.Warn("presence_set_failed", slog.String("error", err.Error()))
	}
	log.Info("ws_connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.refreshPresence(gctx, accountID, log) })
	g.Go(func() error { return forward(gctx, pubsub.Channel(), conn) })
	g.Go(func() error { return drain(conn) })
	g.Go(func() error {
		// Unblocks drain when the other loops stop first.
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	err := g.Wait()
	log.Info("ws_disconnected")
	if errors.Is(err, errDisconnected) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (h *Hub) refreshPresence(ctx context.Context, accountID int64, log *slog.Logger) error {
	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.presence.SetPresence(ctx, accountID, true); err != nil && ctx.Err() == nil {
				log.Warn("presence_refresh_failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (h *Hub) clearPresence(ctx context.Context, accountID int64, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := h.presence.SetPresence(ctx, accountID, false); err != nil {
		log.Warn("presence_clear_failed", slog.String("error", err.Error()))
	}
}

func forward(ctx context.Context, messages <-chan *redis.Message, conn Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errDisconnected
			}
			if err := conn.WriteJSON(notification.Event{Type: notification.KindTransfer, Message: msg.Payload}); err != nil {
				return errDisconnected
			}
		}
	}
}

// drain reads and discards client frames until the socket fails.
func drain(conn Conn) error {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return errDisconnected
		}
	}
}
