// Package notification stores per-account notification rows and pushes
// realtime messages over per-account cache channels.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "notify:"
	// KindTransfer is the push event type delivered to realtime clients.
	KindTransfer = "notification"
)

// Channel returns the pub/sub channel of an account.
func Channel(accountID int64) string {
	return channelPrefix + strconv.FormatInt(accountID, 10)
}

// Notification is a durable message addressed to one account.
type Notification struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"user_id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is the structured push delivered to a connected client.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Publisher delivers push messages through the cache. Delivery is
// best-effort: subscribers that are not connected never see the message.
type Publisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPublisher constructs a cache-backed publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish sends message on the account's channel.
func (p *Publisher) Publish(ctx context.Context, accountID int64, message string) error {
	receivers, err := p.client.Publish(ctx, Channel(accountID), message).Result()
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	if p.logger != nil {
		p.logger.Debug("notification_published", slog.Int64("user_id", accountID), slog.Int64("receivers", receivers))
	}
	return nil
}
