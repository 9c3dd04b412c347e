package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/metrics"
)

// Publisher delivers an encoded envelope to a durable queue.
type Publisher interface {
	Publish(ctx context.Context, queue, correlationID string, body []byte) error
}

// GatewayConfig collects the collaborators of a Gateway.
type GatewayConfig struct {
	Publisher    Publisher
	Responses    *ResponseStore
	Signals      *Signals
	Routes       Routes
	Timeout      time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Gateway forwards calls to consumers and waits for their correlated response.
// It is safe for concurrent use; all invocations share the publisher and the
// cache client.
type Gateway struct {
	publisher    Publisher
	responses    *ResponseStore
	signals      *Signals
	routes       Routes
	timeout      time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewGateway builds a gateway from cfg.
func NewGateway(cfg GatewayConfig) *Gateway {
	return &Gateway{
		publisher:    cfg.Publisher,
		responses:    cfg.Responses,
		signals:      cfg.Signals,
		routes:       cfg.Routes,
		timeout:      cfg.Timeout,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// Invoke runs action with the gateway's default timeout.
func (g *Gateway) Invoke(ctx context.Context, action string, payload json.RawMessage, headers Headers) (Response, error) {
	return g.InvokeWithTimeout(ctx, action, payload, headers, g.timeout)
}

// InvokeWithTimeout publishes action to its queue and blocks until the
// correlated response is observed or timeout elapses. On timeout the published
// message is left in place; a late response expires unread in the cache.
func (g *Gateway) InvokeWithTimeout(ctx context.Context, action string, payload json.RawMessage, headers Headers, timeout time.Duration) (Response, error) {
	start := time.Now()
	resp, err := g.invoke(ctx, action, payload, headers, timeout)

	status := resp.Status
	if err != nil {
		status, _ = apperr.Render(err)
	}
	g.metrics.ObserveInvocation(action, status, time.Since(start))
	return resp, err
}

func (g *Gateway) invoke(ctx context.Context, action string, payload json.RawMessage, headers Headers, timeout time.Duration) (Response, error) {
	queue, ok := g.routes.Queue(action)
	if !ok {
		return Response{}, apperr.NotFound("unknown_action", "Not found")
	}

	correlationID := uuid.NewString()
	body, err := json.Marshal(Envelope{
		CorrelationID: correlationID,
		Action:        action,
		Payload:       payload,
		Headers:       headers,
	})
	if err != nil {
		return Response{}, fmt.Errorf("encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Register before publishing so a fast consumer cannot signal too early.
	ready, release := g.signals.register(correlationID)
	defer release()

	if err := g.publisher.Publish(ctx, queue, correlationID, body); err != nil {
		g.logger.Error("rmq_publish_failed", slog.String("queue", queue), slog.String("action", action),
			slog.String("correlation_id", correlationID), slog.Any("error", err))
		return Response{}, apperr.Unavailable("broker_unavailable", "Service unavailable", err)
	}
	g.logger.Debug("rmq_publish", slog.String("queue", queue), slog.String("action", action),
		slog.String("correlation_id", correlationID))

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		resp, found, err := g.responses.Take(ctx, correlationID)
		if err != nil && ctx.Err() == nil {
			g.logger.Warn("redis_take_failed", slog.String("correlation_id", correlationID), slog.Any("error", err))
		}
		if found {
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return Response{}, g.deadlineError(ctx, queue, action, correlationID)
		case <-ticker.C:
		case <-ready:
		}
	}
}

func (g *Gateway) deadlineError(ctx context.Context, queue, action, correlationID string) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	g.logger.Warn("producer_timeout", slog.String("queue", queue), slog.String("action", action),
		slog.String("correlation_id", correlationID))
	return apperr.Timeout("gateway_timeout", "Gateway timeout")
}
