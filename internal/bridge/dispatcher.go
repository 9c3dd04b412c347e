package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/npd-bank/npd_bank/internal/apperr"
	"github.com/npd-bank/npd_bank/internal/metrics"
)

const defaultWriteTimeout = 5 * time.Second

// Delivery is one broker message awaiting acknowledgement.
type Delivery interface {
	Body() []byte
	Ack() error
	Nack(requeue bool) error
}

// ResponseWriter stores the response of a processed message.
type ResponseWriter interface {
	Put(ctx context.Context, correlationID string, resp Response) error
}

// Dispatcher routes the messages of one queue to their action handlers and
// guarantees that every correlation id receives exactly one terminal response.
type Dispatcher struct {
	queue     string
	handlers  map[string]HandlerFunc
	responses ResponseWriter
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher creates a dispatcher for queue. Handlers are added with Handle
// before any message is processed.
func NewDispatcher(queue string, responses ResponseWriter, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		handlers:  make(map[string]HandlerFunc),
		responses: responses,
		logger:    logger.With(slog.String("queue", queue)),
		metrics:   m,
	}
}

// Queue returns the queue this dispatcher serves.
func (d *Dispatcher) Queue() string { return d.queue }

// Handle registers h for action.
func (d *Dispatcher) Handle(action string, h HandlerFunc) {
	d.handlers[action] = h
}

// Actions lists the registered actions in sorted order.
func (d *Dispatcher) Actions() []string {
	actions := make([]string, 0, len(d.handlers))
	for a := range d.handlers {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	return actions
}

// Process handles one delivery. The message is acknowledged only after its
// response has been written; a failed write requeues it.
func (d *Dispatcher) Process(ctx context.Context, delivery Delivery) {
	var env Envelope
	if err := json.Unmarshal(delivery.Body(), &env); err != nil {
		if env.CorrelationID == "" {
			d.logger.Error("consumer_error", slog.String("reason", "malformed_envelope"), slog.Any("error", err))
			d.settle(delivery.Nack(false))
			return
		}
		d.respond(ctx, delivery, env, ErrorResponse(apperr.Validation("malformed_envelope", "Malformed request")))
		return
	}

	d.logger.Debug("rmq_message_received", slog.String("correlation_id", env.CorrelationID), slog.String("action", env.Action))

	resp := d.dispatch(ctx, Request{
		CorrelationID: env.CorrelationID,
		Action:        env.Action,
		Payload:       env.Payload,
		Headers:       env.Headers,
	})
	d.respond(ctx, delivery, env, resp)
}

func (d *Dispatcher) respond(ctx context.Context, delivery Delivery, env Envelope, resp Response) {
	d.metrics.ObserveMessage(d.queue, env.Action, resp.Status)

	if env.CorrelationID == "" {
		d.logger.Warn("consumer_no_correlation_id", slog.String("action", env.Action), slog.Int("status", resp.Status))
		d.settle(delivery.Ack())
		return
	}

	// The write must outlive consumer shutdown, otherwise finished work is lost.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultWriteTimeout)
	defer cancel()

	if err := d.responses.Put(writeCtx, env.CorrelationID, resp); err != nil {
		d.logger.Error("redis_store_response_failed", slog.String("correlation_id", env.CorrelationID), slog.Any("error", err))
		d.settle(delivery.Nack(true))
		return
	}
	d.logger.Debug("redis_store_response", slog.String("correlation_id", env.CorrelationID), slog.Int("status", resp.Status))
	d.settle(delivery.Ack())
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (resp Response) {
	h, ok := d.handlers[req.Action]
	if !ok {
		return ErrorResponse(apperr.NotFound("unknown_action", "Unknown action: "+req.Action))
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("consumer_error", slog.String("correlation_id", req.CorrelationID),
				slog.String("action", req.Action), slog.Any("panic", r))
			resp = ErrorResponse(fmt.Errorf("handler panic: %v", r))
		}
	}()

	resp, err := h(ctx, req)
	if err != nil {
		if !isExpected(err) {
			d.logger.Error("consumer_error", slog.String("correlation_id", req.CorrelationID),
				slog.String("action", req.Action), slog.Any("error", err))
		}
		return ErrorResponse(err)
	}
	if resp.Status == 0 {
		resp.Status = 200
	}
	return resp
}

func (d *Dispatcher) settle(err error) {
	if err != nil {
		d.logger.Error("rmq_settle_failed", slog.Any("error", err))
	}
}

// isExpected reports whether err is a domain rejection rather than a failure.
func isExpected(err error) bool {
	status, _ := apperr.Render(err)
	return status < 500
}
