package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Signals wakes waiting invocations as soon as their response is written.
// It shares one cache subscription among all invocations of a process. Missed
// signals are harmless: the gateway keeps polling at its fixed interval.
type Signals struct {
	client *redis.Client
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan struct{}
	ready   chan struct{}
	once    sync.Once
}

// NewSignals builds an idle signal listener. Call Run to subscribe.
func NewSignals(client *redis.Client, logger *slog.Logger) *Signals {
	return &Signals{
		client:  client,
		logger:  logger,
		waiters: make(map[string]chan struct{}),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the subscription is active.
func (s *Signals) Ready() <-chan struct{} { return s.ready }

const (
	minResubscribeDelay = 100 * time.Millisecond
	maxResubscribeDelay = 5 * time.Second
)

// Run keeps a subscription on the ready channel until ctx ends. A failed or
// dropped subscription is re-established with capped exponential backoff;
// waiting invocations fall back to polling until it is back.
func (s *Signals) Run(ctx context.Context) error {
	delay := minResubscribeDelay
	for {
		subscribed, err := s.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			delay = minResubscribeDelay
		}
		s.logger.Warn("response_signals_lost", slog.Any("error", err), slog.Duration("retry_in", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay = min(delay*2, maxResubscribeDelay)
	}
}

// listen runs one subscription until it fails or ctx ends. subscribed
// reports whether the subscription was established at all.
func (s *Signals) listen(ctx context.Context) (subscribed bool, err error) {
	ps := s.client.Subscribe(ctx, ReadyChannel)
	defer ps.Close()

	if _, err = ps.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", ReadyChannel, err)
	}
	s.once.Do(func() { close(s.ready) })
	s.logger.Debug("response_signals_subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("response signal subscription closed")
			}
			s.notify(msg.Payload)
		}
	}
}

func (s *Signals) register(correlationID string) (<-chan struct{}, func()) {
	if s == nil {
		return nil, func() {}
	}
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.waiters[correlationID] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.waiters, correlationID)
		s.mu.Unlock()
	}
}

func (s *Signals) notify(correlationID string) {
	s.mu.Lock()
	ch, ok := s.waiters[correlationID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
