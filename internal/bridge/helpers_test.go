package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/npd-bank/npd_bank/internal/logging"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

type memDelivery struct {
	body []byte

	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
	done    chan struct{}
}

func newMemDelivery(body []byte) *memDelivery {
	return &memDelivery{body: body, done: make(chan struct{})}
}

func (d *memDelivery) Body() []byte { return d.body }

func (d *memDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	close(d.done)
	return nil
}

func (d *memDelivery) Nack(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacked = true
	d.requeue = requeue
	close(d.done)
	return nil
}

func (d *memDelivery) wait(t *testing.T) {
	t.Helper()
	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery was never settled")
	}
}

// loopback hands published messages straight to the dispatcher bound to the
// queue. Messages for unbound queues are recorded and never processed.
type loopback struct {
	mu          sync.Mutex
	dispatchers map[string]*Dispatcher
	published   []string
	deliveries  []*memDelivery
}

func newLoopback(dispatchers ...*Dispatcher) *loopback {
	l := &loopback{dispatchers: make(map[string]*Dispatcher)}
	for _, d := range dispatchers {
		l.dispatchers[d.Queue()] = d
	}
	return l
}

func (l *loopback) Publish(_ context.Context, queue, correlationID string, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published = append(l.published, correlationID)
	d, ok := l.dispatchers[queue]
	if !ok {
		return nil
	}
	delivery := newMemDelivery(body)
	l.deliveries = append(l.deliveries, delivery)
	go d.Process(context.Background(), delivery)
	return nil
}

func (l *loopback) lastCorrelationID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.published) == 0 {
		return ""
	}
	return l.published[len(l.published)-1]
}

func (l *loopback) lastDelivery() *memDelivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.deliveries) == 0 {
		return nil
	}
	return l.deliveries[len(l.deliveries)-1]
}

func newTestGateway(pub Publisher, client *redis.Client, routes Routes, timeout, poll time.Duration, signals *Signals) *Gateway {
	return NewGateway(GatewayConfig{
		Publisher:    pub,
		Responses:    NewResponseStore(client, time.Minute),
		Signals:      signals,
		Routes:       routes,
		Timeout:      timeout,
		PollInterval: poll,
		Logger:       logging.Discard(),
	})
}
