package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseStore keeps response records in the cache, each under its own TTL.
type ResponseStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResponseStore builds a store whose records expire after ttl if never read.
func NewResponseStore(client *redis.Client, ttl time.Duration) *ResponseStore {
	return &ResponseStore{client: client, ttl: ttl}
}

// Put writes the response for correlationID unless one is already present,
// then signals waiting gateways. A failed signal is not an error; gateways
// also poll.
func (s *ResponseStore) Put(ctx context.Context, correlationID string, resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := s.client.SetNX(ctx, ResponseKey(correlationID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	s.client.Publish(ctx, ReadyChannel, correlationID)
	return nil
}

// Take atomically reads and deletes the response for correlationID. The
// boolean is false when no record is present.
func (s *ResponseStore) Take(ctx context.Context, correlationID string) (Response, bool, error) {
	raw, err := s.client.GetDel(ctx, ResponseKey(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, fmt.Errorf("take response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, false, fmt.Errorf("decode response: %w", err)
	}
	return resp, true, nil
}
