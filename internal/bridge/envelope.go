// Package bridge implements the asynchronous request/reply path between the
// stateless gateway and the domain consumers: the gateway publishes an
// Envelope to a durable queue and waits for the correlated Response that the
// consumer writes into the cache.
package bridge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/npd-bank/npd_bank/internal/apperr"
)

// Queue names owned by the domain consumers.
const (
	QueueIdentity     = "auth.requests"
	QueueDirectory    = "account.requests"
	QueueLedger       = "transfer.requests"
	QueueNotification = "notification.requests"
)

// Boundary headers forwarded to handlers. Everything else is dropped at the gateway.
const (
	HeaderSession     = "x-session"
	HeaderAdminSecret = "x-admin-secret"
)

const (
	responseKeyPrefix = "response:"
	// ReadyChannel carries correlation ids of freshly written responses.
	ReadyChannel = "response:ready"
)

// ResponseKey is the cache key holding the response for a correlation id.
func ResponseKey(correlationID string) string {
	return responseKeyPrefix + correlationID
}

// Headers carries boundary-auth material only.
type Headers map[string]string

// FilterHeaders keeps the forwarded subset of headers, with lower-cased keys.
func FilterHeaders(in map[string]string) Headers {
	out := Headers{}
	for k, v := range in {
		key := strings.ToLower(k)
		if (key == HeaderSession || key == HeaderAdminSecret) && v != "" {
			out[key] = v
		}
	}
	return out
}

// Session returns the session token, if any.
func (h Headers) Session() string { return strings.TrimSpace(h[HeaderSession]) }

// AdminSecret returns the privileged-operation secret, if any.
func (h Headers) AdminSecret() string { return h[HeaderAdminSecret] }

// Envelope is the message published to a consumer queue.
type Envelope struct {
	CorrelationID string          `json:"correlation_id"`
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Headers       Headers         `json:"headers,omitempty"`
}

// Response is the record a consumer writes for one correlation id.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// JSON builds a response with v encoded as its body.
func JSON(status int, v any) (Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: status, Body: raw}, nil
}

// ErrorResponse renders err through the error taxonomy.
func ErrorResponse(err error) Response {
	status, body := apperr.Render(err)
	raw, _ := json.Marshal(body)
	return Response{Status: status, Body: raw}
}

// Request is what a handler sees of an envelope.
type Request struct {
	CorrelationID string
	Action        string
	Payload       json.RawMessage
	Headers       Headers
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (r Request) Decode(v any) error {
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return apperr.Validation("invalid_payload", "Payload is not valid JSON for this action")
	}
	return nil
}

// HandlerFunc executes one domain action. Returned errors are converted into
// responses at the dispatch boundary.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

// Routes maps logical actions to queue names.
type Routes map[string]string

// Queue returns the queue an action is routed to.
func (r Routes) Queue(action string) (string, bool) {
	q, ok := r[action]
	return q, ok
}

// Add routes every action to queue.
func (r Routes) Add(queue string, actions ...string) Routes {
	for _, a := range actions {
		r[a] = queue
	}
	return r
}

// Authenticator resolves the account behind a request's session header.
type Authenticator interface {
	Authenticate(ctx context.Context, headers Headers) (int64, error)
}
