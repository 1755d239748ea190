// Package gateway is the single path every API call takes.
//
// Reads always go to the network. Writes go to the network while online and
// fall back to the pending queue when the client is offline or the request
// fails before reaching the server; the caller then gets an optimistic
// result instead of an error. Writes the server explicitly rejects are
// returned as errors and never queued.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/taskmasterpro/tm/internal/api"
	"github.com/taskmasterpro/tm/internal/offline/notify"
	"github.com/taskmasterpro/tm/internal/offline/queue"
	"github.com/taskmasterpro/tm/internal/offline/schema"
)

// Doer executes API requests. *api.Client implements it.
type Doer interface {
	Do(ctx context.Context, req api.Request) (*api.Response, error)
}

// Connectivity reports the current connectivity state.
type Connectivity interface {
	Online() bool
}

// Result is what a caller of Execute receives.
type Result struct {
	// Success is true for accepted and optimistically queued calls.
	Success bool `json:"success"`

	// Offline marks a synthetic result: the call was queued, not executed.
	Offline bool `json:"offline,omitempty"`

	// Operation is the queued operation when Offline is set.
	Operation *schema.Operation `json:"-"`

	// Status and Body are the server response when the call executed.
	Status int             `json:"-"`
	Body   json.RawMessage `json:"-"`
}

// Decode unmarshals the server response into v. It is a no-op for queued results.
func (r *Result) Decode(v any) error {
	if r.Offline || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Config configures a Gateway.
type Config struct {
	// Bypass lists endpoint prefixes that are never queued, such as /auth/.
	Bypass []string

	Logger *log.Logger

	// Debugf receives one line per routing decision (optional).
	Debugf func(format string, args ...any)

	Now func() time.Time
}

// DefaultConfig bypasses the authentication endpoints.
func DefaultConfig() Config {
	return Config{
		Bypass: []string{"/auth/"},
		Logger: log.New(os.Stderr, "[gateway] ", log.LstdFlags),
		Now:    time.Now,
	}
}

// Gateway routes API calls between the network and the pending queue.
type Gateway struct {
	client   Doer
	monitor  Connectivity
	queue    *queue.Queue
	notifier notify.Notifier
	config   Config
}

// New creates a gateway. A nil notifier discards events.
func New(client Doer, monitor Connectivity, q *queue.Queue, notifier notify.Notifier, config Config) *Gateway {
	def := DefaultConfig()
	if config.Bypass == nil {
		config.Bypass = def.Bypass
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.Now == nil {
		config.Now = def.Now
	}
	if config.Debugf == nil {
		config.Debugf = func(string, ...any) {}
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Gateway{
		client:   client,
		monitor:  monitor,
		queue:    q,
		notifier: notifier,
		config:   config,
	}
}

// Queueable reports whether a call could be deferred to the pending queue.
func (g *Gateway) Queueable(method schema.Method, endpoint string) bool {
	if !method.IsMutating() {
		return false
	}
	for _, prefix := range g.config.Bypass {
		if strings.HasPrefix(endpoint, prefix) {
			return false
		}
	}
	return true
}

// Execute performs an API call.
//
// payload may be nil, a json.RawMessage, or any JSON-marshalable value.
// Network failures of queueable writes are absorbed into the queue and
// reported as an optimistic Result; every other failure is returned.
func (g *Gateway) Execute(ctx context.Context, method schema.Method, endpoint string, payload any) (*Result, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s: %w", method, endpoint, err)
	}

	queueable := g.Queueable(method, endpoint)

	if queueable && !g.monitor.Online() {
		g.config.Debugf("%s %s while offline, queueing", method, endpoint)
		return g.enqueue(ctx, method, endpoint, body)
	}
	g.config.Debugf("%s %s", method, endpoint)

	resp, err := g.client.Do(ctx, api.Request{
		Method:   string(method),
		Endpoint: endpoint,
		Body:     body,
	})
	if err != nil {
		if queueable && api.IsNetworkError(err) {
			g.config.Logger.Printf("%s %s failed, queueing for later: %v", method, endpoint, err)
			return g.enqueue(ctx, method, endpoint, body)
		}
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			g.notifier.Toast(notify.LevelError, apiErr.Message)
		}
		return nil, err
	}

	return &Result{Success: true, Status: resp.Status, Body: resp.Body}, nil
}

// Replay executes a queued operation directly. It never queues, whatever the
// outcome; the operation id is sent as the idempotency key.
func (g *Gateway) Replay(ctx context.Context, op schema.Operation) (*Result, error) {
	g.config.Debugf("replaying %s (%s, attempt %d)", op, op.ID, op.Attempts+1)
	resp, err := g.client.Do(ctx, api.Request{
		Method:         string(op.Method),
		Endpoint:       op.Endpoint,
		Body:           op.Payload,
		IdempotencyKey: op.ID,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Status: resp.Status, Body: resp.Body}, nil
}

func (g *Gateway) enqueue(ctx context.Context, method schema.Method, endpoint string, body json.RawMessage) (*Result, error) {
	op, err := schema.NewOperation(method, endpoint, body, g.config.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to queue %s %s: %w", method, endpoint, err)
	}

	n, err := g.queue.Enqueue(ctx, op)
	switch {
	case errors.Is(err, queue.ErrNotPersisted):
		// Still queued in memory; the next successful persist writes it.
		g.config.Logger.Printf("%s queued without persisting: %v", op, err)
	case errors.Is(err, queue.ErrQueueFull):
		g.notifier.Toast(notify.LevelError, notify.MsgQueueFull)
		return nil, err
	case err != nil:
		return nil, err
	}

	g.config.Debugf("%s captured as %s (%d pending)", op, op.ID, n)
	g.notifier.PendingChanged(n)
	g.notifier.Toast(notify.LevelInfo, notify.MsgSavedLocally)
	return &Result{Success: true, Offline: true, Operation: &op}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}
