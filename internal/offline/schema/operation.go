package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Method is an HTTP method understood by the request gateway.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// ParseMethod normalizes a method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return m, nil
	}
	return "", fmt.Errorf("unsupported method: %q", s)
}

// IsMutating reports whether calls with this method change server state and
// may therefore be queued while offline.
func (m Method) IsMutating() bool {
	switch m {
	case MethodPost, MethodPut, MethodDelete:
		return true
	}
	return false
}

// Operation is a mutating API call captured while the server was unreachable.
//
// Method is restricted to POST, PUT and DELETE; decoding any other value
// fails, so a persisted queue can only ever hold replayable writes.
type Operation struct {
	ID         string          `json:"id"`
	Method     Method          `json:"method"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`

	// Retry bookkeeping, only advanced by the requeue replay policy.
	Attempts      int       `json:"attempts,omitempty"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitzero"`
	LastError     string    `json:"lastError,omitempty"`
}

// NewOperation builds a queued operation for a mutating call.
// payload may be nil, a json.RawMessage, or any JSON-marshalable value.
func NewOperation(method Method, endpoint string, payload any, now time.Time) (Operation, error) {
	op := Operation{
		ID:         uuid.New().String(),
		Method:     method,
		Endpoint:   endpoint,
		EnqueuedAt: now,
	}

	if payload != nil {
		switch p := payload.(type) {
		case json.RawMessage:
			op.Payload = p
		case []byte:
			op.Payload = json.RawMessage(p)
		default:
			data, err := json.Marshal(payload)
			if err != nil {
				return Operation{}, fmt.Errorf("failed to marshal payload for %s %s: %w", method, endpoint, err)
			}
			op.Payload = data
		}
		if string(op.Payload) == "null" {
			op.Payload = nil
		}
	}

	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Validate checks the fixed schema of a queued operation.
func (o *Operation) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !o.Method.IsMutating() {
		return fmt.Errorf("method %q cannot be queued (must be POST, PUT or DELETE)", o.Method)
	}
	if !strings.HasPrefix(o.Endpoint, "/") {
		return fmt.Errorf("endpoint must start with '/' (got %q)", o.Endpoint)
	}
	if len(o.Payload) > 0 && !json.Valid(o.Payload) {
		return fmt.Errorf("payload for %s %s is not valid JSON", o.Method, o.Endpoint)
	}
	if o.EnqueuedAt.IsZero() {
		return fmt.Errorf("enqueuedAt is required")
	}
	return nil
}

// UnmarshalJSON decodes an operation and rejects entries outside the schema.
func (o *Operation) UnmarshalJSON(data []byte) error {
	type plain Operation
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	op := Operation(p)
	if err := op.Validate(); err != nil {
		return fmt.Errorf("invalid queued operation: %w", err)
	}
	*o = op
	return nil
}

// Ready reports whether the operation may be replayed at now.
func (o *Operation) Ready(now time.Time) bool {
	return o.NextAttemptAt.IsZero() || !o.NextAttemptAt.After(now)
}

// String returns "METHOD /endpoint".
func (o Operation) String() string {
	return fmt.Sprintf("%s %s", o.Method, o.Endpoint)
}
