// Package domain contains the core entities of the wait/notify engine:
// wait instances, the per-correlation-id wait queue, notify responses and
// the events that wake the listener.
package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// WaitStatus represents the lifecycle state of a wait instance.
type WaitStatus string

const (
	// WaitStatusNew indicates the callback has not fired yet.
	WaitStatusNew WaitStatus = "new"
	// WaitStatusSuccess indicates the callback fired with no error responses.
	WaitStatusSuccess WaitStatus = "success"
	// WaitStatusError indicates the callback fired on the error path or failed.
	WaitStatusError WaitStatus = "error"
)

// DefaultWaitInstanceTTL is how long a wait instance is retained after creation.
const DefaultWaitInstanceTTL = 7 * 24 * time.Hour

// Errors returned for wait registration and lookups.
var (
	ErrNoCorrelationIDs     = errors.New("at least one correlation id is required")
	ErrEmptyCorrelationID   = errors.New("correlation id must not be empty")
	ErrEmptyCallbackName    = errors.New("callback name is required")
	ErrUnknownCallback      = errors.New("callback is not registered")
	ErrInvalidCallbackArgs  = errors.New("invalid callback arguments")
	ErrWaitInstanceNotFound = errors.New("wait instance not found")
)

// IsValid returns true if the status is a known value.
func (s WaitStatus) IsValid() bool {
	switch s {
	case WaitStatusNew, WaitStatusSuccess, WaitStatusError:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once the callback has fired.
func (s WaitStatus) IsTerminal() bool {
	return s == WaitStatusSuccess || s == WaitStatusError
}

// CallbackSpec names a registered callback handler and carries the
// arguments it is built from at delivery time.
type CallbackSpec struct {
	// Name is the registry key of the handler.
	Name string `json:"name"`

	// Args is an opaque JSON document handed to the handler factory.
	Args json.RawMessage `json:"args,omitempty"`
}

// Validate checks that a callback name is set.
func (c CallbackSpec) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCallbackName
	}
	return nil
}

// WaitInstance is one registered join over a fixed set of correlation ids.
type WaitInstance struct {
	// ID is the generated identifier of the join.
	ID string `json:"id"`

	// CorrelationIDs is the ordered, de-duplicated set being awaited.
	CorrelationIDs []string `json:"correlation_ids"`

	// Callback resolves to the handler invoked when every id has completed.
	Callback CallbackSpec `json:"callback"`

	// Timeout is advisory metadata for consumers. Nothing fires on it.
	Timeout time.Duration `json:"timeout"`

	// Status is new until the callback fires, then success or error.
	Status WaitStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ExpiresAt is when the store may drop the instance.
	ExpiresAt time.Time `json:"expires_at"`
}

// NewWaitInstance creates a wait instance in the new state.
func NewWaitInstance(id string, correlationIDs []string, callback CallbackSpec, timeout, ttl time.Duration) *WaitInstance {
	now := time.Now().UTC()
	if ttl <= 0 {
		ttl = DefaultWaitInstanceTTL
	}
	return &WaitInstance{
		ID:             id,
		CorrelationIDs: correlationIDs,
		Callback:       callback,
		Timeout:        timeout,
		Status:         WaitStatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// IsExpired reports whether the instance is past its retention window.
func (w *WaitInstance) IsExpired(now time.Time) bool {
	return !w.ExpiresAt.IsZero() && !now.Before(w.ExpiresAt)
}

// Clone returns a deep copy of the instance.
func (w *WaitInstance) Clone() *WaitInstance {
	c := *w
	c.CorrelationIDs = append([]string(nil), w.CorrelationIDs...)
	if w.Callback.Args != nil {
		c.Callback.Args = append(json.RawMessage(nil), w.Callback.Args...)
	}
	return &c
}

// WaitQueue records that a wait instance still waits on one correlation id.
// The row is removed once the completion has been consumed for that instance.
type WaitQueue struct {
	ID             string    `json:"id"`
	WaitInstanceID string    `json:"wait_instance_id"`
	CorrelationID  string    `json:"correlation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// NormalizeCorrelationIDs validates ids and removes duplicates, keeping the
// first occurrence order.
func NormalizeCorrelationIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, ErrNoCorrelationIDs
	}

	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return nil, ErrEmptyCorrelationID
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result, nil
}
