package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidEvent is returned when a queued event cannot be used.
var ErrInvalidEvent = errors.New("invalid notify event")

// NotifyEvent wakes the listener for one wait instance. It is a liveness
// hint: the listener re-derives completion from the store and never trusts
// CorrelationIDs as the full picture.
type NotifyEvent struct {
	WaitInstanceID string   `json:"wait_instance_id"`
	CorrelationIDs []string `json:"correlation_ids"`
	Error          bool     `json:"is_error"`
}

// Validate checks the event targets a wait instance.
func (e *NotifyEvent) Validate() error {
	if e.WaitInstanceID == "" {
		return fmt.Errorf("%w: wait_instance_id is required", ErrInvalidEvent)
	}
	return nil
}

// Marshal encodes the event for the queue.
func (e *NotifyEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalNotifyEvent decodes and validates a queued event.
func UnmarshalNotifyEvent(data []byte) (*NotifyEvent, error) {
	var event NotifyEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}
