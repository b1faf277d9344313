package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// ResponseStatus tracks whether a response was folded into a fired callback.
type ResponseStatus string

const (
	// ResponseStatusPending indicates no callback has consumed the response yet.
	ResponseStatusPending ResponseStatus = "pending"
	// ResponseStatusSuccess indicates at least one callback consumed the response.
	ResponseStatusSuccess ResponseStatus = "success"
)

// Errors returned for response operations.
var (
	ErrResponseExists   = errors.New("response already recorded for correlation id")
	ErrResponseNotFound = errors.New("response not found")
)

// IsValid returns true if the status is a known value.
func (s ResponseStatus) IsValid() bool {
	return s == ResponseStatusPending || s == ResponseStatusSuccess
}

// NotifyResponse is the persisted completion of one correlation id.
type NotifyResponse struct {
	// CorrelationID is the primary key: one response per id.
	CorrelationID string `json:"correlation_id"`

	// Payload is the opaque response body.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Error is set when the completion was reported through NotifyError.
	Error bool `json:"error"`

	Status    ResponseStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewNotifyResponse creates a pending response.
func NewNotifyResponse(correlationID string, payload json.RawMessage, isError bool) *NotifyResponse {
	now := time.Now().UTC()
	return &NotifyResponse{
		CorrelationID: correlationID,
		Payload:       payload,
		Error:         isError,
		Status:        ResponseStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy of the response.
func (r *NotifyResponse) Clone() *NotifyResponse {
	c := *r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &c
}

// ResponseData is what a callback sees for one correlation id.
type ResponseData struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   bool            `json:"error"`
}

// Responses maps correlation ids to their response data.
type Responses map[string]ResponseData

// HasError returns true if any response was reported as an error.
func (r Responses) HasError() bool {
	for _, data := range r {
		if data.Error {
			return true
		}
	}
	return false
}

// ResponseFilter selects notify responses for paging queries.
type ResponseFilter struct {
	// Status restricts to one status when set.
	Status ResponseStatus

	// CreatedBefore restricts to responses created strictly earlier when non-zero.
	CreatedBefore time.Time

	// After resumes a page after this key when set.
	After *ResponseKey

	// Limit bounds the number of ids returned. Zero means no limit.
	Limit int
}

// ResponseKey is the paging order of notify responses.
type ResponseKey struct {
	CorrelationID string
	CreatedAt     time.Time
}

// Key returns the paging key of the response.
func (r *NotifyResponse) Key() ResponseKey {
	return ResponseKey{CorrelationID: r.CorrelationID, CreatedAt: r.CreatedAt}
}

// Less orders keys by creation time, then correlation id.
func (k ResponseKey) Less(other ResponseKey) bool {
	if k.CreatedAt.Equal(other.CreatedAt) {
		return k.CorrelationID < other.CorrelationID
	}
	return k.CreatedAt.Before(other.CreatedAt)
}

// Matches reports whether a response passes the filter, ignoring Limit.
func (f ResponseFilter) Matches(r *NotifyResponse) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.CreatedBefore.IsZero() && !r.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if f.After != nil && !f.After.Less(r.Key()) {
		return false
	}
	return true
}
