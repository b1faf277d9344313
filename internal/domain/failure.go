package domain

import "time"

// CallbackFailure is the diagnostic record kept when a callback returns an
// error or panics. The wait instance is still moved to the error status.
type CallbackFailure struct {
	ID             string    `json:"id"`
	WaitInstanceID string    `json:"wait_instance_id"`
	Callback       string    `json:"callback"`
	Error          string    `json:"error"`
	Stack          string    `json:"stack,omitempty"`
	Responses      Responses `json:"responses"`
	CreatedAt      time.Time `json:"created_at"`
}
