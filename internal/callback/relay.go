package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"waitnotify-go/internal/domain"
)

// RelayName is the registry name of the relay callback.
const RelayName = "relay"

// Notifier records a response for a correlation id. The engine satisfies it.
type Notifier interface {
	Notify(ctx context.Context, correlationID string, payload json.RawMessage) (string, error)
	NotifyError(ctx context.Context, correlationID string, payload json.RawMessage) (string, error)
}

// RelayArgs are the arguments of the relay callback.
type RelayArgs struct {
	// CorrelationID is the id the joined result is reported under.
	CorrelationID string `json:"correlation_id"`
}

// RelayCallback forwards the joined responses as a single response on
// another correlation id, so a join can itself be awaited by an outer join.
type RelayCallback struct {
	notifier      Notifier
	correlationID string
}

// NewRelayFactory returns a Factory for the relay callback.
func NewRelayFactory(notifier Notifier) Factory {
	return func(raw json.RawMessage) (Callback, error) {
		var args RelayArgs
		if len(raw) == 0 {
			return nil, errors.New("relay callback requires args")
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid relay callback args: %w", err)
		}
		if args.CorrelationID == "" {
			return nil, domain.ErrEmptyCorrelationID
		}
		return &RelayCallback{notifier: notifier, correlationID: args.CorrelationID}, nil
	}
}

// OnComplete reports the joined responses as a success.
func (c *RelayCallback) OnComplete(ctx context.Context, responses domain.Responses) error {
	return c.forward(ctx, responses, c.notifier.Notify)
}

// OnError reports the joined responses as an error.
func (c *RelayCallback) OnError(ctx context.Context, responses domain.Responses) error {
	return c.forward(ctx, responses, c.notifier.NotifyError)
}

type notifyFunc func(ctx context.Context, correlationID string, payload json.RawMessage) (string, error)

func (c *RelayCallback) forward(ctx context.Context, responses domain.Responses, notify notifyFunc) error {
	payload, err := json.Marshal(responses)
	if err != nil {
		return fmt.Errorf("failed to encode relayed responses: %w", err)
	}

	// A redelivered callback finds its earlier relay already recorded.
	if _, err := notify(ctx, c.correlationID, payload); err != nil && !errors.Is(err, domain.ErrResponseExists) {
		return fmt.Errorf("failed to relay to %q: %w", c.correlationID, err)
	}
	return nil
}
