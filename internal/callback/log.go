package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"waitnotify-go/internal/domain"
)

// LogName is the registry name of the log callback.
const LogName = "log"

// LogArgs are the optional arguments of the log callback.
type LogArgs struct {
	// Label is attached to every log line to tell joins apart.
	Label string `json:"label,omitempty"`
}

// LogCallback writes the joined result to the structured log. It is the
// default sink for joins that only need to be observed.
type LogCallback struct {
	logger *slog.Logger
	label  string
}

// NewLogFactory returns a Factory for the log callback.
func NewLogFactory(logger *slog.Logger) Factory {
	return func(raw json.RawMessage) (Callback, error) {
		var args LogArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid log callback args: %w", err)
			}
		}
		return &LogCallback{logger: logger, label: args.Label}, nil
	}
}

// OnComplete logs a successful join.
func (c *LogCallback) OnComplete(ctx context.Context, responses domain.Responses) error {
	c.logger.Info("join completed",
		"label", c.label,
		"correlationIDs", sortedIDs(responses),
	)
	return nil
}

// OnError logs a join in which at least one response is an error.
func (c *LogCallback) OnError(ctx context.Context, responses domain.Responses) error {
	var failed []string
	for id, data := range responses {
		if data.Error {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)

	c.logger.Warn("join completed with errors",
		"label", c.label,
		"correlationIDs", sortedIDs(responses),
		"failedIDs", failed,
	)
	return nil
}

func sortedIDs(responses domain.Responses) []string {
	ids := make([]string, 0, len(responses))
	for id := range responses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
