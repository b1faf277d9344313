// Package events encodes notify events onto the message queue and decodes
// them on the consuming side. Messages are keyed by wait instance id so
// that one instance's events land on one partition.
package events

import (
	"context"
	"fmt"
	"time"

	"waitnotify-go/internal/domain"
	"waitnotify-go/internal/metrics"
	"waitnotify-go/internal/queue"
)

// Header names set on every published message.
const (
	HeaderWaitInstanceID = "wait_instance_id"
	HeaderSource         = "source"
)

// Source identifies who published an event.
type Source string

const (
	// SourceNotify is a publish from Notify or NotifyError.
	SourceNotify Source = "notify"
	// SourceRegister is the existing-response publish from WaitForAll.
	SourceRegister Source = "register"
	// SourceNotifier is a re-publish from the liveness sweep.
	SourceNotifier Source = "notifier"
)

// Publisher sends notify events to the queue.
type Publisher struct {
	producer queue.Producer
}

// NewPublisher creates a new publisher.
func NewPublisher(producer queue.Producer) *Publisher {
	return &Publisher{producer: producer}
}

// Publish encodes and sends one event.
func (p *Publisher) Publish(ctx context.Context, source Source, event *domain.NotifyEvent) error {
	msg, err := Encode(event)
	if err != nil {
		return err
	}
	msg.Headers[HeaderSource] = string(source)

	start := time.Now()
	if err := p.producer.Publish(ctx, msg); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(source), "failure").Inc()
		return fmt.Errorf("failed to publish notify event: %w", err)
	}
	metrics.QueuePublishLatency.Observe(time.Since(start).Seconds())
	metrics.EventsPublishedTotal.WithLabelValues(string(source), "success").Inc()

	return nil
}

// Encode turns an event into a queue message.
func Encode(event *domain.NotifyEvent) (*queue.Message, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	payload, err := event.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize notify event: %w", err)
	}

	return &queue.Message{
		Key:   []byte(event.WaitInstanceID),
		Value: payload,
		Headers: map[string]string{
			HeaderWaitInstanceID: event.WaitInstanceID,
		},
	}, nil
}

// Decode turns a queue message back into an event.
func Decode(msg *queue.Message) (*domain.NotifyEvent, error) {
	return domain.UnmarshalNotifyEvent(msg.Value)
}
