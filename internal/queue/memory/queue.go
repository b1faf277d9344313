// Package memory provides an in-memory implementation of the queue interfaces.
// This is useful for testing and single-node deployments without a broker.
package memory

import (
	"context"
	"strconv"
	"sync"

	"waitnotify-go/internal/queue"
)

// DefaultMaxAttempts is how many times a message is handed to the handler
// before it is dropped.
const DefaultMaxAttempts = 3

// Queue is an in-memory implementation of both Producer and Consumer interfaces.
// Messages are stored in a channel, allowing for simple pub/sub within a process.
// When the channel is full, messages spill into an overflow list that the
// consumer drains in order, so a handler may publish into its own queue.
// A message whose handler fails is put back once per remaining attempt.
// This implementation is safe for concurrent use.
type Queue struct {
	messages    chan *queue.Message
	spilled     chan struct{}
	done        chan struct{}
	maxAttempts int
	closeOnce   sync.Once
	wg          sync.WaitGroup

	mu       sync.Mutex
	overflow []*queue.Message
}

// NewQueue creates a new in-memory queue with the specified buffer size.
// The buffer size bounds the channel; messages beyond it wait in overflow.
func NewQueue(bufferSize int) *Queue {
	return &Queue{
		messages:    make(chan *queue.Message, bufferSize),
		spilled:     make(chan struct{}, 1),
		done:        make(chan struct{}),
		maxAttempts: DefaultMaxAttempts,
	}
}

// WithMaxAttempts sets the delivery attempts per message. Values below one
// are ignored.
func (q *Queue) WithMaxAttempts(n int) *Queue {
	if n > 0 {
		q.maxAttempts = n
	}
	return q
}

// Publish sends a message to the in-memory queue. It never blocks.
func (q *Queue) Publish(ctx context.Context, msg *queue.Message) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.enqueue(msg)
	return nil
}

// enqueue sends to the channel, or appends to overflow when the channel is
// full or earlier messages are already waiting there.
func (q *Queue) enqueue(msg *queue.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.overflow) == 0 {
		select {
		case q.messages <- msg:
			return
		default:
		}
	}

	q.overflow = append(q.overflow, msg)
	select {
	case q.spilled <- struct{}{}:
	default:
	}
}

// refill moves overflow into the channel while it has room.
func (q *Queue) refill() {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
fill:
	for ; n < len(q.overflow); n++ {
		select {
		case q.messages <- q.overflow[n]:
		default:
			break fill
		}
	}
	clear(q.overflow[:n])
	q.overflow = q.overflow[n:]
}

// Start begins consuming messages and calls the handler for each one.
// This blocks until the context is canceled or the queue is closed.
func (q *Queue) Start(ctx context.Context, handler queue.MessageHandler) error {
	q.wg.Add(1)
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return nil
		case <-q.spilled:
			q.refill()
		case msg := <-q.messages:
			if err := handler(ctx, msg); err != nil {
				q.redeliver(msg)
			}
			q.refill()
		}
	}
}

// redeliver puts a failed message back unless it has used all attempts.
func (q *Queue) redeliver(msg *queue.Message) {
	attempt := msg.Attempt()
	if attempt >= q.maxAttempts {
		return
	}

	retry := msg.Clone()
	retry.Headers[queue.HeaderAttempt] = strconv.Itoa(attempt + 1)
	q.enqueue(retry)
}

// Close shuts down the queue, stopping all consumers.
// Messages still buffered are discarded.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
	return nil
}

// Len returns the current number of messages in the queue, overflow included.
// Useful for testing to verify queue state.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages) + len(q.overflow)
}
