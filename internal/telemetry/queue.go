package telemetry

import (
	"sync"

	"github.com/austindbirch/harbor_pulse/internal/metrics"
)

// Queue buffers events between producers and the single publisher.
// Producers only append; the publisher only takes the whole buffer.
type Queue struct {
	mu       sync.Mutex
	events   []Event
	capacity int // 0 means unbounded
}

// QueueOption configures a Queue
type QueueOption func(*Queue)

// WithCapacity bounds the buffer. Events arriving while the buffer is full
// are dropped and counted rather than blocking the producer.
func WithCapacity(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// NewQueue creates an empty, unbounded queue unless WithCapacity is given
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends e to the tail and reports whether it was buffered. The
// lock is held only for the append and the depth gauge update.
func (q *Queue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.events) >= q.capacity {
		metrics.RecordEventDropped("queue_full")
		return false
	}
	q.events = append(q.events, e)
	metrics.UpdateQueueDepth(len(q.events))
	return true
}

// Drain takes every buffered event and leaves the queue empty.
// ok is false when nothing was buffered.
func (q *Queue) Drain() (batch []Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, false
	}
	batch = q.events
	q.events = nil
	metrics.UpdateQueueDepth(0)
	return batch, true
}

// Len reports how many events are buffered right now
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
