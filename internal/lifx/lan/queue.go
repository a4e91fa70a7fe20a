package lan

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
)

// writeQueue is a bounded FIFO with one consumer. Messages taken by the
// consumer count as in flight until done or requeue is called, so an empty
// queue is not reported while a write is still pending.
type writeQueue struct {
	mu       sync.Mutex
	items    []*protocol.Message
	capacity int
	inflight int

	added   chan struct{}
	removed chan struct{}
}

func newWriteQueue(capacity int) *writeQueue {
	return &writeQueue{
		capacity: capacity,
		added:    make(chan struct{}, 1),
		removed:  make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// push appends msg, blocking while the queue is full.
func (q *writeQueue) push(ctx context.Context, done <-chan struct{}, msg *protocol.Message) error {
	for {
		q.mu.Lock()
		if len(q.items) < q.capacity {
			q.items = append(q.items, msg)
			spare := len(q.items) < q.capacity
			q.mu.Unlock()
			signal(q.added)
			if spare {
				// Pass the wake-up on to any other blocked producer.
				signal(q.removed)
			}
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.removed:
		case <-done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// requeue puts a failed message back at the tail, ignoring capacity so the
// consumer can never block on itself.
func (q *writeQueue) requeue(msg *protocol.Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.inflight--
	q.mu.Unlock()
	signal(q.added)
}

// pop takes the head, blocking until one is available or done closes.
func (q *writeQueue) pop(done <-chan struct{}) (*protocol.Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.inflight++
			q.mu.Unlock()
			signal(q.removed)
			return msg, true
		}
		q.mu.Unlock()

		select {
		case <-q.added:
		case <-done:
			return nil, false
		}
	}
}

// finish marks the in-flight message as written.
func (q *writeQueue) finish() {
	q.mu.Lock()
	q.inflight--
	q.mu.Unlock()
}

// idle reports whether nothing is queued or in flight.
func (q *writeQueue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.inflight == 0
}

// size returns the number of queued messages, excluding in-flight ones.
func (q *writeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
