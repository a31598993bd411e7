package session

import (
	"sync"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
)

// DefaultQueueCapacity bounds the outbound queue per session (spec.md §5
// "a bounded per-session queue").
const DefaultQueueCapacity = 256

type queuedFrame struct {
	data     []byte
	priority protocol.Priority
}

// OutboundQueue is the bounded per-session send queue. On overflow,
// droppable (volatile, low and normal) frames are dropped oldest-first; if
// the queue still overflows with only order-preserving (critical) frames
// pending, Enqueue reports that the session must be closed with
// SlowConsumer (spec.md §4.7, §7).
type OutboundQueue struct {
	mu       sync.Mutex
	capacity int
	frames   []queuedFrame
}

// NewOutboundQueue builds a queue with the given capacity.
func NewOutboundQueue(capacity int) *OutboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &OutboundQueue{capacity: capacity}
}

// Enqueue appends a frame, applying the overflow policy: while over
// capacity, the oldest droppable frame is removed, which may be the frame
// just submitted when no older one is droppable. slowConsumer is true when
// only critical frames remain and the queue is still over capacity; the
// session must then close.
func (q *OutboundQueue) Enqueue(data []byte, priority protocol.Priority) (slowConsumer bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.frames = append(q.frames, queuedFrame{data: data, priority: priority})
	for len(q.frames) > q.capacity {
		idx := q.firstDroppableLocked()
		if idx < 0 {
			// Nothing droppable remains; queue is all critical and still
			// over capacity.
			return true
		}
		q.frames = append(q.frames[:idx], q.frames[idx+1:]...)
	}
	return false
}

func (q *OutboundQueue) firstDroppableLocked() int {
	for i, f := range q.frames {
		if f.priority.Droppable() {
			return i
		}
	}
	return -1
}

// Drain removes and returns every pending frame, in order.
func (q *OutboundQueue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.frames))
	for i, f := range q.frames {
		out[i] = f.data
	}
	q.frames = nil
	return out
}

// Len reports the number of pending frames.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
