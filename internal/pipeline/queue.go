package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"slitscan/internal/capture"
)

// DefaultQueueSize is the default FrameQueue capacity.
const DefaultQueueSize = 100

// ErrQueueClosed is returned by Push once the end of stream has been queued.
var ErrQueueClosed = errors.New("frame queue closed")

// Item is a FrameQueue element: either a FrameItem or EndOfStream.
type Item interface {
	isItem()
}

// FrameItem carries one accepted frame and its 1-based sequence number.
type FrameItem struct {
	Seq   int
	Frame capture.Frame
}

// EndOfStream marks the end of a run. It is always the last item.
type EndOfStream struct{}

func (FrameItem) isItem()   {}
func (EndOfStream) isItem() {}

// FrameQueue is a bounded FIFO between one producer and one consumer.
type FrameQueue struct {
	ch chan FrameItem

	mu    sync.RWMutex
	ended bool

	pushed  atomic.Int64
	blocked atomic.Int64
}

// NewFrameQueue creates a queue holding at most capacity items.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &FrameQueue{ch: make(chan FrameItem, capacity)}
}

// Push enqueues item, blocking while the queue is full. It returns ctx.Err()
// if ctx is cancelled first, in which case item was not enqueued.
func (q *FrameQueue) Push(ctx context.Context, item FrameItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.ended {
		return ErrQueueClosed
	}

	select {
	case q.ch <- item:
		q.pushed.Add(1)
		return nil
	default:
	}

	q.blocked.Add(1)
	select {
	case q.ch <- item:
		q.pushed.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushEnd queues the EndOfStream sentinel behind every frame already
// pushed. It never blocks on a full queue. Only the first call has an
// effect; it reports whether this call queued the sentinel.
func (q *FrameQueue) PushEnd() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return false
	}
	q.ended = true
	// The sentinel is the closed channel: receivers drain the buffered
	// frames first, then observe it on every further receive.
	close(q.ch)
	return true
}

// Pop dequeues the next item, blocking while the queue is empty. After the
// last frame it returns EndOfStream, and keeps returning it.
func (q *FrameQueue) Pop() Item {
	frame, ok := <-q.ch
	if !ok {
		return EndOfStream{}
	}
	return frame
}

// Ended reports whether the sentinel has been queued.
func (q *FrameQueue) Ended() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.ended
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int { return cap(q.ch) }

// Pushed returns the number of frames enqueued so far.
func (q *FrameQueue) Pushed() int64 { return q.pushed.Load() }

// Blocked returns how many pushes found the queue full.
func (q *FrameQueue) Blocked() int64 { return q.blocked.Load() }

// Drain closes every frame still queued and returns how many it discarded.
func (q *FrameQueue) Drain() int {
	n := 0
	for {
		select {
		case item, ok := <-q.ch:
			if !ok {
				return n
			}
			item.Frame.Close()
			n++
		default:
			return n
		}
	}
}
