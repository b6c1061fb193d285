package audio

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned when pushing to a closed queue
var ErrQueueClosed = errors.New("frame queue closed")

// FrameQueue is a bounded FIFO of PCM frames with a single consumer.
// Push never blocks: when full, the oldest frame is dropped.
type FrameQueue struct {
	mu     sync.Mutex
	frames [][]byte
	head   int
	count  int
	closed bool
	ready  chan struct{}
}

// NewFrameQueue creates a queue holding at most capacity frames
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		frames: make([][]byte, capacity),
		ready:  make(chan struct{}, 1),
	}
}

// Push appends a frame, returning how many old frames were evicted to make room
func (q *FrameQueue) Push(frame []byte) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrQueueClosed
	}

	dropped := 0
	size := len(q.frames)
	if q.count == size {
		q.frames[q.head] = nil
		q.head = (q.head + 1) % size
		q.count--
		dropped = 1
	}
	q.frames[(q.head+q.count)%size] = frame
	q.count++

	// Signal under the lock so Close cannot close ready underneath us
	select {
	case q.ready <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return dropped, nil
}

// Next blocks until a frame is available. It returns false once the queue
// is closed and empty.
func (q *FrameQueue) Next() ([]byte, bool) {
	for {
		q.mu.Lock()
		if q.count > 0 {
			frame := q.frames[q.head]
			q.frames[q.head] = nil
			q.head = (q.head + 1) % len(q.frames)
			q.count--
			q.mu.Unlock()
			return frame, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		<-q.ready
	}
}

// Close stops accepting frames. Frames already queued are still returned by
// Next unless discard is set, in which case they are dropped and counted.
func (q *FrameQueue) Close(discard bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	if discard {
		dropped = q.count
		for i := range q.frames {
			q.frames[i] = nil
		}
		q.head = 0
		q.count = 0
	}

	if !q.closed {
		q.closed = true
		close(q.ready)
	}
	return dropped
}

// Len returns the number of queued frames
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity
func (q *FrameQueue) Cap() int {
	return len(q.frames)
}

// IsClosed reports whether Close has been called
func (q *FrameQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
