package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/observability"
)

// Type names a notification on the event surface
type Type string

const (
	PartialResult Type = "onPartialResult"
	Result        Type = "onResult"
	FinalResult   Type = "onFinalResult"
	Timeout       Type = "onTimeout"
	Error         Type = "onError"
)

// Event is one notification. Text carries the transcript or error message.
type Event struct {
	Type      Type      `json:"event"`
	Text      string    `json:"text"`
	SessionID string    `json:"sessionId,omitempty"`
	Time      time.Time `json:"time"`
}

// Subscription receives events until it is cancelled or the bus closes.
// Partial results are dropped when C is full; every other type waits in an
// overflow queue so finals and terminal events always arrive, in order.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	types map[Type]struct{}
	ctx   context.Context
	stop  context.CancelFunc

	mu       sync.Mutex
	overflow []Event
	accepted uint64
	closing  bool
	wake     chan struct{}
}

// Done is closed when the subscription ends
func (s *Subscription) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Accepted counts the events taken for delivery on C so far. A reader that
// has received fewer events than this has more on the way.
func (s *Subscription) Accepted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *Subscription) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// offer never blocks. It reports false when e was dropped.
func (s *Subscription) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.overflow) == 0 {
		select {
		case s.ch <- e:
			s.accepted++
			return true
		default:
		}
	}
	if e.Type == PartialResult {
		return false
	}
	s.overflow = append(s.overflow, e)
	s.accepted++
	s.signal()
	return true
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Bus fans events out to subscribers without ever blocking the publisher
type Bus struct {
	mu         sync.RWMutex
	subs       map[*Subscription]struct{}
	bufferSize int
	closed     bool
	logger     zerolog.Logger
}

// NewBus creates a bus whose subscribers each buffer bufferSize events
func NewBus(bufferSize int, logger zerolog.Logger) *Bus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Bus{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a subscriber for the given types, or every type when
// none are given. The returned func unsubscribes; so does cancelling ctx.
func (b *Bus) Subscribe(ctx context.Context, types ...Type) (*Subscription, func()) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{
		C:     ch,
		ch:    ch,
		types: make(map[Type]struct{}, len(types)),
		ctx:   ctx,
		stop:  cancel,
		wake:  make(chan struct{}, 1),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		close(ch)
		return sub, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go b.pump(sub)

	return sub, cancel
}

// pump moves overflowed events onto C and owns closing it
func (b *Bus) pump(sub *Subscription) {
	defer close(sub.ch)
	defer sub.stop()

	for {
		sub.mu.Lock()
		pending := len(sub.overflow) > 0
		var next Event
		if pending {
			next = sub.overflow[0]
		}
		closing := sub.closing
		sub.mu.Unlock()

		if !pending {
			if closing {
				return
			}
			select {
			case <-sub.wake:
				continue
			case <-sub.ctx.Done():
				b.unsubscribe(sub)
				return
			}
		}

		// Pop only after the send so offer keeps queueing behind next
		select {
		case sub.ch <- next:
			sub.mu.Lock()
			sub.overflow[0] = Event{}
			sub.overflow = sub.overflow[1:]
			sub.mu.Unlock()
		case <-sub.ctx.Done():
			b.unsubscribe(sub)
			return
		}
	}
}

// unsubscribe stops publishers from reaching sub. Only the pump calls it,
// and closes C afterwards.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// HasSubscribers reports whether at least one subscription is active
func (b *Bus) HasSubscribers() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs) > 0
}

// Publish delivers e to every interested subscriber. It returns false when no
// subscriber took the event.
func (b *Bus) Publish(e Event) bool {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false
	}

	delivered := false
	for sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		if sub.offer(e) {
			delivered = true
			observability.RecordEvent(string(e.Type))
			continue
		}
		observability.RecordEventDropped(string(e.Type))
		b.logger.Warn().
			Str("event", string(e.Type)).
			Str("session_id", e.SessionID).
			Msg("Subscriber buffer full, dropping partial result")
	}
	return delivered
}

// Close ends every subscription once its queued events are delivered. Later
// publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for sub := range b.subs {
		sub.mu.Lock()
		sub.closing = true
		sub.mu.Unlock()
		sub.signal()
	}
	b.subs = nil
}
