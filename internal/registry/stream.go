package registry

import (
	"context"
	"errors"
	"sync"

	"swap-relay/internal/domain"
	"swap-relay/internal/observability"
)

// ErrStreamClosed is returned by Next once a subscription has been
// unsubscribed, replaced or evicted.
var ErrStreamClosed = errors.New("swap stream closed")

// Stream delivers the events of one subscription generation in order.
// When the consumer falls behind, the oldest undelivered event is dropped
// so the newest artifact is always available.
type Stream struct {
	owner      string
	generation uint64
	onConsume  func()

	mu     sync.Mutex
	ch     chan domain.SwapEvent
	closed bool
	done   chan struct{}
}

func newStream(owner string, generation uint64, buffer int, onConsume func()) *Stream {
	return &Stream{
		owner:      owner,
		generation: generation,
		onConsume:  onConsume,
		ch:         make(chan domain.SwapEvent, buffer),
		done:       make(chan struct{}),
	}
}

// Owner returns the owner the stream belongs to.
func (s *Stream) Owner() string { return s.owner }

// Generation returns the subscription generation of the stream.
func (s *Stream) Generation() uint64 { return s.generation }

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Next blocks for the next event. Consuming an event counts as activity of
// the subscription.
func (s *Stream) Next(ctx context.Context) (domain.SwapEvent, error) {
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return domain.SwapEvent{}, ErrStreamClosed
		}
		if s.onConsume != nil {
			s.onConsume()
		}
		return ev, nil
	case <-ctx.Done():
		return domain.SwapEvent{}, ctx.Err()
	}
}

// publish delivers ev unless the stream is closed. It never blocks.
func (s *Stream) publish(ev domain.SwapEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- ev:
			return true
		default:
		}
		select {
		case <-s.ch:
			observability.RecordStreamDrop()
		default:
		}
	}
}

// close discards undelivered events and ends the stream. After close
// returns no event of this generation can be observed.
func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for {
		select {
		case <-s.ch:
			continue
		default:
		}
		break
	}
	close(s.ch)
	close(s.done)
}
