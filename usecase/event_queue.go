package usecase

import (
	"sync"

	"github.com/satriahrh/livescribe/domain/entities"
)

// eventQueue delivers session events in order without ever blocking the
// producer. Consumers must drain out until it is closed.
type eventQueue struct {
	mu      sync.Mutex
	pending []entities.Event
	closed  bool
	notify  chan struct{}
	out     chan entities.Event
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan entities.Event),
	}
	go q.pump()
	return q
}

func (q *eventQueue) push(event entities.Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, event)
	q.mu.Unlock()

	q.wake()
	return true
}

// close delivers what is pending and then closes out
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pump() {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			event := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()

			q.out <- event
			continue
		}
		if q.closed {
			q.mu.Unlock()
			close(q.out)
			return
		}
		q.mu.Unlock()

		<-q.notify
	}
}
