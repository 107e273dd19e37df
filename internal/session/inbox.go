package session

import (
	"sync"
	"time"

	"github.com/chaz8081/ringtap/internal/ble"
)

type eventKind int

const (
	evFrame eventKind = iota
	evDisconnected
	evAutoStop
)

// event is an asynchronous input posted by transport callbacks and timers.
type event struct {
	kind  eventKind
	conn  ble.Connection
	data  []byte
	at    time.Time
	runID string
}

// inbox is an unbounded FIFO of events. post never blocks, so transport
// callbacks cannot stall the radio stack while the actor is busy with I/O.
type inbox struct {
	mu    sync.Mutex
	items []event
	wake  chan struct{}
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (b *inbox) post(ev event) {
	b.mu.Lock()
	b.items = append(b.items, ev)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *inbox) take() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}
