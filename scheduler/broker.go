package scheduler

import (
	"context"
	"sync"
)

type EventType string

const (
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
	EventPaused  EventType = "paused"
	EventResumed EventType = "resumed"
	// EventResync is delivered locally after a subscription may have missed
	// events. Receivers reload every schedule.
	EventResync EventType = "resync"
)

// Event tells other stores that a schedule row changed. Receivers reload the
// row instead of trusting the payload.
type Event struct {
	Type       EventType `json:"type"`
	ScheduleID string    `json:"schedule_id"`
	Origin     string    `json:"origin"`
}

type Broker interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers fn until the returned cancel func is called.
	Subscribe(ctx context.Context, fn func(Event)) (cancel func(), err error)
}

// LocalBroker fans events out to subscribers in the same process.
type LocalBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[int]func(Event))}
}

func (b *LocalBroker) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context, fn func(Event)) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}
