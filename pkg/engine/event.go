package engine

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

// EventKind identifies what happened in a session.
type EventKind string

const (
	EventTurnStart EventKind = "turn_start" // Data: nil.
	EventTurnEnd   EventKind = "turn_end"   // Data: usage.TokenCount of the turn.
	EventError     EventKind = "error"      // Data: error of the failed turn.
	EventReset     EventKind = "reset"      // Data: nil.
	EventSaved     EventKind = "saved"      // Data: conversation ID.
)

// Event is a notification of session activity.
type Event struct {
	Kind      EventKind
	SessionID string
	Provider  string
	Timestamp time.Time
	Data      any
}

// Usage returns the turn usage carried by an EventTurnEnd event.
func (e Event) Usage() (usage.TokenCount, bool) {
	tc, ok := e.Data.(usage.TokenCount)
	return tc, ok && e.Kind == EventTurnEnd
}

// Err returns the error carried by an EventError event, or nil.
func (e Event) Err() error {
	if e.Kind != EventError {
		return nil
	}
	err, _ := e.Data.(error)
	return err
}

// Subscription receives events from an EventBus on C until it is
// unsubscribed, at which point C is closed.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	kinds   []EventKind
	dropped atomic.Int64
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) wants(k EventKind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

// EventBus delivers session events to subscribers without ever blocking the
// publisher: a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu   sync.RWMutex
	subs []*Subscription
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a subscriber with a buffer of bufSize events. When
// kinds are given only those kinds are delivered.
func (b *EventBus) Subscribe(bufSize int, kinds ...EventKind) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch, kinds: slices.Clone(kinds)}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes sub and closes its channel. Removing a subscription
// twice is a no-op.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.subs, sub)
	if i < 0 {
		return
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	close(sub.ch)
}

// Publish delivers e to every interested subscriber.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}
