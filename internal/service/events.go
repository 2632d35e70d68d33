package service

import (
	"sync"
	"time"

	"booking/internal/domain"
)

// EventType identifies a UI-facing session event.
type EventType string

const (
	EventStatus                EventType = "status"
	EventTrackingActive        EventType = "tracking-active"
	EventTrackingInactive      EventType = "tracking-inactive"
	EventDistance              EventType = "distance"
	EventTimer                 EventType = "timer"
	EventRatingPromptReady     EventType = "rating-prompt-ready"
	EventPricingBreakdownReady EventType = "pricing-breakdown-ready"
	EventPaymentConfirmed      EventType = "payment-confirmed"
	EventShowMessage           EventType = "show-message"
	EventAddress               EventType = "address"
)

// Event is a side-effect callback for the UI layer. It is never persisted.
type Event struct {
	Type           EventType
	BookingID      string
	Status         domain.BookingStatus
	Distance       *domain.DistanceEstimate
	Locating       bool
	TimerText      string
	ElapsedSeconds int64
	Breakdown      *domain.PricingBreakdown
	Message        string
	At             time.Time
}

// EventSink receives session events. Emit is called from the session goroutine
// and must not block.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Emit calls f(e).
func (f EventSinkFunc) Emit(e Event) { f(e) }

// Broadcaster fans events out to any number of listeners.
// Slow listeners lose events rather than stall the session.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[int]chan Event
	nextID    int
	closed    bool
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[int]chan Event)}
}

// Emit delivers e to every listener that has room.
func (b *Broadcaster) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.listeners {
		select {
		case ch <- e:
		default:
		}
	}
}

// Listen registers a listener. The returned cancel func closes the channel.
func (b *Broadcaster) Listen(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.listeners[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.listeners[id]; ok {
				delete(b.listeners, id)
				close(c)
			}
		})
	}
}

// Close closes every listener channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.listeners {
		delete(b.listeners, id)
		close(ch)
	}
}

type multiSink []EventSink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Len returns the number of registered listeners.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
