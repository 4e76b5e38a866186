package events

import (
	"log/slog"
	"sync"
)

// ringSize bounds how many events a session retains while no subscriber is
// connected. Late subscribers replay the ring; anything older is dropped.
const ringSize = 64

// subscriberBuffer is the channel capacity per subscriber. A subscriber that
// stops draining loses newer events rather than blocking publishers.
const subscriberBuffer = 256

// Bus is the in-process per-session progress bus. Each session has at most
// one subscriber; subscribing again replaces the previous subscriber.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	subscriber chan Event
	ring       []Event
	closed     bool
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{sessions: make(map[string]*sessionState)}
}

// Publish delivers an event to the session's subscriber, or stores it in the
// session ring when nobody is connected yet. Never blocks: a full subscriber
// channel drops the event with a warning.
func (b *Bus) Publish(sessionID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.sessions[sessionID]
	if !ok {
		state = &sessionState{}
		b.sessions[sessionID] = state
	}
	if state.closed {
		return
	}

	if state.subscriber == nil {
		state.ring = append(state.ring, event)
		if len(state.ring) > ringSize {
			state.ring = state.ring[len(state.ring)-ringSize:]
		}
		return
	}

	select {
	case state.subscriber <- event:
	default:
		slog.Warn("Dropping progress event for slow subscriber",
			"session_id", sessionID, "event_type", event.Type)
	}
}

// Subscribe attaches a subscriber to the session, replaying any ring-buffered
// events first. The returned cancel function detaches the subscriber and
// closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.sessions[sessionID]
	if !ok {
		state = &sessionState{}
		b.sessions[sessionID] = state
	}

	// Replace any prior subscriber.
	if state.subscriber != nil {
		close(state.subscriber)
	}

	ch := make(chan Event, subscriberBuffer)
	for _, event := range state.ring {
		ch <- event
	}
	state.ring = nil
	state.subscriber = ch
	state.closed = false

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			// Only close if this channel is still the active subscriber; a
			// replacing Subscribe or CloseSession already closed it otherwise.
			if current, ok := b.sessions[sessionID]; ok && current.subscriber == ch {
				current.subscriber = nil
				close(ch)
			}
		})
	}
	return ch, cancel
}

// CloseSession marks the session terminal, closing its subscriber and
// discarding its ring. Further publishes for the session are dropped until a
// new Subscribe reopens it.
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	if state.subscriber != nil {
		close(state.subscriber)
		state.subscriber = nil
	}
	state.closed = true
	state.ring = nil
}

var _ Publisher = (*Bus)(nil)
