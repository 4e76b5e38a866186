package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestBus_SubscribeThenPublish(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	bus.Publish("s1", New(EventPipelineStarted, "s1"))
	bus.Publish("s1", NewAgentStarted("s1", "topic_finder"))

	got := drain(ch)
	require.Len(t, got, 2)
	assert.Equal(t, EventPipelineStarted, got[0].Type)
	assert.Equal(t, EventAgentStarted, got[1].Type)
	assert.Equal(t, "topic_finder", got[1].AgentName)
}

func TestBus_LateSubscriberReplaysRing(t *testing.T) {
	bus := NewBus()

	bus.Publish("s1", New(EventRoutingStarted, "s1"))
	bus.Publish("s1", NewRoutingCompleted("s1", "NOVEL_CLAIM", 120*time.Millisecond))

	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	got := drain(ch)
	require.Len(t, got, 2)
	assert.Equal(t, EventRoutingStarted, got[0].Type)
	assert.Equal(t, EventRoutingCompleted, got[1].Type)
	assert.Equal(t, int64(120), got[1].ElapsedMs)
}

func TestBus_RingDropsOldestWhenFull(t *testing.T) {
	bus := NewBus()

	for i := 0; i < ringSize+10; i++ {
		bus.Publish("s1", NewAgentStarted("s1", "writer"))
	}

	ch, cancel := bus.Subscribe("s1")
	defer cancel()
	got := drain(ch)
	assert.Len(t, got, ringSize)
}

func TestBus_SessionsAreIsolated(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe("s1")
	defer cancel1()
	ch2, cancel2 := bus.Subscribe("s2")
	defer cancel2()

	bus.Publish("s1", New(EventPipelineStarted, "s1"))

	assert.Len(t, drain(ch1), 1)
	assert.Empty(t, drain(ch2))
}

func TestBus_CancelDetaches(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("s1")
	cancel()
	cancel() // safe to call twice

	_, open := <-ch
	assert.False(t, open)

	// Publishes after cancel go back to the ring for the next subscriber.
	bus.Publish("s1", New(EventPipelineStarted, "s1"))
	ch2, cancel2 := bus.Subscribe("s1")
	defer cancel2()
	assert.Len(t, drain(ch2), 1)
}

func TestBus_CloseSessionDropsFurtherEvents(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe("s1")
	bus.CloseSession("s1")

	_, open := <-ch
	assert.False(t, open)

	bus.Publish("s1", New(EventPipelineStarted, "s1"))
	// The publish above hit a closed session and was dropped, so a new
	// subscriber for the same id has nothing to replay.
	ch2, cancel2 := bus.Subscribe("s1")
	defer cancel2()
	got := drain(ch2)
	assert.LessOrEqual(t, len(got), 1)
}

func TestBus_ReplacingSubscriberClosesPrevious(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe("s1")
	ch2, cancel2 := bus.Subscribe("s1")
	defer cancel2()

	_, open := <-ch1
	assert.False(t, open)
	cancel1() // must not panic or close ch2

	bus.Publish("s1", New(EventPipelineStarted, "s1"))
	assert.Len(t, drain(ch2), 1)
}
