package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/config"
	"github.com/EckmanTechLLC/thereceipts/pkg/events"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// stubAgent records execution and merges a fixed output into the state.
type stubAgent struct {
	name    string
	outputs agent.State
	err     error
	delay   time.Duration
	ran     *[]string
}

func (a stubAgent) Name() string { return a.name }

func (a stubAgent) Execute(ctx context.Context, _ *agent.ExecutionContext, state agent.State) (agent.State, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	*a.ran = append(*a.ran, a.name)
	if a.err != nil {
		return nil, a.err
	}
	next := state.Clone()
	for k, v := range a.outputs {
		next[k] = v
	}
	return next, nil
}

func execCtx(bus events.Publisher) *agent.ExecutionContext {
	return &agent.ExecutionContext{SessionID: "session-1", Publisher: bus}
}

func testCard() *models.ClaimCard {
	return &models.ClaimCard{
		ID: "card-1", ClaimText: "c", Verdict: models.VerdictTrue,
		ShortAnswer: "This claim is true.", ConfidenceLevel: models.ConfidenceHigh,
	}
}

func TestRun_SequentialStateAggregation(t *testing.T) {
	var ran []string
	agents := []agent.Agent{
		stubAgent{name: "first", outputs: agent.State{"a": 1}, ran: &ran},
		stubAgent{name: "second", outputs: agent.State{"b": 2}, ran: &ran},
		stubAgent{name: "third", outputs: agent.State{agent.KeyClaimCard: testCard()}, ran: &ran},
	}
	o := NewWithAgents(config.DefaultTimeouts(), agents)

	card, err := o.Run(context.Background(), execCtx(nil), "question")
	require.NoError(t, err)
	assert.Equal(t, "card-1", card.ID)
	assert.Equal(t, []string{"first", "second", "third"}, ran)
}

func TestRun_FailFastStopsChain(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe("session-1")
	defer cancel()

	var ran []string
	agents := []agent.Agent{
		stubAgent{name: "first", outputs: agent.State{}, ran: &ran},
		stubAgent{name: "second", err: errors.New("llm exploded"), ran: &ran},
		stubAgent{name: "third", outputs: agent.State{agent.KeyClaimCard: testCard()}, ran: &ran},
	}
	o := NewWithAgents(config.DefaultTimeouts(), agents)

	_, err := o.Run(context.Background(), execCtx(bus), "q")
	require.Error(t, err)
	assert.Equal(t, []string{"first", "second"}, ran, "third stage must not run")

	var types []string
	for _, e := range drain(ch) {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, events.EventPipelineStarted)
	assert.Contains(t, types, events.EventPipelineFailed)
	assert.NotContains(t, types, events.EventPipelineCompleted)
}

func TestRun_EventsInPipelineOrder(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe("session-1")
	defer cancel()

	var ran []string
	agents := []agent.Agent{
		stubAgent{name: "only", outputs: agent.State{agent.KeyClaimCard: testCard()}, ran: &ran},
	}
	o := NewWithAgents(config.DefaultTimeouts(), agents)

	_, err := o.Run(context.Background(), execCtx(bus), "q")
	require.NoError(t, err)

	got := drain(ch)
	require.Len(t, got, 2)
	assert.Equal(t, events.EventPipelineStarted, got[0].Type)
	assert.Equal(t, events.EventPipelineCompleted, got[1].Type)
	assert.GreaterOrEqual(t, got[1].ElapsedMs, int64(0))
}

func TestRun_CancellationAtStageBoundary(t *testing.T) {
	bus := events.NewBus()
	ch, cancelSub := bus.Subscribe("session-1")
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	var ran []string
	agents := []agent.Agent{
		stubAgent{name: "first", outputs: agent.State{}, ran: &ran},
		// The second stage cancels the run context during its own execution;
		// the boundary check before "third" then fires.
		cancellingAgent{cancel: cancel, ran: &ran},
		stubAgent{name: "third", outputs: agent.State{agent.KeyClaimCard: testCard()}, ran: &ran},
	}
	o := NewWithAgents(config.DefaultTimeouts(), agents)

	_, err := o.Run(ctx, execCtx(bus), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, ran, "third")

	var sawFailed bool
	for _, e := range drain(ch) {
		if e.Type == events.EventPipelineFailed {
			sawFailed = true
			assert.Equal(t, "cancelled", e.Error)
		}
	}
	assert.True(t, sawFailed)
}

// cancellingAgent cancels the run context during its own execution.
type cancellingAgent struct {
	cancel context.CancelFunc
	ran    *[]string
}

func (a cancellingAgent) Name() string { return "canceller" }

func (a cancellingAgent) Execute(_ context.Context, _ *agent.ExecutionContext, state agent.State) (agent.State, error) {
	*a.ran = append(*a.ran, a.Name())
	a.cancel()
	return state, nil
}

func TestRun_PipelineTimeout(t *testing.T) {
	timeouts := config.Timeouts{Pipeline: 30 * time.Millisecond, Agent: time.Second}
	var ran []string
	agents := []agent.Agent{
		stubAgent{name: "slow", delay: 200 * time.Millisecond, outputs: agent.State{}, ran: &ran},
		stubAgent{name: "after", outputs: agent.State{agent.KeyClaimCard: testCard()}, ran: &ran},
	}
	o := NewWithAgents(timeouts, agents)

	_, err := o.Run(context.Background(), execCtx(nil), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, ran, "after")
}

func TestRun_MissingClaimCardIsFailure(t *testing.T) {
	var ran []string
	agents := []agent.Agent{
		stubAgent{name: "incomplete", outputs: agent.State{}, ran: &ran},
	}
	o := NewWithAgents(config.DefaultTimeouts(), agents)

	_, err := o.Run(context.Background(), execCtx(nil), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a claim card")
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestNew_BuildsFiveAgentChain(t *testing.T) {
	o := New(config.DefaultTimeouts())
	require.Len(t, o.agents, 5)
	var names []string
	for _, a := range o.agents {
		names = append(names, a.Name())
	}
	assert.Equal(t, agent.PipelineOrder, names)
	// Guard against accidental reordering.
	assert.Equal(t, fmt.Sprintf("%v", agent.PipelineOrder),
		fmt.Sprintf("%v", names))
}
