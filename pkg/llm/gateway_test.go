package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider returns canned turns in order, recording the transcripts
// it was given.
type scriptedProvider struct {
	turns       []*ProviderResult
	errs        []error
	call        int
	transcripts [][]Message
}

func (p *scriptedProvider) Complete(_ context.Context, _ CallConfig, messages []Message, _ []ToolSpec) (*ProviderResult, error) {
	p.transcripts = append(p.transcripts, append([]Message(nil), messages...))
	idx := p.call
	p.call++
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx >= len(p.turns) {
		return nil, fmt.Errorf("provider called %d times, only %d turns scripted", idx+1, len(p.turns))
	}
	return p.turns[idx], nil
}

func testConfig() CallConfig {
	return CallConfig{Provider: "fake", Model: "test-model", MaxTokens: 1024}
}

func newTestClient(p Provider) *Client {
	return NewClient(map[string]Provider{"fake": p})
}

func TestCompleteText(t *testing.T) {
	t.Run("returns text and usage", func(t *testing.T) {
		p := &scriptedProvider{turns: []*ProviderResult{
			{Text: "hello", Usage: Usage{InputTokens: 10, OutputTokens: 2}},
		}}
		c := newTestClient(p)

		completion, err := c.CompleteText(context.Background(), testConfig(), "hi")
		require.NoError(t, err)
		assert.Equal(t, "hello", completion.Text)
		assert.Equal(t, 2, completion.Usage.OutputTokens)
	})

	t.Run("provider failure is tagged provider_error", func(t *testing.T) {
		p := &scriptedProvider{errs: []error{errors.New("quota exceeded")}}
		c := newTestClient(p)

		_, err := c.CompleteText(context.Background(), testConfig(), "hi")
		require.Error(t, err)
		assert.Equal(t, KindProviderError, ErrorKind(err))
	})

	t.Run("unknown provider", func(t *testing.T) {
		c := NewClient(nil)
		_, err := c.CompleteText(context.Background(), testConfig(), "hi")
		require.Error(t, err)
		assert.Equal(t, KindProviderError, ErrorKind(err))
	})
}

func TestCompleteWithTools(t *testing.T) {
	t.Run("terminates on final no-tool message", func(t *testing.T) {
		p := &scriptedProvider{turns: []*ProviderResult{
			{ToolCalls: []ToolCall{{ID: "t1", Name: "search", Arguments: `{"query":"flood"}`}}},
			{Text: "done"},
		}}
		c := newTestClient(p)

		var resolved []string
		transcript, err := c.CompleteWithTools(context.Background(), testConfig(), "question", nil,
			func(_ context.Context, call ToolCall) (string, error) {
				resolved = append(resolved, call.Name)
				return `{"results":[]}`, nil
			})
		require.NoError(t, err)
		assert.Equal(t, "done", transcript.FinalText)
		assert.Equal(t, 1, transcript.ToolRounds)
		assert.Equal(t, []string{"search"}, resolved)

		// Second provider call must see the tool result in the transcript.
		second := p.transcripts[1]
		require.Len(t, second, 3)
		assert.Equal(t, RoleTool, second[2].Role)
		assert.Equal(t, "t1", second[2].ToolCallID)
	})

	t.Run("resolver error is tagged tool_error", func(t *testing.T) {
		p := &scriptedProvider{turns: []*ProviderResult{
			{ToolCalls: []ToolCall{{ID: "t1", Name: "boom"}}},
		}}
		c := newTestClient(p)

		_, err := c.CompleteWithTools(context.Background(), testConfig(), "q", nil,
			func(context.Context, ToolCall) (string, error) {
				return "", errors.New("tool crashed")
			})
		require.Error(t, err)
		assert.Equal(t, KindToolError, ErrorKind(err))
	})

	t.Run("hard cap on tool rounds", func(t *testing.T) {
		// A provider that always wants another tool call never terminates.
		turns := make([]*ProviderResult, MaxToolRounds+1)
		for i := range turns {
			turns[i] = &ProviderResult{ToolCalls: []ToolCall{{ID: fmt.Sprintf("t%d", i), Name: "search"}}}
		}
		p := &scriptedProvider{turns: turns}
		c := newTestClient(p)

		_, err := c.CompleteWithTools(context.Background(), testConfig(), "q", nil,
			func(context.Context, ToolCall) (string, error) { return "{}", nil })
		require.Error(t, err)
		assert.Equal(t, KindInvalidOutput, ErrorKind(err))
		assert.Equal(t, MaxToolRounds+1, p.call)
	})

	t.Run("cancellation checked between rounds", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := &scriptedProvider{turns: []*ProviderResult{
			{ToolCalls: []ToolCall{{ID: "t1", Name: "search"}}},
			{Text: "never reached"},
		}}
		c := newTestClient(p)

		_, err := c.CompleteWithTools(ctx, testConfig(), "q", nil,
			func(context.Context, ToolCall) (string, error) {
				cancel()
				return "{}", nil
			})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("usage summed across rounds", func(t *testing.T) {
		p := &scriptedProvider{turns: []*ProviderResult{
			{ToolCalls: []ToolCall{{ID: "t1", Name: "search"}}, Usage: Usage{InputTokens: 100, OutputTokens: 10}},
			{Text: "done", Usage: Usage{InputTokens: 150, OutputTokens: 20}},
		}}
		c := newTestClient(p)

		transcript, err := c.CompleteWithTools(context.Background(), testConfig(), "q", nil,
			func(context.Context, ToolCall) (string, error) { return "{}", nil })
		require.NoError(t, err)
		assert.Equal(t, 250, transcript.Usage.InputTokens)
		assert.Equal(t, 30, transcript.Usage.OutputTokens)
	})
}
