package contextanalyzer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

type fakeGateway struct {
	response   string
	lastPrompt string
	calls      int
}

func (g *fakeGateway) CompleteText(_ context.Context, _ llm.CallConfig, userPrompt string) (*llm.Completion, error) {
	g.calls++
	g.lastPrompt = userPrompt
	return &llm.Completion{Text: g.response}, nil
}

func (g *fakeGateway) CompleteWithTools(context.Context, llm.CallConfig, string, []llm.ToolSpec, llm.ToolResolver) (*llm.Transcript, error) {
	return nil, fmt.Errorf("not implemented")
}

type fakePrompts struct{}

func (fakePrompts) Get(_ context.Context, agentName string) (*models.AgentPrompt, error) {
	return &models.AgentPrompt{
		AgentName: agentName, Provider: "anthropic", Model: "test-model",
		SystemPrompt: "reformulate", MaxTokens: 1024,
	}, nil
}

func TestReformulate_StandaloneQuestionPassesThrough(t *testing.T) {
	gw := &fakeGateway{}
	a := New(gw, fakePrompts{}, nil)

	got, err := a.Reformulate(context.Background(), "s1", "Is abortion moral?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Is abortion moral?", got)
	assert.Zero(t, gw.calls, "no LLM hop for a standalone question")
}

func TestReformulate_FollowUpResolved(t *testing.T) {
	gw := &fakeGateway{response: `{"reformulated_question": "What happened during the 1970s pro-life political movement?"}`}
	a := New(gw, fakePrompts{}, nil)

	history := []models.ChatMessage{
		{Role: "user", Content: "Is abortion moral?"},
		{Role: "assistant", Content: "The modern debate traces to a 1970s political movement..."},
	}
	got, err := a.Reformulate(context.Background(), "s1", "What happened during that political movement?", history)
	require.NoError(t, err)
	assert.Contains(t, got, "1970s")
	assert.Equal(t, 1, gw.calls)
}

func TestReformulate_EmptyQuestionFails(t *testing.T) {
	a := New(&fakeGateway{}, fakePrompts{}, nil)
	_, err := a.Reformulate(context.Background(), "s1", "  ", nil)
	require.Error(t, err)
}

func TestWindow_CapsAtSixMessages(t *testing.T) {
	var history []models.ChatMessage
	for i := 0; i < 10; i++ {
		history = append(history, models.ChatMessage{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	window := Window(history)
	require.Len(t, window, 6)
	assert.Equal(t, "m4", window[0].Content)
	assert.Equal(t, "m9", window[5].Content)
}

func TestFormatHistory_TruncatesAssistantMessages(t *testing.T) {
	long := strings.Repeat("x", 2000)
	history := []models.ChatMessage{
		{Role: "assistant", Content: long},
		{Role: "user", Content: long},
	}
	formatted := FormatHistory(history)

	lines := strings.Split(strings.TrimRight(formatted, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.LessOrEqual(t, len(lines[0]), len("assistant: ")+500+3)
	// User messages are not truncated.
	assert.Greater(t, len(lines[1]), 2000)
}

func TestReformulate_PromptContainsWindowOnly(t *testing.T) {
	gw := &fakeGateway{response: `{"reformulated_question": "q"}`}
	a := New(gw, fakePrompts{}, nil)

	var history []models.ChatMessage
	for i := 0; i < 12; i++ {
		history = append(history, models.ChatMessage{Role: "user", Content: fmt.Sprintf("marker-%d", i)})
	}
	_, err := a.Reformulate(context.Background(), "s1", "follow-up?", history)
	require.NoError(t, err)

	assert.NotContains(t, gw.lastPrompt, "marker-5")
	assert.Contains(t, gw.lastPrompt, "marker-6")
	assert.Contains(t, gw.lastPrompt, "marker-11")
}
