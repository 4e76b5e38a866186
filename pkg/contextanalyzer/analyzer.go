// Package contextanalyzer rewrites follow-up questions into standalone ones
// using the recent dialogue window.
package contextanalyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/events"
	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

const (
	// historyWindow caps how many prior messages the analyzer sees.
	historyWindow = 6
	// assistantTruncateChars caps each assistant message for economy.
	assistantTruncateChars = 500
)

// Analyzer reformulates follow-up questions. Its prompt distinguishes a
// clarification of an already-discussed claim from an alternative explanation
// that constitutes a new claim.
type Analyzer struct {
	gateway llm.Gateway
	prompts agent.PromptLoader
	bus     events.Publisher
}

// New creates an Analyzer.
func New(gateway llm.Gateway, prompts agent.PromptLoader, bus events.Publisher) *Analyzer {
	return &Analyzer{gateway: gateway, prompts: prompts, bus: bus}
}

type reformulation struct {
	ReformulatedQuestion string `json:"reformulated_question"`
}

// Reformulate returns the standalone form of the question. Initial questions
// with no history pass through unchanged without an LLM hop.
func (a *Analyzer) Reformulate(ctx context.Context, sessionID, question string, history []models.ChatMessage) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("question is empty")
	}
	if len(history) == 0 {
		return question, nil
	}

	if a.bus != nil {
		a.bus.Publish(sessionID, events.New(events.EventContextAnalysisStarted, sessionID))
	}

	prompt, err := a.prompts.Get(ctx, agent.RoleContextAnalyzer)
	if err != nil {
		return "", fmt.Errorf("failed to load context analyzer prompt: %w", err)
	}
	cfg := llm.CallConfig{
		Provider:     prompt.Provider,
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		MaxTokens:    prompt.MaxTokens,
		SystemPrompt: prompt.SystemPrompt,
	}

	userPrompt := fmt.Sprintf("Recent dialogue:\n%s\nCurrent question: %s\n\n"+
		"Respond with JSON: {\"reformulated_question\": \"...\"}",
		FormatHistory(history), question)

	completion, err := a.gateway.CompleteText(ctx, cfg, userPrompt)
	if err != nil {
		return "", fmt.Errorf("context analysis failed: %w", err)
	}

	var out reformulation
	if err := llm.ExtractJSONInto(completion.Text, &out); err != nil {
		return "", fmt.Errorf("context analysis returned invalid output: %w", err)
	}
	if strings.TrimSpace(out.ReformulatedQuestion) == "" {
		return question, nil
	}
	return out.ReformulatedQuestion, nil
}

// FormatHistory renders the last historyWindow messages, truncating assistant
// contributions to assistantTruncateChars each.
func FormatHistory(history []models.ChatMessage) string {
	window := Window(history)
	var sb strings.Builder
	for _, msg := range window {
		content := msg.Content
		if msg.Role == "assistant" && len(content) > assistantTruncateChars {
			content = content[:assistantTruncateChars] + "..."
		}
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, content)
	}
	return sb.String()
}

// Window returns the last historyWindow messages.
func Window(history []models.ChatMessage) []models.ChatMessage {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}
