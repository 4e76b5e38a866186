// Package llm is the provider-agnostic gateway for text and tool-calling
// completions. It drives the bounded tool loop as a message transcript and
// tags every failure so callers can distinguish transient from content faults.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MaxToolRounds is the hard cap on tool-resolution rounds in a single
// CompleteWithTools call.
const MaxToolRounds = 6

// Conversation message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// CallConfig is the per-call LLM configuration, read from an AgentPrompt row.
type CallConfig struct {
	Provider     string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Message is one transcript entry.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool result messages only
	ToolName   string     // tool result messages only
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	// ParametersSchema is a JSON Schema object ({"type":"object",...}).
	ParametersSchema map[string]any
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// ToolResolver resolves one tool call and returns its result content.
// An error aborts the loop with a tool_error.
type ToolResolver func(ctx context.Context, call ToolCall) (string, error)

// Usage reports token consumption for a call (summed across tool rounds).
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is the result of a single-shot text call.
type Completion struct {
	Text  string
	Usage Usage
}

// Transcript is the result of a tool-calling loop: the full message history
// plus the model's final no-tool message.
type Transcript struct {
	Messages   []Message
	FinalText  string
	ToolRounds int
	Usage      Usage
}

// ProviderResult is one raw model turn as returned by a provider.
type ProviderResult struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider adapts one vendor SDK to the gateway.
type Provider interface {
	Complete(ctx context.Context, cfg CallConfig, messages []Message, tools []ToolSpec) (*ProviderResult, error)
}

// Gateway exposes the two completion operations.
type Gateway interface {
	CompleteText(ctx context.Context, cfg CallConfig, userPrompt string) (*Completion, error)
	CompleteWithTools(ctx context.Context, cfg CallConfig, userPrompt string, tools []ToolSpec, resolve ToolResolver) (*Transcript, error)
}

// Client routes calls to registered providers and owns the tool loop.
type Client struct {
	providers map[string]Provider
}

// NewClient creates a gateway over the given providers, keyed by the name
// used in CallConfig.Provider (e.g. "anthropic", "openai").
func NewClient(providers map[string]Provider) *Client {
	copied := make(map[string]Provider, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &Client{providers: copied}
}

func (c *Client) provider(name string) (Provider, error) {
	p, ok := c.providers[name]
	if !ok {
		return nil, NewProviderError(fmt.Errorf("unknown LLM provider %q", name))
	}
	return p, nil
}

// CompleteText performs a single-shot completion with no tools.
func (c *Client) CompleteText(ctx context.Context, cfg CallConfig, userPrompt string) (*Completion, error) {
	p, err := c.provider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	messages := []Message{{Role: RoleUser, Content: userPrompt}}
	result, err := p.Complete(ctx, cfg, messages, nil)
	if err != nil {
		return nil, NewProviderError(err)
	}

	slog.Debug("LLM text completion",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"output_tokens", result.Usage.OutputTokens,
	)

	return &Completion{Text: result.Text, Usage: result.Usage}, nil
}

// CompleteWithTools drives the bounded tool loop. Each round the model may
// emit tool calls; the resolver resolves each and the enriched transcript is
// re-submitted. The loop terminates on a final no-tool message, the round
// cap, or a resolver error. Cancellation is checked between rounds.
func (c *Client) CompleteWithTools(ctx context.Context, cfg CallConfig, userPrompt string, tools []ToolSpec, resolve ToolResolver) (*Transcript, error) {
	p, err := c.provider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	transcript := &Transcript{
		Messages: []Message{{Role: RoleUser, Content: userPrompt}},
	}

	for round := 0; round <= MaxToolRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, NewProviderError(err)
		}

		result, err := p.Complete(ctx, cfg, transcript.Messages, tools)
		if err != nil {
			return nil, NewProviderError(err)
		}
		transcript.Usage.InputTokens += result.Usage.InputTokens
		transcript.Usage.OutputTokens += result.Usage.OutputTokens

		assistant := Message{
			Role:      RoleAssistant,
			Content:   result.Text,
			ToolCalls: result.ToolCalls,
		}
		transcript.Messages = append(transcript.Messages, assistant)

		// Final message with no tool calls terminates the loop.
		if len(result.ToolCalls) == 0 {
			transcript.FinalText = result.Text
			return transcript, nil
		}

		if round == MaxToolRounds {
			break
		}
		transcript.ToolRounds++

		for _, call := range result.ToolCalls {
			content, resolveErr := resolve(ctx, call)
			if resolveErr != nil {
				return nil, NewToolError(fmt.Errorf("tool %s: %w", call.Name, resolveErr))
			}
			transcript.Messages = append(transcript.Messages, Message{
				Role:       RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	return nil, NewInvalidOutputError(fmt.Errorf("tool loop exceeded %d rounds without a final message", MaxToolRounds))
}

var _ Gateway = (*Client)(nil)
