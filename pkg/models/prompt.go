package models

import "time"

// AgentPrompt is the hot-editable per-agent LLM configuration. The agent
// framework re-reads the row on every invocation; nothing caches it for the
// process lifetime.
type AgentPrompt struct {
	AgentName    string    `json:"agent_name"`
	Provider     string    `json:"provider"` // "anthropic" or "openai"
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt"`
	Temperature  float64   `json:"temperature"`
	MaxTokens    int       `json:"max_tokens"`
	UpdatedAt    time.Time `json:"updated_at"`
}
