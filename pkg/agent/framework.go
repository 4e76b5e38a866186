// Package agent implements the shared agent behavior and the five pipeline
// agents: Topic Finder, Source Checker, Adversarial Checker, Writer, and
// Publisher.
//
// Every agent follows the same shape on each invocation: load its prompt row
// from the store (the row is hot-editable, so nothing caches it), validate
// the required input keys, render the user prompt, emit agent_started, call
// the LLM gateway, parse the structured output, and emit agent_completed
// with the elapsed time and success flag.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EckmanTechLLC/thereceipts/pkg/events"
	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
	"github.com/EckmanTechLLC/thereceipts/pkg/sourceverify"
)

// State is the aggregated output dictionary flowing through the pipeline.
// Each stage's outputs are merged in before the next stage starts.
type State map[string]any

// Clone returns a shallow copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// PromptLoader loads agent prompt rows. Satisfied by store.PromptStore.
type PromptLoader interface {
	Get(ctx context.Context, agentName string) (*models.AgentPrompt, error)
}

// SourceVerifier is the six-tier verification surface the Source Checker and
// Adversarial Checker consume. Satisfied by sourceverify.Service.
type SourceVerifier interface {
	Verify(ctx context.Context, desired sourceverify.DesiredSource) (*sourceverify.VerifiedRecord, error)
	ReVerify(ctx context.Context, src models.Source) sourceverify.ReVerifyResult
}

// ClaimInserter persists finished claim cards. Satisfied by store.ClaimStore.
type ClaimInserter interface {
	Insert(ctx context.Context, card *models.ClaimCard) (*models.ClaimCard, error)
}

// ExecutionContext carries the collaborators shared by all stages of one
// pipeline run.
type ExecutionContext struct {
	SessionID string
	Prompts   PromptLoader
	Gateway   llm.Gateway
	Publisher events.Publisher
	Verifier  SourceVerifier
	Claims    ClaimInserter
}

// Agent is the common capability the orchestrator drives.
type Agent interface {
	Name() string
	Execute(ctx context.Context, execCtx *ExecutionContext, state State) (State, error)
}

// loadConfig reads the agent's prompt row and converts it to a gateway call
// config. Read on every invocation — the row is hot-editable.
func loadConfig(ctx context.Context, execCtx *ExecutionContext, agentName string) (llm.CallConfig, error) {
	prompt, err := execCtx.Prompts.Get(ctx, agentName)
	if err != nil {
		return llm.CallConfig{}, NewError(agentName, ClassConfigMissing,
			fmt.Errorf("no prompt configured: %w", err))
	}
	return llm.CallConfig{
		Provider:     prompt.Provider,
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		MaxTokens:    prompt.MaxTokens,
		SystemPrompt: prompt.SystemPrompt,
	}, nil
}

// requireString validates a required string input key.
func requireString(agentName string, state State, key string) (string, error) {
	val, ok := state[key].(string)
	if !ok || val == "" {
		return "", NewBadInput(agentName, key)
	}
	return val, nil
}

// runStage brackets an agent's work between agent_started and
// agent_completed events. Config loading and input validation happen before
// the bracket; everything from prompt rendering onward runs inside fn.
func runStage(execCtx *ExecutionContext, agentName string, fn func() error) error {
	emit(execCtx, events.NewAgentStarted(execCtx.SessionID, agentName))
	start := time.Now()

	err := fn()
	emit(execCtx, events.NewAgentCompleted(execCtx.SessionID, agentName, time.Since(start), err == nil))
	return err
}

// callLLM performs one gateway completion and parses the structured output
// into out, classifying failures as llm_error or parse_error.
func callLLM(ctx context.Context, execCtx *ExecutionContext, agentName string, cfg llm.CallConfig, userPrompt string, out any) error {
	completion, err := execCtx.Gateway.CompleteText(ctx, cfg, userPrompt)
	if err != nil {
		return NewError(agentName, ClassLLMError, err)
	}
	if err := llm.ExtractJSONInto(completion.Text, out); err != nil {
		return NewError(agentName, ClassParseError, err)
	}
	return nil
}

// emit publishes an event, tolerating a nil publisher (streaming disabled).
func emit(execCtx *ExecutionContext, event events.Event) {
	if execCtx.Publisher == nil {
		return
	}
	execCtx.Publisher.Publish(execCtx.SessionID, event)
}

// asAgentError wraps collaborator failures (e.g. verifier transport faults)
// that are not already classified.
func asAgentError(agentName string, err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return NewError(agentName, ClassLLMError, err)
}
