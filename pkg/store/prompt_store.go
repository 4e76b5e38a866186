package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// PromptStore manages the hot-editable agent prompt rows. Callers read a row
// on every agent invocation — no process-lifetime caching.
type PromptStore struct {
	pool *pgxpool.Pool
}

// NewPromptStore creates a PromptStore.
func NewPromptStore(pool *pgxpool.Pool) *PromptStore {
	return &PromptStore{pool: pool}
}

// Get loads one prompt row by agent name.
func (s *PromptStore) Get(ctx context.Context, agentName string) (*models.AgentPrompt, error) {
	var p models.AgentPrompt
	err := s.pool.QueryRow(ctx, `
		SELECT agent_name, provider, model, system_prompt, temperature, max_tokens, updated_at
		FROM agent_prompts WHERE agent_name = $1`, agentName,
	).Scan(&p.AgentName, &p.Provider, &p.Model, &p.SystemPrompt, &p.Temperature,
		&p.MaxTokens, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load agent prompt: %w", err)
	}
	return &p, nil
}

// Upsert creates or replaces a prompt row.
func (s *PromptStore) Upsert(ctx context.Context, p *models.AgentPrompt) error {
	if p.AgentName == "" {
		return NewValidationError("agent_name", "required")
	}
	if p.Provider == "" {
		return NewValidationError("provider", "required")
	}
	if p.Model == "" {
		return NewValidationError("model", "required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_prompts (agent_name, provider, model, system_prompt, temperature, max_tokens, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (agent_name) DO UPDATE
		SET provider = EXCLUDED.provider, model = EXCLUDED.model,
		    system_prompt = EXCLUDED.system_prompt,
		    temperature = EXCLUDED.temperature, max_tokens = EXCLUDED.max_tokens,
		    updated_at = EXCLUDED.updated_at`,
		p.AgentName, p.Provider, p.Model, p.SystemPrompt, p.Temperature,
		p.MaxTokens, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert agent prompt: %w", err)
	}
	return nil
}

// SeedDefaults inserts the given prompts only where no row exists, so a fresh
// database is runnable while operator edits are never overwritten.
func (s *PromptStore) SeedDefaults(ctx context.Context, prompts []models.AgentPrompt) error {
	for _, p := range prompts {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO agent_prompts (agent_name, provider, model, system_prompt, temperature, max_tokens, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (agent_name) DO NOTHING`,
			p.AgentName, p.Provider, p.Model, p.SystemPrompt, p.Temperature,
			p.MaxTokens, time.Now())
		if err != nil {
			return fmt.Errorf("failed to seed prompt for %s: %w", p.AgentName, err)
		}
	}
	return nil
}

// Count returns the number of prompt rows.
func (s *PromptStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM agent_prompts").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count agent prompts: %w", err)
	}
	return n, nil
}
