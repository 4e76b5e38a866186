package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/EckmanTechLLC/thereceipts/pkg/events"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// Publisher composes the agent audit trail, persists the finished ClaimCard
// (which triggers embedding generation inside the store), and announces
// claim_card_ready on the progress bus.
type Publisher struct{}

func (Publisher) Name() string { return AgentPublisher }

// auditEntry is one agent's record in the audit trail.
type auditEntry struct {
	WhatWasChecked  string `json:"what_was_checked"`
	Limitations     string `json:"limitations"`
	ChangeVerdictIf string `json:"change_verdict_if"`
}

type publisherOutput struct {
	Audit map[string]auditEntry `json:"audit"`
}

// Execute implements Agent.
func (a Publisher) Execute(ctx context.Context, execCtx *ExecutionContext, state State) (State, error) {
	cfg, err := loadConfig(ctx, execCtx, a.Name())
	if err != nil {
		return nil, err
	}
	claimText, err := requireString(a.Name(), state, KeyClaimText)
	if err != nil {
		return nil, err
	}
	shortAnswer, err := requireString(a.Name(), state, KeyShortAnswer)
	if err != nil {
		return nil, err
	}
	verdict, ok := state[KeyPreliminaryVerdict].(models.Verdict)
	if !ok {
		return nil, NewBadInput(a.Name(), KeyPreliminaryVerdict)
	}
	confidence, ok := state[KeyConfidenceLevel].(models.ConfidenceLevel)
	if !ok {
		return nil, NewBadInput(a.Name(), KeyConfidenceLevel)
	}
	sources, ok := state[KeySources].([]models.Source)
	if !ok || len(sources) == 0 {
		return nil, NewBadInput(a.Name(), KeySources)
	}

	var stored *models.ClaimCard
	err = runStage(execCtx, a.Name(), func() error {
		summary, err := json.Marshal(map[string]any{
			"claim_text":           claimText,
			"verdict":              verdict,
			"short_answer":         shortAnswer,
			"sources":              summarizeSources(sources),
			"reverification_notes": state[KeyReverificationNotes],
		})
		if err != nil {
			return NewError(a.Name(), ClassParseError, err)
		}

		userPrompt := fmt.Sprintf("Completed audit:\n%s\n\n"+
			"For each pipeline stage (topic_finder, source_checker, "+
			"adversarial_checker, writer), summarize what it checked, its "+
			"limitations, and what new evidence would change the verdict.\n\n"+
			"Respond with JSON: {\"audit\": {\"topic_finder\": {\"what_was_checked\": \"...\", "+
			"\"limitations\": \"...\", \"change_verdict_if\": \"...\"}, ...}}", summary)

		var out publisherOutput
		if err := callLLM(ctx, execCtx, a.Name(), cfg, userPrompt, &out); err != nil {
			return err
		}
		if len(out.Audit) == 0 {
			return NewError(a.Name(), ClassParseError, fmt.Errorf("empty audit"))
		}

		agentAudit := make(map[string]any, len(out.Audit)+1)
		for name, entry := range out.Audit {
			agentAudit[name] = map[string]any{
				"what_was_checked":  entry.WhatWasChecked,
				"limitations":       entry.Limitations,
				"change_verdict_if": entry.ChangeVerdictIf,
			}
		}
		if notes, ok := state[KeyReverificationNotes].(map[string]any); ok && len(notes) > 0 {
			agentAudit["reverification_notes"] = notes
		}

		category, _ := state[KeyClaimTypeCategory].(models.ClaimTypeCategory)
		claimant, _ := state[KeyClaimant].(string)
		claimType, _ := state[KeyClaimType].(string)
		categoryTags, _ := state[KeyCategoryTags].([]string)
		deepAnswer, _ := state[KeyDeepAnswer].(string)
		whyPersists, _ := state[KeyWhyPersists].([]string)
		confidenceExplanation, _ := state[KeyConfidenceExplanation].(string)

		card := &models.ClaimCard{
			ClaimText:             claimText,
			Claimant:              claimant,
			ClaimType:             claimType,
			ClaimTypeCategory:     category,
			Verdict:               verdict,
			ShortAnswer:           shortAnswer,
			DeepAnswer:            deepAnswer,
			WhyPersists:           whyPersists,
			ConfidenceLevel:       confidence,
			ConfidenceExplanation: confidenceExplanation,
			AgentAudit:            agentAudit,
			VisibleInAudits:       true,
			Sources:               sources,
			CategoryTags:          categoryTags,
		}

		stored, err = execCtx.Claims.Insert(ctx, card)
		if err != nil {
			return asAgentError(a.Name(), fmt.Errorf("failed to persist claim card: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	emit(execCtx, events.NewClaimCardReady(execCtx.SessionID, stored))

	result := state.Clone()
	result[KeyClaimCard] = stored
	return result, nil
}
