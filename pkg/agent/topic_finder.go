package agent

import (
	"context"
	"fmt"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// TopicFinder turns the (possibly reformulated) question into an affirmative,
// evaluable claim with its technical type, routing category, and tags.
//
// The claim is framed as the AFFIRMATIVE statement matching the asker's
// intent, never its negation: "How similar are Luke and Mark?" becomes
// "Luke used Mark as a source", not "Luke is independent of Mark".
type TopicFinder struct{}

func (TopicFinder) Name() string { return AgentTopicFinder }

// topicFinderOutput is the stable schema handed to the Source Checker.
type topicFinderOutput struct {
	ClaimText         string   `json:"claim_text"`
	Claimant          string   `json:"claimant"`
	ClaimType         string   `json:"claim_type"`
	ClaimTypeCategory string   `json:"claim_type_category"`
	CategoryTags      []string `json:"category_tags"`
}

// Execute implements Agent.
func (a TopicFinder) Execute(ctx context.Context, execCtx *ExecutionContext, state State) (State, error) {
	cfg, err := loadConfig(ctx, execCtx, a.Name())
	if err != nil {
		return nil, err
	}
	question, err := requireString(a.Name(), state, KeyQuestion)
	if err != nil {
		return nil, err
	}

	var out topicFinderOutput
	err = runStage(execCtx, a.Name(), func() error {
		userPrompt := fmt.Sprintf("Question to audit:\n%s\n\n"+
			"Respond with JSON: {\"claim_text\": \"...\", \"claimant\": \"...\", "+
			"\"claim_type\": \"...\", \"claim_type_category\": \"HISTORICAL|EPISTEMOLOGY|INTERPRETATION|THEOLOGICAL|TEXTUAL\", "+
			"\"category_tags\": [\"...\"]}", question)

		if err := callLLM(ctx, execCtx, a.Name(), cfg, userPrompt, &out); err != nil {
			return err
		}
		if out.ClaimText == "" {
			return NewError(a.Name(), ClassParseError, fmt.Errorf("empty claim_text"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	category := models.ClaimTypeCategory(out.ClaimTypeCategory)
	if !category.IsValid() {
		// Unknown categories degrade to uncategorized rather than failing:
		// the enum gates router behavior, not pipeline correctness.
		category = ""
	}

	result := state.Clone()
	result[KeyClaimText] = out.ClaimText
	result[KeyClaimant] = out.Claimant
	result[KeyClaimType] = out.ClaimType
	result[KeyClaimTypeCategory] = category
	result[KeyCategoryTags] = out.CategoryTags
	return result, nil
}
