package sourceverify

import (
	"context"
	"fmt"
	"strings"

	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// llmFallbackTier (Tier 5) generates a citation from the model's training
// memory. The result is UNVERIFIED and its URL is always empty — a URL the
// model produced without external confirmation would be fabricated.
type llmFallbackTier struct {
	gateway llm.Gateway
	prompts PromptLoader
}

func (t *llmFallbackTier) name() string   { return "llm_fallback" }
func (t *llmFallbackTier) domain() Domain { return "" }

type fallbackCitation struct {
	Citation  string `json:"citation"`
	QuoteText string `json:"quote_text"`
}

func (t *llmFallbackTier) verify(ctx context.Context, desired DesiredSource) (*VerifiedRecord, error) {
	cfg, err := verifierConfig(ctx, t.prompts)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"No external catalog could verify this source:\nTitle: %s\nAuthor: %s\n\n"+
			"From training knowledge only, give a best-effort citation for it and a "+
			"one-sentence paraphrase of what it establishes about this claim: %s\n\n"+
			"Do NOT invent page numbers or URLs. "+
			"Respond with JSON: {\"citation\": \"...\", \"quote_text\": \"...\"}",
		desired.Title, desired.Author, desired.ClaimText)

	completion, err := t.gateway.CompleteText(ctx, cfg, prompt)
	if err != nil {
		return nil, err
	}
	var out fallbackCitation
	if err := llm.ExtractJSONInto(completion.Text, &out); err != nil {
		return nil, err
	}

	citation := strings.TrimSpace(out.Citation)
	if citation == "" {
		citation = formatBookCitation(desired.Title, desired.Author, "", "")
	}

	return &VerifiedRecord{
		Citation:    citation,
		URL:         "", // never fabricated
		QuoteText:   strings.TrimSpace(out.QuoteText),
		Method:      models.MethodLLMUnverified,
		Status:      models.StatusUnverified,
		ContentType: models.ContentUnverified,
		URLVerified: false,
		Title:       desired.Title,
		Author:      desired.Author,
	}, nil
}
