package sourceverify

import (
	"context"
	"fmt"
	"strings"

	"github.com/EckmanTechLLC/thereceipts/pkg/embedding"
	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// libraryTier (Tier 0) reuses previously verified sources. It semantically
// searches the library by the claim keywords, asks the LLM to judge the top
// matches' relevance for this specific claim, and on acceptance reuses the
// book metadata and URL — but always asks for a fresh quote suited to the
// current claim. Stored quotes are never reused.
type libraryTier struct {
	library   Library
	embedder  embedding.Service
	gateway   llm.Gateway
	prompts   PromptLoader
	threshold float64
}

func (t *libraryTier) name() string   { return "library_reuse" }
func (t *libraryTier) domain() Domain { return "" }

type relevanceJudgment struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason"`
}

type freshQuote struct {
	QuoteText string `json:"quote_text"`
}

func (t *libraryTier) verify(ctx context.Context, desired DesiredSource) (*VerifiedRecord, error) {
	if t.library == nil || t.embedder == nil {
		return nil, errNotApplicable
	}

	query := desired.ClaimKeywords
	if query == "" {
		query = desired.ClaimText
	}
	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed claim keywords: %w", err)
	}

	matches, err := t.library.SearchByEmbedding(ctx, vec, t.threshold, 5)
	if err != nil {
		return nil, fmt.Errorf("library search failed: %w", err)
	}
	if len(matches) == 0 {
		return nil, errNotApplicable
	}
	if len(matches) > 3 {
		matches = matches[:3]
	}

	cfg, err := verifierConfig(ctx, t.prompts)
	if err != nil {
		return nil, err
	}

	for _, match := range matches {
		entry := match.Source

		judgePrompt := fmt.Sprintf(
			"Claim under audit: %s\n\nCandidate source from the verified library:\nTitle: %s\nAuthor: %s\nPublisher: %s (%s)\n\n"+
				"Is this source relevant evidence for THIS specific claim? "+
				"Respond with JSON: {\"relevant\": true|false, \"reason\": \"...\"}",
			desired.ClaimText, entry.Title, entry.Author, entry.Publisher, entry.PublishedDate)

		completion, err := t.gateway.CompleteText(ctx, cfg, judgePrompt)
		if err != nil {
			return nil, err
		}
		var judgment relevanceJudgment
		if err := llm.ExtractJSONInto(completion.Text, &judgment); err != nil {
			return nil, err
		}
		if !judgment.Relevant {
			continue
		}

		// Fresh quote for the current claim — never a stored one.
		quotePrompt := fmt.Sprintf(
			"Paraphrase, in one or two sentences, what %s by %s establishes that bears on this claim: %s\n\n"+
				"Respond with JSON: {\"quote_text\": \"...\"}",
			entry.Title, entry.Author, desired.ClaimText)
		quoteCompletion, err := t.gateway.CompleteText(ctx, cfg, quotePrompt)
		if err != nil {
			return nil, err
		}
		var quote freshQuote
		if err := llm.ExtractJSONInto(quoteCompletion.Text, &quote); err != nil {
			return nil, err
		}
		if strings.TrimSpace(quote.QuoteText) == "" {
			continue
		}

		return &VerifiedRecord{
			Citation:      formatBookCitation(entry.Title, entry.Author, entry.Publisher, entry.PublishedDate),
			URL:           entry.URL,
			QuoteText:     quote.QuoteText,
			Method:        models.MethodLibraryReuse,
			Status:        models.StatusVerified,
			ContentType:   models.ContentVerifiedParaphrase,
			URLVerified:   entry.URL != "",
			Title:         entry.Title,
			Author:        entry.Author,
			Publisher:     entry.Publisher,
			PublishedDate: entry.PublishedDate,
			Identifier:    entry.Identifier,
		}, nil
	}

	return nil, errNotApplicable
}

// formatBookCitation renders "Author, Title (Publisher, Date)" with absent
// parts elided.
func formatBookCitation(title, author, publisher, date string) string {
	var sb strings.Builder
	if author != "" {
		sb.WriteString(author)
		sb.WriteString(", ")
	}
	sb.WriteString(title)
	switch {
	case publisher != "" && date != "":
		fmt.Fprintf(&sb, " (%s, %s)", publisher, date)
	case publisher != "":
		fmt.Fprintf(&sb, " (%s)", publisher)
	case date != "":
		fmt.Fprintf(&sb, " (%s)", date)
	}
	return sb.String()
}
