// Package scheduler drives the daily topic-to-article generation: a
// time-of-day trigger leases queued topics, a decomposer splits each topic
// into component claims, novel claims run through the audit pipeline while
// near-duplicates reuse cached cards, and a composer writes the article. The
// result waits unpublished behind review gating.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/embedding"
	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

const (
	minComponentClaims = 3
	maxComponentClaims = 12

	minArticleWords = 500
	maxArticleWords = 1500
)

// ClaimSearcher is the claim store surface used for deduplication.
type ClaimSearcher interface {
	SearchByEmbedding(ctx context.Context, vec []float32, threshold float64, limit int) ([]models.ClaimMatch, error)
	ByID(ctx context.Context, id string) (*models.ClaimCard, error)
}

// PipelineRunner runs one full audit. Satisfied by pipeline.Orchestrator.
type PipelineRunner interface {
	Run(ctx context.Context, execCtx *agent.ExecutionContext, question string) (*models.ClaimCard, error)
}

// BlogCreator persists composed articles. Satisfied by store.BlogPostStore.
type BlogCreator interface {
	Create(ctx context.Context, post *models.BlogPost) (*models.BlogPost, error)
}

// Generator turns one topic into an unpublished article.
type Generator struct {
	gateway  llm.Gateway
	prompts  agent.PromptLoader
	claims   ClaimSearcher
	embedder embedding.Service
	pipeline PipelineRunner
	blogs    BlogCreator

	// execCtx is the template for pipeline runs; SessionID is replaced per
	// topic so progress events stay per-session.
	execCtx agent.ExecutionContext

	// dedupThreshold gates component-claim reuse (default 0.92).
	dedupThreshold float64
}

// NewGenerator creates a Generator.
func NewGenerator(gateway llm.Gateway, prompts agent.PromptLoader, claims ClaimSearcher, embedder embedding.Service, pipelineRunner PipelineRunner, blogs BlogCreator, execCtx agent.ExecutionContext, dedupThreshold float64) *Generator {
	if dedupThreshold == 0 {
		dedupThreshold = 0.92
	}
	return &Generator{
		gateway:        gateway,
		prompts:        prompts,
		claims:         claims,
		embedder:       embedder,
		pipeline:       pipelineRunner,
		blogs:          blogs,
		execCtx:        execCtx,
		dedupThreshold: dedupThreshold,
	}
}

// GenerateResult reports what one topic produced.
type GenerateResult struct {
	ClaimCardIDs []string
	BlogPostID   string
	ReusedCount  int
}

// Generate processes one leased topic end to end. Fails fast on the first
// error; the caller records it on the topic row.
func (g *Generator) Generate(ctx context.Context, topic *models.TopicQueueEntry) (*GenerateResult, error) {
	logger := slog.With("topic_id", topic.ID, "topic_text", topic.TopicText)

	componentClaims, err := g.decompose(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("decomposer failed: %w", err)
	}
	logger.Info("Topic decomposed", "component_claims", len(componentClaims))

	// Deduplicate each component claim against the store; run the pipeline
	// only for novel ones.
	var cardIDs []string
	var cards []*models.ClaimCard
	reused := 0
	for i, claimText := range componentClaims {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		existing, err := g.findExisting(ctx, claimText)
		if err != nil {
			return nil, fmt.Errorf("dedup search failed for claim %d: %w", i+1, err)
		}
		if existing != nil {
			reused++
			cardIDs = append(cardIDs, existing.ID)
			cards = append(cards, existing)
			logger.Info("Reusing existing claim card",
				"claim_card_id", existing.ID, "component_index", i+1)
			continue
		}

		execCtx := g.execCtx
		execCtx.SessionID = fmt.Sprintf("topic-%s-claim-%d", topic.ID, i+1)
		card, err := g.pipeline.Run(ctx, &execCtx, claimText)
		if err != nil {
			return nil, fmt.Errorf("pipeline failed for component claim %d (%s): %w", i+1, claimText, err)
		}
		cardIDs = append(cardIDs, card.ID)
		cards = append(cards, card)
	}

	title, body, err := g.compose(ctx, topic, cards)
	if err != nil {
		return nil, fmt.Errorf("composer failed: %w", err)
	}

	post, err := g.blogs.Create(ctx, &models.BlogPost{
		TopicID:      topic.ID,
		Title:        title,
		ArticleBody:  body,
		ClaimCardIDs: cardIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist blog post: %w", err)
	}

	logger.Info("Topic generated",
		"blog_post_id", post.ID,
		"claim_cards", len(cardIDs),
		"reused", reused,
	)
	return &GenerateResult{
		ClaimCardIDs: cardIDs,
		BlogPostID:   post.ID,
		ReusedCount:  reused,
	}, nil
}

// findExisting returns a cached card whose similarity clears the dedup
// threshold, or nil.
func (g *Generator) findExisting(ctx context.Context, claimText string) (*models.ClaimCard, error) {
	vec, err := g.embedder.Embed(ctx, claimText)
	if err != nil {
		return nil, err
	}
	matches, err := g.claims.SearchByEmbedding(ctx, vec, g.dedupThreshold, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0].Card, nil
}

// --- Decomposer ---

type decomposerOutput struct {
	Claims []string `json:"claims"`
}

// decompose asks the LLM for 3-12 affirmative component claims; the count is
// the model's call per topic complexity, bounded here.
func (g *Generator) decompose(ctx context.Context, topic *models.TopicQueueEntry) ([]string, error) {
	cfg, err := roleConfig(ctx, g.prompts, agent.RoleDecomposer)
	if err != nil {
		return nil, err
	}

	userPrompt := fmt.Sprintf("Article topic: %s\n", topic.TopicText)
	if topic.AdminFeedback != "" {
		userPrompt += fmt.Sprintf("Reviewer feedback from a previous attempt: %s\n", topic.AdminFeedback)
	}
	userPrompt += "\nRespond with JSON: {\"claims\": [\"...\"]}"

	completion, err := g.gateway.CompleteText(ctx, cfg, userPrompt)
	if err != nil {
		return nil, err
	}
	var out decomposerOutput
	if err := llm.ExtractJSONInto(completion.Text, &out); err != nil {
		return nil, err
	}
	if len(out.Claims) < minComponentClaims || len(out.Claims) > maxComponentClaims {
		return nil, fmt.Errorf("decomposer produced %d claims, want %d-%d",
			len(out.Claims), minComponentClaims, maxComponentClaims)
	}
	for i, claim := range out.Claims {
		if strings.TrimSpace(claim) == "" {
			return nil, fmt.Errorf("decomposer produced empty claim at index %d", i)
		}
	}
	return out.Claims, nil
}

// --- Composer ---

type composerOutput struct {
	Title       string `json:"title"`
	ArticleBody string `json:"article_body"`
}

// compose writes the article from the component cards: narrative prose with
// footnote-like markers, never a rendered card list.
func (g *Generator) compose(ctx context.Context, topic *models.TopicQueueEntry, cards []*models.ClaimCard) (string, string, error) {
	cfg, err := roleConfig(ctx, g.prompts, agent.RoleComposer)
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Article topic: %s\n\nComponent claim audits:\n", topic.TopicText)
	for i, card := range cards {
		fmt.Fprintf(&sb, "[%d] id=%s\nClaim: %s\nVerdict: %s\nShort answer: %s\n\n",
			i+1, card.ID, card.ClaimText, card.Verdict, card.ShortAnswer)
	}
	fmt.Fprintf(&sb, "Write %d-%d words of narrative prose referencing the claims "+
		"with [n] markers. Respond with JSON: {\"title\": \"...\", \"article_body\": \"...\"}",
		minArticleWords, maxArticleWords)

	completion, err := g.gateway.CompleteText(ctx, cfg, sb.String())
	if err != nil {
		return "", "", err
	}
	var out composerOutput
	if err := llm.ExtractJSONInto(completion.Text, &out); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(out.Title) == "" {
		return "", "", fmt.Errorf("composer produced empty title")
	}
	if words := len(strings.Fields(out.ArticleBody)); words < minArticleWords || words > maxArticleWords {
		return "", "", fmt.Errorf("article body has %d words, want %d-%d",
			words, minArticleWords, maxArticleWords)
	}
	return out.Title, out.ArticleBody, nil
}

// roleConfig loads a non-pipeline LLM role's prompt row.
func roleConfig(ctx context.Context, prompts agent.PromptLoader, role string) (llm.CallConfig, error) {
	prompt, err := prompts.Get(ctx, role)
	if err != nil {
		return llm.CallConfig{}, fmt.Errorf("failed to load %s prompt: %w", role, err)
	}
	return llm.CallConfig{
		Provider:     prompt.Provider,
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		MaxTokens:    prompt.MaxTokens,
		SystemPrompt: prompt.SystemPrompt,
	}, nil
}
