// Package e2e exercises the ask path against a real PostgreSQL store:
// routing over cached claims and the full pipeline for novel claims. LLM
// calls are scripted; everything else is real.
package e2e

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/config"
	"github.com/EckmanTechLLC/thereceipts/pkg/embedding"
	"github.com/EckmanTechLLC/thereceipts/pkg/events"
	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
	"github.com/EckmanTechLLC/thereceipts/pkg/pipeline"
	"github.com/EckmanTechLLC/thereceipts/pkg/router"
	"github.com/EckmanTechLLC/thereceipts/pkg/sourceverify"
	"github.com/EckmanTechLLC/thereceipts/pkg/store"
	testdb "github.com/EckmanTechLLC/thereceipts/test/database"
)

// planted vectors: paraphrases of the same claim share a direction.
func axis(i int) []float32 {
	vec := make([]float32, embedding.Dim)
	vec[i] = 1
	return vec
}

// blend returns a unit vector at a chosen cosine to axis(i).
func blend(i, j int, cosine float64) []float32 {
	vec := make([]float32, embedding.Dim)
	vec[i] = float32(cosine)
	vec[j] = float32(math.Sqrt(1 - cosine*cosine))
	embedding.Normalize(vec)
	return vec
}

// plantedEmbedder serves exact vectors for known texts and a far-away
// default for everything else.
type plantedEmbedder struct {
	vectors map[string][]float32
}

func (e *plantedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	return axis(embedding.Dim - 1), nil
}

func (e *plantedEmbedder) Dim() int { return embedding.Dim }

// scriptedGateway answers CompleteText from a queue and CompleteWithTools by
// issuing the scripted tool calls then the scripted final text.
type scriptedGateway struct {
	textResponses []string
	textCalls     int

	toolCalls []llm.ToolCall
	finalText string
}

func (g *scriptedGateway) CompleteText(context.Context, llm.CallConfig, string) (*llm.Completion, error) {
	if g.textCalls >= len(g.textResponses) {
		return nil, fmt.Errorf("no scripted text response for call %d", g.textCalls+1)
	}
	text := g.textResponses[g.textCalls]
	g.textCalls++
	return &llm.Completion{Text: text}, nil
}

func (g *scriptedGateway) CompleteWithTools(ctx context.Context, _ llm.CallConfig, _ string, _ []llm.ToolSpec, resolve llm.ToolResolver) (*llm.Transcript, error) {
	transcript := &llm.Transcript{}
	for _, call := range g.toolCalls {
		content, err := resolve(ctx, call)
		if err != nil {
			return nil, llm.NewToolError(err)
		}
		transcript.Messages = append(transcript.Messages, llm.Message{
			Role: llm.RoleTool, Content: content, ToolCallID: call.ID, ToolName: call.Name,
		})
	}
	transcript.FinalText = g.finalText
	return transcript, nil
}

// stubVerifier returns a verified record without network access.
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, desired sourceverify.DesiredSource) (*sourceverify.VerifiedRecord, error) {
	return &sourceverify.VerifiedRecord{
		Citation:    "Author, " + desired.Title,
		QuoteText:   "supporting content",
		Method:      models.MethodGoogleBooks,
		Status:      models.StatusVerified,
		ContentType: models.ContentExactQuote,
		Title:       desired.Title,
	}, nil
}

func (stubVerifier) ReVerify(context.Context, models.Source) sourceverify.ReVerifyResult {
	return sourceverify.ReVerifyResult{QuoteSupported: true, URLReachable: true, URLMatches: true}
}

func seedCard(t *testing.T, claims *store.ClaimStore, claimText string, category models.ClaimTypeCategory) *models.ClaimCard {
	t.Helper()
	stored, err := claims.Insert(context.Background(), &models.ClaimCard{
		ClaimText:         claimText,
		ClaimType:         "literary dependence",
		ClaimTypeCategory: category,
		Verdict:           models.VerdictTrue,
		ShortAnswer:       "This claim is true.",
		ConfidenceLevel:   models.ConfidenceHigh,
		VisibleInAudits:   true,
		Sources: []models.Source{{
			Citation: "Scholar, A Study", UsageContext: "establishes the point",
			SourceType:         models.SourceScholarlyPeerReviewed,
			VerificationMethod: models.MethodGoogleBooks,
			VerificationStatus: models.StatusVerified,
			ContentType:        models.ContentExactQuote,
		}},
	})
	require.NoError(t, err)
	return stored
}

func TestExactMatchHit(t *testing.T) {
	client := testdb.NewTestClient(t)
	embedder := &plantedEmbedder{vectors: map[string][]float32{
		"Luke used Mark as a source": axis(0),
		"Did Luke copy Mark?":        blend(0, 1, 0.95),
	}}
	claims := store.NewClaimStore(client.Pool, embedder)
	decisions := store.NewRouterDecisionStore(client.Pool)
	seeded := seedCard(t, claims, "Luke used Mark as a source", models.CategoryTextual)

	gw := &scriptedGateway{
		toolCalls: []llm.ToolCall{{
			ID: "t1", Name: "search_existing_claims",
			Arguments: `{"query": "Did Luke copy Mark?"}`,
		}},
		finalText: fmt.Sprintf(`{"mode": "EXACT_MATCH", "claim_id": %q, "reasoning": "same textual claim"}`, seeded.ID),
	}
	r := router.New(gw, promptRows{}, claims, decisions, embedder, nil,
		router.Thresholds{ExactMatch: 0.92, Contextual: 0.80}, 0)

	decision, err := r.Route(context.Background(), "s1", "Did Luke copy Mark?", "Did Luke copy Mark?", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ModeExactMatch, decision.Mode)
	require.NotNil(t, decision.Card)
	assert.Equal(t, seeded.ID, decision.Card.ID)

	logged, err := decisions.ByID(context.Background(), decision.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, models.ModeExactMatch, logged.ModeSelected)
	require.NotEmpty(t, logged.SearchCandidates)
	assert.GreaterOrEqual(t, logged.SearchCandidates[0].Similarity, 0.92)
}

func TestNovelClaimDifferentTypeOnSameTopic(t *testing.T) {
	client := testdb.NewTestClient(t)
	question := "Could God have hidden the evidence?"
	reserved := "God hid the evidence of the flood"
	embedder := &plantedEmbedder{vectors: map[string][]float32{
		"the flood is contradicted by geology": axis(0),
		question:                               blend(0, 1, 0.60),
		reserved:                               blend(0, 1, 0.55),
	}}
	claims := store.NewClaimStore(client.Pool, embedder)
	decisions := store.NewRouterDecisionStore(client.Pool)
	seedCard(t, claims, "the flood is contradicted by geology", models.CategoryHistorical)

	// Router reserves a new claim.
	routerGW := &scriptedGateway{
		toolCalls: []llm.ToolCall{
			{ID: "t1", Name: "search_existing_claims", Arguments: fmt.Sprintf(`{"query": %q}`, question)},
			{ID: "t2", Name: "generate_new_claim", Arguments: fmt.Sprintf(`{"claim_text": %q}`, reserved)},
		},
		finalText: `{"mode": "NOVEL_CLAIM", "reasoning": "epistemology, not history"}`,
	}
	bus := events.NewBus()
	r := router.New(routerGW, promptRows{}, claims, decisions, embedder, bus,
		router.Thresholds{ExactMatch: 0.92, Contextual: 0.80}, 0)

	decision, err := r.Route(context.Background(), "s2", question, question, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ModeNovelClaim, decision.Mode)
	assert.Equal(t, reserved, decision.ReservedClaimText)

	// The pipeline then audits the reserved claim as an epistemology card.
	pipelineGW := &scriptedGateway{textResponses: []string{
		// topic finder
		fmt.Sprintf(`{"claim_text": %q, "claim_type": "divine concealment",
			"claim_type_category": "EPISTEMOLOGY", "category_tags": ["flood"]}`, reserved),
		// source checker
		`{"candidates": [
			{"title": "W1", "domain": "book", "source_type": "SCHOLARLY_PEER_REVIEWED", "usage_context": "used to establish a", "keywords": "k"},
			{"title": "W2", "domain": "book", "source_type": "SCHOLARLY_PEER_REVIEWED", "usage_context": "used to establish b", "keywords": "k"},
			{"title": "W3", "domain": "book", "source_type": "SCHOLARLY_PEER_REVIEWED", "usage_context": "used to establish c", "keywords": "k"}
		]}`,
		// adversarial checker
		`{"preliminary_verdict": "UNFALSIFIABLE", "reasoning": "no possible disconfirming evidence"}`,
		// writer
		`{"short_answer": "This claim is unfalsifiable: any evidence is compatible with it.",
		  "deep_answer": "...", "why_persists": ["immunizing strategy"],
		  "confidence_level": "HIGH", "confidence_explanation": "structural feature of the claim"}`,
		// publisher
		`{"audit": {"writer": {"what_was_checked": "prose", "limitations": "none", "change_verdict_if": "a testable mechanism is specified"}}}`,
	}}

	orchestrator := pipeline.New(config.DefaultTimeouts())
	execCtx := &agent.ExecutionContext{
		SessionID: "s2",
		Prompts:   promptRows{},
		Gateway:   pipelineGW,
		Publisher: bus,
		Verifier:  stubVerifier{},
		Claims:    claims,
	}
	card, err := orchestrator.Run(context.Background(), execCtx, decision.ReservedClaimText)
	require.NoError(t, err)

	assert.Equal(t, models.CategoryEpistemology, card.ClaimTypeCategory)
	assert.Equal(t, models.VerdictUnfalsifiable, card.Verdict)

	loaded, err := claims.ByID(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryEpistemology, loaded.ClaimTypeCategory)
}

// promptRows serves in-memory prompt rows for every role.
type promptRows struct{}

func (promptRows) Get(_ context.Context, agentName string) (*models.AgentPrompt, error) {
	return &models.AgentPrompt{
		AgentName: agentName, Provider: "anthropic", Model: "test-model",
		SystemPrompt: "scripted", Temperature: 0.2, MaxTokens: 2048,
	}, nil
}
