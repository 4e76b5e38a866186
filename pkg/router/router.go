// Package router classifies an incoming question into one of three response
// modes using a tool-augmented LLM pass over the claim store: EXACT_MATCH
// (reuse a cached card), CONTEXTUAL (synthesize over cached cards), or
// NOVEL_CLAIM (run the full audit pipeline). Every decision is persisted to
// the append-only routing log.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/embedding"
	"github.com/EckmanTechLLC/thereceipts/pkg/events"
	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// ClaimSearcher is the claim store surface the router's tools consume.
type ClaimSearcher interface {
	SearchByEmbedding(ctx context.Context, vec []float32, threshold float64, limit int) ([]models.ClaimMatch, error)
	ByID(ctx context.Context, id string) (*models.ClaimCard, error)
}

// DecisionLog persists routing decisions. Satisfied by
// store.RouterDecisionStore.
type DecisionLog interface {
	Insert(ctx context.Context, d *models.RouterDecision) (*models.RouterDecision, error)
}

// Thresholds are the router's similarity cut-offs.
type Thresholds struct {
	ExactMatch float64 // Mode-1 floor (default 0.92)
	Contextual float64 // Mode-2 floor (default 0.80)
}

// Router decides the response mode for a reformulated question.
type Router struct {
	gateway    llm.Gateway
	prompts    agent.PromptLoader
	claims     ClaimSearcher
	decisions  DecisionLog
	embedder   embedding.Service
	bus        events.Publisher
	thresholds Thresholds
	timeout    time.Duration
}

// New creates a Router.
func New(gateway llm.Gateway, prompts agent.PromptLoader, claims ClaimSearcher, decisions DecisionLog, embedder embedding.Service, bus events.Publisher, thresholds Thresholds, timeout time.Duration) *Router {
	if thresholds.ExactMatch == 0 {
		thresholds.ExactMatch = 0.92
	}
	if thresholds.Contextual == 0 {
		thresholds.Contextual = 0.80
	}
	return &Router{
		gateway:    gateway,
		prompts:    prompts,
		claims:     claims,
		decisions:  decisions,
		embedder:   embedder,
		bus:        bus,
		thresholds: thresholds,
		timeout:    timeout,
	}
}

// Decision is the router's outcome handed to the chat surface.
type Decision struct {
	Mode        models.RoutingMode
	Card        *models.ClaimCard   // EXACT_MATCH
	Synthesis   string              // CONTEXTUAL
	SourceCards []*models.ClaimCard // CONTEXTUAL
	// ReservedClaimText carries the claim the pipeline should audit for
	// NOVEL_CLAIM decisions.
	ReservedClaimText string
	DecisionID        string
	Fallback          bool
}

// finalVerdict is the router LLM's closing JSON message.
type finalVerdict struct {
	Mode      string   `json:"mode"`
	ClaimID   string   `json:"claim_id"`
	ClaimIDs  []string `json:"claim_ids"`
	Synthesis string   `json:"synthesis"`
	Reasoning string   `json:"reasoning"`
}

// toolState accumulates what the tool loop observed.
type toolState struct {
	candidates      []models.CandidateSummary
	bestSimilarity  float64
	detailsCalled   int
	generateCalled  bool
	reservedClaim   string
	reservationToken string
	searchInvoked   bool
}

// Route classifies the question. The router LLM failing (or a cited card
// failing to resolve) degrades to NOVEL_CLAIM with a router_fallback event —
// the user always gets an answer path.
func (r *Router) Route(ctx context.Context, sessionID, originalQuestion, reformulated string, history []models.ChatMessage) (*Decision, error) {
	logger := slog.With("session_id", sessionID)
	start := time.Now()
	r.publish(events.New(events.EventRoutingStarted, sessionID), sessionID)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	state := &toolState{}
	transcript, llmErr := r.runToolLoop(ctx, reformulated, state)

	var decision *Decision
	var reasoning string
	if llmErr != nil {
		logger.Warn("Router LLM failed, falling back to NOVEL_CLAIM", "error", llmErr)
		r.publish(events.New(events.EventRouterFallback, sessionID), sessionID)
		decision = &Decision{
			Mode:              models.ModeNovelClaim,
			ReservedClaimText: reformulated,
			Fallback:          true,
		}
		reasoning = fmt.Sprintf("router fallback: %v", llmErr)
	} else {
		var verdict finalVerdict
		if err := llm.ExtractJSONInto(transcript.FinalText, &verdict); err != nil {
			verdict = finalVerdict{Reasoning: transcript.FinalText}
		}
		reasoning = verdict.Reasoning
		decision = r.decide(ctx, sessionID, reformulated, state, verdict, logger)
	}

	elapsed := time.Since(start)
	decisionID := r.persistDecision(ctx, originalQuestion, reformulated, history, state, decision, reasoning, elapsed, logger)
	decision.DecisionID = decisionID

	r.publish(events.NewRoutingCompleted(sessionID, decision.Mode, elapsed), sessionID)
	logger.Info("Routing completed",
		"mode", decision.Mode,
		"best_similarity", state.bestSimilarity,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return decision, nil
}

// decide applies the mode selection rule after the tool loop terminates.
func (r *Router) decide(ctx context.Context, sessionID, reformulated string, state *toolState, verdict finalVerdict, logger *slog.Logger) *Decision {
	// An explicit reservation always wins.
	if state.generateCalled {
		claimText := state.reservedClaim
		if claimText == "" {
			claimText = reformulated
		}
		return &Decision{Mode: models.ModeNovelClaim, ReservedClaimText: claimText}
	}

	// A synthesis composed from inspected cards is CONTEXTUAL regardless of
	// raw similarity.
	if state.detailsCalled > 0 && verdict.Synthesis != "" {
		return r.contextualDecision(ctx, state, verdict)
	}

	switch {
	case state.bestSimilarity >= r.thresholds.ExactMatch:
		cardID := verdict.ClaimID
		if cardID == "" && len(state.candidates) > 0 {
			cardID = state.candidates[0].ClaimCardID
		}
		card, err := r.claims.ByID(ctx, cardID)
		if err != nil {
			// Mode-1 resolution failure falls forward to Mode 3.
			logger.Warn("EXACT_MATCH card failed to resolve, falling forward",
				"claim_card_id", cardID, "error", err)
			r.publish(events.New(events.EventRouterFallback, sessionID), sessionID)
			return &Decision{
				Mode:              models.ModeNovelClaim,
				ReservedClaimText: reformulated,
				Fallback:          true,
			}
		}
		return &Decision{Mode: models.ModeExactMatch, Card: card}

	case state.bestSimilarity >= r.thresholds.Contextual:
		return r.contextualDecision(ctx, state, verdict)

	default:
		return &Decision{Mode: models.ModeNovelClaim, ReservedClaimText: reformulated}
	}
}

// contextualDecision builds the Mode-2 response. When the LLM composed a
// synthesis without explicitly citing cards, the top three candidates are
// attached as source cards.
func (r *Router) contextualDecision(ctx context.Context, state *toolState, verdict finalVerdict) *Decision {
	ids := verdict.ClaimIDs
	if len(ids) == 0 && verdict.ClaimID != "" {
		ids = []string{verdict.ClaimID}
	}
	if len(ids) == 0 {
		for i, c := range state.candidates {
			if i == 3 {
				break
			}
			ids = append(ids, c.ClaimCardID)
		}
	}

	var cards []*models.ClaimCard
	for _, id := range ids {
		card, err := r.claims.ByID(ctx, id)
		if err != nil {
			slog.Warn("Contextual source card failed to resolve", "claim_card_id", id, "error", err)
			continue
		}
		cards = append(cards, card)
	}

	synthesis := verdict.Synthesis
	if synthesis == "" {
		synthesis = verdict.Reasoning
	}
	return &Decision{
		Mode:        models.ModeContextual,
		Synthesis:   synthesis,
		SourceCards: cards,
	}
}

// persistDecision writes the routing log entry. Best-effort: a log write
// failure never blocks the response.
func (r *Router) persistDecision(ctx context.Context, originalQuestion, reformulated string, history []models.ChatMessage, state *toolState, decision *Decision, reasoning string, elapsed time.Duration, logger *slog.Logger) string {
	var referenced []string
	switch decision.Mode {
	case models.ModeExactMatch:
		if decision.Card != nil {
			referenced = []string{decision.Card.ID}
		}
	case models.ModeContextual:
		for _, card := range decision.SourceCards {
			referenced = append(referenced, card.ID)
		}
	}

	candidates := state.candidates
	if candidates == nil {
		candidates = []models.CandidateSummary{}
	}

	stored, err := r.decisions.Insert(ctx, &models.RouterDecision{
		OriginalQuestion:     originalQuestion,
		ReformulatedQuestion: reformulated,
		RecentHistory:        history,
		ModeSelected:         decision.Mode,
		ClaimCardsReferenced: referenced,
		SearchCandidates:     candidates,
		ReasoningExcerpt:     reasoning,
		ElapsedMs:            int(elapsed.Milliseconds()),
	})
	if err != nil {
		logger.Warn("Failed to persist router decision", "error", err)
		return ""
	}
	return stored.ID
}

func (r *Router) publish(event events.Event, sessionID string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(sessionID, event)
}

// --- Tool loop ---

// runToolLoop loads the router prompt (on every invocation — the row is
// hot-editable) and drives the gateway tool loop over the three router tools.
func (r *Router) runToolLoop(ctx context.Context, reformulated string, state *toolState) (*llm.Transcript, error) {
	prompt, err := r.prompts.Get(ctx, agent.RoleRouter)
	if err != nil {
		return nil, fmt.Errorf("failed to load router prompt: %w", err)
	}
	cfg := llm.CallConfig{
		Provider:     prompt.Provider,
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		MaxTokens:    prompt.MaxTokens,
		SystemPrompt: prompt.SystemPrompt,
	}

	userPrompt := fmt.Sprintf("Route this question: %s", reformulated)
	return r.gateway.CompleteWithTools(ctx, cfg, userPrompt, r.toolSpecs(), r.resolver(state))
}

func (r *Router) toolSpecs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "search_existing_claims",
			Description: "Semantic search over already-audited claims. Always call this first.",
			ParametersSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer", "default": 5},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "get_claim_details",
			Description: "Fetch the full claim card for one candidate id.",
			ParametersSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"claim_id": map[string]any{"type": "string"},
				},
				"required": []string{"claim_id"},
			},
		},
		{
			Name:        "generate_new_claim",
			Description: "Reserve a full audit pipeline run for a genuinely new claim.",
			ParametersSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"claim_text": map[string]any{"type": "string"},
				},
				"required": []string{"claim_text"},
			},
		},
	}
}

func (r *Router) resolver(state *toolState) llm.ToolResolver {
	return func(ctx context.Context, call llm.ToolCall) (string, error) {
		switch call.Name {
		case "search_existing_claims":
			return r.resolveSearch(ctx, call.Arguments, state)
		case "get_claim_details":
			return r.resolveDetails(ctx, call.Arguments, state)
		case "generate_new_claim":
			return r.resolveGenerate(call.Arguments, state)
		default:
			return "", fmt.Errorf("unknown tool %q", call.Name)
		}
	}
}

func (r *Router) resolveSearch(ctx context.Context, arguments string, state *toolState) (string, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid search arguments: %w", err)
	}
	if args.Limit <= 0 || args.Limit > 10 {
		args.Limit = 5
	}
	state.searchInvoked = true

	vec, err := r.embedder.Embed(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("failed to embed query: %w", err)
	}
	matches, err := r.claims.SearchByEmbedding(ctx, vec, 0, args.Limit)
	if err != nil {
		return "", fmt.Errorf("claim search failed: %w", err)
	}

	type candidate struct {
		ID                string  `json:"id"`
		Text              string  `json:"text"`
		ShortAnswer       string  `json:"short_answer"`
		Similarity        float64 `json:"similarity"`
		Verdict           string  `json:"verdict"`
		ClaimTypeCategory string  `json:"claim_type_category"`
	}
	out := make([]candidate, 0, len(matches))
	for _, m := range matches {
		out = append(out, candidate{
			ID:                m.Card.ID,
			Text:              m.Card.ClaimText,
			ShortAnswer:       m.Card.ShortAnswer,
			Similarity:        m.Similarity,
			Verdict:           string(m.Card.Verdict),
			ClaimTypeCategory: string(m.Card.ClaimTypeCategory),
		})
		state.candidates = append(state.candidates, models.CandidateSummary{
			ClaimCardID: m.Card.ID,
			ClaimText:   m.Card.ClaimText,
			Similarity:  m.Similarity,
			Verdict:     m.Card.Verdict,
		})
		if m.Similarity > state.bestSimilarity {
			state.bestSimilarity = m.Similarity
		}
	}

	payload, err := json.Marshal(map[string]any{"candidates": out})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (r *Router) resolveDetails(ctx context.Context, arguments string, state *toolState) (string, error) {
	var args struct {
		ClaimID string `json:"claim_id"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid details arguments: %w", err)
	}
	state.detailsCalled++

	card, err := r.claims.ByID(ctx, args.ClaimID)
	if err != nil {
		return `{"error": "not found"}`, nil
	}
	payload, err := json.Marshal(card)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (r *Router) resolveGenerate(arguments string, state *toolState) (string, error) {
	var args struct {
		ClaimText string `json:"claim_text"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid generate arguments: %w", err)
	}
	state.generateCalled = true
	state.reservedClaim = args.ClaimText
	state.reservationToken = uuid.New().String()

	payload, err := json.Marshal(map[string]string{"reservation_token": state.reservationToken})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
