package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
	"github.com/EckmanTechLLC/thereceipts/pkg/router"
)

// Reformulator rewrites follow-up questions. Satisfied by
// contextanalyzer.Analyzer.
type Reformulator interface {
	Reformulate(ctx context.Context, sessionID, question string, history []models.ChatMessage) (string, error)
}

// QuestionRouter picks the response mode. Satisfied by router.Router.
type QuestionRouter interface {
	Route(ctx context.Context, sessionID, originalQuestion, reformulated string, history []models.ChatMessage) (*router.Decision, error)
}

// AuditPipeline runs one full claim audit. Satisfied by
// pipeline.Orchestrator.
type AuditPipeline interface {
	Run(ctx context.Context, execCtx *agent.ExecutionContext, question string) (*models.ClaimCard, error)
}

// handleAsk answers one question in one of the three modes. NOVEL_CLAIM
// starts the pipeline in the background and returns a streaming handle.
func (s *Server) handleAsk(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		badRequest(c, "question is required")
		return
	}
	if len(question) > maxQuestionLength {
		badRequest(c, "question exceeds maximum length")
		return
	}
	for _, msg := range req.ConversationHistory {
		if msg.Role != "user" && msg.Role != "assistant" {
			badRequest(c, "conversation_history roles must be user or assistant")
			return
		}
	}

	sessionID := uuid.New().String()
	ctx := c.Request.Context()

	reformulated, err := s.deps.Analyzer.Reformulate(ctx, sessionID, question, req.ConversationHistory)
	if err != nil {
		respondError(c, err)
		return
	}

	decision, err := s.deps.Router.Route(ctx, sessionID, question, reformulated, req.ConversationHistory)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := AskResponse{
		Mode:              decision.Mode,
		RoutingDecisionID: decision.DecisionID,
	}

	switch decision.Mode {
	case models.ModeExactMatch:
		resp.Response = ExactMatchPayload{
			Type:      "exact_match",
			ClaimCard: decision.Card,
		}

	case models.ModeContextual:
		cards := decision.SourceCards
		if cards == nil {
			cards = []*models.ClaimCard{}
		}
		resp.Response = ContextualPayload{
			Type:                "contextual",
			SynthesizedResponse: decision.Synthesis,
			SourceCards:         cards,
		}

	case models.ModeNovelClaim:
		claimQuestion := decision.ReservedClaimText
		if claimQuestion == "" {
			claimQuestion = reformulated
		}
		resp.WebsocketSessionID = sessionID
		resp.Response = GeneratingPayload{
			Type:                   "generating",
			PipelineStatus:         "started",
			WebsocketSessionID:     sessionID,
			ContextualizedQuestion: reformulated,
		}

		// The pipeline outlives this request; progress streams over the
		// session channel. Background context — cancellation is the
		// websocket consumer's concern, not the HTTP request's.
		execCtx := s.deps.ExecCtx
		execCtx.SessionID = sessionID
		go func() {
			_, _ = s.deps.Pipeline.Run(context.Background(), &execCtx, claimQuestion)
		}()
	}

	c.JSON(http.StatusOK, resp)
}
