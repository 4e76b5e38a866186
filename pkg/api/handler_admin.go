package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
	"github.com/EckmanTechLLC/thereceipts/pkg/store"
)

// handleEnqueueTopic creates a queued topic from the admin surface.
func (s *Server) handleEnqueueTopic(c *gin.Context) {
	var req EnqueueTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	entry, err := s.deps.Topics.Enqueue(c.Request.Context(), models.EnqueueTopicRequest{
		TopicText: req.TopicText,
		Priority:  req.Priority,
		Source:    "admin",
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// handleListTopics lists topics, optionally filtered by status and review
// status. The pending-review queue is /admin/topics?review_status=PENDING_REVIEW.
func (s *Server) handleListTopics(c *gin.Context) {
	topics, err := s.deps.Topics.List(c.Request.Context(), models.TopicFilters{
		Status:       models.TopicStatus(c.Query("status")),
		ReviewStatus: models.ReviewStatus(c.Query("review_status")),
		Limit:        queryInt(c, "limit", 20),
		Offset:       queryInt(c, "offset", 0),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if topics == nil {
		topics = []*models.TopicQueueEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

// handleGetTopic serves one topic.
func (s *Server) handleGetTopic(c *gin.Context) {
	entry, err := s.deps.Topics.ByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// handleDeleteTopic removes a topic; its blog post (if any) survives with a
// nulled back-reference.
func (s *Server) handleDeleteTopic(c *gin.Context) {
	if err := s.deps.Topics.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleReviewTopic records the reviewer's decision. Approval publishes the
// blog post; rejection keeps the component claim cards visible in audits.
func (s *Server) handleReviewTopic(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	var status models.ReviewStatus
	switch strings.ToLower(req.Decision) {
	case "approve":
		status = models.ReviewApproved
	case "reject":
		status = models.ReviewRejected
	case "needs_revision":
		status = models.ReviewNeedsRevision
	default:
		badRequest(c, "decision must be approve, reject, or needs_revision")
		return
	}

	ctx := c.Request.Context()
	topicID := c.Param("id")
	entry, err := s.deps.Topics.ByID(ctx, topicID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.deps.Topics.SetReviewStatus(ctx, topicID, status); err != nil {
		respondError(c, err)
		return
	}

	if status == models.ReviewApproved && entry.BlogPostID != "" {
		if err := s.deps.Blogs.Publish(ctx, entry.BlogPostID); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"review_status": status})
}

// handleRequeueTopic returns a failed topic to the queue with reviewer
// feedback the decomposer will see.
func (s *Server) handleRequeueTopic(c *gin.Context) {
	var req RequeueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := s.deps.Topics.Requeue(c.Request.Context(), c.Param("id"), req.Feedback); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.TopicQueued})
}

// handleRunScheduler triggers an immediate scheduler pass. The run outlives
// the request, so it gets its own context.
func (s *Server) handleRunScheduler(c *gin.Context) {
	go s.deps.Scheduler.RunOnce(context.Background())
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// handleSuggest runs topic auto-suggestion for a query.
func (s *Server) handleSuggest(c *gin.Context) {
	var req SuggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(c, "query is required")
		return
	}
	enqueued, err := s.deps.Suggester.Suggest(c.Request.Context(), req.Query)
	if err != nil {
		respondError(c, err)
		return
	}
	if enqueued == nil {
		enqueued = []*models.TopicQueueEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"enqueued": enqueued})
}

// handleListDecisions serves the recent routing log.
func (s *Server) handleListDecisions(c *gin.Context) {
	decisions, err := s.deps.Decisions.ListRecent(c.Request.Context(), queryInt(c, "limit", 20))
	if err != nil {
		respondError(c, err)
		return
	}
	if decisions == nil {
		decisions = []*models.RouterDecision{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

// handleUpsertPrompt edits an agent prompt row; the next agent invocation
// picks it up.
func (s *Server) handleUpsertPrompt(c *gin.Context) {
	var req UpsertPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	prompt := &models.AgentPrompt{
		AgentName:    c.Param("agent_name"),
		Provider:     req.Provider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	}
	if err := s.deps.Prompts.Upsert(c.Request.Context(), prompt); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prompt)
}

// handleGetPrompt serves one agent prompt row.
func (s *Server) handleGetPrompt(c *gin.Context) {
	prompt, err := s.deps.Prompts.Get(c.Request.Context(), c.Param("agent_name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prompt)
}

// handleReset deletes all generated content. Agent prompts and the verified
// source library survive.
func (s *Server) handleReset(c *gin.Context) {
	if err := store.DeleteGeneratedContent(c.Request.Context(), s.deps.Pool); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
