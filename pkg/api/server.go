// Package api exposes the HTTP and websocket surface: the chat endpoint,
// the public audits and blog listings, the admin topic/review/prompt
// surface, and the per-session progress stream.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/database"
	"github.com/EckmanTechLLC/thereceipts/pkg/events"
	"github.com/EckmanTechLLC/thereceipts/pkg/scheduler"
	"github.com/EckmanTechLLC/thereceipts/pkg/store"
)

// Deps carries the collaborators the handlers consume.
type Deps struct {
	Analyzer  Reformulator
	Router    QuestionRouter
	Pipeline  AuditPipeline
	ExecCtx   agent.ExecutionContext // template; SessionID set per request
	Claims    *store.ClaimStore
	Topics    *store.TopicStore
	Blogs     *store.BlogPostStore
	Decisions *store.RouterDecisionStore
	Prompts   *store.PromptStore
	Scheduler *scheduler.Scheduler
	Suggester *scheduler.Suggester
	Bus       *events.Bus
	Pool      *pgxpool.Pool
	DB        *sql.DB
}

// Server wires the gin router.
type Server struct {
	router *gin.Engine
	deps   Deps
}

// NewServer builds the route table.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: gin.Default(),
		deps:   deps,
	}
	s.registerRoutes()
	return s
}

// Router returns the gin engine (tests drive it via httptest).
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server.
func (s *Server) Run(addr string) error { return s.router.Run(addr) }

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	// Chat surface
	s.router.POST("/chat/ask", s.handleAsk)
	s.router.GET("/ws/:session_id", s.handleWebsocket)

	// Public read surface
	s.router.GET("/audits", s.handleListAudits)
	s.router.GET("/audits/:id", s.handleGetAudit)
	s.router.GET("/blog", s.handleListPublished)
	s.router.GET("/blog/:id", s.handleGetBlogPost)

	// Admin surface
	admin := s.router.Group("/admin")
	{
		admin.POST("/topics", s.handleEnqueueTopic)
		admin.GET("/topics", s.handleListTopics)
		admin.GET("/topics/:id", s.handleGetTopic)
		admin.DELETE("/topics/:id", s.handleDeleteTopic)
		admin.POST("/topics/:id/review", s.handleReviewTopic)
		admin.POST("/topics/:id/requeue", s.handleRequeueTopic)
		admin.POST("/scheduler/run", s.handleRunScheduler)
		admin.POST("/suggest", s.handleSuggest)
		admin.GET("/decisions", s.handleListDecisions)
		admin.PUT("/prompts/:agent_name", s.handleUpsertPrompt)
		admin.GET("/prompts/:agent_name", s.handleGetPrompt)
		admin.POST("/reset", s.handleReset)
	}
}

// handleHealth reports process and database health.
func (s *Server) handleHealth(c *gin.Context) {
	reqCtx, reqCancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer reqCancel()

	dbHealth, err := database.Health(reqCtx, s.deps.DB)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}
