// thereceipts server - audits factual claims through a multi-agent pipeline
// and serves them over an HTTP/WebSocket API.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/api"
	"github.com/EckmanTechLLC/thereceipts/pkg/config"
	"github.com/EckmanTechLLC/thereceipts/pkg/contextanalyzer"
	"github.com/EckmanTechLLC/thereceipts/pkg/database"
	"github.com/EckmanTechLLC/thereceipts/pkg/embedding"
	"github.com/EckmanTechLLC/thereceipts/pkg/events"
	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/pipeline"
	"github.com/EckmanTechLLC/thereceipts/pkg/router"
	"github.com/EckmanTechLLC/thereceipts/pkg/scheduler"
	"github.com/EckmanTechLLC/thereceipts/pkg/sourceverify"
	"github.com/EckmanTechLLC/thereceipts/pkg/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	gin.SetMode(getEnv("GIN_MODE", "debug"))

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("✓ Connected to PostgreSQL database")

	// Embeddings and LLM gateway
	embedder := embedding.NewClient(embedding.Config{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
	})
	gateway := llm.NewClient(map[string]llm.Provider{
		"anthropic": llm.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey, cfg.LLM.AnthropicBaseURL),
		"openai":    llm.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL),
	})

	// Stores
	pool := dbClient.Pool()
	claims := store.NewClaimStore(pool, embedder)
	library := store.NewVerifiedSourceLibrary(pool, embedder)
	decisions := store.NewRouterDecisionStore(pool)
	topics := store.NewTopicStore(pool)
	blogs := store.NewBlogPostStore(pool)
	prompts := store.NewPromptStore(pool)

	// Seed default agent prompts for a fresh database; operator edits win.
	if err := prompts.SeedDefaults(ctx, agent.DefaultPrompts(cfg.LLM.DefaultProvider, cfg.LLM.DefaultModel)); err != nil {
		log.Fatalf("Failed to seed agent prompts: %v", err)
	}
	log.Println("✓ Agent prompts seeded")

	// Source verification
	verifier := sourceverify.NewService(sourceverify.Config{
		Gateway:                gateway,
		Prompts:                prompts,
		Library:                library,
		Embedder:               embedder,
		GoogleBooksAPIKey:      cfg.External.GoogleBooksAPIKey,
		GoogleBooksBaseURL:     cfg.External.GoogleBooksBaseURL,
		SemanticScholarBaseURL: cfg.External.SemanticScholarBaseURL,
		ArxivBaseURL:           cfg.External.ArxivBaseURL,
		PubmedBaseURL:          cfg.External.PubmedBaseURL,
		PerseusBaseURL:         cfg.External.PerseusBaseURL,
		CCELBaseURL:            cfg.External.CCELBaseURL,
		TavilyAPIKey:           cfg.External.TavilyAPIKey,
		TavilyBaseURL:          cfg.External.TavilyBaseURL,
		LibraryReuseThreshold:  cfg.Thresholds.LibraryReuse,
		QuoteOverlapThreshold:  cfg.Thresholds.QuoteOverlap,
	})

	// Progress bus and pipeline
	bus := events.NewBus()
	orchestrator := pipeline.New(cfg.Timeouts)
	execCtx := agent.ExecutionContext{
		Prompts:   prompts,
		Gateway:   gateway,
		Publisher: bus,
		Verifier:  verifier,
		Claims:    claims,
	}

	// Router and context analyzer
	questionRouter := router.New(gateway, prompts, claims, decisions, embedder, bus,
		router.Thresholds{
			ExactMatch: cfg.Thresholds.ExactMatch,
			Contextual: cfg.Thresholds.Contextual,
		}, cfg.Timeouts.Router)
	analyzer := contextanalyzer.New(gateway, prompts, bus)

	// Scheduler and auto-suggest
	generator := scheduler.NewGenerator(gateway, prompts, claims, embedder,
		orchestrator, blogs, execCtx, cfg.Thresholds.DecomposeDedup)
	sched := scheduler.New(topics, generator, scheduler.Config{
		RunAtHour:     cfg.Scheduler.RunAtHour,
		RunAtMinute:   cfg.Scheduler.RunAtMinute,
		PostsPerDay:   cfg.Scheduler.PostsPerDay,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
	})
	if cfg.Scheduler.Enabled {
		go sched.Start(ctx)
		log.Println("✓ Scheduler started")
	}
	suggester := scheduler.NewSuggester(gateway, prompts, claims, embedder, topics,
		cfg.External.TavilyBaseURL, cfg.External.TavilyAPIKey,
		cfg.Thresholds.SuggestDedup, &http.Client{Timeout: 20 * time.Second})

	// HTTP surface
	server := api.NewServer(api.Deps{
		Analyzer:  analyzer,
		Router:    questionRouter,
		Pipeline:  orchestrator,
		ExecCtx:   execCtx,
		Claims:    claims,
		Topics:    topics,
		Blogs:     blogs,
		Decisions: decisions,
		Prompts:   prompts,
		Scheduler: sched,
		Suggester: suggester,
		Bus:       bus,
		Pool:      pool,
		DB:        dbClient.DB(),
	})

	log.Printf("HTTP server listening on :%s", cfg.HTTPPort)
	if err := server.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
