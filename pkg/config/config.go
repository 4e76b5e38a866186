// Package config loads the process configuration from environment variables.
// Agent prompts are intentionally NOT here: they are hot-editable database
// rows re-read on every agent invocation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	HTTPPort string

	LLM        LLMConfig
	Embedding  EmbeddingConfig
	External   ExternalAPIConfig
	Thresholds Thresholds
	Timeouts   Timeouts
	Scheduler  SchedulerConfig
}

// LLMConfig holds provider credentials and the default provider/model used
// when seeding agent prompt rows.
type LLMConfig struct {
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string

	DefaultProvider string
	DefaultModel    string
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ExternalAPIConfig holds keys and endpoints for the source verification
// tiers. Each is optional; an absent key forces the tier walk to fall
// through to the next tier.
type ExternalAPIConfig struct {
	GoogleBooksAPIKey      string
	GoogleBooksBaseURL     string
	SemanticScholarBaseURL string
	ArxivBaseURL           string
	PubmedBaseURL          string
	PerseusBaseURL         string
	CCELBaseURL            string
	TavilyAPIKey           string
	TavilyBaseURL          string
}

// Thresholds are the similarity cut-offs used across routing, source reuse,
// and deduplication.
type Thresholds struct {
	// ExactMatch is the router's Mode-1 floor.
	ExactMatch float64
	// Contextual is the router's Mode-2 floor.
	Contextual float64
	// LibraryReuse gates Tier-0 verified source reuse.
	LibraryReuse float64
	// SuggestDedup gates auto-suggested topics against existing cards.
	SuggestDedup float64
	// DecomposeDedup gates component claims against existing cards.
	DecomposeDedup float64
	// QuoteOverlap is the adversarial checker's word-overlap floor.
	QuoteOverlap float64
}

// Timeouts are the policy defaults; expiry triggers cancellation, never a
// silent retry.
type Timeouts struct {
	Agent    time.Duration
	Pipeline time.Duration
	Router   time.Duration
}

// SchedulerConfig drives the daily article generation run.
type SchedulerConfig struct {
	Enabled       bool
	RunAtHour     int
	RunAtMinute   int
	PostsPerDay   int
	MaxConcurrent int
}

// Load reads configuration from the environment with policy defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		LLM: LLMConfig{
			AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "anthropic"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "claude-sonnet-4-5"),
		},
		Embedding: EmbeddingConfig{
			BaseURL: getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  os.Getenv("EMBEDDING_API_KEY"),
			Model:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		External: ExternalAPIConfig{
			GoogleBooksAPIKey:      os.Getenv("GOOGLE_BOOKS_API_KEY"),
			GoogleBooksBaseURL:     getEnv("GOOGLE_BOOKS_BASE_URL", "https://www.googleapis.com/books/v1"),
			SemanticScholarBaseURL: getEnv("SEMANTIC_SCHOLAR_BASE_URL", "https://api.semanticscholar.org/graph/v1"),
			ArxivBaseURL:           getEnv("ARXIV_BASE_URL", "http://export.arxiv.org/api"),
			PubmedBaseURL:          getEnv("PUBMED_BASE_URL", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"),
			PerseusBaseURL:         getEnv("PERSEUS_BASE_URL", "https://www.perseus.tufts.edu/hopper"),
			CCELBaseURL:            getEnv("CCEL_BASE_URL", "https://ccel.org"),
			TavilyAPIKey:           os.Getenv("TAVILY_API_KEY"),
			TavilyBaseURL:          getEnv("TAVILY_BASE_URL", "https://api.tavily.com"),
		},
		Thresholds: DefaultThresholds(),
		Timeouts:   DefaultTimeouts(),
	}

	var err error
	if cfg.Thresholds.ExactMatch, err = getFloat("THRESHOLD_EXACT_MATCH", cfg.Thresholds.ExactMatch); err != nil {
		return nil, err
	}
	if cfg.Thresholds.Contextual, err = getFloat("THRESHOLD_CONTEXTUAL", cfg.Thresholds.Contextual); err != nil {
		return nil, err
	}
	if cfg.Thresholds.LibraryReuse, err = getFloat("THRESHOLD_LIBRARY_REUSE", cfg.Thresholds.LibraryReuse); err != nil {
		return nil, err
	}
	if cfg.Thresholds.SuggestDedup, err = getFloat("THRESHOLD_SUGGEST_DEDUP", cfg.Thresholds.SuggestDedup); err != nil {
		return nil, err
	}
	if cfg.Thresholds.DecomposeDedup, err = getFloat("THRESHOLD_DECOMPOSE_DEDUP", cfg.Thresholds.DecomposeDedup); err != nil {
		return nil, err
	}

	if cfg.Timeouts.Agent, err = getDuration("TIMEOUT_AGENT", cfg.Timeouts.Agent); err != nil {
		return nil, err
	}
	if cfg.Timeouts.Pipeline, err = getDuration("TIMEOUT_PIPELINE", cfg.Timeouts.Pipeline); err != nil {
		return nil, err
	}
	if cfg.Timeouts.Router, err = getDuration("TIMEOUT_ROUTER", cfg.Timeouts.Router); err != nil {
		return nil, err
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:       getEnv("SCHEDULER_ENABLED", "true") == "true",
		RunAtHour:     getIntOrDefault("SCHEDULER_RUN_AT_HOUR", 6),
		RunAtMinute:   getIntOrDefault("SCHEDULER_RUN_AT_MINUTE", 0),
		PostsPerDay:   getIntOrDefault("SCHEDULER_POSTS_PER_DAY", 3),
		MaxConcurrent: getIntOrDefault("SCHEDULER_MAX_CONCURRENT", 2),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultThresholds returns the similarity policy defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ExactMatch:     0.92,
		Contextual:     0.80,
		LibraryReuse:   0.85,
		SuggestDedup:   0.85,
		DecomposeDedup: 0.92,
		QuoteOverlap:   0.6,
	}
}

// DefaultTimeouts returns the policy defaults: per-agent 60s, full pipeline
// 180s, router 15s.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Agent:    60 * time.Second,
		Pipeline: 180 * time.Second,
		Router:   15 * time.Second,
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Thresholds.Contextual >= c.Thresholds.ExactMatch {
		return fmt.Errorf("THRESHOLD_CONTEXTUAL (%v) must be below THRESHOLD_EXACT_MATCH (%v)",
			c.Thresholds.Contextual, c.Thresholds.ExactMatch)
	}
	if c.Scheduler.RunAtHour < 0 || c.Scheduler.RunAtHour > 23 {
		return fmt.Errorf("SCHEDULER_RUN_AT_HOUR must be 0-23")
	}
	if c.Scheduler.RunAtMinute < 0 || c.Scheduler.RunAtMinute > 59 {
		return fmt.Errorf("SCHEDULER_RUN_AT_MINUTE must be 0-59")
	}
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("SCHEDULER_MAX_CONCURRENT must be at least 1")
	}
	switch c.LLM.DefaultProvider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("LLM_DEFAULT_PROVIDER must be anthropic or openai, got %q", c.LLM.DefaultProvider)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
