// Package sourceverify walks the six-tier external source verification
// ladder: library reuse, book catalog, academic catalogs, ancient text
// corpora, web search, and finally LLM training memory. A tier either
// produces a verified record or reports "not applicable", which advances the
// walk; exhausting every tier yields an unverified record, never an error.
package sourceverify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/EckmanTechLLC/thereceipts/pkg/embedding"
	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// errNotApplicable signals that a tier cannot serve the desired source and
// the walk should advance.
var errNotApplicable = errors.New("tier not applicable")

// Domain tells the walk which tier matches the desired source's nature.
type Domain string

const (
	DomainBook    Domain = "book"
	DomainPaper   Domain = "paper"
	DomainAncient Domain = "ancient"
	DomainWeb     Domain = "web"
)

// DesiredSource describes what the Source Checker wants verified.
type DesiredSource struct {
	Title      string
	Author     string
	Identifier string // ISBN, DOI, arXiv id — optional
	Domain     Domain
	SourceType models.SourceType

	// ClaimText and ClaimKeywords anchor quote selection to the claim
	// being audited.
	ClaimText     string
	ClaimKeywords string
}

// VerifiedRecord is a tier's output: citation fields for the claim's Source
// row plus bibliographic metadata for the verified source library.
type VerifiedRecord struct {
	Citation    string
	URL         string
	QuoteText   string
	Method      models.VerificationMethod
	Status      models.VerificationStatus
	ContentType models.ContentType
	URLVerified bool

	// Library metadata (empty for the LLM fallback).
	Title         string
	Author        string
	Publisher     string
	PublishedDate string
	Identifier    string
}

// tier is one rung of the verification ladder.
type tier interface {
	name() string
	domain() Domain
	verify(ctx context.Context, desired DesiredSource) (*VerifiedRecord, error)
}

// PromptLoader loads the hot-editable LLM configuration for the verifier's
// own judgment calls. Satisfied by store.PromptStore.
type PromptLoader interface {
	Get(ctx context.Context, agentName string) (*models.AgentPrompt, error)
}

// Library is the verified source catalog. Satisfied by
// store.VerifiedSourceLibrary.
type Library interface {
	SearchByEmbedding(ctx context.Context, vec []float32, threshold float64, limit int) ([]models.VerifiedSourceMatch, error)
	Upsert(ctx context.Context, src *models.VerifiedSource) (*models.VerifiedSource, error)
}

// VerifierPromptName is the agent_prompts row holding the LLM configuration
// for relevance judgments and fresh-quote generation.
const VerifierPromptName = "source_verifier"

// Config wires the service.
type Config struct {
	Gateway  llm.Gateway
	Prompts  PromptLoader
	Library  Library
	Embedder embedding.Service

	GoogleBooksAPIKey      string
	GoogleBooksBaseURL     string
	SemanticScholarBaseURL string
	ArxivBaseURL           string
	PubmedBaseURL          string
	PerseusBaseURL         string
	CCELBaseURL            string
	TavilyAPIKey           string
	TavilyBaseURL          string

	// LibraryReuseThreshold gates Tier-0 semantic matches (default 0.85).
	LibraryReuseThreshold float64
	// QuoteOverlapThreshold is the reverification word-overlap floor
	// (default 0.6).
	QuoteOverlapThreshold float64

	// HTTPClient overrides the transport for all tier clients; nil uses a
	// 20-second-timeout default.
	HTTPClient *http.Client
}

// Service walks the tiers and maintains the verified source library.
type Service struct {
	tiers            []tier
	library          Library
	gateway          llm.Gateway
	prompts          PromptLoader
	httpClient       *http.Client
	overlapThreshold float64
}

// NewService builds the tier ladder from the config. Tiers whose backing API
// is unconfigured still appear in the walk but report "not applicable".
func NewService(cfg Config) *Service {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	reuseThreshold := cfg.LibraryReuseThreshold
	if reuseThreshold == 0 {
		reuseThreshold = 0.85
	}
	overlapThreshold := cfg.QuoteOverlapThreshold
	if overlapThreshold == 0 {
		overlapThreshold = 0.6
	}

	tiers := []tier{
		&libraryTier{
			library:   cfg.Library,
			embedder:  cfg.Embedder,
			gateway:   cfg.Gateway,
			prompts:   cfg.Prompts,
			threshold: reuseThreshold,
		},
		&booksTier{baseURL: cfg.GoogleBooksBaseURL, apiKey: cfg.GoogleBooksAPIKey, client: httpClient},
		&academicTier{
			semanticScholarBaseURL: cfg.SemanticScholarBaseURL,
			arxivBaseURL:           cfg.ArxivBaseURL,
			pubmedBaseURL:          cfg.PubmedBaseURL,
			client:                 httpClient,
		},
		&ancientTier{perseusBaseURL: cfg.PerseusBaseURL, ccelBaseURL: cfg.CCELBaseURL, client: httpClient},
		&webTier{baseURL: cfg.TavilyBaseURL, apiKey: cfg.TavilyAPIKey, client: httpClient},
		&llmFallbackTier{gateway: cfg.Gateway, prompts: cfg.Prompts},
	}

	return &Service{
		tiers:            tiers,
		library:          cfg.Library,
		gateway:          cfg.Gateway,
		prompts:          cfg.Prompts,
		httpClient:       httpClient,
		overlapThreshold: overlapThreshold,
	}
}

// Verify walks the ladder for one desired source. The library tier always
// runs first; after it, the walk starts at the first tier matching the
// source's domain and falls through on any failure. When every tier fails,
// the LLM fallback included, Verify returns an unverified record with no URL,
// so it returns an error only on context cancellation.
func (s *Service) Verify(ctx context.Context, desired DesiredSource) (*VerifiedRecord, error) {
	for _, t := range s.tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !tierEligible(t, desired.Domain) {
			continue
		}

		record, err := t.verify(ctx, desired)
		if err != nil {
			if !errors.Is(err, errNotApplicable) {
				slog.Warn("Source verification tier failed, falling through",
					"tier", t.name(), "title", desired.Title, "error", err)
			}
			continue
		}

		s.addToLibrary(ctx, record, desired)
		return record, nil
	}

	// Every tier failed, the LLM fallback included: the source stands as an
	// unverified citation built from the request itself, with no URL.
	slog.Warn("All verification tiers failed, recording source as unverified",
		"title", desired.Title)
	return &VerifiedRecord{
		Citation:    formatBookCitation(desired.Title, desired.Author, "", ""),
		Method:      models.MethodLLMUnverified,
		Status:      models.StatusUnverified,
		ContentType: models.ContentUnverified,
		Title:       desired.Title,
		Author:      desired.Author,
	}, nil
}

// tierEligible reports whether a tier participates in the walk for a domain.
// The library tier and the two universal fallbacks (web, llm) always do; the
// catalog tiers only serve their own domain.
func tierEligible(t tier, d Domain) bool {
	switch t.domain() {
	case "", DomainWeb:
		return true
	default:
		return t.domain() == d
	}
}

// addToLibrary upserts a verified record into the verified source library.
// Reused and unverified records are skipped: the former is already there and
// the latter has nothing verified to store.
func (s *Service) addToLibrary(ctx context.Context, record *VerifiedRecord, desired DesiredSource) {
	if s.library == nil {
		return
	}
	if record.Method == models.MethodLibraryReuse || record.Method == models.MethodLLMUnverified {
		return
	}
	if record.Status == models.StatusUnverified {
		return
	}

	_, err := s.library.Upsert(ctx, &models.VerifiedSource{
		Title:              record.Title,
		Author:             record.Author,
		Publisher:          record.Publisher,
		PublishedDate:      record.PublishedDate,
		Identifier:         record.Identifier,
		URL:                record.URL,
		SourceType:         desired.SourceType,
		VerificationMethod: record.Method,
	})
	if err != nil {
		slog.Warn("Failed to add verified source to library",
			"title", record.Title, "error", err)
	}
}

// verifierConfig loads the source_verifier prompt row as a gateway call
// config.
func verifierConfig(ctx context.Context, prompts PromptLoader) (llm.CallConfig, error) {
	prompt, err := prompts.Get(ctx, VerifierPromptName)
	if err != nil {
		return llm.CallConfig{}, fmt.Errorf("failed to load %s prompt: %w", VerifierPromptName, err)
	}
	return llm.CallConfig{
		Provider:     prompt.Provider,
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		MaxTokens:    prompt.MaxTokens,
		SystemPrompt: prompt.SystemPrompt,
	}, nil
}
