// Package store persists claim cards, sources, tags, verified sources, router
// decisions, topics, blog posts, and agent prompts in PostgreSQL. All writes
// go through transactions; vector similarity uses pgvector cosine distance
// with the same L2 normalization the embedding service produces.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EckmanTechLLC/thereceipts/pkg/embedding"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

const (
	tagKindApologetics = "APOLOGETICS"
	tagKindCategory    = "CATEGORY"
)

// ClaimStore manages claim cards with their sources and tag links.
type ClaimStore struct {
	pool     *pgxpool.Pool
	embedder embedding.Service
}

// NewClaimStore creates a ClaimStore.
func NewClaimStore(pool *pgxpool.Pool, embedder embedding.Service) *ClaimStore {
	return &ClaimStore{pool: pool, embedder: embedder}
}

// Insert persists the card, its sources, and tag links atomically. The
// embedding is computed from claim_text before the transaction opens.
// Returns the stored card with id and timestamps populated.
func (s *ClaimStore) Insert(ctx context.Context, card *models.ClaimCard) (*models.ClaimCard, error) {
	if strings.TrimSpace(card.ClaimText) == "" {
		return nil, NewValidationError("claim_text", "required")
	}
	if card.ShortAnswer == "" {
		return nil, NewValidationError("short_answer", "required")
	}
	if !card.Verdict.IsValid() {
		return nil, NewValidationError("verdict", fmt.Sprintf("unknown verdict %q", card.Verdict))
	}
	if !card.ConfidenceLevel.IsValid() {
		return nil, NewValidationError("confidence_level", fmt.Sprintf("unknown confidence %q", card.ConfidenceLevel))
	}
	if len(card.Sources) == 0 {
		return nil, NewValidationError("sources", "at least one source required")
	}

	vec, err := s.embedder.Embed(ctx, card.ClaimText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed claim text: %w", err)
	}

	stored := *card
	stored.ID = uuid.New().String()
	stored.Embedding = vec
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	whyPersists, err := json.Marshal(orEmptyStrings(stored.WhyPersists))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal why_persists: %w", err)
	}
	var agentAudit []byte
	if stored.AgentAudit != nil {
		agentAudit, err = json.Marshal(stored.AgentAudit)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal agent_audit: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO claim_cards (
			id, claim_text, claimant, claim_type, claim_type_category, verdict,
			short_answer, deep_answer, why_persists, confidence_level,
			confidence_explanation, agent_audit, visible_in_audits, embedding,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14::vector,$15,$16)`,
		stored.ID, stored.ClaimText, stored.Claimant, stored.ClaimType,
		nullableCategory(stored.ClaimTypeCategory), string(stored.Verdict),
		stored.ShortAnswer, stored.DeepAnswer, whyPersists, string(stored.ConfidenceLevel),
		stored.ConfidenceExplanation, agentAudit, stored.VisibleInAudits,
		embedding.VectorLiteral(vec), stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert claim card: %w", err)
	}

	for i := range stored.Sources {
		src := &stored.Sources[i]
		src.ID = uuid.New().String()
		src.ClaimCardID = stored.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO sources (
				id, claim_card_id, citation, url, quote_text, usage_context,
				source_type, verification_method, verification_status,
				content_type, url_verified
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			src.ID, src.ClaimCardID, src.Citation, src.URL, src.QuoteText,
			src.UsageContext, string(src.SourceType), string(src.VerificationMethod),
			string(src.VerificationStatus), string(src.ContentType), src.URLVerified,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert source: %w", err)
		}
	}

	if err := insertTags(ctx, tx, stored.ID, tagKindApologetics, stored.ApologeticsTags); err != nil {
		return nil, err
	}
	if err := insertTags(ctx, tx, stored.ID, tagKindCategory, stored.CategoryTags); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim card: %w", err)
	}
	return &stored, nil
}

// ByID returns the card with eager-loaded sources and tags.
func (s *ClaimStore) ByID(ctx context.Context, id string) (*models.ClaimCard, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, claim_text, claimant, claim_type, claim_type_category, verdict,
		       short_answer, deep_answer, why_persists, confidence_level,
		       confidence_explanation, agent_audit, visible_in_audits,
		       embedding::text, created_at, updated_at
		FROM claim_cards WHERE id = $1`, id)

	card, err := scanClaimCard(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load claim card: %w", err)
	}

	if err := s.loadSatellites(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// SearchByEmbedding returns up to limit cards with cosine similarity ≥
// threshold, ordered by descending similarity with ties broken by newer
// created_at.
func (s *ClaimStore) SearchByEmbedding(ctx context.Context, vec []float32, threshold float64, limit int) ([]models.ClaimMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, claim_text, claimant, claim_type, claim_type_category, verdict,
		       short_answer, deep_answer, why_persists, confidence_level,
		       confidence_explanation, agent_audit, visible_in_audits,
		       embedding::text, created_at, updated_at,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM claim_cards
		WHERE 1 - (embedding <=> $1::vector) >= $2
		ORDER BY similarity DESC, created_at DESC
		LIMIT $3`,
		embedding.VectorLiteral(vec), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search claim cards: %w", err)
	}
	defer rows.Close()

	var matches []models.ClaimMatch
	for rows.Next() {
		card, similarity, err := scanClaimCardWithSimilarity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim card: %w", err)
		}
		matches = append(matches, models.ClaimMatch{Card: card, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}

	for _, m := range matches {
		if err := s.loadSatellites(ctx, m.Card); err != nil {
			return nil, err
		}
	}
	return matches, nil
}

// ListForAudits returns a paginated listing of cards visible in audits,
// filtered by category, verdict, and claim_text substring.
func (s *ClaimStore) ListForAudits(ctx context.Context, filters models.AuditFilters) (*models.ClaimListResponse, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	where := []string{"visible_in_audits = TRUE"}
	args := []any{}
	arg := 1
	if filters.Category != "" {
		where = append(where, fmt.Sprintf("claim_type_category = $%d", arg))
		args = append(args, string(filters.Category))
		arg++
	}
	if filters.Verdict != "" {
		where = append(where, fmt.Sprintf("verdict = $%d", arg))
		args = append(args, string(filters.Verdict))
		arg++
	}
	if filters.Substring != "" {
		where = append(where, fmt.Sprintf("claim_text ILIKE $%d", arg))
		args = append(args, "%"+filters.Substring+"%")
		arg++
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM claim_cards WHERE "+whereClause, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count claim cards: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, claim_text, claimant, claim_type, claim_type_category, verdict,
		       short_answer, deep_answer, why_persists, confidence_level,
		       confidence_explanation, agent_audit, visible_in_audits,
		       embedding::text, created_at, updated_at
		FROM claim_cards WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, whereClause, arg, arg+1)
	args = append(args, limit, filters.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list claim cards: %w", err)
	}
	defer rows.Close()

	var cards []*models.ClaimCard
	for rows.Next() {
		card, err := scanClaimCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claim cards: %w", err)
	}

	for _, card := range cards {
		if err := s.loadSatellites(ctx, card); err != nil {
			return nil, err
		}
	}

	return &models.ClaimListResponse{
		Cards:      cards,
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

// UpdateClaimText mutates claim_text and regenerates the embedding inside the
// same transaction, keeping the vector consistent with the text.
func (s *ClaimStore) UpdateClaimText(ctx context.Context, id, claimText string) error {
	if strings.TrimSpace(claimText) == "" {
		return NewValidationError("claim_text", "required")
	}

	vec, err := s.embedder.Embed(ctx, claimText)
	if err != nil {
		return fmt.Errorf("failed to embed claim text: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE claim_cards
		SET claim_text = $2, embedding = $3::vector, updated_at = $4
		WHERE id = $1`,
		id, claimText, embedding.VectorLiteral(vec), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update claim text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

// --- Internal helpers ---

func insertTags(ctx context.Context, tx pgx.Tx, cardID, kind string, tags []string) error {
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO claim_card_tags (claim_card_id, tag_kind, tag)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, cardID, kind, tag)
		if err != nil {
			return fmt.Errorf("failed to insert %s tag: %w", strings.ToLower(kind), err)
		}
	}
	return nil
}

// loadSatellites eager-loads the sources and tags owned by a card.
func (s *ClaimStore) loadSatellites(ctx context.Context, card *models.ClaimCard) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, claim_card_id, citation, url, quote_text, usage_context,
		       source_type, verification_method, verification_status,
		       content_type, url_verified
		FROM sources WHERE claim_card_id = $1 ORDER BY id`, card.ID)
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}
	defer rows.Close()

	card.Sources = nil
	for rows.Next() {
		var src models.Source
		var sourceType, method, status, contentType string
		if err := rows.Scan(&src.ID, &src.ClaimCardID, &src.Citation, &src.URL,
			&src.QuoteText, &src.UsageContext, &sourceType, &method, &status,
			&contentType, &src.URLVerified); err != nil {
			return fmt.Errorf("failed to scan source: %w", err)
		}
		src.SourceType = models.SourceType(sourceType)
		src.VerificationMethod = models.VerificationMethod(method)
		src.VerificationStatus = models.VerificationStatus(status)
		src.ContentType = models.ContentType(contentType)
		card.Sources = append(card.Sources, src)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read sources: %w", err)
	}

	tagRows, err := s.pool.Query(ctx, `
		SELECT tag_kind, tag FROM claim_card_tags
		WHERE claim_card_id = $1 ORDER BY tag`, card.ID)
	if err != nil {
		return fmt.Errorf("failed to load tags: %w", err)
	}
	defer tagRows.Close()

	card.ApologeticsTags = nil
	card.CategoryTags = nil
	for tagRows.Next() {
		var kind, tag string
		if err := tagRows.Scan(&kind, &tag); err != nil {
			return fmt.Errorf("failed to scan tag: %w", err)
		}
		switch kind {
		case tagKindApologetics:
			card.ApologeticsTags = append(card.ApologeticsTags, tag)
		case tagKindCategory:
			card.CategoryTags = append(card.CategoryTags, tag)
		}
	}
	return tagRows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaimCard(row rowScanner) (*models.ClaimCard, error) {
	var card models.ClaimCard
	var category *string
	var verdict, confidence string
	var whyPersists, agentAudit []byte
	var embeddingText string

	err := row.Scan(&card.ID, &card.ClaimText, &card.Claimant, &card.ClaimType,
		&category, &verdict, &card.ShortAnswer, &card.DeepAnswer, &whyPersists,
		&confidence, &card.ConfidenceExplanation, &agentAudit,
		&card.VisibleInAudits, &embeddingText, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return finishClaimCard(&card, category, verdict, confidence, whyPersists, agentAudit, embeddingText)
}

func scanClaimCardWithSimilarity(row rowScanner) (*models.ClaimCard, float64, error) {
	var card models.ClaimCard
	var category *string
	var verdict, confidence string
	var whyPersists, agentAudit []byte
	var embeddingText string
	var similarity float64

	err := row.Scan(&card.ID, &card.ClaimText, &card.Claimant, &card.ClaimType,
		&category, &verdict, &card.ShortAnswer, &card.DeepAnswer, &whyPersists,
		&confidence, &card.ConfidenceExplanation, &agentAudit,
		&card.VisibleInAudits, &embeddingText, &card.CreatedAt, &card.UpdatedAt,
		&similarity)
	if err != nil {
		return nil, 0, err
	}
	finished, err := finishClaimCard(&card, category, verdict, confidence, whyPersists, agentAudit, embeddingText)
	return finished, similarity, err
}

func finishClaimCard(card *models.ClaimCard, category *string, verdict, confidence string, whyPersists, agentAudit []byte, embeddingText string) (*models.ClaimCard, error) {
	if category != nil {
		card.ClaimTypeCategory = models.ClaimTypeCategory(*category)
	}
	card.Verdict = models.Verdict(verdict)
	card.ConfidenceLevel = models.ConfidenceLevel(confidence)

	if len(whyPersists) > 0 {
		if err := json.Unmarshal(whyPersists, &card.WhyPersists); err != nil {
			return nil, fmt.Errorf("failed to unmarshal why_persists: %w", err)
		}
	}
	if len(agentAudit) > 0 {
		if err := json.Unmarshal(agentAudit, &card.AgentAudit); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent_audit: %w", err)
		}
	}

	vec, err := embedding.ParseVector(embeddingText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedding: %w", err)
	}
	card.Embedding = vec
	return card, nil
}

func nullableCategory(c models.ClaimTypeCategory) *string {
	if c == "" {
		return nil
	}
	s := string(c)
	return &s
}

func orEmptyStrings(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
