package store

import (
	"context"
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

// VerifiedSourceLibrary manages the long-lived catalog of verified external
// sources. Entries store bibliographic metadata, never claim-specific quotes,
// and survive pipeline failures and generated-content resets.
type VerifiedSourceLibrary struct {
	pool     *pgxpool.Pool
	embedder embedding.Service
}

// NewVerifiedSourceLibrary creates a VerifiedSourceLibrary.
func NewVerifiedSourceLibrary(pool *pgxpool.Pool, embedder embedding.Service) *VerifiedSourceLibrary {
	return &VerifiedSourceLibrary{pool: pool, embedder: embedder}
}

// NormalizeIdentifier builds the dedup key for a library entry: the explicit
// identifier (ISBN, DOI, arXiv id) when present, else a title+author slug.
func NormalizeIdentifier(identifier, title, author string) string {
	id := strings.TrimSpace(strings.ToLower(identifier))
	if id != "" {
		return strings.Map(stripSeparators, id)
	}
	slug := strings.ToLower(strings.TrimSpace(title) + "|" + strings.TrimSpace(author))
	return strings.Map(stripSeparators, slug)
}

func stripSeparators(r rune) rune {
	switch r {
	case ' ', '\t', '-', '_', ':', '.', '/':
		return -1
	}
	return r
}

// Upsert adds a verified source to the library, deduplicating on the
// normalized identifier. The topic embedding is computed from title+author.
func (l *VerifiedSourceLibrary) Upsert(ctx context.Context, src *models.VerifiedSource) (*models.VerifiedSource, error) {
	if strings.TrimSpace(src.Title) == "" {
		return nil, NewValidationError("title", "required")
	}
	src.Identifier = NormalizeIdentifier(src.Identifier, src.Title, src.Author)

	vec := src.TopicEmbedding
	if vec == nil {
		var err error
		vec, err = l.embedder.Embed(ctx, src.Title+" "+src.Author)
		if err != nil {
			return nil, fmt.Errorf("failed to embed source topic: %w", err)
		}
	}

	stored := *src
	stored.ID = uuid.New().String()
	stored.TopicEmbedding = vec
	stored.CreatedAt = time.Now()

	// On identifier conflict keep the existing row but refresh the URL if the
	// new record verified one and the old row has none.
	row := l.pool.QueryRow(ctx, `
		INSERT INTO verified_sources (
			id, title, author, publisher, published_date, identifier, url,
			source_type, verification_method, topic_embedding, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::vector,$11)
		ON CONFLICT (identifier) DO UPDATE
		SET url = CASE WHEN verified_sources.url = '' THEN EXCLUDED.url ELSE verified_sources.url END
		RETURNING id, created_at`,
		stored.ID, stored.Title, stored.Author, stored.Publisher,
		stored.PublishedDate, stored.Identifier, stored.URL,
		string(stored.SourceType), string(stored.VerificationMethod),
		embedding.VectorLiteral(vec), stored.CreatedAt,
	)
	if err := row.Scan(&stored.ID, &stored.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to upsert verified source: %w", err)
	}
	return &stored, nil
}

// SearchByEmbedding returns library entries with topic similarity ≥ threshold.
func (l *VerifiedSourceLibrary) SearchByEmbedding(ctx context.Context, vec []float32, threshold float64, limit int) ([]models.VerifiedSourceMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, title, author, publisher, published_date, identifier, url,
		       source_type, verification_method, created_at,
		       1 - (topic_embedding <=> $1::vector) AS similarity
		FROM verified_sources
		WHERE 1 - (topic_embedding <=> $1::vector) >= $2
		ORDER BY similarity DESC, created_at DESC
		LIMIT $3`,
		embedding.VectorLiteral(vec), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search verified sources: %w", err)
	}
	defer rows.Close()

	var matches []models.VerifiedSourceMatch
	for rows.Next() {
		var src models.VerifiedSource
		var sourceType, method string
		var similarity float64
		if err := rows.Scan(&src.ID, &src.Title, &src.Author, &src.Publisher,
			&src.PublishedDate, &src.Identifier, &src.URL, &sourceType, &method,
			&src.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan verified source: %w", err)
		}
		src.SourceType = models.SourceType(sourceType)
		src.VerificationMethod = models.VerificationMethod(method)
		matches = append(matches, models.VerifiedSourceMatch{Source: &src, Similarity: similarity})
	}
	return matches, rows.Err()
}

// ByIdentifier returns the library entry with the given normalized identifier.
func (l *VerifiedSourceLibrary) ByIdentifier(ctx context.Context, identifier string) (*models.VerifiedSource, error) {
	var src models.VerifiedSource
	var sourceType, method string
	err := l.pool.QueryRow(ctx, `
		SELECT id, title, author, publisher, published_date, identifier, url,
		       source_type, verification_method, created_at
		FROM verified_sources WHERE identifier = $1`, identifier,
	).Scan(&src.ID, &src.Title, &src.Author, &src.Publisher, &src.PublishedDate,
		&src.Identifier, &src.URL, &sourceType, &method, &src.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load verified source: %w", err)
	}
	src.SourceType = models.SourceType(sourceType)
	src.VerificationMethod = models.VerificationMethod(method)
	return &src, nil
}

// Count returns the number of library entries.
func (l *VerifiedSourceLibrary) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM verified_sources").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count verified sources: %w", err)
	}
	return n, nil
}
