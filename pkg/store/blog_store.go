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

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// BlogPostStore manages composed articles. Posts stay unpublished
// (published_at NULL) until a reviewer approves the owning topic.
type BlogPostStore struct {
	pool *pgxpool.Pool
}

// NewBlogPostStore creates a BlogPostStore.
func NewBlogPostStore(pool *pgxpool.Pool) *BlogPostStore {
	return &BlogPostStore{pool: pool}
}

// Create persists a new unpublished post for a topic.
func (s *BlogPostStore) Create(ctx context.Context, post *models.BlogPost) (*models.BlogPost, error) {
	if strings.TrimSpace(post.Title) == "" {
		return nil, NewValidationError("title", "required")
	}
	if strings.TrimSpace(post.ArticleBody) == "" {
		return nil, NewValidationError("article_body", "required")
	}

	stored := *post
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now()
	stored.PublishedAt = nil

	ids, err := json.Marshal(orEmptyStrings(stored.ClaimCardIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal claim_card_ids: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO blog_posts (id, topic_id, title, article_body, claim_card_ids, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		stored.ID, nullableString(stored.TopicID), stored.Title, stored.ArticleBody,
		ids, stored.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert blog post: %w", err)
	}
	return &stored, nil
}

// Publish stamps published_at, making the post publicly visible.
func (s *BlogPostStore) Publish(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE blog_posts SET published_at = NOW()
		WHERE id = $1 AND published_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to publish blog post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ByID returns one post regardless of publication state.
func (s *BlogPostStore) ByID(ctx context.Context, id string) (*models.BlogPost, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, topic_id, title, article_body, claim_card_ids, published_at, created_at
		FROM blog_posts WHERE id = $1`, id)
	post, err := scanBlogPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load blog post: %w", err)
	}
	return post, nil
}

// ListPublished returns published posts only, newest first. Unpublished
// posts never appear in this listing.
func (s *BlogPostStore) ListPublished(ctx context.Context, limit, offset int) ([]*models.BlogPost, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic_id, title, article_body, claim_card_ids, published_at, created_at
		FROM blog_posts
		WHERE published_at IS NOT NULL
		ORDER BY published_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list published posts: %w", err)
	}
	defer rows.Close()

	var posts []*models.BlogPost
	for rows.Next() {
		post, err := scanBlogPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blog post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func scanBlogPost(row rowScanner) (*models.BlogPost, error) {
	var post models.BlogPost
	var topicID *string
	var ids []byte
	err := row.Scan(&post.ID, &topicID, &post.Title, &post.ArticleBody, &ids,
		&post.PublishedAt, &post.CreatedAt)
	if err != nil {
		return nil, err
	}
	if topicID != nil {
		post.TopicID = *topicID
	}
	if err := json.Unmarshal(ids, &post.ClaimCardIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claim_card_ids: %w", err)
	}
	return &post, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
