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

// TopicStore manages the article-generation topic queue. The
// queued→processing status transition doubles as the worker's exclusive
// lease on a topic row.
type TopicStore struct {
	pool *pgxpool.Pool
}

// NewTopicStore creates a TopicStore.
func NewTopicStore(pool *pgxpool.Pool) *TopicStore {
	return &TopicStore{pool: pool}
}

// Enqueue creates a new queued topic.
func (s *TopicStore) Enqueue(ctx context.Context, req models.EnqueueTopicRequest) (*models.TopicQueueEntry, error) {
	if strings.TrimSpace(req.TopicText) == "" {
		return nil, NewValidationError("topic_text", "required")
	}
	priority := req.Priority
	if priority == 0 {
		priority = 5
	}
	if priority < 1 || priority > 10 {
		return nil, NewValidationError("priority", "must be between 1 and 10")
	}

	entry := &models.TopicQueueEntry{
		ID:        uuid.New().String(),
		TopicText: req.TopicText,
		Priority:  priority,
		Status:    models.TopicQueued,
		Source:    req.Source,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO topic_queue (id, topic_text, priority, status, source, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.ID, entry.TopicText, entry.Priority, string(entry.Status),
		entry.Source, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue topic: %w", err)
	}
	return entry, nil
}

// LeaseQueued atomically flips up to limit queued topics to PROCESSING in
// descending priority order and returns them. The status transition is the
// lease: two workers can never pick the same topic.
func (s *TopicStore) LeaseQueued(ctx context.Context, limit int) ([]*models.TopicQueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE topic_queue
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM topic_queue
			WHERE status = $2
			ORDER BY priority DESC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic_text, priority, status, review_status, source,
		          claim_card_ids, blog_post_id, error_message, admin_feedback,
		          created_at, updated_at`,
		string(models.TopicProcessing), string(models.TopicQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to lease queued topics: %w", err)
	}
	defer rows.Close()

	var entries []*models.TopicQueueEntry
	for rows.Next() {
		entry, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Complete marks a processed topic COMPLETED + PENDING_REVIEW with its
// generated claim card ids and blog post.
func (s *TopicStore) Complete(ctx context.Context, id string, claimCardIDs []string, blogPostID string) error {
	ids, err := json.Marshal(orEmptyStrings(claimCardIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal claim_card_ids: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE topic_queue
		SET status = $2, review_status = $3, claim_card_ids = $4,
		    blog_post_id = $5, updated_at = NOW()
		WHERE id = $1 AND status = $6`,
		id, string(models.TopicCompleted), string(models.ReviewPending),
		ids, blogPostID, string(models.TopicProcessing))
	if err != nil {
		return fmt.Errorf("failed to complete topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Fail marks a processing topic FAILED with its error message. Failure is
// terminal unless a reviewer requeues with feedback.
func (s *TopicStore) Fail(ctx context.Context, id, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE topic_queue
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1`,
		id, string(models.TopicFailed), errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark topic failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReviewStatus records the reviewer's decision on a completed topic.
func (s *TopicStore) SetReviewStatus(ctx context.Context, id string, status models.ReviewStatus) error {
	switch status {
	case models.ReviewApproved, models.ReviewRejected, models.ReviewNeedsRevision:
	default:
		return NewValidationError("review_status", fmt.Sprintf("unknown status %q", status))
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE topic_queue SET review_status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, string(status), string(models.TopicCompleted))
	if err != nil {
		return fmt.Errorf("failed to set review status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Requeue returns a failed topic to the queue with admin feedback attached.
func (s *TopicStore) Requeue(ctx context.Context, id, feedback string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE topic_queue
		SET status = $2, error_message = '', admin_feedback = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, string(models.TopicQueued), feedback, string(models.TopicFailed))
	if err != nil {
		return fmt.Errorf("failed to requeue topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ByID returns one topic.
func (s *TopicStore) ByID(ctx context.Context, id string) (*models.TopicQueueEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, topic_text, priority, status, review_status, source,
		       claim_card_ids, blog_post_id, error_message, admin_feedback,
		       created_at, updated_at
		FROM topic_queue WHERE id = $1`, id)
	entry, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}
	return entry, nil
}

// List returns topics filtered by status and review status.
func (s *TopicStore) List(ctx context.Context, filters models.TopicFilters) ([]*models.TopicQueueEntry, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	where := []string{"TRUE"}
	args := []any{}
	arg := 1
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", arg))
		args = append(args, string(filters.Status))
		arg++
	}
	if filters.ReviewStatus != "" {
		where = append(where, fmt.Sprintf("review_status = $%d", arg))
		args = append(args, string(filters.ReviewStatus))
		arg++
	}
	query := fmt.Sprintf(`
		SELECT id, topic_text, priority, status, review_status, source,
		       claim_card_ids, blog_post_id, error_message, admin_feedback,
		       created_at, updated_at
		FROM topic_queue WHERE %s
		ORDER BY priority DESC, created_at ASC
		LIMIT $%d OFFSET $%d`, strings.Join(where, " AND "), arg, arg+1)
	args = append(args, limit, filters.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var entries []*models.TopicQueueEntry
	for rows.Next() {
		entry, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Delete removes a topic. The blog post's back-reference is nulled by the
// ON DELETE SET NULL constraint; the post itself survives.
func (s *TopicStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM topic_queue WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTopic(row rowScanner) (*models.TopicQueueEntry, error) {
	var entry models.TopicQueueEntry
	var status string
	var reviewStatus, blogPostID *string
	var claimCardIDs []byte
	err := row.Scan(&entry.ID, &entry.TopicText, &entry.Priority, &status,
		&reviewStatus, &entry.Source, &claimCardIDs, &blogPostID,
		&entry.ErrorMessage, &entry.AdminFeedback, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.Status = models.TopicStatus(status)
	if reviewStatus != nil {
		entry.ReviewStatus = models.ReviewStatus(*reviewStatus)
	}
	if blogPostID != nil {
		entry.BlogPostID = *blogPostID
	}
	if err := json.Unmarshal(claimCardIDs, &entry.ClaimCardIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claim_card_ids: %w", err)
	}
	return &entry, nil
}
