package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// reasoningExcerptLimit caps the stored reasoning excerpt.
const reasoningExcerptLimit = 500

// RouterDecisionStore is the append-only routing log.
type RouterDecisionStore struct {
	pool *pgxpool.Pool
}

// NewRouterDecisionStore creates a RouterDecisionStore.
func NewRouterDecisionStore(pool *pgxpool.Pool) *RouterDecisionStore {
	return &RouterDecisionStore{pool: pool}
}

// Insert persists one routing decision. Candidates are always recorded — an
// empty candidate list is stored as []. Returns the decision with id and
// created_at populated.
func (s *RouterDecisionStore) Insert(ctx context.Context, d *models.RouterDecision) (*models.RouterDecision, error) {
	if d.ModeSelected == "" {
		return nil, NewValidationError("mode_selected", "required")
	}

	stored := *d
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now()
	if len(stored.ReasoningExcerpt) > reasoningExcerptLimit {
		stored.ReasoningExcerpt = stored.ReasoningExcerpt[:reasoningExcerptLimit]
	}
	if stored.SearchCandidates == nil {
		stored.SearchCandidates = []models.CandidateSummary{}
	}

	history, err := json.Marshal(orEmptyMessages(stored.RecentHistory))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recent_history: %w", err)
	}
	candidates, err := json.Marshal(stored.SearchCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search_candidates: %w", err)
	}
	referenced, err := json.Marshal(orEmptyStrings(stored.ClaimCardsReferenced))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal claim_cards_referenced: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO router_decisions (
			id, original_question, reformulated_question, recent_history,
			mode_selected, claim_cards_referenced, search_candidates,
			reasoning_excerpt, elapsed_ms, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		stored.ID, stored.OriginalQuestion, stored.ReformulatedQuestion, history,
		string(stored.ModeSelected), referenced, candidates,
		stored.ReasoningExcerpt, stored.ElapsedMs, stored.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert router decision: %w", err)
	}
	return &stored, nil
}

// ByID returns one decision.
func (s *RouterDecisionStore) ByID(ctx context.Context, id string) (*models.RouterDecision, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, original_question, reformulated_question, recent_history,
		       mode_selected, claim_cards_referenced, search_candidates,
		       reasoning_excerpt, elapsed_ms, created_at
		FROM router_decisions WHERE id = $1`, id)
	d, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load router decision: %w", err)
	}
	return d, nil
}

// ListRecent returns the newest decisions, newest first.
func (s *RouterDecisionStore) ListRecent(ctx context.Context, limit int) ([]*models.RouterDecision, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, original_question, reformulated_question, recent_history,
		       mode_selected, claim_cards_referenced, search_candidates,
		       reasoning_excerpt, elapsed_ms, created_at
		FROM router_decisions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list router decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.RouterDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan router decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func scanDecision(row rowScanner) (*models.RouterDecision, error) {
	var d models.RouterDecision
	var mode string
	var history, referenced, candidates []byte
	err := row.Scan(&d.ID, &d.OriginalQuestion, &d.ReformulatedQuestion, &history,
		&mode, &referenced, &candidates, &d.ReasoningExcerpt, &d.ElapsedMs, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.ModeSelected = models.RoutingMode(mode)
	if err := json.Unmarshal(history, &d.RecentHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recent_history: %w", err)
	}
	if err := json.Unmarshal(referenced, &d.ClaimCardsReferenced); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claim_cards_referenced: %w", err)
	}
	if err := json.Unmarshal(candidates, &d.SearchCandidates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search_candidates: %w", err)
	}
	return &d, nil
}

func orEmptyMessages(msgs []models.ChatMessage) []models.ChatMessage {
	if msgs == nil {
		return []models.ChatMessage{}
	}
	return msgs
}
