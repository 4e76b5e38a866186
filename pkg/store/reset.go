package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DeleteGeneratedContent removes all claim cards (cascading their sources and
// tag links), blog posts, topic queue entries, and router decisions in one
// transaction. Agent prompts and the verified source library are untouched.
// Children with explicit FK dependencies go before their parents; any error
// rolls the whole transaction back, leaving the store unchanged.
func DeleteGeneratedContent(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start reset transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// FK order: router_decisions → blog_posts → sources/tags → claim_cards → topic_queue
	statements := []string{
		"DELETE FROM router_decisions",
		"DELETE FROM blog_posts",
		"DELETE FROM sources",
		"DELETE FROM claim_card_tags",
		"DELETE FROM claim_cards",
		"DELETE FROM topic_queue",
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("reset failed at %q: %w", stmt, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	return nil
}
