package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// TopicQueue is the store surface the scheduler drives. Satisfied by
// store.TopicStore. LeaseQueued's status transition is the exclusive lease.
type TopicQueue interface {
	LeaseQueued(ctx context.Context, limit int) ([]*models.TopicQueueEntry, error)
	Complete(ctx context.Context, id string, claimCardIDs []string, blogPostID string) error
	Fail(ctx context.Context, id, errorMessage string) error
}

// Config drives the scheduler's daily run.
type Config struct {
	RunAtHour     int
	RunAtMinute   int
	PostsPerDay   int
	MaxConcurrent int
}

// Scheduler triggers article generation at a configured time of day. Topics
// fail independently: one topic's error never stops the others.
type Scheduler struct {
	topics    TopicQueue
	generator *Generator
	cfg       Config

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Scheduler.
func New(topics TopicQueue, generator *Generator, cfg Config) *Scheduler {
	if cfg.PostsPerDay <= 0 {
		cfg.PostsPerDay = 3
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	return &Scheduler{
		topics:    topics,
		generator: generator,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start runs the daily loop until ctx is cancelled. Blocks; run it in its
// own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Scheduler started",
		"run_at", s.runAtString(),
		"posts_per_day", s.cfg.PostsPerDay,
		"max_concurrent", s.cfg.MaxConcurrent,
	)
	for {
		next := s.nextRun()
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Scheduler stopped")
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce leases up to posts_per_day queued topics by descending priority
// and processes them with bounded concurrency. Also the admin "run now"
// entry point.
func (s *Scheduler) RunOnce(ctx context.Context) {
	topics, err := s.topics.LeaseQueued(ctx, s.cfg.PostsPerDay)
	if err != nil {
		slog.Error("Scheduler failed to lease topics", "error", err)
		return
	}
	if len(topics) == 0 {
		slog.Info("Scheduler run: no queued topics")
		return
	}
	slog.Info("Scheduler run starting", "topics", len(topics))

	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, topic := range topics {
		wg.Add(1)
		sem <- struct{}{}
		go func(topic *models.TopicQueueEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processTopic(ctx, topic)
		}(topic)
	}
	wg.Wait()
	slog.Info("Scheduler run finished", "topics", len(topics))
}

// processTopic generates one topic, recording success or terminal failure on
// the row. Terminal status writes use a background context so a cancelled
// run still leaves an accurate record.
func (s *Scheduler) processTopic(ctx context.Context, topic *models.TopicQueueEntry) {
	logger := slog.With("topic_id", topic.ID)

	result, err := s.generator.Generate(ctx, topic)
	if err != nil {
		logger.Warn("Topic generation failed", "error", err)
		if failErr := s.topics.Fail(context.Background(), topic.ID, err.Error()); failErr != nil {
			logger.Error("Failed to mark topic failed", "error", failErr)
		}
		return
	}

	if err := s.topics.Complete(context.Background(), topic.ID, result.ClaimCardIDs, result.BlogPostID); err != nil {
		logger.Error("Failed to mark topic completed", "error", err)
	}
}

// nextRun returns the next occurrence of the configured time of day.
func (s *Scheduler) nextRun() time.Time {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(),
		s.cfg.RunAtHour, s.cfg.RunAtMinute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) runAtString() string {
	return time.Date(0, 1, 1, s.cfg.RunAtHour, s.cfg.RunAtMinute, 0, 0, time.UTC).Format("15:04")
}
