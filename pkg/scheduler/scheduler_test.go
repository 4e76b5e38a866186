package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// fakeQueue hands out pre-leased topics and records status transitions.
type fakeQueue struct {
	mu        sync.Mutex
	leased    []*models.TopicQueueEntry
	leaseArgs []int
	completed map[string][]string
	failed    map[string]string
}

func newFakeQueue(topics ...*models.TopicQueueEntry) *fakeQueue {
	return &fakeQueue{
		leased:    topics,
		completed: make(map[string][]string),
		failed:    make(map[string]string),
	}
}

func (q *fakeQueue) LeaseQueued(_ context.Context, limit int) ([]*models.TopicQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.leaseArgs = append(q.leaseArgs, limit)
	if len(q.leased) > limit {
		return q.leased[:limit], nil
	}
	return q.leased, nil
}

func (q *fakeQueue) Complete(_ context.Context, id string, claimCardIDs []string, blogPostID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[id] = claimCardIDs
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, id, errorMessage string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[id] = errorMessage
	return nil
}

func topicEntry(id string) *models.TopicQueueEntry {
	return &models.TopicQueueEntry{ID: id, TopicText: "topic " + id, Status: models.TopicProcessing}
}

// workingGenerator builds a Generator whose scripted LLM decomposes each of
// responsesPerTopic topics into 3 claims and composes a valid article. The
// script is shared across topics, so tests that need failures inject them
// through the pipeline instead.
func workingGenerator(pipe *fakePipeline, responsesPerTopic int) *Generator {
	var responses []string
	for i := 0; i < responsesPerTopic; i++ {
		responses = append(responses,
			decomposerJSON("claim a", "claim b", "claim c"),
			composerJSON(600),
		)
	}
	embedder := &recordingEmbedder{}
	return NewGenerator(&scriptedGateway{responses: responses}, fakePrompts{},
		&scriptedSearcher{embedder: embedder}, embedder, pipe, &fakeBlogs{},
		agent.ExecutionContext{}, 0.92)
}

func TestRunOnce_ProcessesLeasedTopics(t *testing.T) {
	queue := newFakeQueue(topicEntry("t1"), topicEntry("t2"))
	s := New(queue, workingGenerator(&fakePipeline{}, 2), Config{
		PostsPerDay: 3, MaxConcurrent: 1,
	})

	s.RunOnce(context.Background())

	assert.Equal(t, []int{3}, queue.leaseArgs)
	assert.Len(t, queue.completed, 2)
	assert.Empty(t, queue.failed)
	assert.Len(t, queue.completed["t1"], 3)
}

func TestRunOnce_FailFastPerTopic(t *testing.T) {
	// The pipeline always fails, so every topic fails independently —
	// one topic's failure never aborts the others.
	queue := newFakeQueue(topicEntry("t1"), topicEntry("t2"))

	var responses []string
	for i := 0; i < 2; i++ {
		responses = append(responses, decomposerJSON("claim a", "claim b", "claim c"))
	}
	embedder := &recordingEmbedder{}
	pipe := &fakePipeline{err: assert.AnError}
	g := NewGenerator(&scriptedGateway{responses: responses}, fakePrompts{},
		&scriptedSearcher{embedder: embedder}, embedder, pipe, &fakeBlogs{},
		agent.ExecutionContext{}, 0.92)

	s := New(queue, g, Config{PostsPerDay: 5, MaxConcurrent: 1})
	s.RunOnce(context.Background())

	assert.Empty(t, queue.completed)
	require.Len(t, queue.failed, 2)
	assert.Contains(t, queue.failed["t1"], "pipeline failed")
	assert.Contains(t, queue.failed["t2"], "pipeline failed")
}

func TestRunOnce_NoQueuedTopics(t *testing.T) {
	queue := newFakeQueue()
	s := New(queue, workingGenerator(&fakePipeline{}, 0), Config{PostsPerDay: 3, MaxConcurrent: 2})
	s.RunOnce(context.Background())
	assert.Empty(t, queue.completed)
	assert.Empty(t, queue.failed)
}

func TestNextRun(t *testing.T) {
	s := New(newFakeQueue(), workingGenerator(&fakePipeline{}, 0), Config{
		RunAtHour: 6, RunAtMinute: 30, PostsPerDay: 3, MaxConcurrent: 1,
	})

	t.Run("before the run time, runs today", func(t *testing.T) {
		s.now = func() time.Time {
			return time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC)
		}
		next := s.nextRun()
		assert.Equal(t, time.Date(2025, 3, 10, 6, 30, 0, 0, time.UTC), next)
	})

	t.Run("after the run time, runs tomorrow", func(t *testing.T) {
		s.now = func() time.Time {
			return time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
		}
		next := s.nextRun()
		assert.Equal(t, time.Date(2025, 3, 11, 6, 30, 0, 0, time.UTC), next)
	})
}
