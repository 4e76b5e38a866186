// Package pipeline runs the five-stage audit pipeline sequentially: Topic
// Finder, Source Checker, Adversarial Checker, Writer, Publisher. Each stage
// consumes the aggregated output dictionary of the prior stages; failures are
// fatal and surfaced, never retried.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/config"
	"github.com/EckmanTechLLC/thereceipts/pkg/events"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// Orchestrator drives the sequential agent chain for one claim audit.
type Orchestrator struct {
	agents   []agent.Agent
	timeouts config.Timeouts
}

// New creates an orchestrator with the standard five-agent chain.
func New(timeouts config.Timeouts) *Orchestrator {
	return &Orchestrator{
		agents: []agent.Agent{
			agent.TopicFinder{},
			agent.SourceChecker{},
			agent.AdversarialChecker{},
			agent.Writer{},
			agent.Publisher{},
		},
		timeouts: timeouts,
	}
}

// NewWithAgents creates an orchestrator over an explicit chain (tests).
func NewWithAgents(timeouts config.Timeouts, agents []agent.Agent) *Orchestrator {
	return &Orchestrator{agents: agents, timeouts: timeouts}
}

// Run executes the chain for the given question and returns the persisted
// claim card. Cancellation is checked at every stage boundary; per-agent and
// whole-pipeline timeouts surface as pipeline_failed, never a silent retry.
func (o *Orchestrator) Run(ctx context.Context, execCtx *agent.ExecutionContext, question string) (*models.ClaimCard, error) {
	logger := slog.With("session_id", execCtx.SessionID)
	logger.Info("Pipeline starting", "question_length", len(question))

	start := time.Now()
	publish(execCtx, events.New(events.EventPipelineStarted, execCtx.SessionID))

	pipelineCtx := ctx
	if o.timeouts.Pipeline > 0 {
		var cancel context.CancelFunc
		pipelineCtx, cancel = context.WithTimeout(ctx, o.timeouts.Pipeline)
		defer cancel()
	}

	state := agent.State{agent.KeyQuestion: question}
	for _, stage := range o.agents {
		// Cooperative cancellation at the stage boundary.
		if err := pipelineCtx.Err(); err != nil {
			return nil, o.fail(execCtx, logger, start, err)
		}

		stageCtx := pipelineCtx
		if o.timeouts.Agent > 0 {
			var cancel context.CancelFunc
			stageCtx, cancel = context.WithTimeout(pipelineCtx, o.timeouts.Agent)
			defer cancel()
		}

		next, err := stage.Execute(stageCtx, execCtx, state)
		if err != nil {
			logger.Warn("Pipeline stage failed",
				"agent", stage.Name(),
				"error_class", agent.ErrorClass(err),
				"error", err,
			)
			return nil, o.fail(execCtx, logger, start, err)
		}
		state = next
	}

	card, ok := state[agent.KeyClaimCard].(*models.ClaimCard)
	if !ok || card == nil {
		err := fmt.Errorf("pipeline completed without a claim card")
		return nil, o.fail(execCtx, logger, start, err)
	}

	publish(execCtx, events.NewPipelineCompleted(execCtx.SessionID, time.Since(start)))
	logger.Info("Pipeline completed",
		"claim_card_id", card.ID,
		"verdict", card.Verdict,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return card, nil
}

// fail publishes pipeline_failed and passes the error through. Cancellation
// is reported with reason "cancelled".
func (o *Orchestrator) fail(execCtx *agent.ExecutionContext, logger *slog.Logger, start time.Time, err error) error {
	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "cancelled"
	} else if errors.Is(err, context.DeadlineExceeded) {
		msg = "timed out: " + msg
	}
	publish(execCtx, events.NewPipelineFailed(execCtx.SessionID, msg, time.Since(start)))
	logger.Warn("Pipeline failed", "error", msg, "elapsed_ms", time.Since(start).Milliseconds())
	return err
}

func publish(execCtx *agent.ExecutionContext, event events.Event) {
	if execCtx.Publisher == nil {
		return
	}
	execCtx.Publisher.Publish(execCtx.SessionID, event)
}
