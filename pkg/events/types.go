// Package events provides the per-session progress bus carrying routing,
// pipeline, and agent lifecycle events to websocket subscribers.
//
// Subscribers may connect before or after a session starts. Events published
// with no subscriber land in a short per-session ring buffer which is
// replayed on subscribe; once the ring is full the oldest events are dropped
// rather than buffered indefinitely.
package events

import (
	"time"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// Event types carried on the bus.
const (
	EventContextAnalysisStarted = "context_analysis_started"
	EventRoutingStarted         = "routing_started"
	EventRoutingCompleted       = "routing_completed"
	EventRouterFallback         = "router_fallback"
	EventPipelineStarted        = "pipeline_started"
	EventAgentStarted           = "agent_started"
	EventAgentCompleted         = "agent_completed"
	EventPipelineCompleted      = "pipeline_completed"
	EventPipelineFailed         = "pipeline_failed"
	EventClaimCardReady         = "claim_card_ready"
	EventKeepalive              = "keepalive"
)

// Event is one JSON-serializable bus message. Unused fields are omitted.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`

	AgentName string             `json:"agent_name,omitempty"`
	Mode      models.RoutingMode `json:"mode,omitempty"`
	ElapsedMs int64              `json:"elapsed_ms,omitempty"`
	Success   *bool              `json:"success,omitempty"`
	Error     string             `json:"error,omitempty"`

	ClaimCard *models.ClaimCard `json:"claim_card,omitempty"`
}

// New creates an event stamped with the current time.
func New(eventType, sessionID string) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}

// NewAgentStarted builds an agent_started event.
func NewAgentStarted(sessionID, agentName string) Event {
	e := New(EventAgentStarted, sessionID)
	e.AgentName = agentName
	return e
}

// NewAgentCompleted builds an agent_completed event.
func NewAgentCompleted(sessionID, agentName string, elapsed time.Duration, success bool) Event {
	e := New(EventAgentCompleted, sessionID)
	e.AgentName = agentName
	e.ElapsedMs = elapsed.Milliseconds()
	e.Success = &success
	return e
}

// NewRoutingCompleted builds a routing_completed event.
func NewRoutingCompleted(sessionID string, mode models.RoutingMode, elapsed time.Duration) Event {
	e := New(EventRoutingCompleted, sessionID)
	e.Mode = mode
	e.ElapsedMs = elapsed.Milliseconds()
	return e
}

// NewPipelineFailed builds a pipeline_failed event.
func NewPipelineFailed(sessionID, errMsg string, elapsed time.Duration) Event {
	e := New(EventPipelineFailed, sessionID)
	e.Error = errMsg
	e.ElapsedMs = elapsed.Milliseconds()
	return e
}

// NewPipelineCompleted builds a pipeline_completed event.
func NewPipelineCompleted(sessionID string, elapsed time.Duration) Event {
	e := New(EventPipelineCompleted, sessionID)
	e.ElapsedMs = elapsed.Milliseconds()
	return e
}

// NewClaimCardReady builds a claim_card_ready event carrying the stored card.
func NewClaimCardReady(sessionID string, card *models.ClaimCard) Event {
	e := New(EventClaimCardReady, sessionID)
	e.ClaimCard = card
	return e
}

// Publisher delivers events to a session's subscriber. Implementations must
// never block the publishing goroutine.
type Publisher interface {
	Publish(sessionID string, event Event)
}
