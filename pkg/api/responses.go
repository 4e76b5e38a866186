package api

import "github.com/EckmanTechLLC/thereceipts/pkg/models"

// AskResponse is the chat surface output. Response holds one of the three
// mode payloads.
type AskResponse struct {
	Mode               models.RoutingMode `json:"mode"`
	Response           any                `json:"response"`
	RoutingDecisionID  string             `json:"routing_decision_id,omitempty"`
	WebsocketSessionID string             `json:"websocket_session_id,omitempty"`
}

// ExactMatchPayload answers from a cached card.
type ExactMatchPayload struct {
	Type      string            `json:"type"` // "exact_match"
	ClaimCard *models.ClaimCard `json:"claim_card"`
}

// ContextualPayload answers with a synthesis over cached cards.
type ContextualPayload struct {
	Type                string              `json:"type"` // "contextual"
	SynthesizedResponse string              `json:"synthesized_response"`
	SourceCards         []*models.ClaimCard `json:"source_cards"`
}

// GeneratingPayload reports a running pipeline for a novel claim.
type GeneratingPayload struct {
	Type                   string `json:"type"` // "generating"
	PipelineStatus         string `json:"pipeline_status"`
	WebsocketSessionID     string `json:"websocket_session_id"`
	ContextualizedQuestion string `json:"contextualized_question"`
}
