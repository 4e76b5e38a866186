package api

import "github.com/EckmanTechLLC/thereceipts/pkg/models"

// AskRequest is the chat surface input.
type AskRequest struct {
	Question            string               `json:"question"`
	ConversationHistory []models.ChatMessage `json:"conversation_history"`
}

// maxQuestionLength bounds the accepted question size.
const maxQuestionLength = 4000

// EnqueueTopicRequest creates a topic from the admin surface.
type EnqueueTopicRequest struct {
	TopicText string `json:"topic_text"`
	Priority  int    `json:"priority"`
}

// ReviewRequest records a reviewer decision.
type ReviewRequest struct {
	Decision string `json:"decision"` // "approve", "reject", "needs_revision"
}

// RequeueRequest returns a failed topic to the queue with feedback.
type RequeueRequest struct {
	Feedback string `json:"feedback"`
}

// SuggestRequest triggers topic auto-suggestion.
type SuggestRequest struct {
	Query string `json:"query"`
}

// UpsertPromptRequest edits an agent prompt row.
type UpsertPromptRequest struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
}
