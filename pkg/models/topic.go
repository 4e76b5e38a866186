package models

import "time"

// TopicStatus is the processing state of a queued topic.
type TopicStatus string

const (
	TopicQueued     TopicStatus = "QUEUED"
	TopicProcessing TopicStatus = "PROCESSING"
	TopicCompleted  TopicStatus = "COMPLETED"
	TopicFailed     TopicStatus = "FAILED"
)

// ReviewStatus is the editorial state of a generated article.
type ReviewStatus string

const (
	ReviewPending       ReviewStatus = "PENDING_REVIEW"
	ReviewApproved      ReviewStatus = "APPROVED"
	ReviewRejected      ReviewStatus = "REJECTED"
	ReviewNeedsRevision ReviewStatus = "NEEDS_REVISION"
)

// TopicQueueEntry is a topic awaiting (or having finished) article generation.
type TopicQueueEntry struct {
	ID           string       `json:"id"`
	TopicText    string       `json:"topic_text"`
	Priority     int          `json:"priority"` // 1-10, higher runs first
	Status       TopicStatus  `json:"status"`
	ReviewStatus ReviewStatus `json:"review_status,omitempty"`
	Source       string       `json:"source,omitempty"` // e.g. "admin", "auto_suggest"
	ClaimCardIDs []string     `json:"claim_card_ids,omitempty"`
	BlogPostID   string       `json:"blog_post_id,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	AdminFeedback string      `json:"admin_feedback,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// BlogPost is the composed article for one topic. published_at stays null
// until a reviewer approves the topic.
type BlogPost struct {
	ID           string     `json:"id"`
	TopicID      string     `json:"topic_id,omitempty"` // nulled when the topic is deleted
	Title        string     `json:"title"`
	ArticleBody  string     `json:"article_body"`
	ClaimCardIDs []string   `json:"claim_card_ids"` // ordered as referenced in the body
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// EnqueueTopicRequest creates a new queued topic.
type EnqueueTopicRequest struct {
	TopicText string `json:"topic_text"`
	Priority  int    `json:"priority"`
	Source    string `json:"source,omitempty"`
}

// TopicFilters narrows topic listings.
type TopicFilters struct {
	Status       TopicStatus  `json:"status,omitempty"`
	ReviewStatus ReviewStatus `json:"review_status,omitempty"`
	Limit        int          `json:"limit,omitempty"`
	Offset       int          `json:"offset,omitempty"`
}
