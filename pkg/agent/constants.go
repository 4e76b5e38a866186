package agent

// Pipeline agent names, in execution order. Each doubles as the agent's
// agent_prompts row key.
const (
	AgentTopicFinder        = "topic_finder"
	AgentSourceChecker      = "source_checker"
	AgentAdversarialChecker = "adversarial_checker"
	AgentWriter             = "writer"
	AgentPublisher          = "publisher"
)

// Non-pipeline LLM roles that also read agent_prompts rows.
const (
	RoleRouter          = "router"
	RoleContextAnalyzer = "context_analyzer"
	RoleDecomposer      = "decomposer"
	RoleComposer        = "composer"
	RoleTopicSuggester  = "topic_suggester"
	RoleSourceVerifier  = "source_verifier"
)

// PipelineOrder lists the five agents in the order the orchestrator runs
// them.
var PipelineOrder = []string{
	AgentTopicFinder,
	AgentSourceChecker,
	AgentAdversarialChecker,
	AgentWriter,
	AgentPublisher,
}

// State keys shared between stages. Each agent documents its outputs here so
// the next stage has a stable contract.
const (
	KeyQuestion              = "question"
	KeyClaimText             = "claim_text"
	KeyClaimant              = "claimant"
	KeyClaimType             = "claim_type"
	KeyClaimTypeCategory     = "claim_type_category"
	KeyCategoryTags          = "category_tags"
	KeySources               = "sources"
	KeyPreliminaryVerdict    = "preliminary_verdict"
	KeyReverificationNotes   = "reverification_notes"
	KeyShortAnswer           = "short_answer"
	KeyDeepAnswer            = "deep_answer"
	KeyWhyPersists           = "why_persists"
	KeyConfidenceLevel       = "confidence_level"
	KeyConfidenceExplanation = "confidence_explanation"
	KeyClaimCard             = "claim_card"
)
