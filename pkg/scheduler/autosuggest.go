package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/EckmanTechLLC/thereceipts/pkg/agent"
	"github.com/EckmanTechLLC/thereceipts/pkg/embedding"
	"github.com/EckmanTechLLC/thereceipts/pkg/llm"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// TopicEnqueuer creates queued topics. Satisfied by store.TopicStore.
type TopicEnqueuer interface {
	Enqueue(ctx context.Context, req models.EnqueueTopicRequest) (*models.TopicQueueEntry, error)
}

// Suggester discovers candidate topics from web search results and enqueues
// the ones not already covered by existing claim cards. Topics go into the
// queue — never claims directly.
type Suggester struct {
	gateway  llm.Gateway
	prompts  agent.PromptLoader
	claims   ClaimSearcher
	embedder embedding.Service
	topics   TopicEnqueuer

	tavilyBaseURL string
	tavilyAPIKey  string
	httpClient    *http.Client

	// dedupThreshold gates suggestions against existing cards. Intentionally
	// looser than the decomposer's reuse threshold: a topic near an existing
	// card is redundant well before its claims are exact duplicates.
	dedupThreshold float64
}

// NewSuggester creates a Suggester.
func NewSuggester(gateway llm.Gateway, prompts agent.PromptLoader, claims ClaimSearcher, embedder embedding.Service, topics TopicEnqueuer, tavilyBaseURL, tavilyAPIKey string, dedupThreshold float64, httpClient *http.Client) *Suggester {
	if dedupThreshold == 0 {
		dedupThreshold = 0.85
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Suggester{
		gateway:        gateway,
		prompts:        prompts,
		claims:         claims,
		embedder:       embedder,
		topics:         topics,
		tavilyBaseURL:  tavilyBaseURL,
		tavilyAPIKey:   tavilyAPIKey,
		httpClient:     httpClient,
		dedupThreshold: dedupThreshold,
	}
}

type suggesterOutput struct {
	Topics []struct {
		TopicText string `json:"topic_text"`
		Priority  int    `json:"priority"`
	} `json:"topics"`
}

// Suggest searches the web for the query, extracts candidate topics via the
// LLM, and enqueues those not semantically covered by existing cards.
// Returns the enqueued entries.
func (s *Suggester) Suggest(ctx context.Context, query string) ([]*models.TopicQueueEntry, error) {
	if s.tavilyAPIKey == "" {
		return nil, fmt.Errorf("auto-suggest requires a web search API key")
	}

	results, err := s.webSearch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}

	cfg, err := roleConfig(ctx, s.prompts, agent.RoleTopicSuggester)
	if err != nil {
		return nil, err
	}
	userPrompt := fmt.Sprintf("Web search results for %q:\n%s\n\n"+
		"Extract audit-worthy topics. Respond with JSON: "+
		"{\"topics\": [{\"topic_text\": \"...\", \"priority\": 1-10}]}", query, results)

	completion, err := s.gateway.CompleteText(ctx, cfg, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("suggester LLM failed: %w", err)
	}
	var out suggesterOutput
	if err := llm.ExtractJSONInto(completion.Text, &out); err != nil {
		return nil, fmt.Errorf("suggester returned invalid output: %w", err)
	}

	var enqueued []*models.TopicQueueEntry
	for _, candidate := range out.Topics {
		if strings.TrimSpace(candidate.TopicText) == "" {
			continue
		}
		covered, err := s.alreadyCovered(ctx, candidate.TopicText)
		if err != nil {
			return enqueued, err
		}
		if covered {
			slog.Info("Auto-suggest skipping covered topic", "topic_text", candidate.TopicText)
			continue
		}

		priority := candidate.Priority
		if priority < 1 || priority > 10 {
			priority = 5
		}
		entry, err := s.topics.Enqueue(ctx, models.EnqueueTopicRequest{
			TopicText: candidate.TopicText,
			Priority:  priority,
			Source:    "auto_suggest",
		})
		if err != nil {
			return enqueued, fmt.Errorf("failed to enqueue suggested topic: %w", err)
		}
		enqueued = append(enqueued, entry)
	}

	slog.Info("Auto-suggest finished", "query", query, "enqueued", len(enqueued))
	return enqueued, nil
}

// alreadyCovered reports whether an existing claim card sits within the
// dedup threshold of the topic.
func (s *Suggester) alreadyCovered(ctx context.Context, topicText string) (bool, error) {
	vec, err := s.embedder.Embed(ctx, topicText)
	if err != nil {
		return false, err
	}
	matches, err := s.claims.SearchByEmbedding(ctx, vec, s.dedupThreshold, 1)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// webSearch runs the Tavily query and flattens the results for the prompt.
func (s *Suggester) webSearch(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"api_key":     s.tavilyAPIKey,
		"query":       query,
		"max_results": 8,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(s.tavilyBaseURL, "/")+"/search", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("search returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, r := range result.Results {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", r.Title, r.URL, r.Content)
	}
	return sb.String(), nil
}
