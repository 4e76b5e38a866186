package sourceverify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// webTier (Tier 4) runs a Tavily web search and accepts only results whose
// URL is actually reachable and whose page text mentions the result's title.
type webTier struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (t *webTier) name() string   { return "tavily" }
func (t *webTier) domain() Domain { return DomainWeb }

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *webTier) verify(ctx context.Context, desired DesiredSource) (*VerifiedRecord, error) {
	if t.baseURL == "" || t.apiKey == "" {
		return nil, errNotApplicable
	}

	query := desired.Title
	if desired.Author != "" {
		query += " " + desired.Author
	}
	if desired.ClaimKeywords != "" {
		query += " " + desired.ClaimKeywords
	}

	body, err := json.Marshal(tavilyRequest{APIKey: t.apiKey, Query: query, MaxResults: 5})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(t.baseURL, "/")+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("web search returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	for _, hit := range result.Results {
		if hit.URL == "" {
			continue
		}
		// Accept only reachable URLs whose page text mentions the result's title.
		ok, err := t.checkReachable(ctx, hit.URL, hit.Title)
		if err != nil || !ok {
			continue
		}

		return &VerifiedRecord{
			Citation:    hit.Title,
			URL:         hit.URL,
			QuoteText:   strings.TrimSpace(hit.Content),
			Method:      models.MethodTavily,
			Status:      models.StatusPartiallyVerified,
			ContentType: models.ContentVerifiedParaphrase,
			URLVerified: true,
			Title:       hit.Title,
		}, nil
	}
	return nil, errNotApplicable
}

// checkReachable fetches the URL and verifies the page text contains at least
// one significant word of the expected title.
func (t *webTier) checkReachable(ctx context.Context, pageURL, expectTitle string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 128*1024))
	if err != nil {
		return false, err
	}
	page := strings.ToLower(stripHTML(string(body)))
	for _, word := range significantWords(expectTitle) {
		if strings.Contains(page, word) {
			return true, nil
		}
	}
	return false, nil
}
