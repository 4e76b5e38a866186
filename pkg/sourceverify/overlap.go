package sourceverify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// stopwords excluded from overlap scoring and keyword matching.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "was": true,
	"were": true, "will": true, "with": true, "this": true, "which": true,
}

// significantWords lowercases, strips punctuation, and drops stopwords and
// single-letter tokens.
func significantWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	var words []string
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		words = append(words, f)
	}
	return words
}

// WordOverlap returns the fraction of quote's significant words that appear
// in content. 1.0 means every significant word was found; 0 means none (or
// an empty quote).
func WordOverlap(quote, content string) float64 {
	quoteWords := significantWords(quote)
	if len(quoteWords) == 0 {
		return 0
	}
	contentSet := make(map[string]bool)
	for _, w := range significantWords(content) {
		contentSet[w] = true
	}
	found := 0
	for _, w := range quoteWords {
		if contentSet[w] {
			found++
		}
	}
	return float64(found) / float64(len(quoteWords))
}

// ReVerifyResult is the adversarial checker's per-source reverification
// outcome. Discrepancies never fail the pipeline; they are annotated into
// the audit trail.
type ReVerifyResult struct {
	QuoteSupported bool    `json:"quote_supported"`
	QuoteOverlap   float64 `json:"quote_overlap"`
	URLReachable   bool    `json:"url_reachable"`
	URLMatches     bool    `json:"url_matches"`
	Note           string  `json:"note,omitempty"`
}

// Flagged reports whether the source shows any discrepancy worth annotating.
func (r ReVerifyResult) Flagged() bool {
	if !r.QuoteSupported {
		return true
	}
	return !r.URLReachable || !r.URLMatches
}

// ReVerify re-checks one already-attached source: (a) the quote still
// appears (or closely paraphrases) the content behind its URL, using the
// word-overlap heuristic, and (b) the URL is reachable and matches the
// citation. Sources with no URL (LLM fallbacks) cannot be re-checked and are
// reported unsupported with an explanatory note.
func (s *Service) ReVerify(ctx context.Context, src models.Source) ReVerifyResult {
	if src.URL == "" {
		note := "no url to re-verify against"
		if src.VerificationMethod == models.MethodLLMUnverified {
			note = "unverified LLM-generated source; no external content to check against"
		}
		return ReVerifyResult{Note: note}
	}

	result := ReVerifyResult{}
	content, err := s.fetchPage(ctx, src.URL)
	if err != nil {
		result.Note = fmt.Sprintf("url fetch failed: %v", err)
		return result
	}
	result.URLReachable = true

	// Citation match: any significant citation word on the page.
	page := strings.ToLower(content)
	for _, word := range significantWords(src.Citation) {
		if strings.Contains(page, word) {
			result.URLMatches = true
			break
		}
	}

	if src.QuoteText == "" {
		result.QuoteSupported = true
		return result
	}
	result.QuoteOverlap = WordOverlap(src.QuoteText, content)
	result.QuoteSupported = result.QuoteOverlap >= s.overlapThreshold
	if !result.QuoteSupported {
		result.Note = fmt.Sprintf("quote overlap %.2f below threshold %.2f",
			result.QuoteOverlap, s.overlapThreshold)
	}
	return result
}

// fetchPage downloads a page and flattens it to text.
func (s *Service) fetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return "", err
	}
	return stripHTML(string(body)), nil
}
