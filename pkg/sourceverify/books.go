package sourceverify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// booksTier (Tier 1) searches the Google Books volumes API by title and
// author and uses the keyword-matched text snippet as an exact quote when
// one is returned.
type booksTier struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (t *booksTier) name() string   { return "google_books" }
func (t *booksTier) domain() Domain { return DomainBook }

type booksResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title               string   `json:"title"`
			Authors             []string `json:"authors"`
			Publisher           string   `json:"publisher"`
			PublishedDate       string   `json:"publishedDate"`
			IndustryIdentifiers []struct {
				Type       string `json:"type"`
				Identifier string `json:"identifier"`
			} `json:"industryIdentifiers"`
			InfoLink string `json:"infoLink"`
		} `json:"volumeInfo"`
		SearchInfo struct {
			TextSnippet string `json:"textSnippet"`
		} `json:"searchInfo"`
	} `json:"items"`
}

func (t *booksTier) verify(ctx context.Context, desired DesiredSource) (*VerifiedRecord, error) {
	if t.baseURL == "" || t.apiKey == "" || desired.Title == "" {
		return nil, errNotApplicable
	}

	query := fmt.Sprintf("intitle:%s", desired.Title)
	if desired.Author != "" {
		query += fmt.Sprintf(" inauthor:%s", desired.Author)
	}
	if desired.ClaimKeywords != "" {
		query += " " + desired.ClaimKeywords
	}

	endpoint := fmt.Sprintf("%s/volumes?q=%s&maxResults=3&key=%s",
		strings.TrimSuffix(t.baseURL, "/"), url.QueryEscape(query), url.QueryEscape(t.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create books request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("books API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("books API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result booksResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode books response: %w", err)
	}
	if result.TotalItems == 0 || len(result.Items) == 0 {
		return nil, errNotApplicable
	}

	item := result.Items[0]
	info := item.VolumeInfo
	if !titleMatches(info.Title, desired.Title) {
		return nil, errNotApplicable
	}

	author := strings.Join(info.Authors, ", ")
	identifier := ""
	for _, id := range info.IndustryIdentifiers {
		if strings.HasPrefix(id.Type, "ISBN") {
			identifier = id.Identifier
			break
		}
	}

	record := &VerifiedRecord{
		Citation:      formatBookCitation(info.Title, author, info.Publisher, info.PublishedDate),
		URL:           info.InfoLink,
		Method:        models.MethodGoogleBooks,
		URLVerified:   info.InfoLink != "",
		Title:         info.Title,
		Author:        author,
		Publisher:     info.Publisher,
		PublishedDate: info.PublishedDate,
		Identifier:    identifier,
	}

	snippet := cleanSnippet(item.SearchInfo.TextSnippet)
	if snippet != "" {
		record.QuoteText = snippet
		record.Status = models.StatusVerified
		record.ContentType = models.ContentExactQuote
	} else {
		record.Status = models.StatusPartiallyVerified
		record.ContentType = models.ContentVerifiedParaphrase
	}
	return record, nil
}

// titleMatches reports whether the catalog title plausibly matches the
// requested one, tolerating subtitles and case.
func titleMatches(got, want string) bool {
	g := strings.ToLower(strings.TrimSpace(got))
	w := strings.ToLower(strings.TrimSpace(want))
	if g == "" || w == "" {
		return false
	}
	return strings.Contains(g, w) || strings.Contains(w, g)
}

// cleanSnippet strips the light HTML markup Google Books embeds in snippets.
func cleanSnippet(snippet string) string {
	replacer := strings.NewReplacer(
		"<b>", "", "</b>", "", "<i>", "", "</i>", "",
		"&quot;", `"`, "&#39;", "'", "&amp;", "&", "&nbsp;", " ",
	)
	return strings.TrimSpace(replacer.Replace(snippet))
}
