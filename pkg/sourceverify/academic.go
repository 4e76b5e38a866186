package sourceverify

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
)

// academicTier (Tier 2) tries the paper catalogs in a fixed sequence:
// Semantic Scholar, then arXiv, then PubMed. The first catalog that returns
// a title-matched paper wins; a Semantic Scholar or arXiv abstract serves as
// the quote, and PubMed records carry no quote.
type academicTier struct {
	semanticScholarBaseURL string
	arxivBaseURL           string
	pubmedBaseURL          string
	client                 *http.Client
}

func (t *academicTier) name() string   { return "academic" }
func (t *academicTier) domain() Domain { return DomainPaper }

func (t *academicTier) verify(ctx context.Context, desired DesiredSource) (*VerifiedRecord, error) {
	if desired.Title == "" {
		return nil, errNotApplicable
	}

	type provider struct {
		name string
		fn   func(context.Context, DesiredSource) (*VerifiedRecord, error)
	}
	providers := []provider{
		{"semantic_scholar", t.semanticScholar},
		{"arxiv", t.arxiv},
		{"pubmed", t.pubmed},
	}

	var lastErr error
	for _, p := range providers {
		record, err := p.fn(ctx, desired)
		if err == nil {
			return record, nil
		}
		if err != errNotApplicable {
			lastErr = fmt.Errorf("%s: %w", p.name, err)
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errNotApplicable
}

// --- Semantic Scholar ---

type semanticScholarResponse struct {
	Data []struct {
		Title    string `json:"title"`
		Abstract string `json:"abstract"`
		URL      string `json:"url"`
		Year     int    `json:"year"`
		Authors  []struct {
			Name string `json:"name"`
		} `json:"authors"`
		ExternalIDs struct {
			DOI string `json:"DOI"`
		} `json:"externalIds"`
	} `json:"data"`
}

func (t *academicTier) semanticScholar(ctx context.Context, desired DesiredSource) (*VerifiedRecord, error) {
	if t.semanticScholarBaseURL == "" {
		return nil, errNotApplicable
	}
	endpoint := fmt.Sprintf("%s/paper/search?query=%s&fields=title,abstract,url,year,authors,externalIds&limit=3",
		strings.TrimSuffix(t.semanticScholarBaseURL, "/"), url.QueryEscape(desired.Title))

	var result semanticScholarResponse
	if err := t.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}

	for _, paper := range result.Data {
		if !titleMatches(paper.Title, desired.Title) {
			continue
		}
		var authors []string
		for _, a := range paper.Authors {
			authors = append(authors, a.Name)
		}
		author := strings.Join(authors, ", ")
		year := ""
		if paper.Year > 0 {
			year = fmt.Sprintf("%d", paper.Year)
		}

		record := &VerifiedRecord{
			Citation:      formatBookCitation(paper.Title, author, "", year),
			URL:           paper.URL,
			Method:        models.MethodSemanticScholar,
			URLVerified:   paper.URL != "",
			Title:         paper.Title,
			Author:        author,
			PublishedDate: year,
			Identifier:    paper.ExternalIDs.DOI,
		}
		if abstract := strings.TrimSpace(paper.Abstract); abstract != "" {
			record.QuoteText = abstract
			record.Status = models.StatusVerified
			record.ContentType = models.ContentExactQuote
		} else {
			record.Status = models.StatusPartiallyVerified
			record.ContentType = models.ContentVerifiedParaphrase
		}
		return record, nil
	}
	return nil, errNotApplicable
}

// --- arXiv ---

type arxivFeed struct {
	Entries []struct {
		Title   string `xml:"title"`
		Summary string `xml:"summary"`
		ID      string `xml:"id"`
		Authors []struct {
			Name string `xml:"name"`
		} `xml:"author"`
		Published string `xml:"published"`
	} `xml:"entry"`
}

func (t *academicTier) arxiv(ctx context.Context, desired DesiredSource) (*VerifiedRecord, error) {
	if t.arxivBaseURL == "" {
		return nil, errNotApplicable
	}
	endpoint := fmt.Sprintf("%s/query?search_query=ti:%s&max_results=3",
		strings.TrimSuffix(t.arxivBaseURL, "/"), url.QueryEscape(desired.Title))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create arxiv request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv API call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv API returned status %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode arxiv feed: %w", err)
	}

	for _, entry := range feed.Entries {
		title := strings.Join(strings.Fields(entry.Title), " ")
		if !titleMatches(title, desired.Title) {
			continue
		}
		var authors []string
		for _, a := range entry.Authors {
			authors = append(authors, a.Name)
		}
		author := strings.Join(authors, ", ")
		year := ""
		if len(entry.Published) >= 4 {
			year = entry.Published[:4]
		}

		record := &VerifiedRecord{
			Citation:      formatBookCitation(title, author, "arXiv", year),
			URL:           entry.ID,
			Method:        models.MethodArxiv,
			URLVerified:   entry.ID != "",
			Title:         title,
			Author:        author,
			PublishedDate: year,
			Identifier:    arxivIdentifier(entry.ID),
		}
		if summary := strings.TrimSpace(entry.Summary); summary != "" {
			record.QuoteText = strings.Join(strings.Fields(summary), " ")
			record.Status = models.StatusVerified
			record.ContentType = models.ContentExactQuote
		} else {
			record.Status = models.StatusPartiallyVerified
			record.ContentType = models.ContentVerifiedParaphrase
		}
		return record, nil
	}
	return nil, errNotApplicable
}

// arxivIdentifier turns an arXiv abs URL into "arxiv:2301.00001"; an id
// without "/abs/" is returned unchanged.
func arxivIdentifier(id string) string {
	if idx := strings.LastIndex(id, "/abs/"); idx >= 0 {
		return "arxiv:" + id[idx+len("/abs/"):]
	}
	return id
}

// --- PubMed ---

type pubmedSearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type pubmedSummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type pubmedArticle struct {
	Title   string `json:"title"`
	Source  string `json:"source"`
	PubDate string `json:"pubdate"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

func (t *academicTier) pubmed(ctx context.Context, desired DesiredSource) (*VerifiedRecord, error) {
	if t.pubmedBaseURL == "" {
		return nil, errNotApplicable
	}
	base := strings.TrimSuffix(t.pubmedBaseURL, "/")

	var search pubmedSearchResponse
	searchURL := fmt.Sprintf("%s/esearch.fcgi?db=pubmed&term=%s&retmode=json&retmax=3",
		base, url.QueryEscape(desired.Title))
	if err := t.getJSON(ctx, searchURL, &search); err != nil {
		return nil, err
	}
	if len(search.ESearchResult.IDList) == 0 {
		return nil, errNotApplicable
	}

	pmid := search.ESearchResult.IDList[0]
	var summary pubmedSummaryResponse
	summaryURL := fmt.Sprintf("%s/esummary.fcgi?db=pubmed&id=%s&retmode=json", base, url.QueryEscape(pmid))
	if err := t.getJSON(ctx, summaryURL, &summary); err != nil {
		return nil, err
	}

	raw, ok := summary.Result[pmid]
	if !ok {
		return nil, errNotApplicable
	}
	var article pubmedArticle
	if err := json.Unmarshal(raw, &article); err != nil {
		return nil, fmt.Errorf("failed to decode pubmed summary: %w", err)
	}
	if !titleMatches(article.Title, desired.Title) {
		return nil, errNotApplicable
	}

	var authors []string
	for _, a := range article.Authors {
		authors = append(authors, a.Name)
	}
	author := strings.Join(authors, ", ")

	return &VerifiedRecord{
		Citation:      formatBookCitation(article.Title, author, article.Source, article.PubDate),
		URL:           "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/",
		Method:        models.MethodPubmed,
		Status:        models.StatusPartiallyVerified,
		ContentType:   models.ContentVerifiedParaphrase,
		URLVerified:   true,
		Title:         article.Title,
		Author:        author,
		Publisher:     article.Source,
		PublishedDate: article.PubDate,
		Identifier:    "pmid:" + pmid,
	}, nil
}

// getJSON fetches a URL and decodes its JSON body.
func (t *academicTier) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("API call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
