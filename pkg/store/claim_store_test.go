package store

import (
	"context"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EckmanTechLLC/thereceipts/pkg/embedding"
	"github.com/EckmanTechLLC/thereceipts/pkg/models"
	testdb "github.com/EckmanTechLLC/thereceipts/test/database"
)

// hashEmbedder is a deterministic offline embedder: similar only to
// identical text, unit length, stable across calls.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embedding.Dim)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	for i := 0; i < 8; i++ {
		vec[(seed>>(i*8))%uint64(embedding.Dim)] = 1
	}
	embedding.Normalize(vec)
	return vec, nil
}

func (hashEmbedder) Dim() int { return embedding.Dim }

func validCard(claimText string) *models.ClaimCard {
	return &models.ClaimCard{
		ClaimText:         claimText,
		Claimant:          "apologists",
		ClaimType:         "historical assertion",
		ClaimTypeCategory: models.CategoryHistorical,
		Verdict:           models.VerdictTrue,
		ShortAnswer:       "This claim is true.",
		DeepAnswer:        "At length, the evidence shows...",
		WhyPersists:       []string{"tradition", "repetition"},
		ConfidenceLevel:   models.ConfidenceHigh,
		ConfidenceExplanation: "broad agreement across sources",
		AgentAudit: map[string]any{
			"writer": map[string]any{"what_was_checked": "prose"},
		},
		VisibleInAudits: true,
		Sources: []models.Source{{
			Citation:           "Author, Some Work (Publisher, 2001)",
			URL:                "https://example.org/work",
			QuoteText:          "a supporting quote",
			UsageContext:       "used to establish the main point",
			SourceType:         models.SourceScholarlyPeerReviewed,
			VerificationMethod: models.MethodGoogleBooks,
			VerificationStatus: models.StatusVerified,
			ContentType:        models.ContentExactQuote,
			URLVerified:        true,
		}},
		ApologeticsTags: []string{"flood"},
		CategoryTags:    []string{"genesis"},
	}
}

func TestClaimStore_InsertAndByID(t *testing.T) {
	client := testdb.NewTestClient(t)
	claims := NewClaimStore(client.Pool, hashEmbedder{})
	ctx := context.Background()

	original := validCard("the flood narrative parallels Gilgamesh")
	stored, err := claims.Insert(ctx, original)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)
	assert.Len(t, stored.Embedding, embedding.Dim)

	// L2: by_id(insert(c)) equals c modulo id/timestamps.
	loaded, err := claims.ByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, original.ClaimText, loaded.ClaimText)
	assert.Equal(t, original.Verdict, loaded.Verdict)
	assert.Equal(t, original.ShortAnswer, loaded.ShortAnswer)
	assert.Equal(t, original.WhyPersists, loaded.WhyPersists)
	assert.Equal(t, original.ConfidenceLevel, loaded.ConfidenceLevel)
	assert.Equal(t, original.ApologeticsTags, loaded.ApologeticsTags)
	assert.Equal(t, original.CategoryTags, loaded.CategoryTags)
	require.Len(t, loaded.Sources, 1)
	assert.Equal(t, original.Sources[0].Citation, loaded.Sources[0].Citation)
	assert.Equal(t, original.Sources[0].VerificationMethod, loaded.Sources[0].VerificationMethod)
	assert.Contains(t, loaded.AgentAudit, "writer")
}

func TestClaimStore_InsertValidation(t *testing.T) {
	client := testdb.NewTestClient(t)
	claims := NewClaimStore(client.Pool, hashEmbedder{})
	ctx := context.Background()

	t.Run("empty claim text", func(t *testing.T) {
		card := validCard("  ")
		_, err := claims.Insert(ctx, card)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("no sources", func(t *testing.T) {
		card := validCard("a claim")
		card.Sources = nil
		_, err := claims.Insert(ctx, card)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("bad verdict", func(t *testing.T) {
		card := validCard("a claim")
		card.Verdict = "MAYBE"
		_, err := claims.Insert(ctx, card)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}

func TestClaimStore_ByID_NotFound(t *testing.T) {
	client := testdb.NewTestClient(t)
	claims := NewClaimStore(client.Pool, hashEmbedder{})

	_, err := claims.ByID(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimStore_SearchByEmbedding(t *testing.T) {
	client := testdb.NewTestClient(t)
	claims := NewClaimStore(client.Pool, hashEmbedder{})
	ctx := context.Background()

	stored, err := claims.Insert(ctx, validCard("Luke used Mark as a source"))
	require.NoError(t, err)
	_, err = claims.Insert(ctx, validCard("the ark could not hold all species"))
	require.NoError(t, err)

	// Identical text embeds identically: similarity 1.
	vec, err := hashEmbedder{}.Embed(ctx, "Luke used Mark as a source")
	require.NoError(t, err)

	matches, err := claims.SearchByEmbedding(ctx, vec, 0.9, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, stored.ID, matches[0].Card.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-3)
	require.Len(t, matches[0].Card.Sources, 1, "search results eager-load sources")
}

func TestClaimStore_UpdateClaimText_ReEmbeds(t *testing.T) {
	// P3: mutating claim_text regenerates the embedding in-transaction.
	client := testdb.NewTestClient(t)
	claims := NewClaimStore(client.Pool, hashEmbedder{})
	ctx := context.Background()

	stored, err := claims.Insert(ctx, validCard("original claim text"))
	require.NoError(t, err)

	require.NoError(t, claims.UpdateClaimText(ctx, stored.ID, "completely different claim text"))

	updated, err := claims.ByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "completely different claim text", updated.ClaimText)

	expected, err := hashEmbedder{}.Embed(ctx, "completely different claim text")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, embedding.Cosine(expected, updated.Embedding), 1e-3)

	stale, err := hashEmbedder{}.Embed(ctx, "original claim text")
	require.NoError(t, err)
	assert.Less(t, embedding.Cosine(stale, updated.Embedding), 0.9)
}

func TestClaimStore_ListForAudits(t *testing.T) {
	client := testdb.NewTestClient(t)
	claims := NewClaimStore(client.Pool, hashEmbedder{})
	ctx := context.Background()

	visible := validCard("a visible historical claim")
	_, err := claims.Insert(ctx, visible)
	require.NoError(t, err)

	hidden := validCard("a hidden claim")
	hidden.VisibleInAudits = false
	_, err = claims.Insert(ctx, hidden)
	require.NoError(t, err)

	falseCard := validCard("a false textual claim")
	falseCard.Verdict = models.VerdictFalse
	falseCard.ClaimTypeCategory = models.CategoryTextual
	_, err = claims.Insert(ctx, falseCard)
	require.NoError(t, err)

	t.Run("hidden cards excluded", func(t *testing.T) {
		listing, err := claims.ListForAudits(ctx, models.AuditFilters{})
		require.NoError(t, err)
		assert.Equal(t, 2, listing.TotalCount)
		for _, card := range listing.Cards {
			assert.True(t, card.VisibleInAudits)
		}
	})

	t.Run("verdict filter", func(t *testing.T) {
		listing, err := claims.ListForAudits(ctx, models.AuditFilters{Verdict: models.VerdictFalse})
		require.NoError(t, err)
		require.Len(t, listing.Cards, 1)
		assert.Equal(t, models.VerdictFalse, listing.Cards[0].Verdict)
	})

	t.Run("substring filter", func(t *testing.T) {
		listing, err := claims.ListForAudits(ctx, models.AuditFilters{Substring: "textual"})
		require.NoError(t, err)
		require.Len(t, listing.Cards, 1)
	})

	t.Run("category filter", func(t *testing.T) {
		listing, err := claims.ListForAudits(ctx, models.AuditFilters{Category: models.CategoryHistorical})
		require.NoError(t, err)
		require.Len(t, listing.Cards, 1)
	})
}
