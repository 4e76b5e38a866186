package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
	testdb "github.com/EckmanTechLLC/thereceipts/test/database"
)

func TestNormalizeIdentifier(t *testing.T) {
	assert.Equal(t, "9780140448948", NormalizeIdentifier("978-0-14-044894-8", "ignored", "ignored"))
	assert.Equal(t, "thecityofgod|augustine", NormalizeIdentifier("", "The City of God", "Augustine"))
	assert.Equal(t, "101000synoptic2019", NormalizeIdentifier("10.1000/synoptic.2019", "", ""))
}

func TestVerifiedSourceLibrary_UpsertDedupsOnIdentifier(t *testing.T) {
	client := testdb.NewTestClient(t)
	library := NewVerifiedSourceLibrary(client.Pool, hashEmbedder{})
	ctx := context.Background()

	first, err := library.Upsert(ctx, &models.VerifiedSource{
		Title: "The Genesis Flood", Author: "Whitcomb",
		Identifier: "978-0875523386", URL: "",
		SourceType:         models.SourceScholarlyPeerReviewed,
		VerificationMethod: models.MethodGoogleBooks,
	})
	require.NoError(t, err)

	// Same identifier with punctuation differences dedups; a verified URL
	// fills the empty one.
	second, err := library.Upsert(ctx, &models.VerifiedSource{
		Title: "The Genesis Flood", Author: "Whitcomb",
		Identifier: "9780875523386", URL: "https://books.example.org/genesis-flood",
		SourceType:         models.SourceScholarlyPeerReviewed,
		VerificationMethod: models.MethodGoogleBooks,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	count, err := library.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	entry, err := library.ByIdentifier(ctx, "9780875523386")
	require.NoError(t, err)
	assert.Equal(t, "https://books.example.org/genesis-flood", entry.URL)
}

func TestVerifiedSourceLibrary_SearchByEmbedding(t *testing.T) {
	client := testdb.NewTestClient(t)
	library := NewVerifiedSourceLibrary(client.Pool, hashEmbedder{})
	ctx := context.Background()

	_, err := library.Upsert(ctx, &models.VerifiedSource{
		Title: "Flood Geology Reconsidered", Author: "A. Scholar",
		SourceType:         models.SourceScholarlyPeerReviewed,
		VerificationMethod: models.MethodSemanticScholar,
	})
	require.NoError(t, err)

	// The topic embedding is computed from "title author".
	vec, err := hashEmbedder{}.Embed(ctx, "Flood Geology Reconsidered A. Scholar")
	require.NoError(t, err)

	matches, err := library.SearchByEmbedding(ctx, vec, 0.9, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Flood Geology Reconsidered", matches[0].Source.Title)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-3)
}

func TestPromptStore_HotEditable(t *testing.T) {
	client := testdb.NewTestClient(t)
	prompts := NewPromptStore(client.Pool)
	ctx := context.Background()

	require.NoError(t, prompts.Upsert(ctx, &models.AgentPrompt{
		AgentName: "writer", Provider: "anthropic", Model: "model-a",
		SystemPrompt: "first version", Temperature: 0.4, MaxTokens: 4096,
	}))

	loaded, err := prompts.Get(ctx, "writer")
	require.NoError(t, err)
	assert.Equal(t, "first version", loaded.SystemPrompt)

	// An edit is visible on the very next read — nothing caches rows.
	require.NoError(t, prompts.Upsert(ctx, &models.AgentPrompt{
		AgentName: "writer", Provider: "openai", Model: "model-b",
		SystemPrompt: "second version", Temperature: 0.1, MaxTokens: 2048,
	}))
	reloaded, err := prompts.Get(ctx, "writer")
	require.NoError(t, err)
	assert.Equal(t, "second version", reloaded.SystemPrompt)
	assert.Equal(t, "openai", reloaded.Provider)

	_, err = prompts.Get(ctx, "missing_agent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPromptStore_SeedDefaultsDoesNotOverwrite(t *testing.T) {
	client := testdb.NewTestClient(t)
	prompts := NewPromptStore(client.Pool)
	ctx := context.Background()

	require.NoError(t, prompts.Upsert(ctx, &models.AgentPrompt{
		AgentName: "router", Provider: "anthropic", Model: "custom",
		SystemPrompt: "operator tuned", Temperature: 0.1, MaxTokens: 1024,
	}))

	require.NoError(t, prompts.SeedDefaults(ctx, []models.AgentPrompt{
		{AgentName: "router", Provider: "openai", Model: "default", SystemPrompt: "default"},
		{AgentName: "writer", Provider: "openai", Model: "default", SystemPrompt: "default"},
	}))

	router, err := prompts.Get(ctx, "router")
	require.NoError(t, err)
	assert.Equal(t, "operator tuned", router.SystemPrompt)

	writer, err := prompts.Get(ctx, "writer")
	require.NoError(t, err)
	assert.Equal(t, "default", writer.SystemPrompt)
}
