package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, vec []float32, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":  []map[string]any{{"embedding": vec, "index": 0}},
			"model": "test-embedding",
			"usage": map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
}

func TestClient_Embed(t *testing.T) {
	raw := make([]float32, Dim)
	raw[0] = 3
	raw[1] = 4
	server := embeddingServer(t, raw, http.StatusOK)
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Model: "test-embedding"})
	vec, err := client.Embed(context.Background(), "some text")
	require.NoError(t, err)
	require.Len(t, vec, Dim)

	// Normalized to unit length.
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-5)
	assert.InDelta(t, 0.8, float64(vec[1]), 1e-5)
}

func TestClient_Embed_TransportFailure(t *testing.T) {
	server := embeddingServer(t, nil, http.StatusServiceUnavailable)
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Model: "m"})
	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err, "transport failures surface, never a zero vector")
}

func TestClient_Embed_WrongDimension(t *testing.T) {
	server := embeddingServer(t, make([]float32, 8), http.StatusOK)
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Model: "m"})
	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestClient_Embed_EmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Model: "m"})
	_, err := client.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, errNoEmbedding)
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	assert.InDelta(t, 0, Cosine(a, b), 1e-9)
	assert.InDelta(t, 1, Cosine(a, a), 1e-9)
	assert.Zero(t, Cosine(a, []float32{1, 0}), "mismatched lengths")
	assert.Zero(t, Cosine(nil, nil))
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 0, 3.125}
	literal := VectorLiteral(vec)
	assert.Equal(t, "[0.25,-1.5,0,3.125]", literal)

	parsed, err := ParseVector(literal)
	require.NoError(t, err)
	assert.Equal(t, vec, parsed)
}

func TestParseVector_Invalid(t *testing.T) {
	_, err := ParseVector("not a vector")
	require.Error(t, err)
	_, err = ParseVector("[1,2,x]")
	require.Error(t, err)
}

func TestNormalize_ZeroVectorUnchanged(t *testing.T) {
	vec := make([]float32, 4)
	Normalize(vec)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec)
}
