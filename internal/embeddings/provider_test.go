package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/consultd/internal/config"
)

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider(config.EmbeddingsConfig{Provider: "word2vec"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_OpenAIRequiresKey(t *testing.T) {
	_, err := NewProvider(config.EmbeddingsConfig{Provider: "openai", Model: "text-embedding-3-small"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectDimensionFromModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-ada-002", 1536},
		{"text-embedding-3-large", 3072},
		{"BAAI/bge-base-en-v1.5", 768},
		{"sentence-transformers/all-MiniLM-L6-v2", 384},
		{"intfloat/e5-large", 1024},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDimensionFromModel(tt.model))
		})
	}
}

func TestOpenAIProvider_EmbedQuery(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
			},
			"usage": map[string]int{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	p, err := NewProvider(config.EmbeddingsConfig{
		Provider: "openai",
		Model:    "text-embedding-3-small",
		BaseURL:  srv.URL + "/v1",
		APIKey:   "sk-test",
	})
	require.NoError(t, err)
	defer p.Close()

	vec, err := p.EmbedQuery(context.Background(), "fever, cough")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "/v1/embeddings", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, 1536, p.Dimension())
}

func TestOpenAIProvider_EmptyInput(t *testing.T) {
	p, err := NewOpenAIProvider(config.EmbeddingsConfig{Model: "text-embedding-3-small", APIKey: "sk-test"})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}
