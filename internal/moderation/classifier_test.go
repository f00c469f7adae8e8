package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/retry"
)

func newTestClassifier(t *testing.T, handler http.HandlerFunc) *OpenAIClassifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenAIClassifier(config.ModerationConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	return c
}

func TestOpenAIClassifier_Classify(t *testing.T) {
	c := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/moderations", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "symptoms text", req["input"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "modr-1",
			"model": "text-moderation-007",
			"results": [{
				"flagged": true,
				"categories": {"self-harm": true, "violence": false},
				"category_scores": {"self-harm": 0.91, "violence": 0.002}
			}]
		}`))
	})

	out, err := c.Classify(context.Background(), "symptoms text")
	require.NoError(t, err)
	assert.True(t, out.Flagged)

	byName := map[string]CategoryScore{}
	for _, s := range out.Scores {
		byName[s.Category] = s
	}
	assert.True(t, byName["self_harm"].Flagged)
	assert.InDelta(t, 0.91, byName["self_harm"].Score, 1e-6)
	assert.False(t, byName["violence"].Flagged)
}

func moderationReply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "modr-2", "model": "omni-moderation-latest", "results": [` + body + `]}`))
	}
}

func TestOpenAIClassifier_NewerCategories(t *testing.T) {
	c := newTestClassifier(t, moderationReply(`{
		"flagged": true,
		"categories": {"harassment": true, "self-harm/intent": true, "self-harm/instructions": false},
		"category_scores": {"harassment": 0.81, "self-harm/intent": 0.64, "self-harm/instructions": 0.03}
	}`))

	out, err := c.Classify(context.Background(), "symptoms text")
	require.NoError(t, err)

	byName := map[string]CategoryScore{}
	for _, s := range out.Scores {
		byName[s.Category] = s
	}
	assert.True(t, byName["harassment"].Flagged)
	assert.InDelta(t, 0.81, byName["harassment"].Score, 1e-6)
	assert.True(t, byName["self_harm_intent"].Flagged)
	assert.False(t, byName["self_harm_instructions"].Flagged)

	res := NewGate(c, coherence("85", nil), testCfg).Check(context.Background(), input)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"harassment", "self_harm_intent"}, res.Categories)
}

func TestOpenAIClassifier_UnmodeledCategoryStillFailsGate(t *testing.T) {
	c := newTestClassifier(t, moderationReply(`{
		"flagged": true,
		"categories": {"illicit": true, "violence": false},
		"category_scores": {"illicit": 0.77, "violence": 0.001}
	}`))

	calls := 0
	res := NewGate(c, coherence("85", &calls), testCfg).Check(context.Background(), input)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{CategoryFlagged}, res.Categories)
	assert.Zero(t, calls)
}

func TestOpenAIClassifier_ClientErrorIsPermanent(t *testing.T) {
	c := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input","type":"invalid_request_error"}}`))
	})

	_, err := c.Classify(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestOpenAIClassifier_ServerErrorIsTransient(t *testing.T) {
	c := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})

	_, err := c.Classify(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err))
}

func TestNewOpenAIClassifier_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClassifier(config.ModerationConfig{})
	assert.Error(t, err)
}
