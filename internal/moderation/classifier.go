package moderation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/retry"
)

// CategoryScore is one category reported by a content classifier.
type CategoryScore struct {
	Category string  `json:"category"`
	Flagged  bool    `json:"flagged"`
	Score    float64 `json:"score"`
}

// Classification is the classifier output for one text.
type Classification struct {
	Flagged bool            `json:"flagged"`
	Scores  []CategoryScore `json:"scores"`
}

// Classifier screens text for unsafe content.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// NoopClassifier flags nothing. Only the coherence check applies.
type NoopClassifier struct{}

// Classify returns an empty classification.
func (NoopClassifier) Classify(context.Context, string) (Classification, error) {
	return Classification{}, nil
}

// OpenAIClassifier calls the OpenAI moderation endpoint.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

// NewOpenAIClassifier builds a classifier from the moderation section.
func NewOpenAIClassifier(cfg config.ModerationConfig) (*OpenAIClassifier, error) {
	if !cfg.APIKey.IsSet() && cfg.BaseURL == "" {
		return nil, errors.New("moderation api key required")
	}
	oc := openai.DefaultConfig(cfg.APIKey.Value())
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.ModerationTextLatest
	}
	return &OpenAIClassifier{client: openai.NewClientWithConfig(oc), model: model}, nil
}

// Classify submits text and flattens the per-category flags and scores.
// Categories the client does not model still count through Flagged.
// Client errors other than 429 are marked permanent.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{Input: text, Model: c.model})
	if err != nil {
		err = fmt.Errorf("moderation request: %w", err)
		if !isTransient(err) {
			return Classification{}, retry.Permanent(err)
		}
		return Classification{}, err
	}
	if len(resp.Results) == 0 {
		return Classification{}, errors.New("moderation response has no results")
	}

	r := resp.Results[0]
	cats, scores := r.Categories, r.CategoryScores
	return Classification{
		Flagged: r.Flagged,
		Scores: []CategoryScore{
			{Category: "hate", Flagged: cats.Hate, Score: float64(scores.Hate)},
			{Category: "hate_threatening", Flagged: cats.HateThreatening, Score: float64(scores.HateThreatening)},
			{Category: "harassment", Flagged: cats.Harassment, Score: float64(scores.Harassment)},
			{Category: "harassment_threatening", Flagged: cats.HarassmentThreatening, Score: float64(scores.HarassmentThreatening)},
			{Category: "self_harm", Flagged: cats.SelfHarm, Score: float64(scores.SelfHarm)},
			{Category: "self_harm_intent", Flagged: cats.SelfHarmIntent, Score: float64(scores.SelfHarmIntent)},
			{Category: "self_harm_instructions", Flagged: cats.SelfHarmInstructions, Score: float64(scores.SelfHarmInstructions)},
			{Category: "sexual", Flagged: cats.Sexual, Score: float64(scores.Sexual)},
			{Category: "sexual_minors", Flagged: cats.SexualMinors, Score: float64(scores.SexualMinors)},
			{Category: "violence", Flagged: cats.Violence, Score: float64(scores.Violence)},
			{Category: "violence_graphic", Flagged: cats.ViolenceGraphic, Score: float64(scores.ViolenceGraphic)},
		},
	}, nil
}

func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	// Network failures carry no status.
	return true
}
