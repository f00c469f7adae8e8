// Package llm is the language-model boundary of the consultation pipeline.
//
// Components depend on Completer only. Production completers are langchaingo
// models wrapped in a rate limiter; tests use Func.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/retry"
)

// ErrEmptyResponse is returned when the model answers with no choices or
// only whitespace.
var ErrEmptyResponse = errors.New("empty response from model")

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer produces text for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Completer.
type Func func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// LangChain runs completions through a langchaingo model.
type LangChain struct {
	model llms.Model
}

// NewLangChain wraps a langchaingo model.
func NewLangChain(model llms.Model) *LangChain {
	return &LangChain{model: model}
}

// Complete sends the system and user prompts as chat messages.
func (l *LangChain) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, req.System))
	}
	msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := l.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		err = fmt.Errorf("generate content: %w", err)
		if rejected(err) {
			return "", retry.Permanent(err)
		}
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

var statusCode = regexp.MustCompile(`status code:? (\d{3})`)

// rejected reports whether the provider refused the request outright: a
// 4xx other than timeout or rate limiting. langchaingo only reports the
// status in the error text.
func rejected(err error) bool {
	m := statusCode.FindStringSubmatch(err.Error())
	if m == nil {
		return false
	}
	code, _ := strconv.Atoi(m[1])
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}

// New builds the configured provider, rate limited.
func New(cfg config.LLMConfig) (Completer, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewRateLimited(NewLangChain(model), cfg.RequestsPerSecond, cfg.Burst), nil
}

func newModel(cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai":
		if !cfg.APIKey.IsSet() && cfg.BaseURL == "" {
			return nil, errors.New("openai api key required")
		}
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey.Value()),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return m, nil
	case "anthropic":
		if !cfg.APIKey.IsSet() {
			return nil, errors.New("anthropic api key required")
		}
		m, err := anthropic.New(
			anthropic.WithModel(cfg.Model),
			anthropic.WithToken(cfg.APIKey.Value()),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return m, nil
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		m, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
