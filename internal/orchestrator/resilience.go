package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/consultd/internal/embeddings"
	"github.com/fyrsmithlabs/consultd/internal/llm"
	"github.com/fyrsmithlabs/consultd/internal/logging"
	"github.com/fyrsmithlabs/consultd/internal/moderation"
	"github.com/fyrsmithlabs/consultd/internal/retry"
)

// The decorators below apply the pipeline retry policy to each external
// client exactly once. Components never retry on their own.

func retryNotify(ctx context.Context, logger *logging.Logger, m *Metrics, call string) retry.NotifyFunc {
	return func(attempt int, err error, wait time.Duration) {
		if m != nil {
			m.Retries.WithLabelValues(call).Inc()
		}
		if logger != nil {
			logger.Warn(ctx, "external call failed, retrying",
				zap.String("call", call),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
	}
}

type retryingCompleter struct {
	next   llm.Completer
	policy retry.Policy
	logger *logging.Logger
	m      *Metrics
}

// RetryCompleter retries failed completions under policy.
func RetryCompleter(next llm.Completer, policy retry.Policy, logger *logging.Logger, m *Metrics) llm.Completer {
	return &retryingCompleter{next: next, policy: policy, logger: logger, m: m}
}

func (r *retryingCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.next.Complete(ctx, req)
	}, retryNotify(ctx, r.logger, r.m, "completion"))
}

type retryingEmbedder struct {
	next   embeddings.Embedder
	policy retry.Policy
	logger *logging.Logger
	m      *Metrics
}

// RetryEmbedder retries failed embedding calls under policy. Empty input
// is never retried.
func RetryEmbedder(next embeddings.Embedder, policy retry.Policy, logger *logging.Logger, m *Metrics) embeddings.Embedder {
	return &retryingEmbedder{next: next, policy: policy, logger: logger, m: m}
}

func (r *retryingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) ([][]float32, error) {
		out, err := r.next.EmbedDocuments(ctx, texts)
		return out, permanentIfEmptyInput(err)
	}, retryNotify(ctx, r.logger, r.m, "embedding"))
}

func (r *retryingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) ([]float32, error) {
		out, err := r.next.EmbedQuery(ctx, text)
		return out, permanentIfEmptyInput(err)
	}, retryNotify(ctx, r.logger, r.m, "embedding"))
}

func permanentIfEmptyInput(err error) error {
	if errors.Is(err, embeddings.ErrEmptyInput) {
		return retry.Permanent(err)
	}
	return err
}

type retryingClassifier struct {
	next   moderation.Classifier
	policy retry.Policy
	logger *logging.Logger
	m      *Metrics
}

// RetryClassifier retries failed classification calls under policy.
func RetryClassifier(next moderation.Classifier, policy retry.Policy, logger *logging.Logger, m *Metrics) moderation.Classifier {
	return &retryingClassifier{next: next, policy: policy, logger: logger, m: m}
}

func (r *retryingClassifier) Classify(ctx context.Context, text string) (moderation.Classification, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) (moderation.Classification, error) {
		return r.next.Classify(ctx, text)
	}, retryNotify(ctx, r.logger, r.m, "classification"))
}
