package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/consultd/internal/embeddings"

// Call distinguishes ingestion batches from consultation lookups.
type Call string

const (
	CallDocuments Call = "documents"
	CallQuery     Call = "query"
)

// Failure reasons reported on consultd.embedding.failures_total.
const (
	reasonEmptyInput = "empty_input"
	reasonCancelled  = "cancelled"
	reasonUpstream   = "upstream"
)

// Recorder reports embedding calls for one provider. Instrument creation
// errors go to the global OTEL error handler; a missing instrument is
// skipped.
type Recorder struct {
	provider string
	duration metric.Float64Histogram
	texts    metric.Int64Histogram
	failures metric.Int64Counter
}

// NewRecorder creates instruments on the global meter provider.
func NewRecorder(provider string) *Recorder {
	meter := otel.Meter(embeddingsInstrumentationName)
	r := &Recorder{provider: provider}

	var err error
	if r.duration, err = meter.Float64Histogram(
		"consultd.embedding.duration_seconds",
		metric.WithDescription("Embedding call latency by provider, model and call"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		otel.Handle(err)
	}
	if r.texts, err = meter.Int64Histogram(
		"consultd.embedding.texts",
		metric.WithDescription("Texts per embedding call; query calls always embed one"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 8, 32, 128, 512),
	); err != nil {
		otel.Handle(err)
	}
	if r.failures, err = meter.Int64Counter(
		"consultd.embedding.failures_total",
		metric.WithDescription("Failed embedding calls by reason"),
		metric.WithUnit("{call}"),
	); err != nil {
		otel.Handle(err)
	}
	return r
}

// Observe records one call that started at start and embedded n texts.
func (r *Recorder) Observe(ctx context.Context, model string, call Call, start time.Time, n int, err error) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", r.provider),
		attribute.String("model", model),
		attribute.String("call", string(call)),
	)

	if r.duration != nil {
		r.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if n > 0 && r.texts != nil {
		r.texts.Record(ctx, int64(n), attrs)
	}
	if err != nil && r.failures != nil {
		r.failures.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("reason", failureReason(err))))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return reasonEmptyInput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return reasonCancelled
	}
	return reasonUpstream
}
