package embeddings

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecorder_Observe(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	r := NewRecorder("tei")
	ctx := context.Background()
	start := time.Now().Add(-20 * time.Millisecond)
	r.Observe(ctx, "bge", CallDocuments, start, 4, nil)
	r.Observe(ctx, "bge", CallQuery, start, 1, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput))
	r.Observe(ctx, "bge", CallQuery, start, 1, errors.New("connection reset"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	reasons := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
			if m.Name != "consultd.embedding.failures_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				reason, _ := dp.Attributes.Value(attribute.Key("reason"))
				provider, _ := dp.Attributes.Value(attribute.Key("provider"))
				assert.Equal(t, "tei", provider.AsString())
				reasons[reason.AsString()] += dp.Value
			}
		}
	}
	assert.True(t, names["consultd.embedding.duration_seconds"])
	assert.True(t, names["consultd.embedding.texts"])
	assert.Equal(t, map[string]int64{"empty_input": 1, "upstream": 1}, reasons)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "empty_input", failureReason(fmt.Errorf("wrap: %w", ErrEmptyInput)))
	assert.Equal(t, "cancelled", failureReason(context.Canceled))
	assert.Equal(t, "cancelled", failureReason(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Equal(t, "upstream", failureReason(ErrEmbeddingFailed))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Observe(context.Background(), "m", CallQuery, time.Now(), 1, errors.New("x"))
	})
}
