package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTracingTest installs an in-memory exporter on the global provider.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)

	// The package tracer was captured at init; rebind it to the test
	// provider, and again to the original on cleanup.
	tracer = otel.Tracer("eqshard")

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		tracer = otel.Tracer("eqshard")
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}

	return exporter, cleanup
}

func TestStartBatchSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	ctx, span := sm.StartBatchSpan(context.Background(), "part-000", 2)
	require.NotNil(t, span)
	assert.True(t, trace.SpanFromContext(ctx).IsRecording())

	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "eqshard.batch", spans[0].Name)

	attrs := spans[0].Attributes
	found := 0
	for _, attr := range attrs {
		switch attr.Key {
		case "batch.id":
			assert.Equal(t, "part-000", attr.Value.AsString())
			found++
		case "worker.rank":
			assert.Equal(t, int64(2), attr.Value.AsInt64())
			found++
		}
	}
	assert.Equal(t, 2, found, "Expected batch.id and worker.rank attributes")
}

func TestStartRowSpan_NestsUnderBatch(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	ctx, batchSpan := sm.StartBatchSpan(context.Background(), "part-000", 0)
	_, rowSpan := sm.StartRowSpan(ctx, 7)

	sm.EndSpanWithError(rowSpan, nil)
	sm.EndSpanWithError(batchSpan, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	// Row span finishes first, parented to the batch span.
	assert.Equal(t, "eqshard.row", spans[0].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
}

func TestEndSpanWithError_RecordsError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	_, span := sm.StartRowSpan(context.Background(), 3)
	sm.EndSpanWithError(span, errors.New("backend exhausted"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "backend exhausted", spans[0].Status.Description)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestNoopSpanManager(t *testing.T) {
	sm := NoopSpanManager{}

	ctx, span := sm.StartBatchSpan(context.Background(), "part-000", 0)
	assert.NotNil(t, span)
	assert.False(t, span.IsRecording())

	_, rowSpan := sm.StartRowSpan(ctx, 0)
	assert.False(t, rowSpan.IsRecording())

	// Must not panic.
	sm.EndSpanWithError(rowSpan, errors.New("ignored"))
	sm.AddSpanEvent(ctx, "ignored")
}
