package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordRow records one row's inference with its duration and error status.
	RecordRow(ctx context.Context, batchID string, duration time.Duration, err error)

	// RecordValidation records whether the model output passed schema validation.
	RecordValidation(ctx context.Context, batchID string, valid bool)

	// RecordRetry records one transient-failure retry against the backend.
	RecordRetry(ctx context.Context, endpoint string)

	// RecordFlush records a completed flush-cycle and its record count.
	RecordFlush(ctx context.Context, batchID string, records int)

	// RecordBatch records a batch run completion.
	RecordBatch(ctx context.Context, batchID string, success bool, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	rowsProcessed  metric.Int64Counter
	rowLatency     metric.Float64Histogram
	rowErrors      metric.Int64Counter
	validationMiss metric.Int64Counter
	backendRetries metric.Int64Counter
	flushes        metric.Int64Counter
	flushRecords   metric.Int64Histogram
	batchRuns      metric.Int64Counter
	batchLatency   metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eqshard")

	rowsProcessed, err := meter.Int64Counter("eqshard.rows.processed",
		metric.WithDescription("Number of rows sent through inference"),
	)
	if err != nil {
		return nil, err
	}

	rowLatency, err := meter.Float64Histogram("eqshard.row.latency_ms",
		metric.WithDescription("Per-row inference latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	rowErrors, err := meter.Int64Counter("eqshard.row.errors",
		metric.WithDescription("Number of rows that failed inference"),
	)
	if err != nil {
		return nil, err
	}

	validationMiss, err := meter.Int64Counter("eqshard.validation.failures",
		metric.WithDescription("Number of model outputs that failed schema validation"),
	)
	if err != nil {
		return nil, err
	}

	backendRetries, err := meter.Int64Counter("eqshard.backend.retries",
		metric.WithDescription("Number of transient-failure retries against the backend"),
	)
	if err != nil {
		return nil, err
	}

	flushes, err := meter.Int64Counter("eqshard.flushes",
		metric.WithDescription("Number of completed flush-cycles"),
	)
	if err != nil {
		return nil, err
	}

	flushRecords, err := meter.Int64Histogram("eqshard.flush.records",
		metric.WithDescription("Records written per flush-cycle"),
	)
	if err != nil {
		return nil, err
	}

	batchRuns, err := meter.Int64Counter("eqshard.batch.runs",
		metric.WithDescription("Number of batch runs"),
	)
	if err != nil {
		return nil, err
	}

	batchLatency, err := meter.Float64Histogram("eqshard.batch.latency_ms",
		metric.WithDescription("Batch run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		rowsProcessed:  rowsProcessed,
		rowLatency:     rowLatency,
		rowErrors:      rowErrors,
		validationMiss: validationMiss,
		backendRetries: backendRetries,
		flushes:        flushes,
		flushRecords:   flushRecords,
		batchRuns:      batchRuns,
		batchLatency:   batchLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordRow records one row's inference.
func (m *otelMetrics) RecordRow(ctx context.Context, batchID string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("batch_id", batchID),
	}

	m.rowsProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.rowLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.rowErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordValidation records a schema validation outcome.
func (m *otelMetrics) RecordValidation(ctx context.Context, batchID string, valid bool) {
	if valid {
		return
	}
	m.validationMiss.Add(ctx, 1, metric.WithAttributes(
		attribute.String("batch_id", batchID),
	))
}

// RecordRetry records one transient-failure retry.
func (m *otelMetrics) RecordRetry(ctx context.Context, endpoint string) {
	m.backendRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordFlush records a completed flush-cycle.
func (m *otelMetrics) RecordFlush(ctx context.Context, batchID string, records int) {
	attrs := []attribute.KeyValue{
		attribute.String("batch_id", batchID),
	}
	m.flushes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.flushRecords.Record(ctx, int64(records), metric.WithAttributes(attrs...))
}

// RecordBatch records a batch run.
func (m *otelMetrics) RecordBatch(ctx context.Context, batchID string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("batch_id", batchID),
		attribute.Bool("success", success),
	}
	m.batchRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.batchLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}
