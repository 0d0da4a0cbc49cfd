// Package observability provides structured logging, metrics, and tracing
// for the pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features have no-op fallbacks; a worker on a compute node with no
// collector configured pays nothing beyond its log lines.
package observability

import (
	"log/slog"
	"time"

	"eqshard/pkg/eqshard/cluster"
)

// EnrichLogger stamps worker identity onto a logger. Every log line a
// worker emits carries its rank so interleaved per-rank output files stay
// attributable.
func EnrichLogger(logger *slog.Logger, runID string, coords cluster.Coordinates, host string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.Int("rank", coords.GlobalIndex),
		slog.Int("world", coords.WorldSize),
		slog.Int("local_slot", coords.LocalSlot),
		slog.String("host", host),
	)
}

// LogRunStart logs worker startup after identity resolution.
func LogRunStart(logger *slog.Logger, batches int, endpoint string) {
	if logger == nil {
		return
	}
	logger.Info("worker starting",
		slog.Int("batches", batches),
		slog.String("endpoint", endpoint),
	)
}

// LogBatchStart logs the beginning of one batch, including the resume
// point so restarts are visible in the logs.
func LogBatchStart(logger *slog.Logger, batchID string, totalRows, assigned, resumeOffset int) {
	if logger == nil {
		return
	}
	logger.Info("batch starting",
		slog.String("batch", batchID),
		slog.Int("rows", totalRows),
		slog.Int("assigned", assigned),
		slog.Int("resume_offset", resumeOffset),
	)
}

// LogBatchComplete logs successful completion of a batch.
func LogBatchComplete(logger *slog.Logger, batchID string, processed int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("batch completed",
		slog.String("batch", batchID),
		slog.Int("processed", processed),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBatchAborted logs a batch cut short by backend exhaustion.
func LogBatchAborted(logger *slog.Logger, batchID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("batch aborted, remaining rows skipped",
		slog.String("batch", batchID),
		slog.String("error", err.Error()),
	)
}

// LogBatchSkipped logs a batch that could not be loaded at all.
func LogBatchSkipped(logger *slog.Logger, batchID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("batch unreadable, skipping",
		slog.String("batch", batchID),
		slog.String("error", err.Error()),
	)
}

// LogRowError logs a row-level failure; the row is skipped and the worker
// continues.
func LogRowError(logger *slog.Logger, batchID string, rowIndex int, err error) {
	if logger == nil {
		return
	}
	logger.Error("row failed",
		slog.String("batch", batchID),
		slog.Int("row", rowIndex),
		slog.String("error", err.Error()),
	)
}

// LogRowSkipped logs a row dropped before inference (over-long prompt).
func LogRowSkipped(logger *slog.Logger, batchID string, rowIndex, promptLen, budget int) {
	if logger == nil {
		return
	}
	logger.Warn("row skipped, prompt too long",
		slog.String("batch", batchID),
		slog.Int("row", rowIndex),
		slog.Int("prompt_len", promptLen),
		slog.Int("budget", budget),
	)
}

// LogValidationMiss logs a validation failure; the record is kept without
// structured fields.
func LogValidationMiss(logger *slog.Logger, batchID string, rowIndex int, err error) {
	if logger == nil {
		return
	}
	logger.Debug("model output failed validation",
		slog.String("batch", batchID),
		slog.Int("row", rowIndex),
		slog.String("error", err.Error()),
	)
}

// LogFlush logs one completed flush-cycle.
func LogFlush(logger *slog.Logger, batchID string, records, offset int) {
	if logger == nil {
		return
	}
	logger.Info("flushed records",
		slog.String("batch", batchID),
		slog.Int("records", records),
		slog.Int("offset", offset),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in
// milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
