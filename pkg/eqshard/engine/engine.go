// Package engine drives one worker through its share of every input batch:
// load, shard, prompt, infer, validate, accumulate, flush, checkpoint.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"eqshard/pkg/eqshard/checkpoint"
	"eqshard/pkg/eqshard/cluster"
	"eqshard/pkg/eqshard/config"
	"eqshard/pkg/eqshard/llm"
	"eqshard/pkg/eqshard/observability"
	"eqshard/pkg/eqshard/output"
	"eqshard/pkg/eqshard/prompt"
	"eqshard/pkg/eqshard/shard"
	"eqshard/pkg/eqshard/source"
	"eqshard/pkg/eqshard/validate"
)

// Engine is one worker's processing loop. It owns no goroutines; callers
// cancel it through the context.
type Engine struct {
	cfg     config.Settings
	coords  cluster.Coordinates
	client  llm.Client
	store   checkpoint.Store
	runID   string
	log     *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the base logger. The engine stamps worker identity onto
// it; pass the plain process logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

// WithMetrics sets the metrics recorder. Defaults to no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSpanManager sets the span manager. Defaults to no-op.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(e *Engine) { e.spans = sm }
}

// New creates an engine for one worker.
func New(cfg config.Settings, coords cluster.Coordinates, client llm.Client, store checkpoint.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		coords:  coords,
		client:  client,
		store:   store,
		runID:   uuid.NewString(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = observability.EnrichLogger(e.log, e.runID, coords, cluster.Hostname())
	return e
}

// RunID returns the unique identifier of this engine instance.
func (e *Engine) RunID() string {
	return e.runID
}

// Run processes every batch under the source directory in name order.
//
// Batch-level trouble is contained: a malformed batch is logged and
// skipped, and backend exhaustion aborts the current batch but the worker
// moves on to the next one. Run itself fails only on infrastructure
// errors (unreadable source, checkpoint store failures, failed writes) or
// context cancellation.
func (e *Engine) Run(ctx context.Context) error {
	handles, err := source.ListBatches(e.cfg.SourceDir)
	if err != nil {
		return err
	}
	observability.LogRunStart(e.log, len(handles), llm.Endpoint(e.cfg.BasePort, e.coords.LocalSlot))

	for _, h := range handles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runBatch(ctx, h); err != nil {
			return fmt.Errorf("batch %s: %w", h.ID, err)
		}
	}
	return nil
}

// runBatch processes one worker's share of a single batch.
func (e *Engine) runBatch(ctx context.Context, h source.Handle) error {
	ctx, span := e.spans.StartBatchSpan(ctx, h.ID, e.coords.GlobalIndex)
	err := e.processBatch(ctx, h)
	e.spans.EndSpanWithError(span, err)
	return err
}

func (e *Engine) processBatch(ctx context.Context, h source.Handle) error {
	elapsed := observability.TimedOperation()

	st, err := e.store.Load(h.ID, e.coords)
	if err != nil {
		return err
	}
	if err := st.CheckWorldSize(e.coords.WorldSize); err != nil {
		return err
	}

	batch, err := source.LoadBatch(h, source.Filter{
		Column: e.cfg.SelectorColumn,
		Allow:  e.cfg.SelectorAllow,
	})
	if err != nil {
		var malformed *source.MalformedBatchError
		if errors.As(err, &malformed) {
			observability.LogBatchSkipped(e.log, h.ID, err)
			e.metrics.RecordBatch(ctx, h.ID, false, time.Duration(elapsed())*time.Millisecond)
			return nil
		}
		return err
	}

	threshold := e.cfg.FlushThreshold
	assigned := shard.Count(len(batch.Rows), e.coords)
	skip := st.ProgressOffset * threshold
	observability.LogBatchStart(e.log, h.ID, len(batch.Rows), assigned, st.ProgressOffset)

	acc := output.NewAccumulator(e.cfg.OutputDir, h.ID, e.coords, e.store)
	consumed := skip
	processed := 0

	for i := range shard.Assigned(len(batch.Rows), e.coords, skip) {
		if err := ctx.Err(); err != nil {
			// Unflushed records are redone on resume; flushing a partial
			// cycle here would break the offset arithmetic.
			return err
		}

		rec, err := e.processRow(ctx, h.ID, batch.Rows[i], i)
		if err != nil {
			var exhausted *llm.ExhaustedError
			if errors.As(err, &exhausted) {
				observability.LogBatchAborted(e.log, h.ID, err)
				e.metrics.RecordBatch(ctx, h.ID, false, time.Duration(elapsed())*time.Millisecond)
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			observability.LogRowError(e.log, h.ID, i, err)
		} else if rec != nil {
			acc.Add(*rec)
			processed++
		}

		consumed++
		if consumed%threshold == 0 {
			flushed := acc.Len()
			if err := acc.Flush(consumed / threshold); err != nil {
				return err
			}
			observability.LogFlush(e.log, h.ID, flushed, consumed/threshold)
			e.metrics.RecordFlush(ctx, h.ID, flushed)
		}
	}

	// Completion checkpoint: even when the tail produced no records (all
	// skipped or errored), the offset must land past the last cycle so a
	// restart resumes to an empty assignment.
	cycles := (assigned + threshold - 1) / threshold
	if acc.Len() > 0 {
		flushed := acc.Len()
		if err := acc.Flush(cycles); err != nil {
			return err
		}
		observability.LogFlush(e.log, h.ID, flushed, cycles)
		e.metrics.RecordFlush(ctx, h.ID, flushed)
	} else if err := e.store.Save(h.ID, e.coords, checkpoint.State{
		ProgressOffset: cycles,
		WorldSize:      e.coords.WorldSize,
	}); err != nil {
		return fmt.Errorf("advance checkpoint for %s: %w", h.ID, err)
	}

	observability.LogBatchComplete(e.log, h.ID, processed, elapsed())
	e.metrics.RecordBatch(ctx, h.ID, true, time.Duration(elapsed())*time.Millisecond)
	return nil
}

// processRow runs one row through prompting, inference, and validation.
// A nil record with nil error means the row was skipped before inference.
func (e *Engine) processRow(ctx context.Context, batchID string, row source.Row, rowIndex int) (*output.Record, error) {
	ctx, span := e.spans.StartRowSpan(ctx, rowIndex)

	rec, err := e.inferRow(ctx, batchID, row, rowIndex)
	e.spans.EndSpanWithError(span, err)
	return rec, err
}

func (e *Engine) inferRow(ctx context.Context, batchID string, row source.Row, rowIndex int) (*output.Record, error) {
	clean := prompt.KatexHygiene(row.Content)
	p := prompt.Build(clean)
	if budget := e.cfg.MaxPromptChars(); len(p) > budget {
		observability.LogRowSkipped(e.log, batchID, rowIndex, len(p), budget)
		return nil, nil
	}

	start := time.Now()
	text, err := e.client.Complete(ctx, p)
	e.metrics.RecordRow(ctx, batchID, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	structured, verr := validate.ParseStrict(text)
	e.metrics.RecordValidation(ctx, batchID, verr == nil)
	if verr != nil {
		observability.LogValidationMiss(e.log, batchID, rowIndex, verr)
	}

	rec := output.NewRecord(row, rowIndex, clean, text, structured)
	return &rec, nil
}
