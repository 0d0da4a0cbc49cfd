package llm

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"eqshard/pkg/eqshard/errors"
	"eqshard/pkg/eqshard/observability"
)

// Retrying wraps a Client with bounded fixed-delay retry for the two
// transient conditions: connection-level failure and the backend's
// warming-up signal. Everything else propagates immediately.
type Retrying struct {
	inner    Client
	endpoint string
	cfg      errors.RetryConfig
	log      *slog.Logger
	metrics  observability.MetricsRecorder
}

// NewRetrying wraps inner with the given retry budget. endpoint is used
// only for diagnostics. logger may be nil.
func NewRetrying(inner Client, endpoint string, maxAttempts int, delay time.Duration, logger *slog.Logger) *Retrying {
	return &Retrying{
		inner:    inner,
		endpoint: endpoint,
		cfg:      errors.RetryConfig{MaxAttempts: maxAttempts, Delay: delay},
		log:      logger,
		metrics:  observability.NoopMetrics{},
	}
}

// WithMetrics records each transient failure on m.
func (r *Retrying) WithMetrics(m observability.MetricsRecorder) *Retrying {
	if m != nil {
		r.metrics = m
	}
	return r
}

// Complete implements Client.
func (r *Retrying) Complete(ctx context.Context, prompt string) (string, error) {
	attempt := 0
	result := errors.WithRetryContext(ctx, r.cfg, func(ctx context.Context) (string, error) {
		attempt++
		text, err := r.inner.Complete(ctx, prompt)
		if err != nil && errors.IsRetryable(err) {
			r.metrics.RecordRetry(ctx, r.endpoint)
			if r.log != nil {
				reason := "connection"
				if errors.IsWarming(err) {
					reason = "warming up"
				}
				r.log.Warn("transient backend failure, will retry",
					slog.String("endpoint", r.endpoint),
					slog.String("reason", reason),
					slog.Int("attempt", attempt),
					slog.Int("max_attempts", r.cfg.MaxAttempts),
					slog.String("error", err.Error()),
				)
			}
		}
		return text, err
	})

	if result.Err == nil {
		return result.Value, nil
	}

	var catErr *errors.CategorizedError
	if stderrors.As(result.Err, &catErr) && catErr.Context == "max retries exceeded" {
		return "", &ExhaustedError{Endpoint: r.endpoint, Attempts: result.Attempts, Err: catErr.Err}
	}
	return "", result.Err
}
