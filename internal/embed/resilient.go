package embed

import (
	"context"
	"errors"
	"log/slog"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
)

// ResilientEmbedder retries transient provider failures with backoff and
// trips a circuit breaker when the provider keeps failing, so a dead
// endpoint fails the remaining chunks of a run quickly.
type ResilientEmbedder struct {
	inner   Embedder
	retry   verrors.RetryConfig
	breaker *verrors.CircuitBreaker
	logger  *slog.Logger
}

var _ Embedder = (*ResilientEmbedder)(nil)

// NewResilientEmbedder wraps inner. A nil breaker disables circuit breaking.
func NewResilientEmbedder(inner Embedder, retry verrors.RetryConfig, breaker *verrors.CircuitBreaker) *ResilientEmbedder {
	return &ResilientEmbedder{inner: inner, retry: retry, breaker: breaker, logger: slog.Default()}
}

// Embed calls the provider under the retry policy and the breaker. Only
// transient failures count against the breaker; a rejected input says
// nothing about provider health. Every failure is reported as an embedding
// error that keeps the original cause.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var permanent error
	call := func() ([]float32, error) {
		vec, err := verrors.RetryWithResult(ctx, r.retry, func() ([]float32, error) {
			return r.inner.Embed(ctx, text)
		})
		if err != nil && !verrors.IsRetryable(err) {
			permanent = err
			return nil, nil
		}
		return vec, err
	}

	var (
		vec []float32
		err error
	)
	if r.breaker != nil {
		vec, err = verrors.CircuitExecute(r.breaker, call)
	} else {
		vec, err = call()
	}
	if err == nil && permanent != nil {
		err = permanent
	}
	if err == nil {
		return vec, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if errors.Is(err, verrors.ErrCircuitOpen) {
		r.logger.Debug("embedding_circuit_open", slog.String("model", r.inner.ModelName()))
	}
	return nil, verrors.EmbeddingError("failed to embed text with "+r.inner.ModelName(), err)
}

func (r *ResilientEmbedder) Dimensions() int                    { return r.inner.Dimensions() }
func (r *ResilientEmbedder) ModelName() string                  { return r.inner.ModelName() }
func (r *ResilientEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }
func (r *ResilientEmbedder) Close() error                       { return r.inner.Close() }
