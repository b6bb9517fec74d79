package graph

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
)

// RetryConfig controls the retrying backend wrapper.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	WritesPerSec float64
}

// DefaultRetryConfig returns the retry settings used when none are
// configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  4,
		BaseDelay:    250 * time.Millisecond,
		WritesPerSec: 20,
	}
}

// RetryingBackend wraps a Backend with bounded exponential backoff on
// transient storage failures and a rate limiter pacing write traffic.
// Logical rejections and non-transient errors pass through untouched.
type RetryingBackend struct {
	inner   Backend
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRetryingBackend wraps inner with retry and pacing behavior.
func NewRetryingBackend(inner Backend, cfg RetryConfig) *RetryingBackend {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.WritesPerSec <= 0 {
		cfg.WritesPerSec = 20
	}
	return &RetryingBackend{
		inner:   inner,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.WritesPerSec), 1),
		logger:  slog.Default().With("component", "graph_backend"),
	}
}

func (r *RetryingBackend) ApplyBatch(ctx context.Context, batch Batch) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.withRetry(ctx, "apply_batch", func() error {
		return r.inner.ApplyBatch(ctx, batch)
	})
}

func (r *RetryingBackend) HasVertex(ctx context.Context, label, key string) (bool, error) {
	var exists bool
	err := r.withRetry(ctx, "has_vertex", func() error {
		var innerErr error
		exists, innerErr = r.inner.HasVertex(ctx, label, key)
		return innerErr
	})
	return exists, err
}

func (r *RetryingBackend) DependencyPairs(ctx context.Context, edgeLabels []string) ([]KeyPair, error) {
	var pairs []KeyPair
	err := r.withRetry(ctx, "dependency_pairs", func() error {
		var innerErr error
		pairs, innerErr = r.inner.DependencyPairs(ctx, edgeLabels)
		return innerErr
	})
	return pairs, err
}

func (r *RetryingBackend) Close(ctx context.Context) error {
	return r.inner.Close(ctx)
}

func (r *RetryingBackend) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := r.cfg.BaseDelay
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !pkgerrors.IsTransient(err) {
			return err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}
		r.logger.Warn("transient storage failure, retrying",
			"operation", op,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return pkgerrors.StorageUnavailableError(err, "storage retries exhausted for "+op)
}
