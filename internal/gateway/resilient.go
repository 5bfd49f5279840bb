package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/assistd/internal/gateway"

// Policy controls rate limiting and retries for one provider.
type Policy struct {
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	Backoff           time.Duration
	MaxBackoff        time.Duration
}

// DefaultPolicy returns conservative defaults.
func DefaultPolicy() Policy {
	return Policy{
		RequestsPerSecond: 10,
		Burst:             5,
		MaxRetries:        3,
		Backoff:           500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
	}
}

// retrier runs provider calls under a limiter with exponential backoff.
type retrier struct {
	provider string
	policy   Policy
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func newRetrier(provider string, policy Policy, logger *zap.Logger, metrics *Metrics) *retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 10 * time.Second
	}

	limit := rate.Inf
	if policy.RequestsPerSecond > 0 {
		limit = rate.Limit(policy.RequestsPerSecond)
	}
	burst := policy.Burst
	if burst <= 0 {
		burst = 1
	}

	return &retrier{
		provider: provider,
		policy:   policy,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer(instrumentationName),
		sleep:    sleepContext,
	}
}

func (r *retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "gateway."+op,
		trace.WithAttributes(attribute.String("gateway.provider", r.provider)))
	defer span.End()

	start := time.Now()
	err := r.attempt(ctx, op, fn)
	r.metrics.recordCall(ctx, r.provider, op, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *retrier) attempt(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := r.policy.Backoff
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			r.metrics.recordRetry(ctx, r.provider, op)
			r.logger.Debug("retrying provider call",
				zap.String("provider", r.provider),
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))

			if err := r.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if backoff > r.policy.MaxBackoff {
				backoff = r.policy.MaxBackoff
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(err) {
			break
		}
	}

	r.logger.Warn("provider call failed",
		zap.String("provider", r.provider),
		zap.String("op", op),
		zap.Error(lastErr))
	if errors.Is(lastErr, ErrUnsupported) {
		return lastErr
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, lastErr)
}

// isTransient reports whether a provider error is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnsupported) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 0:
			// No response: network failure.
			return true
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type resilientEmbedder struct {
	next Embedder
	r    *retrier
}

// NewResilientEmbedder wraps an Embedder with rate limiting and retries.
func NewResilientEmbedder(provider string, next Embedder, policy Policy, logger *zap.Logger, metrics *Metrics) Embedder {
	return &resilientEmbedder{next: next, r: newRetrier(provider, policy, logger, metrics)}
}

func (e *resilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.r.do(ctx, "embed", func(ctx context.Context) error {
		var err error
		vec, err = e.next.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

type resilientGenerator struct {
	next Generator
	r    *retrier
}

// NewResilientGenerator wraps a Generator with rate limiting and retries.
func NewResilientGenerator(provider string, next Generator, policy Policy, logger *zap.Logger, metrics *Metrics) Generator {
	return &resilientGenerator{next: next, r: newRetrier(provider, policy, logger, metrics)}
}

func (g *resilientGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var out string
	err := g.r.do(ctx, "generate", func(ctx context.Context) error {
		var err error
		out, err = g.next.Generate(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
