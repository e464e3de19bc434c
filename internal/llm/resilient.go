package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"calbot/internal/domain"
	"calbot/internal/logging"
	"calbot/internal/metrics"
)

const tracerName = "calbot/internal/llm"

// ResilientClient wraps a Provider with a per-call deadline and a circuit
// breaker. Errors come back classified as domain.ErrLLM or domain.ErrLLMTimeout.
type ResilientClient struct {
	provider Provider
	breaker  *CircuitBreaker
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type ResilientOptions struct {
	Timeout time.Duration
	Metrics *metrics.Metrics
}

func NewResilientClient(provider Provider, breaker *CircuitBreaker, opts ResilientOptions, logger *slog.Logger) *ResilientClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(BreakerConfig{})
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &ResilientClient{
		provider: provider,
		breaker:  breaker,
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

func (c *ResilientClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := c.tracer.Start(ctx, "llm.complete", trace.WithAttributes(attribute.String("llm.model", req.Model)))
	defer span.End()

	if err := c.breaker.Allow(); err != nil {
		c.metrics.LLMRequest("rejected", 0)
		span.SetStatus(codes.Error, "circuit open")
		return "", domain.NewError(domain.KindLLM, "complete", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	out, err := c.provider.Complete(callCtx, req)
	elapsed := time.Since(started)

	if err == nil {
		c.breaker.Success()
		c.metrics.LLMRequest("ok", elapsed)
		span.SetAttributes(attribute.Int("llm.response_chars", len(out)))
		return out, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	// The caller went away; the endpoint is not to blame.
	if ctx.Err() != nil {
		c.breaker.Abandon()
		c.metrics.LLMRequest("cancelled", elapsed)
		return "", domain.NewError(domain.KindLLM, "complete", ctx.Err())
	}

	c.breaker.Failure()
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		c.metrics.LLMRequest("timeout", elapsed)
		c.logger.Warn("completion timed out", "timeout", c.timeout, "failures", c.breaker.ConsecutiveFailures())
		return "", domain.NewError(domain.KindLLMTimeout, "complete", err)
	}
	c.metrics.LLMRequest("error", elapsed)
	c.logger.Warn("completion failed", logging.Err(err), "failures", c.breaker.ConsecutiveFailures())
	return "", domain.NewError(domain.KindLLM, "complete", err)
}

func (c *ResilientClient) Breaker() *CircuitBreaker {
	return c.breaker
}
