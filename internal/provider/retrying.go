package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alexandertaboriskiy/navixmind-sub000/internal/backoff"
)

// RetryConfig bounds the retry behavior per failure class.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// MaxTimeoutRetries bounds retries of network timeouts separately,
	// since a slow endpoint rarely recovers within a turn.
	MaxTimeoutRetries int
	// Backoff shapes the wait between server-error retries.
	Backoff backoff.Policy
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		MaxTimeoutRetries: 2,
		Backoff:           backoff.DefaultPolicy(),
	}
}

// Retrying wraps a Client with failure-class-aware retries: 429 waits
// the server-suggested interval, 5xx backs off exponentially, network
// timeouts get a short bounded retry, and everything else (401, 400,
// malformed requests) fails immediately.
type Retrying struct {
	inner   Client
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps inner. limiter may be nil to disable client-side
// rate limiting.
func NewRetrying(inner Client, cfg RetryConfig, limiter *rate.Limiter, logger *slog.Logger) *Retrying {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		inner:   inner,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		sleep:   backoff.SleepWithContext,
	}
}

func (r *Retrying) Send(ctx context.Context, req *Request) (*Response, error) {
	timeoutRetries := 0
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := r.inner.Send(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}

		var wait time.Duration
		switch {
		case IsRateLimited(err):
			wait = rateLimitWait(err, r.cfg.Backoff, attempt)
		case IsServerError(err):
			wait = backoff.Compute(r.cfg.Backoff, attempt)
		case IsTimeout(err):
			timeoutRetries++
			if timeoutRetries > r.cfg.MaxTimeoutRetries {
				return nil, fmt.Errorf("request timed out after %d retries: %w", r.cfg.MaxTimeoutRetries, err)
			}
			wait = backoff.Compute(r.cfg.Backoff, 1)
		default:
			return nil, err
		}

		if attempt == r.cfg.MaxAttempts {
			break
		}
		r.logger.Warn("retrying model request",
			"attempt", attempt,
			"wait", wait,
			"error", err)
		if err := r.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("model request failed after %d attempts: %w", r.cfg.MaxAttempts, lastErr)
}

func rateLimitWait(err error, policy backoff.Policy, attempt int) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return backoff.Compute(policy, attempt)
}
